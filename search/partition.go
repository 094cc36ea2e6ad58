package search

import (
	"context"
	"fmt"
	"slices"

	"github.com/absmach/gradsync/pkg/comm"
	"github.com/absmach/gradsync/pkg/errors"
)

// CoordinatorRank is the world rank that drives the search.
const CoordinatorRank = 0

// Block is a contiguous range of world ranks that evaluates one trial at a
// time. Its first rank talks to the coordinator.
type Block struct {
	Index  int   `json:"index"`
	Ranks  []int `json:"ranks"`
	Master int   `json:"master"`
	Busy   bool  `json:"busy"`
}

// Partition splits ranks 1..worldSize-1 into blocks of blockSize; the last
// block takes what is left and must still hold two ranks.
func Partition(worldSize, blockSize int) ([]Block, error) {
	if blockSize < 2 {
		return nil, fmt.Errorf("%w: block size must be at least 2, got %d", errors.ErrConfiguration, blockSize)
	}
	if worldSize < 1+blockSize {
		return nil, fmt.Errorf("%w: %d processes cannot host a coordinator and a block of %d", errors.ErrConfiguration, worldSize, blockSize)
	}

	var blocks []Block
	for first := 1; first < worldSize; first += blockSize {
		last := min(first+blockSize, worldSize)
		if last-first < 2 {
			return nil, fmt.Errorf("%w: leftover block of %d rank with block size %d and %d processes", errors.ErrConfiguration, last-first, blockSize, worldSize)
		}
		ranks := make([]int, 0, last-first)
		for r := first; r < last; r++ {
			ranks = append(ranks, r)
		}
		blocks = append(blocks, Block{Index: len(blocks) + 1, Ranks: ranks, Master: first})
	}

	return blocks, nil
}

// BlockOf is the block index of rank; the coordinator is block 0.
func BlockOf(rank, blockSize int) int {
	if rank == CoordinatorRank {
		return 0
	}

	return (rank-1)/blockSize + 1
}

// SplitBlocks is collective over world. Every rank but the coordinator
// receives the communicator of its block; the coordinator receives nil.
func SplitBlocks(ctx context.Context, world comm.Communicator, blockSize int) (comm.Communicator, error) {
	color := comm.Undefined
	if world.Rank() != CoordinatorRank {
		color = BlockOf(world.Rank(), blockSize)
	}

	return world.Split(ctx, color, world.Rank())
}

// CheckBlocks gathers every rank's block index and verifies that all ranks
// agree on the partition.
func CheckBlocks(ctx context.Context, world comm.Communicator, blockSize int) ([]int, error) {
	all, err := comm.Allgather(ctx, world, BlockOf(world.Rank(), blockSize))
	if err != nil {
		return nil, err
	}
	want := make([]int, world.Size())
	for r := range want {
		want[r] = BlockOf(r, blockSize)
	}
	if !slices.Equal(all, want) {
		return all, fmt.Errorf("%w: ranks disagree on blocks: %v", errors.ErrConfiguration, all)
	}

	return all, nil
}
