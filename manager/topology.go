package manager

import (
	"fmt"

	"github.com/absmach/gradsync/pkg/errors"
)

type Role uint8

const (
	Coordinator Role = iota + 1
	Master
	Worker
)

func (r Role) String() string {
	switch r {
	case Coordinator:
		return "coordinator"
	case Master:
		return "master"
	case Worker:
		return "worker"
	default:
		return fmt.Sprintf("role(%d)", r)
	}
}

// Topology maps world ranks to roles. Rank 0 is the coordinator when one is
// reserved; the remaining ranks form contiguous groups whose first rank is
// the group master.
type Topology struct {
	Size             int  `json:"size"`
	Masters          int  `json:"masters"`
	WorkersPerMaster int  `json:"workers_per_master"`
	Coordinator      bool `json:"coordinator"`
}

// NewTopology validates that size ranks split exactly into masters groups
// of workersPerMaster workers each. More than one master always reserves a
// coordinator.
func NewTopology(size, masters, workersPerMaster int, reserveCoordinator bool) (*Topology, error) {
	if masters < 1 {
		return nil, fmt.Errorf("%w: need at least one master, got %d", errors.ErrConfiguration, masters)
	}
	if workersPerMaster < 1 {
		return nil, fmt.Errorf("%w: need at least one worker per master, got %d", errors.ErrConfiguration, workersPerMaster)
	}
	t := &Topology{
		Size:             size,
		Masters:          masters,
		WorkersPerMaster: workersPerMaster,
		Coordinator:      reserveCoordinator || masters > 1,
	}
	if want := t.offset() + masters*(workersPerMaster+1); size != want {
		return nil, fmt.Errorf("%w: %d masters with %d workers each need %d processes, got %d", errors.ErrConfiguration, masters, workersPerMaster, want, size)
	}

	return t, nil
}

// InferTopology derives the workers per master from the world size.
func InferTopology(size, masters int, reserveCoordinator bool) (*Topology, error) {
	if masters < 1 {
		return nil, fmt.Errorf("%w: need at least one master, got %d", errors.ErrConfiguration, masters)
	}
	off := 0
	if reserveCoordinator || masters > 1 {
		off = 1
	}
	if size-off < 2*masters || (size-off)%masters != 0 {
		return nil, fmt.Errorf("%w: %d processes cannot be split into %d groups", errors.ErrConfiguration, size, masters)
	}

	return NewTopology(size, masters, (size-off)/masters-1, reserveCoordinator)
}

func (t *Topology) offset() int {
	if t.Coordinator {
		return 1
	}

	return 0
}

// GroupSize counts the processes of one group, master included.
func (t *Topology) GroupSize() int { return t.WorkersPerMaster + 1 }

// Workers is the total number of workers across groups.
func (t *Topology) Workers() int { return t.Masters * t.WorkersPerMaster }

func (t *Topology) check(rank int) {
	if rank < 0 || rank >= t.Size {
		panic(fmt.Sprintf("rank %d outside topology of %d", rank, t.Size))
	}
}

func (t *Topology) Role(rank int) Role {
	t.check(rank)
	if t.Coordinator && rank == 0 {
		return Coordinator
	}
	if t.GroupRank(rank) == 0 {
		return Master
	}

	return Worker
}

// Group returns the group index of rank, or -1 for the coordinator.
func (t *Topology) Group(rank int) int {
	t.check(rank)
	if t.Coordinator && rank == 0 {
		return -1
	}

	return (rank - t.offset()) / t.GroupSize()
}

// GroupRank is the rank inside its group; the master has 0.
func (t *Topology) GroupRank(rank int) int {
	t.check(rank)
	if t.Coordinator && rank == 0 {
		return -1
	}

	return (rank - t.offset()) % t.GroupSize()
}

func (t *Topology) MasterRank(group int) int {
	return t.offset() + group*t.GroupSize()
}

func (t *Topology) MasterRanks() []int {
	ranks := make([]int, t.Masters)
	for g := range t.Masters {
		ranks[g] = t.MasterRank(g)
	}

	return ranks
}

// Members lists the world ranks of a group, master first.
func (t *Topology) Members(group int) []int {
	first := t.MasterRank(group)
	ranks := make([]int, t.GroupSize())
	for i := range ranks {
		ranks[i] = first + i
	}

	return ranks
}

// WorkerIndex numbers workers across all groups from 0, for data sharding.
// It is -1 for masters and the coordinator.
func (t *Topology) WorkerIndex(rank int) int {
	if t.Role(rank) != Worker {
		return -1
	}

	return t.Group(rank)*t.WorkersPerMaster + t.GroupRank(rank) - 1
}

// CPURanks are the ranks kept off GPUs unless masters may use them.
func (t *Topology) CPURanks() []int {
	ranks := t.MasterRanks()
	if t.Coordinator {
		ranks = append([]int{0}, ranks...)
	}

	return ranks
}
