package search_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/comm"
	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/absmach/gradsync/pkg/trial"
	"github.com/absmach/gradsync/search"
	"github.com/absmach/gradsync/search/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestPartition(t *testing.T) {
	cases := []struct {
		desc      string
		world     int
		blockSize int
		blocks    [][]int
		err       error
	}{
		{desc: "even split", world: 5, blockSize: 2, blocks: [][]int{{1, 2}, {3, 4}}},
		{desc: "leftover block of two", world: 6, blockSize: 3, blocks: [][]int{{1, 2, 3}, {4, 5}}},
		{desc: "single block", world: 4, blockSize: 3, blocks: [][]int{{1, 2, 3}}},
		{desc: "block size one", world: 5, blockSize: 1, err: errors.ErrConfiguration},
		{desc: "leftover single rank", world: 6, blockSize: 2, err: errors.ErrConfiguration},
		{desc: "world too small", world: 2, blockSize: 2, err: errors.ErrConfiguration},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			blocks, err := search.Partition(tc.world, tc.blockSize)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			require.Len(t, blocks, len(tc.blocks))
			for i, b := range blocks {
				assert.Equal(t, i+1, b.Index)
				assert.Equal(t, tc.blocks[i], b.Ranks)
				assert.Equal(t, tc.blocks[i][0], b.Master)
				for _, r := range b.Ranks {
					assert.Equal(t, b.Index, search.BlockOf(r, tc.blockSize))
				}
			}
		})
	}
}

func TestBlockOf(t *testing.T) {
	assert.Equal(t, 0, search.BlockOf(0, 3))
	assert.Equal(t, 1, search.BlockOf(1, 3))
	assert.Equal(t, 1, search.BlockOf(3, 3))
	assert.Equal(t, 2, search.BlockOf(4, 3))
}

var space = search.Space{
	search.Real("learning_rate", 1e-4, 1e-1, true),
	search.Real("elastic_force", 0.1, 0.9, false),
	search.Integer("sync_every", 1, 4),
	search.Categorical("optimizer", "sgd", "momentum", "adam"),
}

func TestRandomOracle(t *testing.T) {
	o, err := search.NewRandomOracle(space, 11)
	require.NoError(t, err)
	same, err := search.NewRandomOracle(space, 11)
	require.NoError(t, err)
	ctx := context.Background()

	for i := range 50 {
		p, err := o.Ask(ctx)
		require.NoError(t, err)
		q, err := same.Ask(ctx)
		require.NoError(t, err)
		assert.Equal(t, p.String(), q.String(), "seeded oracles diverged at %d", i)

		assert.Equal(t, []string{"learning_rate", "elastic_force", "sync_every", "optimizer"}, p.Keys())
		lr, _ := p.Get("learning_rate")
		assert.GreaterOrEqual(t, lr.(float64), 1e-4)
		assert.LessOrEqual(t, lr.(float64), 1e-1)
		force, _ := p.Get("elastic_force")
		assert.GreaterOrEqual(t, force.(float64), 0.1)
		assert.LessOrEqual(t, force.(float64), 0.9)
		n, _ := p.Get("sync_every")
		assert.GreaterOrEqual(t, n.(int), 1)
		assert.LessOrEqual(t, n.(int), 4)
		opt, _ := p.Get("optimizer")
		assert.Contains(t, []any{"sgd", "momentum", "adam"}, opt)

		require.NoError(t, o.Tell(ctx, p, float64(50-i)))
	}

	best, ok := o.Best()
	require.True(t, ok)
	assert.Equal(t, 1.0, best.Score)
	assert.Len(t, o.Observations(), 50)
}

func TestSpaceValidate(t *testing.T) {
	cases := []struct {
		desc  string
		space search.Space
		err   error
	}{
		{desc: "valid", space: space},
		{desc: "empty", space: search.Space{}, err: errors.ErrConfiguration},
		{desc: "inverted range", space: search.Space{search.Real("lr", 1, 0, false)}, err: errors.ErrConfiguration},
		{desc: "log of non positive", space: search.Space{search.Real("lr", 0, 1, true)}, err: errors.ErrConfiguration},
		{desc: "no categories", space: search.Space{search.Categorical("opt")}, err: errors.ErrConfiguration},
		{desc: "duplicate", space: search.Space{search.Integer("n", 1, 2), search.Integer("n", 1, 2)}, err: errors.ErrConfiguration},
		{desc: "unknown kind", space: search.Space{{Name: "x", Kind: "normal"}}, err: errors.ErrConfiguration},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.space.Validate()
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			assert.NoError(t, err)
		})
	}
}

type searchRun struct {
	world      int
	blockSize  int
	iterations int
	runner     func(calls *atomic.Int64) search.Runner
}

func (s searchRun) exec(t *testing.T) (storage.TrialRepository, int64) {
	t.Helper()
	world, err := comm.NewLocalWorld(s.world)
	require.NoError(t, err)
	blocks, err := search.Partition(s.world, s.blockSize)
	require.NoError(t, err)

	oracle, err := search.NewRandomOracle(space, 3)
	require.NoError(t, err)
	trials := storage.NewMemoryTrialRepository()

	var calls atomic.Int64
	run := s.runner(&calls)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	eg, ectx := errgroup.WithContext(ctx)
	for rank := range s.world {
		eg.Go(func() error {
			if _, err := search.CheckBlocks(ectx, world[rank], s.blockSize); err != nil {
				return err
			}
			block, err := search.SplitBlocks(ectx, world[rank], s.blockSize)
			if err != nil {
				return err
			}
			if rank == search.CoordinatorRank {
				c := search.NewCoordinator(world[rank], blocks, middleware.LoggingOracle(logger, oracle), trials, "trial", false, logger)

				return c.Run(ectx, s.iterations)
			}
			defer block.Free()

			return search.RunBlock(ectx, world[rank], block, search.CoordinatorRank, run, logger)
		})
	}
	require.NoError(t, eg.Wait())

	return trials, calls.Load()
}

func lrMetric(calls *atomic.Int64) search.Runner {
	return func(ctx context.Context, a search.Assignment) (float64, error) {
		calls.Add(1)
		params := model.Params(a.Point().Map())

		return params.Float("learning_rate", -1), nil
	}
}

func TestCoordinatorRunsExactIterations(t *testing.T) {
	cases := []struct {
		desc       string
		world      int
		blockSize  int
		iterations int
	}{
		{desc: "more trials than blocks", world: 5, blockSize: 2, iterations: 5},
		{desc: "fewer trials than blocks", world: 7, blockSize: 2, iterations: 2},
		{desc: "one block", world: 4, blockSize: 3, iterations: 3},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			s := searchRun{world: tc.world, blockSize: tc.blockSize, iterations: tc.iterations, runner: lrMetric}
			trials, calls := s.exec(t)

			// Every rank of a block runs each trial it receives.
			assert.Equal(t, int64(tc.iterations*tc.blockSize), calls)

			page, total, err := trials.List(context.Background(), 0, 100)
			require.NoError(t, err)
			assert.Equal(t, uint64(tc.iterations), total)
			names := make(map[string]bool)
			for _, tr := range page {
				assert.Equal(t, trial.Completed, tr.Status)
				lr, ok := tr.Params.Get("learning_rate")
				require.True(t, ok)
				assert.InDelta(t, lr.(float64), tr.Metric, 1e-12)
				names[tr.Name] = true
			}
			for i := range tc.iterations {
				assert.True(t, names[fmt.Sprintf("trial-%d", i)])
			}
		})
	}
}

func TestFailedTrialsStillCount(t *testing.T) {
	failing := func(calls *atomic.Int64) search.Runner {
		return func(ctx context.Context, a search.Assignment) (float64, error) {
			calls.Add(1)
			if strings.HasSuffix(a.Name, "-1") {
				return 0, fmt.Errorf("diverged")
			}

			return 0.5, nil
		}
	}
	s := searchRun{world: 5, blockSize: 2, iterations: 4, runner: failing}
	trials, _ := s.exec(t)

	page, total, err := trials.List(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), total)
	failed := 0
	for _, tr := range page {
		if tr.Status == trial.Failed {
			failed++
			assert.Equal(t, "trial-1", tr.Name)
			assert.Equal(t, "diverged", tr.Error)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestServiceBestTrial(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryTrialRepository()
	for i, tc := range []struct {
		status trial.Status
		metric float64
	}{
		{trial.Completed, 0.3},
		{trial.Completed, 0.1},
		{trial.Failed, 0},
		{trial.Running, 0},
		{trial.Completed, 0.7},
	} {
		require.NoError(t, repo.Create(ctx, trial.Trial{ID: fmt.Sprintf("t%d", i), Name: fmt.Sprintf("trial-%d", i), Status: tc.status, Metric: tc.metric}))
	}

	cases := []struct {
		desc     string
		maximize bool
		want     string
	}{
		{desc: "minimize", want: "t1"},
		{desc: "maximize", maximize: true, want: "t4"},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			svc := search.NewService(repo, tc.maximize)
			best, err := svc.BestTrial(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, best.ID)
		})
	}

	svc := search.NewService(storage.NewMemoryTrialRepository(), false)
	_, err := svc.BestTrial(ctx)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	page, err := search.NewService(repo, false).ListTrials(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), page.Total)
	assert.Len(t, page.Trials, 2)
}

