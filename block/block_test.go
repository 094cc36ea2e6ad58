package block_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/block"
	"github.com/absmach/gradsync/checkpoint"
	"github.com/absmach/gradsync/manager"
	"github.com/absmach/gradsync/master"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/comm"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/device"
	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/history"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// scripted trains like a linear model but reports a fixed sequence of
// validation losses, one per Evaluate call.
type scripted struct {
	model.Model

	mu     sync.Mutex
	losses []float64
	calls  int
}

func (s *scripted) Evaluate(ctx context.Context, b data.Batch) (model.Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.losses[min(s.calls, len(s.losses)-1)]
	s.calls++

	return model.Metrics{"loss": v}, nil
}

func builder(losses []float64) model.Builder {
	return model.FromFunc("linear", func(ctx context.Context, dev device.Context, params model.Params) (model.Model, error) {
		lin := model.NewLinear(model.Architecture{Name: "linear", Inputs: 2, Outputs: 1, InitScale: 0.1, Seed: 1}, dev)
		if losses == nil {
			return lin, nil
		}

		return &scripted{Model: lin, losses: losses}, nil
	})
}

func dataset(t *testing.T, rows, batch int) *data.Memory {
	t.Helper()
	features := make([][]float64, rows)
	labels := make([][]float64, rows)
	for i := range rows {
		x := float64(i) / float64(rows)
		features[i] = []float64{x, 1 - x}
		labels[i] = []float64{3*x - 1}
	}
	m, err := data.NewMemory(features, labels, batch)
	require.NoError(t, err)

	return m
}

type run struct {
	topo     *manager.Topology
	builder  model.Builder
	cfg      block.Config
	deps     block.Deps
	validate bool
}

func (r run) exec(t *testing.T) ([]block.Result, error) {
	t.Helper()
	world, err := comm.NewLocalWorld(r.topo.Size)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := make([]block.Result, r.topo.Size)
	errs := make([]error, r.topo.Size)
	var wg sync.WaitGroup
	for rank := range r.topo.Size {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr, err := manager.New(ctx, world[rank], r.topo, manager.Deps{
				Algo:    algo.Config{Mode: algo.ModeSGD, Synchronous: true, SyncEvery: 1, LearningRate: 0.05},
				Master:  master.Config{RoundTimeout: 10 * time.Second},
				Builder: r.builder,
				Train:   dataset(t, 16, 2),
				Logger:  logger,
			})
			if err != nil {
				errs[rank] = err

				return
			}
			defer mgr.Close()
			deps := r.deps
			deps.Logger = logger
			if r.validate {
				deps.Validation = dataset(t, 4, 4)
			}
			results[rank], errs[rank] = block.New(mgr, r.cfg, deps).Run(ctx)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

func topology(t *testing.T, size, masters, workers int) *manager.Topology {
	t.Helper()
	topo, err := manager.NewTopology(size, masters, workers, false)
	require.NoError(t, err)

	return topo
}

func TestEpochLimit(t *testing.T) {
	dir := t.TempDir()
	repos, err := storage.NewRepositories(storage.Config{Type: "memory"})
	require.NoError(t, err)

	r := run{
		topo:     topology(t, 3, 1, 2),
		builder:  builder(nil),
		validate: true,
		cfg: block.Config{
			Epochs:        3,
			ValidateEvery: 8,
			Monitor:       block.Monitor{Name: "loss"},
			Model:         "linear",
			Trial:         "limit",
			HistoryDir:    dir,
		},
		deps: block.Deps{Histories: repos.Histories},
	}
	results, err := r.exec(t)
	require.NoError(t, err)

	res := results[0]
	assert.True(t, res.Reports)
	assert.Equal(t, block.Terminated, res.State)
	require.Len(t, res.History.Epochs, 3)
	for i, e := range res.History.Epochs {
		assert.Equal(t, i+1, e.Epoch)
		assert.Equal(t, 8, e.Batches)
	}
	assert.False(t, res.History.StoppedEarly)
	assert.Equal(t, res.Metric, res.History.BestMetric)
	for _, w := range results[1:] {
		assert.False(t, w.Reports)
		assert.Equal(t, block.Terminated, w.State)
	}

	name := history.FileName("linear", "limit")
	h, err := history.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Len(t, h.Epochs, 3)

	stored, err := repos.Histories.Get(context.Background(), name)
	require.NoError(t, err)
	assert.Equal(t, "master", stored.Role)
}

func TestEarlyStopping(t *testing.T) {
	cases := []struct {
		desc      string
		losses    []float64
		monitor   block.Monitor
		patience  int
		epochs    int
		bestEpoch int
		best      float64
	}{
		{
			desc:      "loss stops improving",
			losses:    []float64{0.5, 0.4, 0.45, 0.46, 0.3},
			monitor:   block.Monitor{Name: "loss"},
			patience:  2,
			epochs:    4,
			bestEpoch: 2,
			best:      0.4,
		},
		{
			desc:      "maximized metric",
			losses:    []float64{0.5, 0.4, 0.3},
			monitor:   block.Monitor{Name: "loss", Max: true},
			patience:  1,
			epochs:    2,
			bestEpoch: 1,
			best:      0.5,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			r := run{
				topo:     topology(t, 2, 1, 1),
				builder:  builder(tc.losses),
				validate: true,
				cfg: block.Config{
					Epochs:        10,
					ValidateEvery: 8,
					Patience:      tc.patience,
					Monitor:       tc.monitor,
					Model:         "linear",
					Trial:         "early",
				},
			}
			results, err := r.exec(t)
			require.NoError(t, err)

			h := results[0].History
			assert.True(t, h.StoppedEarly)
			assert.Len(t, h.Epochs, tc.epochs)
			assert.Equal(t, tc.bestEpoch, h.BestEpoch)
			assert.InDelta(t, tc.best, results[0].Metric, 1e-12)
		})
	}
}

func TestCheckpointResume(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "ckpt")
	store := checkpoint.NewLocalStore()

	first := run{
		topo:    topology(t, 3, 1, 2),
		builder: builder(nil),
		cfg: block.Config{
			Epochs:             2,
			ValidateEvery:      8,
			CheckpointInterval: 1,
			Model:              "linear",
			Trial:              "resume",
		},
		deps: block.Deps{Store: store, CheckpointBase: base},
	}
	results, err := first.exec(t)
	require.NoError(t, err)
	require.Len(t, results[0].History.Epochs, 2)

	id, err := checkpoint.Resolve(context.Background(), store, base)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.ID(base, 2), id)
	rec, err := checkpoint.Restore(context.Background(), store, base+checkpoint.AlgoExt)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Epoch)

	second := first
	second.cfg.Epochs = 3
	second.cfg.Restore = base
	results, err = second.exec(t)
	require.NoError(t, err)
	require.Len(t, results[0].History.Epochs, 1)
	assert.Equal(t, 3, results[0].History.Epochs[0].Epoch)

	id, err = checkpoint.Resolve(context.Background(), store, base)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.ID(base, 3), id)
}

func TestRestoreFailureStopsWorkers(t *testing.T) {
	r := run{
		topo:    topology(t, 3, 1, 2),
		builder: builder(nil),
		cfg: block.Config{
			Epochs:        2,
			ValidateEvery: 8,
			Restore:       filepath.Join(t.TempDir(), "missing"),
			Model:         "linear",
			Trial:         "broken",
		},
		deps: block.Deps{Store: checkpoint.NewLocalStore()},
	}
	results, err := r.exec(t)
	assert.ErrorIs(t, err, errors.ErrRestore)
	for _, w := range results[1:] {
		assert.Equal(t, block.Terminated, w.State)
	}
}

func TestMissingMetricStopsWorkers(t *testing.T) {
	monitor, err := block.ParseMonitor("accuracy,max")
	require.NoError(t, err)
	r := run{
		topo:    topology(t, 3, 1, 2),
		builder: builder(nil),
		cfg: block.Config{
			Epochs:        2,
			ValidateEvery: 8,
			Monitor:       monitor,
			Model:         "linear",
			Trial:         "no-accuracy",
		},
		validate: true,
	}
	began := time.Now()
	results, err := r.exec(t)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
	assert.Less(t, time.Since(began), 10*time.Second, "workers stop without waiting for the deadline")
	for _, w := range results[1:] {
		assert.Equal(t, block.Terminated, w.State)
	}
}

func TestCoordinatedGroups(t *testing.T) {
	dir := t.TempDir()
	r := run{
		topo:     topology(t, 7, 2, 2),
		builder:  builder(nil),
		validate: true,
		cfg: block.Config{
			Epochs:        2,
			ValidateEvery: 4,
			Model:         "linear",
			Trial:         "groups",
			HistoryDir:    dir,
		},
	}
	results, err := r.exec(t)
	require.NoError(t, err)

	coord := results[0]
	assert.True(t, coord.Reports)
	assert.Equal(t, "coordinator", coord.History.Role)
	require.Len(t, coord.History.Groups, 2)
	assert.Equal(t, 1, coord.History.Groups[0].Rank)
	assert.Equal(t, 4, coord.History.Groups[1].Rank)
	assert.Len(t, coord.History.Epochs, 2)
	for _, g := range coord.History.Groups {
		assert.GreaterOrEqual(t, g.BestMetric, coord.Metric)
	}
	for _, rank := range r.topo.MasterRanks() {
		assert.False(t, results[rank].Reports)
		require.Len(t, results[rank].History.Epochs, 2)
	}
}

func TestParseMonitor(t *testing.T) {
	cases := []struct {
		desc string
		in   string
		want block.Monitor
		err  error
	}{
		{desc: "default", in: "", want: block.Monitor{Name: "loss"}},
		{desc: "name only", in: "accuracy", want: block.Monitor{Name: "accuracy"}},
		{desc: "maximize", in: "accuracy,max", want: block.Monitor{Name: "accuracy", Max: true}},
		{desc: "minimize", in: "loss, min", want: block.Monitor{Name: "loss"}},
		{desc: "bad mode", in: "loss,lowest", err: errors.ErrConfiguration},
		{desc: "no name", in: ",max", err: errors.ErrConfiguration},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := block.ParseMonitor(tc.in)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
