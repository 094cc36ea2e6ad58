package master_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/master"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/comm"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/device"
	"github.com/absmach/gradsync/pkg/optimizer"
	"github.com/absmach/gradsync/pkg/weights"
	"github.com/absmach/gradsync/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newModel(t *testing.T) model.Model {
	t.Helper()
	b, err := model.FromSpec(model.Architecture{Name: "linear", Inputs: 2, Outputs: 1, Seed: 7})
	require.NoError(t, err)
	m, err := b.Build(context.Background(), device.Context{Kind: device.CPU}, nil)
	require.NoError(t, err)

	return m
}

func dataset(t *testing.T, rows, batch int) *data.Memory {
	t.Helper()
	features := make([][]float64, rows)
	labels := make([][]float64, rows)
	for i := range rows {
		x0, x1 := float64(i)/float64(rows), float64(rows-i)/float64(rows)
		features[i] = []float64{x0, x1}
		labels[i] = []float64{2*x0 - x1 + 0.5}
	}
	m, err := data.NewMemory(features, labels, batch)
	require.NoError(t, err)

	return m
}

type group struct {
	master  *master.Master
	workers []*worker.Worker
	world   []comm.Communicator
}

func newGroup(t *testing.T, workers int, cfg algo.Config, mcfg master.Config) group {
	t.Helper()
	world, err := comm.NewLocalWorld(workers + 1)
	require.NoError(t, err)

	train := dataset(t, 16, 2)
	g := group{world: world}
	ma, err := algo.New(cfg, workers+1)
	require.NoError(t, err)
	g.master = master.New(world[0], nil, ma, newModel(t), mcfg, logger)
	for r := 1; r <= workers; r++ {
		wa, err := algo.New(cfg, workers+1)
		require.NoError(t, err)
		g.workers = append(g.workers, worker.New(world[r], wa, newModel(t), train.Shard(r-1, workers), logger, false))
	}

	return g
}

// run drives rounds on the master while every worker runs until stopped.
func (g group) run(t *testing.T, rounds int, each func(master.RoundResult)) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	for _, w := range g.workers {
		eg.Go(func() error {
			_, err := w.Run(ctx)

			return err
		})
	}
	eg.Go(func() error {
		if err := g.master.Start(ctx); err != nil {
			return err
		}
		for range rounds {
			res, err := g.master.RunRound(ctx)
			if err != nil {
				return err
			}
			if each != nil {
				each(res)
			}
		}

		return g.master.Stop(ctx)
	})
	require.NoError(t, eg.Wait())
}

func TestSyncSGDReplicasStayIdentical(t *testing.T) {
	cfg := algo.Config{Mode: algo.ModeSGD, Synchronous: true, SyncEvery: 1, Optimizer: optimizer.SGD, LearningRate: 0.05}
	g := newGroup(t, 3, cfg, master.Config{RoundTimeout: 10 * time.Second, MaxTimeouts: 3})

	rounds := 0
	g.run(t, 6, func(res master.RoundResult) {
		rounds++
		assert.Equal(t, 3, res.Updates)
		assert.Empty(t, res.Missed)
	})
	assert.Equal(t, 6, rounds)

	central := g.master.Model().Weights()
	for i, w := range g.workers {
		assert.True(t, central.Equal(w.Model().Weights()), "worker %d diverged from the master", i+1)
	}
	assert.Equal(t, uint64(7), g.master.Round())
}

func TestSyncSGDSingleWorkerMatchesSerial(t *testing.T) {
	const lr = 0.1
	cfg := algo.Config{Mode: algo.ModeSGD, Synchronous: true, SyncEvery: 1, Optimizer: optimizer.SGD, LearningRate: lr}
	g := newGroup(t, 1, cfg, master.Config{RoundTimeout: 10 * time.Second})

	// One epoch: 16 rows in batches of 2.
	g.run(t, 8, nil)

	serial := newModel(t)
	opt, err := optimizer.New(optimizer.SGD, optimizer.Params{LearningRate: lr})
	require.NoError(t, err)
	src := dataset(t, 16, 2)
	ctx := context.Background()
	for range 8 {
		b, err := src.Next(ctx)
		require.NoError(t, err)
		grad, _, err := serial.Gradients(ctx, b)
		require.NoError(t, err)
		next, err := opt.Step(serial.Weights(), grad)
		require.NoError(t, err)
		require.NoError(t, serial.SetWeights(next))
	}

	assert.True(t, serial.Weights().Equal(g.master.Model().Weights()))
}

func TestStragglerEviction(t *testing.T) {
	cfg := algo.Config{Mode: algo.ModeSGD, Synchronous: true, SyncEvery: 1, Optimizer: optimizer.SGD, LearningRate: 0.05}
	world, err := comm.NewLocalWorld(3)
	require.NoError(t, err)

	ma, err := algo.New(cfg, 3)
	require.NoError(t, err)
	m := master.New(world[0], nil, ma, newModel(t), master.Config{RoundTimeout: 50 * time.Millisecond, MaxTimeouts: 2}, logger)
	wa, err := algo.New(cfg, 3)
	require.NoError(t, err)
	w := worker.New(world[1], wa, newModel(t), dataset(t, 8, 2), logger, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var results []master.RoundResult
	var stop algo.Reply
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		_, err := w.Run(ectx)

		return err
	})
	// Rank 2 takes the initial weights and never reports back.
	eg.Go(func() error {
		var initial algo.Reply
		if _, err := world[2].Recv(ectx, 0, algo.TagReply, &initial); err != nil {
			return err
		}
		_, err := world[2].Recv(ectx, 0, algo.TagReply, &stop)

		return err
	})
	eg.Go(func() error {
		if err := m.Start(ectx); err != nil {
			return err
		}
		for range 3 {
			res, err := m.RunRound(ectx)
			if err != nil {
				return err
			}
			results = append(results, res)
		}

		return m.Stop(ectx)
	})
	require.NoError(t, eg.Wait())

	require.Len(t, results, 3)
	assert.Equal(t, []int{2}, results[0].Missed)
	assert.Empty(t, results[0].Evicted)
	assert.Equal(t, []int{2}, results[1].Evicted)
	assert.Empty(t, results[2].Missed)
	for _, res := range results {
		assert.Equal(t, 1, res.Updates)
	}
	assert.Equal(t, []int{2}, m.Evicted())
	assert.True(t, stop.Stop)
}

func TestAsyncSGDRepliesPerWorker(t *testing.T) {
	cfg := algo.Config{Mode: algo.ModeSGD, SyncEvery: 2, Optimizer: optimizer.SGD, LearningRate: 0.05, Staleness: algo.StalenessInverse}
	g := newGroup(t, 2, cfg, master.Config{RoundTimeout: 10 * time.Second})

	batches := 0
	g.run(t, 10, func(res master.RoundResult) {
		assert.Equal(t, 1, res.Updates)
		batches += res.Batches
	})
	assert.Equal(t, 20, batches)
	assert.Equal(t, uint64(10), g.master.Algo().State().Version)
}

func TestEASGDCenterMoves(t *testing.T) {
	cfg := algo.Config{Mode: algo.ModeEASGD, SyncEvery: 1, ElasticForce: 0.5, ElasticLR: 0.05, ElasticMomentum: 0.5}
	g := newGroup(t, 2, cfg, master.Config{RoundTimeout: 10 * time.Second})
	before := g.master.Model().Weights()

	g.run(t, 4, nil)

	assert.False(t, before.Equal(g.master.Model().Weights()))
	assert.Equal(t, uint64(4), g.master.Algo().State().Version)
}

func TestCoordinatorAveragesMasters(t *testing.T) {
	world, err := comm.NewLocalWorld(3)
	require.NoError(t, err)

	vec := func(v float64) weights.Weights {
		tn := weights.NewTensor("w", 2)
		tn.Data[0], tn.Data[1] = v, -v

		return weights.Weights{tn}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sum master.Summary
	replies := make([]algo.Reply, 3)
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		sum, err = master.NewCoordinator(world[0], logger).Run(ectx)

		return err
	})
	for r := 1; r <= 2; r++ {
		eg.Go(func() error {
			u := algo.Update{Kind: algo.Weights, Round: 1, Batches: 2, Loss: float64(r), Delta: vec(float64(r))}
			if err := world[r].Send(ectx, 0, algo.TagParentUpdate, u); err != nil {
				return err
			}
			if _, err := world[r].Recv(ectx, 0, algo.TagParentReply, &replies[r]); err != nil {
				return err
			}

			return world[r].Send(ectx, 0, algo.TagParentUpdate, algo.Update{Kind: algo.Weights, Done: true, Loss: 0.1 * float64(r), Delta: replies[r].Weights})
		})
	}
	require.NoError(t, eg.Wait())

	assert.True(t, vec(1.5).Equal(replies[1].Weights))
	assert.True(t, replies[1].Weights.Equal(replies[2].Weights))
	assert.Equal(t, 1, sum.Rounds)
	assert.InDelta(t, 0.75, sum.Loss, 1e-12)
	assert.Equal(t, map[int]float64{1: 0.1, 2: 0.2}, sum.Metrics)
}
