package driver

import (
	"context"
	"log/slog"

	"github.com/absmach/gradsync"
	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/algo/middleware"
	"github.com/absmach/gradsync/block"
	"github.com/absmach/gradsync/manager"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/comm"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/device"
	"github.com/dustin/go-humanize"
)

// Train runs one training job on every rank of the world.
func (j *Job) Train(ctx context.Context) error {
	stop := j.serve(ctx)
	defer stop()

	return j.launch(ctx, j.trainRank)
}

func (j *Job) trainRank(ctx context.Context, world comm.Communicator) error {
	topo, err := plan(world.Size(), j.cfg)
	if err != nil {
		return j.finish(ctx, world, err)
	}
	if world.Rank() == 0 {
		j.logger.Info("starting training",
			slog.String("trial", j.trial),
			slog.String("mode", j.cfg.Mode),
			slog.Int("masters", topo.Masters),
			slog.Int("workers_per_master", topo.WorkersPerMaster),
			slog.Bool("coordinator", topo.Coordinator),
			slog.String("samples", humanize.Comma(int64(j.train.Len()))),
		)
	}

	res, err := j.runBlock(ctx, world, topo, j.cfg, nil, j.trial, true)
	if err == nil && res.Reports {
		j.logger.Info("training finished",
			slog.String("trial", j.trial),
			slog.String("state", res.State.String()),
			slog.Float64("metric", res.Metric),
			slog.String("history", res.History.Name),
		)
	}

	return j.finish(ctx, world, err)
}

// plan builds the topology of a world and checks that the synchronization
// options suit it. Every rank reaches the same verdict.
func plan(size int, cfg gradsync.Config) (*manager.Topology, error) {
	var (
		topo *manager.Topology
		err  error
	)
	if cfg.Processes > 0 {
		topo, err = manager.NewTopology(size, cfg.Masters, cfg.Processes, cfg.Coordinator)
	} else {
		topo, err = manager.InferTopology(size, cfg.Masters, cfg.Coordinator)
	}
	if err != nil {
		return nil, err
	}
	if _, err := algo.New(cfg.Algo(), topo.GroupSize()); err != nil {
		return nil, err
	}

	return topo, nil
}

// runBlock runs the process block of this rank. Checkpoints are written and
// restored only when persist is set.
func (j *Job) runBlock(ctx context.Context, world comm.Communicator, topo *manager.Topology, cfg gradsync.Config, params model.Params, trial string, persist bool) (block.Result, error) {
	dev := device.Assign(device.Request{
		Rank:          world.Rank(),
		Size:          world.Size(),
		MasterRanks:   topo.CPURanks(),
		GPUBudget:     cfg.MaxGPUs,
		MasterGPU:     cfg.MasterGPU,
		AvailableGPUs: j.gpus,
	})

	mgr, err := manager.New(ctx, world, topo, manager.Deps{
		Algo:    cfg.Algo(),
		Master:  cfg.Master,
		Builder: j.builder,
		Params:  params,
		Train:   j.train,
		Device:  dev,
		Logger:  j.logger,
		Wrap:    j.wrap(),
		Verbose: cfg.Verbose,
	})
	if err != nil {
		return block.Result{}, err
	}
	defer mgr.Close()
	mgr.Logger().Debug("device assigned", slog.String("device", dev.String()))

	monitor, err := block.ParseMonitor(cfg.TargetMetric)
	if err != nil {
		return block.Result{}, err
	}
	settings := cfg.Settings()
	for k, v := range params {
		settings[k] = v
	}
	bcfg := block.Config{
		Epochs:             cfg.Epochs,
		ValidateEvery:      epochBatches(topo, j.train),
		Patience:           cfg.EarlyStopping,
		Monitor:            monitor,
		CheckpointInterval: cfg.CheckpointInterval,
		Model:              j.builder.Name(),
		Trial:              trial,
		HistoryDir:         cfg.HistoryDir,
		Verbose:            cfg.Verbose,
		Settings:           settings,
	}
	deps := block.Deps{
		Validation: j.validation(),
		Histories:  j.repos.Histories,
		Logger:     mgr.Logger(),
	}
	if persist && (cfg.Checkpoint != "" || cfg.Restore != "") {
		deps.Store = j.store
		deps.CheckpointBase = cfg.Checkpoint
		bcfg.Restore = cfg.Restore
		if cfg.Checkpoint == "" {
			bcfg.CheckpointInterval = 0
		}
	}

	return block.New(mgr, bcfg, deps).Run(ctx)
}

// validation gives each rank its own cursor over the validation data.
func (j *Job) validation() data.Source {
	if mem, ok := j.val.(*data.Memory); ok {
		return mem.Shard(0, 1)
	}

	return j.val
}

func (j *Job) wrap() func(algo.Algo) algo.Algo {
	return func(a algo.Algo) algo.Algo {
		a = middleware.Logging(j.logger, j.cfg.Verbose, a)
		if j.algoMetrics != nil {
			a = middleware.Metrics(j.algoMetrics.counter, j.algoMetrics.latency, a)
		}
		if j.tracer != nil {
			a = middleware.Tracing(j.tracer, a)
		}

		return a
	}
}

// epochBatches is the number of batches the workers of one group consume in
// an epoch.
func epochBatches(topo *manager.Topology, train *data.Memory) int {
	n := 0
	for _, r := range topo.Members(0)[1:] {
		n += data.Batches(train.Shard(topo.WorkerIndex(r), topo.Workers()))
	}

	return n
}
