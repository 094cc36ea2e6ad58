package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/gradsync"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/comm"
	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/trial"
	"github.com/absmach/gradsync/search"
	"github.com/absmach/gradsync/search/middleware"
)

// Search runs num_iterations trials over blocks of block_size ranks.
func (j *Job) Search(ctx context.Context) error {
	return j.launch(ctx, j.searchRank)
}

func (j *Job) searchRank(ctx context.Context, world comm.Communicator) error {
	blocks, err := search.Partition(world.Size(), j.cfg.BlockSize)
	if err != nil {
		return j.finish(ctx, world, err)
	}
	logger := j.logger.With(slog.Int("rank", world.Rank()), slog.Int("block", search.BlockOf(world.Rank(), j.cfg.BlockSize)))

	all, err := search.CheckBlocks(ctx, world, j.cfg.BlockSize)
	if err != nil {
		return j.finish(ctx, world, err)
	}
	if world.Rank() == search.CoordinatorRank {
		logger.Debug("block numbers", slog.Any("blocks", all))
	}

	blk, err := search.SplitBlocks(ctx, world, j.cfg.BlockSize)
	if err != nil {
		return j.finish(ctx, world, err)
	}
	if world.Rank() == search.CoordinatorRank {
		return j.finish(ctx, world, j.coordinate(ctx, world, blocks, logger))
	}
	defer blk.Free()

	err = search.RunBlock(ctx, world, blk, search.CoordinatorRank, j.runner(blk, logger), logger)

	return j.finish(ctx, world, err)
}

func (j *Job) coordinate(ctx context.Context, world comm.Communicator, blocks []search.Block, logger *slog.Logger) error {
	oracle, err := j.oracle()
	if err != nil {
		// Blocks are waiting for their first trial.
		stop := search.NewCoordinator(world, blocks, nil, nil, j.trial, j.cfg.Maximize, logger)

		return errors.Join(err, stop.Run(ctx, 0))
	}

	stopServer := j.serve(ctx)
	defer stopServer()

	logger.Info("starting search",
		slog.String("trials", j.trial),
		slog.Int("iterations", j.cfg.NumIterations),
		slog.Int("blocks", len(blocks)),
		slog.Int("block_size", j.cfg.BlockSize),
	)
	c := search.NewCoordinator(world, blocks, middleware.LoggingOracle(logger, oracle), j.repos.Trials, j.trial, j.cfg.Maximize, logger)
	if err := c.Run(ctx, j.cfg.NumIterations); err != nil {
		return err
	}

	best, err := search.NewService(j.repos.Trials, j.cfg.Maximize).BestTrial(ctx)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		logger.Warn("no trial completed")
	case err != nil:
		return err
	default:
		logger.Info("search finished",
			slog.String("best_trial", best.Name),
			slog.Float64("metric", best.Metric),
			slog.String("params", best.Params.String()),
		)
	}

	return nil
}

func (j *Job) oracle() (search.Oracle, error) {
	space, err := search.LoadSpace(j.cfg.Space)
	if err != nil {
		return nil, err
	}

	return search.NewRandomOracle(space, j.cfg.Seed)
}

// runner trains one trial on the ranks of a block. Trial values that name a
// synchronization option override it; the rest reach the model builder.
func (j *Job) runner(blk comm.Communicator, logger *slog.Logger) search.Runner {
	return func(ctx context.Context, a search.Assignment) (float64, error) {
		cfg, params, err := applyParams(j.cfg, a.Params)
		if err != nil {
			return 0, err
		}
		topo, err := plan(blk.Size(), cfg)
		if err != nil {
			return 0, err
		}
		if blk.Rank() == 0 {
			logger.Info("running trial", slog.String("trial", a.Name), slog.String("params", a.Point().String()))
		}
		res, err := j.runBlock(ctx, blk, topo, cfg, params, a.Name, false)
		if err != nil {
			return 0, err
		}

		return res.Metric, nil
	}
}

// applyParams splits a trial point into configuration overrides and model
// parameters.
func applyParams(cfg gradsync.Config, params []trial.Param) (gradsync.Config, model.Params, error) {
	rest := model.Params{}
	for _, p := range params {
		var err error
		switch p.Name {
		case "mode":
			cfg.Mode, err = asString(p.Value)
		case "optimizer":
			cfg.Optimizer, err = asString(p.Value)
		case "staleness":
			cfg.Staleness, err = asString(p.Value)
		case "worker_optimizer":
			cfg.WorkerOptimizer, err = asString(p.Value)
		case "synchronous":
			cfg.Synchronous, err = asBool(p.Value)
		case "sync_every":
			cfg.SyncEvery, err = asInt(p.Value)
		case "epochs":
			cfg.Epochs, err = asInt(p.Value)
		case "early_stopping":
			cfg.EarlyStopping, err = asInt(p.Value)
		case "learning_rate":
			cfg.LearningRate, err = asFloat(p.Value)
		case "elastic_force":
			cfg.ElasticForce, err = asFloat(p.Value)
		case "elastic_lr":
			cfg.ElasticLR, err = asFloat(p.Value)
		case "elastic_momentum":
			cfg.ElasticMomentum, err = asFloat(p.Value)
		case "gem_lr":
			cfg.GEMLR, err = asFloat(p.Value)
		case "gem_momentum":
			cfg.GEMMomentum, err = asFloat(p.Value)
		case "gem_kappa":
			cfg.GEMKappa, err = asFloat(p.Value)
		default:
			rest[p.Name] = p.Value
		}
		if err != nil {
			return cfg, nil, fmt.Errorf("%w: trial value %s: %w", pkgerrors.ErrConfiguration, p.Name, err)
		}
	}

	return cfg, rest, nil
}

var errType = errors.New("unexpected type")

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w %T", errType, v)
	}

	return s, nil
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w %T", errType, v)
	}

	return b, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%w: %g is not whole", errType, n)
		}

		return int(n), nil
	default:
		return 0, fmt.Errorf("%w %T", errType, v)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w %T", errType, v)
	}
}
