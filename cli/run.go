package cli

import (
	"context"
	"log/slog"

	"github.com/absmach/gradsync"
	"github.com/absmach/gradsync/driver"
	"github.com/absmach/gradsync/pkg/tracing"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/go-kit/kit/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const svcName = "gradsync"

func makeMetrics(namespace, subsystem string) (metrics.Counter, metrics.Histogram) {
	return prometheus.MakeMetrics(namespace, subsystem)
}

// NewRootCmd assembles every gradsync command under one root.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           svcName,
		Short:         "Distributed training and hyperparameter search",
		Long:          `gradsync trains models across ranks that synchronize through SGD, EASGD or GEM, and searches hyperparameters over blocks of ranks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String(configFlag, "", "TOML configuration file")

	rootCmd.AddCommand(
		NewTrainCmd(),
		NewSearchCmd(),
		NewHistoryCmd(),
		NewTrialsCmd(),
	)

	return rootCmd
}

func NewTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model",
		Long: `Train a model with distributed synchronization.

Examples:
  # Three in-process ranks, synchronous SGD
  gradsync train --model model.json --train-data train.txt --np 3 --synchronous

  # One rank of an MQTT world started by mpirun
  mpirun -n 5 gradsync train --transport mqtt --mode easgd --model model.json --train-data train.txt`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, job *driver.Job) error {
				return job.Train(ctx)
			})
		},
	}
	trainFlags(cmd.Flags())

	return cmd
}

func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search hyperparameters",
		Long: `Search hyperparameters by training one trial per block of ranks.
Rank 0 proposes trials; the other ranks form blocks of block-size ranks.

Examples:
  gradsync search --model model.json --train-data train.txt --np 7 --block-size 3 --num-iterations 20 --space space.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, job *driver.Job) error {
				return job.Search(ctx)
			})
		},
	}
	flags := cmd.Flags()
	trainFlags(flags)
	flags.Int("block-size", 0, "ranks per trial block")
	flags.Int("num-iterations", 0, "number of trials")
	flags.String("space", "", "search space file")
	flags.Bool("maximize", false, "maximize the monitored metric")
	flags.Uint64("seed", 0, "oracle seed")

	return cmd
}

func trainFlags(flags *pflag.FlagSet) {
	flags.String("mode", "", "synchronization mode: sgd, easgd or gem")
	flags.Bool("synchronous", false, "synchronous SGD")
	flags.Int("sync-every", 0, "batches between synchronizations")
	flags.Int("masters", 0, "number of masters")
	flags.Int("processes", 0, "workers per master, 0 infers it")
	flags.Bool("coordinator", false, "reserve rank 0 as coordinator")
	flags.Int("max-gpus", 0, "GPUs to use, negative uses all")
	flags.Bool("master-gpu", false, "let masters use GPUs")
	flags.String("optimizer", "", "master optimizer")
	flags.Float64("learning-rate", 0, "master learning rate")
	flags.String("staleness", "", "async staleness policy: none or inverse")
	flags.Float64("elastic-force", 0, "EASGD elastic force")
	flags.Float64("elastic-lr", 0, "EASGD worker learning rate")
	flags.Float64("elastic-momentum", 0, "EASGD worker momentum")
	flags.Float64("gem-lr", 0, "GEM learning rate")
	flags.Float64("gem-momentum", 0, "GEM momentum")
	flags.Float64("gem-kappa", 0, "GEM kappa")
	flags.Int("epochs", 0, "number of epochs")
	flags.Int("batch", 0, "batch size")
	flags.Int("early-stopping", 0, "validations without improvement before stopping")
	flags.String("target-metric", "", "monitored metric as name or name,min|max")
	flags.String("checkpoint", "", "checkpoint base path")
	flags.Int("checkpoint-interval", 0, "epochs between checkpoints")
	flags.String("checkpoint-store", "", "checkpoint store: local, s3 or redis")
	flags.String("restore", "", "checkpoint to resume from")
	flags.String("model", "", "model architecture file")
	flags.String("trial-name", "", "trial name")
	flags.String("train-data", "", "list file of training CSV files")
	flags.String("val-data", "", "list file of validation CSV files")
	flags.Int("label-columns", 0, "trailing label columns of each CSV row")
	flags.String("history-dir", "", "directory of history files")
	flags.String("transport", "", "transport: local or mqtt")
	flags.Int("np", 0, "in-process ranks of the local transport")
	flags.Duration("round-timeout", 0, "time a round waits for a worker")
	flags.Int("max-timeouts", 0, "missed rounds before a worker is evicted")
	flags.String("log-level", "", "log level")
	flags.String("http-port", "", "status API port")
	flags.Bool("verbose", false, "log every batch")
}

func run(cmd *cobra.Command, fn func(ctx context.Context, job *driver.Job) error) error {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return err
	}
	cfg, err := gradsync.Load(path, overrides(cmd.Flags()))
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx := cmd.Context()
	tracer, shutdown, err := tracing.Setup(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("error shutting down tracer provider", slog.Any("error", err))
		}
	}()

	job, err := driver.New(ctx, cfg, logger, driver.WithTracer(tracer), driver.WithMetrics(makeMetrics))
	if err != nil {
		return err
	}
	defer job.Close()

	return fn(ctx, job)
}
