// Package driver runs a training job or a hyperparameter search on every
// rank of a world: it reads data, opens stores, builds the topology and hands
// each rank its role.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/gradsync"
	"github.com/absmach/gradsync/checkpoint"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/comm"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/device"
	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/mqtt"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/go-kit/kit/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	svcName        = "gradsync"
	redisKeyPrefix = "gradsync:checkpoint:"
)

// MetricsFactory creates a counter and a latency histogram for a subsystem.
type MetricsFactory func(namespace, subsystem string) (metrics.Counter, metrics.Histogram)

type Option func(*Job)

func WithBuilder(b model.Builder) Option {
	return func(j *Job) { j.builder = b }
}

// WithData replaces the CSV list files of the configuration.
func WithData(train *data.Memory, val data.Source) Option {
	return func(j *Job) {
		j.train = train
		j.val = val
	}
}

func WithStore(store checkpoint.Store) Option {
	return func(j *Job) { j.store = store }
}

func WithRepositories(repos *storage.Repositories) Option {
	return func(j *Job) { j.repos = repos }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(j *Job) { j.tracer = tracer }
}

func WithMetrics(factory MetricsFactory) Option {
	return func(j *Job) { j.metrics = factory }
}

type algoMetrics struct {
	counter metrics.Counter
	latency metrics.Histogram
}

// Job holds what the ranks of one process share.
type Job struct {
	cfg    gradsync.Config
	logger *slog.Logger

	builder model.Builder
	train   *data.Memory
	val     data.Source
	store   checkpoint.Store
	repos   *storage.Repositories
	tracer  trace.Tracer
	metrics MetricsFactory

	algoMetrics *algoMetrics
	gpus        int
	trial       string
	instanceID  string
	closers     []io.Closer
}

// New validates cfg and opens every resource it names that was not given as
// an option.
func New(ctx context.Context, cfg gradsync.Config, logger *slog.Logger, opts ...Option) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	j := &Job{
		cfg:        cfg,
		logger:     logger,
		trial:      cfg.TrialName,
		instanceID: cfg.InstanceID,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.trial == "" {
		j.trial = namegenerator.NewGenerator().Generate()
	}
	if j.instanceID == "" {
		j.instanceID = uuid.NewString()
	}
	if j.metrics != nil {
		counter, latency := j.metrics(svcName, "algo")
		j.algoMetrics = &algoMetrics{counter: counter, latency: latency}
	}

	if err := j.open(ctx); err != nil {
		return nil, errors.Join(err, j.Close())
	}
	j.gpus = device.DetectGPUs()

	return j, nil
}

func (j *Job) open(ctx context.Context) error {
	if j.builder == nil {
		if j.cfg.Model == "" {
			return fmt.Errorf("%w: no model architecture given", pkgerrors.ErrConfiguration)
		}
		b, err := model.FromArchitecture(j.cfg.Model)
		if err != nil {
			return fmt.Errorf("%w: %w", pkgerrors.ErrConfiguration, err)
		}
		j.builder = b
	}

	if j.train == nil {
		if j.cfg.TrainData == "" {
			return fmt.Errorf("%w: no training data given", pkgerrors.ErrConfiguration)
		}
		train, err := loadList(j.cfg.TrainData, j.cfg.LabelColumns, j.cfg.Batch)
		if err != nil {
			return err
		}
		j.train = train
		if j.cfg.ValData != "" {
			val, err := loadList(j.cfg.ValData, j.cfg.LabelColumns, j.cfg.Batch)
			if err != nil {
				return err
			}
			j.val = val
		}
	}

	if j.store == nil {
		store, closer, err := openStore(ctx, j.cfg)
		if err != nil {
			return err
		}
		j.store = store
		if closer != nil {
			j.closers = append(j.closers, closer)
		}
	}

	if j.repos == nil {
		repos, err := storage.NewRepositories(j.cfg.Storage)
		if err != nil {
			return err
		}
		j.repos = repos
		j.closers = append(j.closers, repos)
	}

	return nil
}

func loadList(path string, labels, batch int) (*data.Memory, error) {
	paths, err := data.ReadList(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data list %s: %w", path, err)
	}

	return data.LoadCSV(paths, labels, batch)
}

func openStore(ctx context.Context, cfg gradsync.Config) (checkpoint.Store, io.Closer, error) {
	switch cfg.CheckpointStore {
	case gradsync.StoreS3:
		store, err := checkpoint.ConnectS3(ctx, cfg.S3Bucket, cfg.S3Prefix)

		return store, nil, err
	case gradsync.StoreRedis:
		store, client := checkpoint.ConnectRedis(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB, redisKeyPrefix)

		return store, client, nil
	default:
		return checkpoint.NewLocalStore(), nil, nil
	}
}

// Trial is the trial name of a training job, or the prefix of search trial
// names.
func (j *Job) Trial() string { return j.trial }

// Repositories are the trial and history repositories of the job.
func (j *Job) Repositories() *storage.Repositories { return j.repos }

func (j *Job) Close() error {
	var errs []error
	for i := len(j.closers) - 1; i >= 0; i-- {
		if err := j.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	j.closers = nil

	return errors.Join(errs...)
}

// launch runs fn on every rank hosted by this process.
func (j *Job) launch(ctx context.Context, fn func(ctx context.Context, world comm.Communicator) error) error {
	if j.cfg.Transport == gradsync.TransportMQTT {
		return j.launchMQTT(ctx, fn)
	}

	world, err := comm.NewLocalWorld(j.cfg.NP)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range world {
		g.Go(func() error {
			defer c.Free()

			return fn(gctx, c)
		})
	}

	return g.Wait()
}

func (j *Job) launchMQTT(ctx context.Context, fn func(ctx context.Context, world comm.Communicator) error) (err error) {
	id := fmt.Sprintf("%s-%s-%d", svcName, j.instanceID, j.cfg.Rank)
	ps, err := mqtt.NewPubSub(j.cfg.MQTT, id, j.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer func() {
		if derr := ps.Disconnect(context.Background()); derr != nil {
			j.logger.Warn("failed to disconnect from broker", slog.Any("error", derr))
		}
	}()

	world, err := comm.NewMQTTWorld(ctx, ps, j.cfg.MQTT.Prefix, j.cfg.Rank, j.cfg.WorldSize, j.logger)
	if err != nil {
		return err
	}
	defer world.Free()

	return fn(ctx, world)
}

// finish meets every other rank at a world barrier so that no rank exits
// while its peers still expect messages.
func (j *Job) finish(ctx context.Context, world comm.Communicator, err error) error {
	bctx, cancel := context.WithTimeout(ctx, j.cfg.ShutdownTimeout())
	defer cancel()
	if berr := comm.Barrier(bctx, world); berr != nil {
		return errors.Join(err, fmt.Errorf("failed to reach shutdown barrier: %w", berr))
	}

	return err
}

// ExitCode maps the outcome of a job to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pkgerrors.ErrConfiguration), errors.Is(err, pkgerrors.ErrUnsupportedMode):
		return 2
	default:
		return 1
	}
}
