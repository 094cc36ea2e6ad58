// Package block drives one process through training, validation, early
// stopping, checkpointing and reporting.
package block

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/absmach/gradsync/checkpoint"
	"github.com/absmach/gradsync/manager"
	"github.com/absmach/gradsync/master"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/data"
	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/history"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

type State uint8

const (
	Idle State = iota
	Training
	Validating
	EarlyStopped
	EpochLimitReached
	Reporting
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Training:
		return "training"
	case Validating:
		return "validating"
	case EarlyStopped:
		return "early_stopped"
	case EpochLimitReached:
		return "epoch_limit_reached"
	case Reporting:
		return "reporting"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

type Config struct {
	Epochs int
	// ValidateEvery is the number of worker batches in one epoch.
	ValidateEvery int
	// Patience is the number of validations without improvement before
	// stopping; zero disables early stopping.
	Patience           int
	Monitor            Monitor
	CheckpointInterval int
	// Restore is a checkpoint path to resume from.
	Restore    string
	Model      string
	Trial      string
	HistoryDir string
	Verbose    bool
	// Settings is recorded verbatim in the history.
	Settings map[string]any
}

type Deps struct {
	// Validation is evaluated by masters; without it the training loss is
	// monitored.
	Validation data.Source
	// Store holds checkpoints; nil disables them.
	Store          checkpoint.Store
	CheckpointBase string
	Histories      storage.HistoryRepository
	Logger         *slog.Logger
}

// Result is produced by every role. Metric and History are meaningful on the
// rank that reports: the coordinator when there is one, the master otherwise.
type Result struct {
	State   State
	Metric  float64
	Reports bool
	History history.History
}

type ProcessBlock struct {
	mgr    *manager.Manager
	cfg    Config
	deps   Deps
	logger *slog.Logger
	state  State
}

func New(mgr *manager.Manager, cfg Config, deps Deps) *ProcessBlock {
	if cfg.Monitor.Name == "" {
		cfg.Monitor.Name = DefaultMetric
	}
	if cfg.ValidateEvery < 1 {
		cfg.ValidateEvery = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = mgr.Logger()
	}

	return &ProcessBlock{mgr: mgr, cfg: cfg, deps: deps, logger: logger}
}

func (pb *ProcessBlock) State() State { return pb.state }

func (pb *ProcessBlock) transition(to State) {
	pb.logger.Debug("state transition", slog.String("from", pb.state.String()), slog.String("to", to.String()))
	pb.state = to
}

func (pb *ProcessBlock) Run(ctx context.Context) (Result, error) {
	switch pb.mgr.Role() {
	case manager.Coordinator:
		return pb.runCoordinator(ctx)
	case manager.Master:
		return pb.runMaster(ctx)
	default:
		return pb.runWorker(ctx)
	}
}

func (pb *ProcessBlock) runWorker(ctx context.Context) (Result, error) {
	pb.transition(Training)
	stats, err := pb.mgr.Worker().Run(ctx)
	if err != nil {
		return Result{State: pb.state}, err
	}
	pb.logger.Info("worker stopped", slog.Int("batches", stats.Batches), slog.Int("syncs", stats.Syncs))
	pb.transition(Terminated)

	return Result{State: pb.state}, nil
}

func (pb *ProcessBlock) checkpointing() bool {
	if pb.deps.Store == nil || pb.cfg.CheckpointInterval < 1 {
		return false
	}
	// Masters of a coordinated run share weights after every epoch; one
	// copy is enough.
	return pb.mgr.Topology().Group(pb.mgr.Rank()) == 0
}

func (pb *ProcessBlock) restore(ctx context.Context, m *master.Master) (int, error) {
	if pb.cfg.Restore == "" {
		return 0, nil
	}
	if pb.deps.Store == nil {
		return 0, fmt.Errorf("%w: no checkpoint store configured", pkgerrors.ErrRestore)
	}
	rec, err := checkpoint.Restore(ctx, pb.deps.Store, pb.cfg.Restore)
	if err != nil {
		return 0, err
	}
	if err := m.Model().SetWeights(rec.Weights); err != nil {
		return 0, fmt.Errorf("%w: %w", pkgerrors.ErrRestore, err)
	}
	if err := m.Algo().Restore(rec.State); err != nil {
		return 0, fmt.Errorf("%w: %w", pkgerrors.ErrRestore, err)
	}
	pb.logger.Info("restored checkpoint", slog.String("path", pb.cfg.Restore), slog.Int("epoch", rec.Epoch))

	return rec.Epoch, nil
}

func (pb *ProcessBlock) runMaster(ctx context.Context) (Result, error) {
	m := pb.mgr.Master()
	began := time.Now()

	epoch, err := pb.restore(ctx, m)
	if err != nil {
		return pb.fail(ctx, m, pb.cfg.Monitor.Worst(), err)
	}
	if err := m.Start(ctx); err != nil {
		return pb.fail(ctx, m, pb.cfg.Monitor.Worst(), err)
	}

	var cp *checkpoint.Checkpointer
	if pb.checkpointing() {
		cp = checkpoint.New(pb.deps.Store, pb.deps.CheckpointBase, pb.logger)
	}
	saved := -1
	save := func(epoch int) error {
		if cp == nil || epoch == saved || epoch%pb.cfg.CheckpointInterval != 0 {
			return nil
		}
		if _, err := cp.Save(ctx, checkpoint.Record{Epoch: epoch, Weights: m.Model().Weights(), State: m.Algo().State()}); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		saved = epoch

		return nil
	}

	h := pb.newHistory(began)
	best := pb.cfg.Monitor.Worst()
	wait := 0

	pb.transition(Training)
	if epoch >= pb.cfg.Epochs {
		pb.transition(EpochLimitReached)
	}

	var (
		batches, samples int
		loss             float64
		epochStart       = time.Now()
		bar              = pb.progress(epoch)
	)
	for pb.state == Training {
		if m.Active() == 0 {
			pb.logger.Warn("no workers left, stopping")
			pb.transition(EarlyStopped)

			break
		}
		res, err := m.RunRound(ctx)
		if err != nil {
			return pb.fail(ctx, m, best, err)
		}
		batches += res.Batches
		samples += res.Samples
		loss += res.Loss
		if bar != nil {
			_ = bar.Add(res.Batches)
		}
		if batches < pb.cfg.ValidateEvery {
			continue
		}

		epoch++
		pb.transition(Validating)
		if bar != nil {
			_ = bar.Finish()
		}
		trainLoss := 0.0
		if batches > 0 {
			trainLoss = loss / float64(batches)
		}
		if err := m.SyncParent(ctx, loss, batches); err != nil {
			return pb.fail(ctx, m, best, err)
		}
		metrics, err := pb.validate(ctx, m.Model(), trainLoss)
		if err != nil {
			return pb.fail(ctx, m, best, err)
		}
		value, ok := metrics[pb.cfg.Monitor.Name]
		if !ok {
			return pb.fail(ctx, m, best, fmt.Errorf("%w: model reports no metric %q, has %v", pkgerrors.ErrConfiguration, pb.cfg.Monitor.Name, slices.Sorted(maps.Keys(metrics))))
		}
		h.Epochs = append(h.Epochs, history.Epoch{Epoch: epoch, Batches: batches, TrainLoss: trainLoss, Metrics: metrics, Duration: time.Since(epochStart)})
		if pb.cfg.Monitor.Better(value, best) {
			best, wait = value, 0
			h.BestMetric, h.BestEpoch = value, epoch
		} else {
			wait++
		}
		pb.logger.Info("epoch done",
			slog.Int("epoch", epoch),
			slog.String("samples", humanize.Comma(int64(samples))),
			slog.Float64("train_loss", trainLoss),
			slog.Float64(pb.cfg.Monitor.Name, value),
			slog.Float64("best", best),
			slog.String("duration", time.Since(epochStart).Round(time.Millisecond).String()),
		)
		if err := save(epoch); err != nil {
			return pb.fail(ctx, m, best, err)
		}

		switch {
		case pb.cfg.Patience > 0 && wait >= pb.cfg.Patience:
			pb.transition(EarlyStopped)
			h.StoppedEarly = true
		case epoch >= pb.cfg.Epochs:
			pb.transition(EpochLimitReached)
		default:
			pb.transition(Training)
			batches, samples, loss = 0, 0, 0
			epochStart = time.Now()
			bar = pb.progress(epoch)
		}
	}

	pb.transition(Reporting)
	if err := m.Stop(ctx); err != nil {
		return pb.fail(ctx, m, best, fmt.Errorf("failed to stop workers: %w", err))
	}
	if err := save(epoch); err != nil {
		return pb.fail(ctx, m, best, err)
	}
	if err := m.LeaveParent(ctx, best); err != nil {
		return Result{State: pb.state}, err
	}
	if len(h.Epochs) == 0 {
		h.BestMetric = best
	}
	h.Evicted = m.Evicted()
	h.Duration = time.Since(began)

	res := Result{Metric: best, History: h, Reports: !pb.mgr.Coordinated()}
	if res.Reports {
		if err := pb.persist(ctx, h); err != nil {
			return res, err
		}
	}
	pb.transition(Terminated)
	res.State = pb.state

	return res, nil
}

// fail stops the workers still waiting for a reply and releases the parent
// before returning err.
func (pb *ProcessBlock) fail(ctx context.Context, m *master.Master, best float64, err error) (Result, error) {
	pb.logger.Warn("master failed, stopping workers", slog.Any("error", err))

	return Result{State: pb.state}, errors.Join(err, m.Abort(ctx), m.LeaveParent(ctx, best))
}

func (pb *ProcessBlock) runCoordinator(ctx context.Context) (Result, error) {
	began := time.Now()
	pb.transition(Training)
	sum, err := pb.mgr.Coordinator().Run(ctx)
	if err != nil {
		return Result{State: pb.state}, err
	}
	pb.transition(Reporting)

	h := pb.newHistory(began)
	best := pb.cfg.Monitor.Worst()
	for _, r := range slices.Sorted(maps.Keys(sum.Metrics)) {
		v := sum.Metrics[r]
		h.Groups = append(h.Groups, history.History{Role: manager.Master.String(), Rank: r, Monitor: h.Monitor, BestMetric: v})
		if pb.cfg.Monitor.Better(v, best) {
			best = v
		}
	}
	for i, l := range sum.Losses {
		h.Epochs = append(h.Epochs, history.Epoch{Epoch: i + 1, TrainLoss: l})
	}
	h.BestMetric = best
	h.Duration = time.Since(began)
	if err := pb.persist(ctx, h); err != nil {
		return Result{State: pb.state, Metric: best, Reports: true, History: h}, err
	}
	pb.transition(Terminated)

	return Result{State: pb.state, Metric: best, Reports: true, History: h}, nil
}

func (pb *ProcessBlock) newHistory(began time.Time) history.History {
	return history.History{
		Name:      history.FileName(pb.cfg.Model, pb.cfg.Trial),
		Model:     pb.cfg.Model,
		Trial:     pb.cfg.Trial,
		Role:      pb.mgr.Role().String(),
		Rank:      pb.mgr.Rank(),
		Monitor:   pb.cfg.Monitor.String(),
		BestEpoch: -1,
		Config:    pb.cfg.Settings,
		StartedAt: began,
	}
}

func (pb *ProcessBlock) persist(ctx context.Context, h history.History) error {
	if pb.cfg.HistoryDir != "" {
		path, err := h.WriteFile(pb.cfg.HistoryDir)
		if err != nil {
			return fmt.Errorf("failed to write history: %w", err)
		}
		pb.logger.Info("wrote history", slog.String("path", path))
	}
	if pb.deps.Histories != nil {
		if err := pb.deps.Histories.Save(ctx, h); err != nil {
			return fmt.Errorf("failed to store history: %w", err)
		}
	}

	return nil
}

// validate evaluates m on the validation source, weighting each batch by its
// size. Without validation data the training loss stands in.
func (pb *ProcessBlock) validate(ctx context.Context, m model.Model, trainLoss float64) (model.Metrics, error) {
	src := pb.deps.Validation
	if src == nil {
		return model.Metrics{DefaultMetric: trainLoss}, nil
	}
	src.Reset()
	defer src.Reset()

	sums := make(model.Metrics)
	total := 0
	for {
		b, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		met, err := m.Evaluate(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate: %w", err)
		}
		for k, v := range met {
			sums[k] += v * float64(b.Len())
		}
		total += b.Len()
	}
	if total == 0 {
		return nil, data.ErrEmptySource
	}
	for k := range sums {
		sums[k] /= float64(total)
	}

	return sums, nil
}

func (pb *ProcessBlock) progress(epoch int) *progressbar.ProgressBar {
	if !pb.cfg.Verbose {
		return nil
	}

	return progressbar.NewOptions(pb.cfg.ValidateEvery,
		progressbar.OptionSetDescription(fmt.Sprintf("epoch %d", epoch+1)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
}
