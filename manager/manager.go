// Package manager turns a world communicator and a topology into the one
// role this process plays: coordinator, group master or worker.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/master"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/comm"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/device"
	"github.com/absmach/gradsync/worker"
)

type Deps struct {
	Algo    algo.Config
	Master  master.Config
	Builder model.Builder
	Params  model.Params
	// Train is split between workers when it is a *data.Memory; other
	// sources are used as they are.
	Train  data.Source
	Device device.Context
	Logger *slog.Logger
	// Wrap decorates the master side Algo, e.g. with middleware.
	Wrap    func(algo.Algo) algo.Algo
	Verbose bool
}

type Manager struct {
	topo   *Topology
	world  comm.Communicator
	group  comm.Communicator
	parent comm.Communicator
	role   Role
	logger *slog.Logger

	master      *master.Master
	worker      *worker.Worker
	coordinator *master.Coordinator
}

// New is collective over world: every rank must call it with the same
// topology.
func New(ctx context.Context, world comm.Communicator, topo *Topology, deps Deps) (*Manager, error) {
	if world.Size() != topo.Size {
		return nil, fmt.Errorf("world of %d ranks does not match topology of %d", world.Size(), topo.Size)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	rank := world.Rank()
	mgr := &Manager{
		topo:   topo,
		world:  world,
		role:   topo.Role(rank),
		logger: deps.Logger.With(slog.Int("rank", rank), slog.String("role", topo.Role(rank).String())),
	}

	color := comm.Undefined
	if g := topo.Group(rank); g >= 0 {
		color = g
	}
	group, err := world.Split(ctx, color, rank)
	if err != nil {
		return nil, fmt.Errorf("failed to split groups: %w", err)
	}
	mgr.group = group

	if topo.Coordinator {
		color := comm.Undefined
		if mgr.role != Worker {
			color = 0
		}
		parent, err := world.Split(ctx, color, rank)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to split coordinator group: %w", err), mgr.Close())
		}
		mgr.parent = parent
	}

	if err := mgr.build(ctx, deps); err != nil {
		return nil, errors.Join(err, mgr.Close())
	}

	return mgr, nil
}

func (mgr *Manager) build(ctx context.Context, deps Deps) error {
	if mgr.role == Coordinator {
		mgr.coordinator = master.NewCoordinator(mgr.parent, mgr.logger)

		return nil
	}

	a, err := algo.New(deps.Algo, mgr.topo.GroupSize())
	if err != nil {
		return err
	}
	m, err := deps.Builder.Build(ctx, deps.Device, deps.Params)
	if err != nil {
		return fmt.Errorf("failed to build model %s: %w", deps.Builder.Name(), err)
	}

	if mgr.role == Master {
		if deps.Wrap != nil {
			a = deps.Wrap(a)
		}
		mgr.master = master.New(mgr.group, mgr.parent, a, m, deps.Master, mgr.logger)

		return nil
	}

	source := deps.Train
	if mem, ok := source.(*data.Memory); ok {
		source = mem.Shard(mgr.topo.WorkerIndex(mgr.world.Rank()), mgr.topo.Workers())
	}
	mgr.worker = worker.New(mgr.group, a, m, source, mgr.logger, deps.Verbose)

	return nil
}

func (mgr *Manager) Topology() *Topology { return mgr.topo }

func (mgr *Manager) Role() Role { return mgr.role }

func (mgr *Manager) Rank() int { return mgr.world.Rank() }

func (mgr *Manager) Logger() *slog.Logger { return mgr.logger }

// Master is nil unless Role is Master.
func (mgr *Manager) Master() *master.Master { return mgr.master }

// Worker is nil unless Role is Worker.
func (mgr *Manager) Worker() *worker.Worker { return mgr.worker }

// Coordinator is nil unless Role is Coordinator.
func (mgr *Manager) Coordinator() *master.Coordinator { return mgr.coordinator }

// Coordinated reports whether group masters answer to a coordinator.
func (mgr *Manager) Coordinated() bool { return mgr.topo.Coordinator }

// Close frees the sub-communicators; the world stays open.
func (mgr *Manager) Close() error {
	var errs []error
	if mgr.group != nil {
		errs = append(errs, mgr.group.Free())
	}
	if mgr.parent != nil {
		errs = append(errs, mgr.parent.Free())
	}

	return errors.Join(errs...)
}
