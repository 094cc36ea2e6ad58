// Package master runs the central side of a training group: it collects
// worker updates, applies the group's Algo and replies with weights.
package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/comm"
	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/weights"
)

const (
	defRoundTimeout = time.Minute
	defMaxTimeouts  = 3
)

type Config struct {
	// RoundTimeout bounds how long a round waits for a worker.
	RoundTimeout time.Duration `env:"ROUND_TIMEOUT" envDefault:"1m"`
	// MaxTimeouts consecutive misses evict a worker.
	MaxTimeouts int `env:"MAX_TIMEOUTS" envDefault:"3"`
}

// RoundResult summarizes the updates folded in one round.
type RoundResult struct {
	Round   uint64
	Updates int
	Batches int
	Samples int
	// Loss is the sum of per-batch losses reported by workers.
	Loss float64
	// Missed lists the group ranks that timed out this round.
	Missed []int
	// Evicted lists the group ranks evicted this round.
	Evicted []int
}

type peer struct {
	strikes  int
	lastSeen time.Time
}

type Master struct {
	group  comm.Communicator
	parent comm.Communicator
	algo   algo.Algo
	model  model.Model
	cfg    Config
	logger *slog.Logger

	round       uint64
	parentRound uint64
	active      map[int]*peer
	evicted     []int
}

// New builds the master of group, which must be rank 0 of that
// communicator. parent links the master to a coordinator and may be nil.
func New(group, parent comm.Communicator, a algo.Algo, m model.Model, cfg Config, logger *slog.Logger) *Master {
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = defRoundTimeout
	}
	if cfg.MaxTimeouts <= 0 {
		cfg.MaxTimeouts = defMaxTimeouts
	}
	active := make(map[int]*peer, group.Size()-1)
	for r := 1; r < group.Size(); r++ {
		active[r] = &peer{}
	}

	return &Master{
		group:  group,
		parent: parent,
		algo:   a,
		model:  m,
		cfg:    cfg,
		logger: logger,
		active: active,
	}
}

func (m *Master) Algo() algo.Algo { return m.algo }

func (m *Master) Model() model.Model { return m.model }

func (m *Master) Round() uint64 { return m.round }

// Active counts workers that were not evicted.
func (m *Master) Active() int { return len(m.active) }

// Evicted returns the world ranks of evicted workers.
func (m *Master) Evicted() []int {
	out := make([]int, len(m.evicted))
	for i, r := range m.evicted {
		out[i] = m.group.WorldRank(r)
	}

	return out
}

func (m *Master) workers() []int {
	ranks := make([]int, 0, len(m.active))
	for r := range m.active {
		ranks = append(ranks, r)
	}
	slices.Sort(ranks)

	return ranks
}

func (m *Master) reply(round uint64, w weights.Weights) algo.Reply {
	return algo.Reply{Round: round, Version: m.algo.State().Version, Weights: w}
}

// Start hands the current weights to every worker.
func (m *Master) Start(ctx context.Context) error {
	m.round = 1
	now := time.Now()
	r := m.reply(m.round, m.model.Weights())
	for _, w := range m.workers() {
		m.active[w].lastSeen = now
		if err := m.group.Send(ctx, w, algo.TagReply, r); err != nil {
			return fmt.Errorf("failed to send initial weights to %d: %w", w, err)
		}
	}

	return nil
}

// Abort tells every worker to stop before any training happened.
func (m *Master) Abort(ctx context.Context) error {
	var errs []error
	for _, w := range m.workers() {
		if err := m.group.Send(ctx, w, algo.TagReply, algo.Reply{Stop: true}); err != nil {
			errs = append(errs, err)
		}
		delete(m.active, w)
	}

	return errors.Join(errs...)
}

// RunRound collects one round of updates. Synchronous algos wait for every
// active worker up to the round timeout; the others fold the next update
// that arrives.
func (m *Master) RunRound(ctx context.Context) (RoundResult, error) {
	if len(m.active) == 0 {
		return RoundResult{Round: m.round}, nil
	}
	if m.algo.Synchronous() {
		return m.syncRound(ctx)
	}

	return m.asyncRound(ctx)
}

func (m *Master) recv(ctx context.Context, deadline time.Time) (algo.Update, error) {
	rctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var u algo.Update
	st, err := m.group.Recv(rctx, comm.AnySource, algo.TagUpdate, &u)
	if err != nil {
		// The parent context expiring is not a straggler.
		if ctx.Err() != nil {
			return algo.Update{}, ctx.Err()
		}

		return algo.Update{}, err
	}
	u.Source = st.Source

	return u, nil
}

func (m *Master) syncRound(ctx context.Context) (RoundResult, error) {
	res := RoundResult{Round: m.round}
	deadline := time.Now().Add(m.cfg.RoundTimeout)
	pending := make(map[int]bool, len(m.active))
	for r := range m.active {
		pending[r] = true
	}

	var updates []algo.Update
	for len(pending) > 0 {
		u, err := m.recv(ctx, deadline)
		if errors.Is(err, pkgerrors.ErrCommunicationTimeout) {
			break
		}
		if err != nil {
			return res, err
		}
		if _, ok := m.active[u.Source]; !ok {
			continue
		}
		if u.Round < m.round {
			// Late update from a round that already closed.
			m.logger.Debug("discarding stale update", slog.Int("worker", u.Source), slog.Uint64("update_round", u.Round), slog.Uint64("round", m.round))
			if err := m.group.Send(ctx, u.Source, algo.TagReply, m.reply(m.round, m.model.Weights())); err != nil {
				return res, err
			}

			continue
		}
		if !pending[u.Source] {
			continue
		}
		delete(pending, u.Source)
		m.active[u.Source].strikes = 0
		updates = append(updates, u)
	}

	for r := range pending {
		m.strike(ctx, r, &res)
	}
	slices.Sort(res.Missed)
	slices.Sort(res.Evicted)

	before := m.model.Weights()
	after, err := m.algo.Aggregate(ctx, before, updates)
	if err != nil {
		return res, err
	}
	if err := m.model.SetWeights(after); err != nil {
		return res, err
	}
	m.round++
	r := m.reply(m.round, m.algo.ReplyWeights(before, after))
	for _, u := range algo.SortBySource(updates) {
		if _, ok := m.active[u.Source]; !ok {
			continue
		}
		if err := m.group.Send(ctx, u.Source, algo.TagReply, r); err != nil {
			return res, err
		}
		res.add(u)
	}

	return res, nil
}

func (m *Master) asyncRound(ctx context.Context) (RoundResult, error) {
	res := RoundResult{Round: m.round}
	deadline := time.Now().Add(m.cfg.RoundTimeout)
	for {
		u, err := m.recv(ctx, deadline)
		if errors.Is(err, pkgerrors.ErrCommunicationTimeout) {
			m.checkSilent(ctx, &res)

			return res, nil
		}
		if err != nil {
			return res, err
		}
		p, ok := m.active[u.Source]
		if !ok {
			continue
		}
		p.strikes = 0
		p.lastSeen = time.Now()

		before := m.model.Weights()
		after, err := m.algo.Aggregate(ctx, before, []algo.Update{u})
		if err != nil {
			return res, err
		}
		if err := m.model.SetWeights(after); err != nil {
			return res, err
		}
		m.round++
		if err := m.group.Send(ctx, u.Source, algo.TagReply, m.reply(m.round, m.algo.ReplyWeights(before, after))); err != nil {
			return res, err
		}
		res.add(u)
		m.checkSilent(ctx, &res)

		return res, nil
	}
}

// checkSilent strikes workers that have not been heard from for a round
// timeout.
func (m *Master) checkSilent(ctx context.Context, res *RoundResult) {
	now := time.Now()
	for _, r := range m.workers() {
		p := m.active[r]
		if now.Sub(p.lastSeen) < m.cfg.RoundTimeout {
			continue
		}
		p.lastSeen = now
		m.strike(ctx, r, res)
	}
}

func (m *Master) strike(ctx context.Context, r int, res *RoundResult) {
	p := m.active[r]
	p.strikes++
	res.Missed = append(res.Missed, r)
	m.logger.Warn("worker missed round",
		slog.Int("worker", m.group.WorldRank(r)),
		slog.Uint64("round", m.round),
		slog.Int("strikes", p.strikes),
		slog.Any("error", pkgerrors.ErrCommunicationTimeout),
	)
	if p.strikes < m.cfg.MaxTimeouts {
		return
	}
	delete(m.active, r)
	m.evicted = append(m.evicted, r)
	res.Evicted = append(res.Evicted, r)
	m.logger.Warn("evicting worker", slog.Int("worker", m.group.WorldRank(r)), slog.Int("remaining", len(m.active)))
	// The worker may be gone; a failed send does not matter.
	sctx, cancel := context.WithTimeout(ctx, m.cfg.RoundTimeout)
	defer cancel()
	if err := m.group.Send(sctx, r, algo.TagReply, algo.Reply{Stop: true}); err != nil {
		m.logger.Debug("failed to notify evicted worker", slog.Int("worker", m.group.WorldRank(r)), slog.Any("error", err))
	}
}

func (res *RoundResult) add(u algo.Update) {
	res.Updates++
	res.Batches += u.Batches
	res.Samples += u.Samples
	res.Loss += u.Loss
}

// Stop answers the next update of every active worker with a stop reply.
// Workers that stay silent past the round timeout are sent one anyway.
func (m *Master) Stop(ctx context.Context) error {
	deadline := time.Now().Add(m.cfg.RoundTimeout)
	for len(m.active) > 0 {
		u, err := m.recv(ctx, deadline)
		if errors.Is(err, pkgerrors.ErrCommunicationTimeout) {
			break
		}
		if err != nil {
			return err
		}
		if _, ok := m.active[u.Source]; !ok {
			continue
		}
		if err := m.group.Send(ctx, u.Source, algo.TagReply, algo.Reply{Round: m.round, Stop: true}); err != nil {
			return err
		}
		delete(m.active, u.Source)
	}

	return m.Abort(ctx)
}

// SyncParent exchanges the group weights with the coordinator. It is a
// no-op without a parent.
func (m *Master) SyncParent(ctx context.Context, loss float64, batches int) error {
	if m.parent == nil {
		return nil
	}
	m.parentRound++
	u := algo.Update{
		Kind:    algo.Weights,
		Round:   m.parentRound,
		Batches: batches,
		Loss:    loss,
		Delta:   m.model.Weights(),
	}
	if err := m.parent.Send(ctx, 0, algo.TagParentUpdate, u); err != nil {
		return fmt.Errorf("failed to send weights to coordinator: %w", err)
	}
	var r algo.Reply
	if _, err := m.parent.Recv(ctx, 0, algo.TagParentReply, &r); err != nil {
		return fmt.Errorf("failed to receive weights from coordinator: %w", err)
	}

	return m.model.SetWeights(r.Weights)
}

// LeaveParent tells the coordinator this group is done and reports its best
// metric.
func (m *Master) LeaveParent(ctx context.Context, metric float64) error {
	if m.parent == nil {
		return nil
	}
	u := algo.Update{Kind: algo.Weights, Round: m.parentRound, Loss: metric, Delta: m.model.Weights(), Done: true}

	return m.parent.Send(ctx, 0, algo.TagParentUpdate, u)
}
