package comm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	pkgerrors "github.com/absmach/gradsync/pkg/errors"
)

const worldID = "world"

// endpoint is the per-process attachment to a transport.
type endpoint struct {
	rank      int
	size      int
	transport Transport
	box       *mailbox
	refs      atomic.Int32
}

func (ep *endpoint) release() error {
	if ep.refs.Add(-1) > 0 {
		return nil
	}
	ep.box.close()

	return ep.transport.Close()
}

type group struct {
	ep     *endpoint
	id     string
	ranks  []int
	rank   int
	index  map[int]int
	splits atomic.Int64
	freed  atomic.Bool
}

func newWorld(ep *endpoint) *group {
	ranks := make([]int, ep.size)
	for i := range ranks {
		ranks[i] = i
	}
	ep.refs.Add(1)

	return newGroup(ep, worldID, ranks)
}

func newGroup(ep *endpoint, id string, ranks []int) *group {
	g := &group{ep: ep, id: id, ranks: ranks, index: make(map[int]int, len(ranks)), rank: -1}
	for i, r := range ranks {
		g.index[r] = i
		if r == ep.rank {
			g.rank = i
		}
	}

	return g
}

func (g *group) ID() string { return g.id }

func (g *group) Rank() int { return g.rank }

func (g *group) Size() int { return len(g.ranks) }

func (g *group) WorldRank(rank int) int {
	if rank < 0 || rank >= len(g.ranks) {
		return -1
	}

	return g.ranks[rank]
}

func (g *group) Send(ctx context.Context, dst, tag int, v any) error {
	if tag < 0 {
		return ErrInvalidTag
	}

	return g.send(ctx, dst, tag, v)
}

func (g *group) Recv(ctx context.Context, src, tag int, v any) (Status, error) {
	if tag < 0 && tag != AnyTag {
		return Status{}, ErrInvalidTag
	}

	return g.recv(ctx, src, tag, v)
}

func (g *group) send(ctx context.Context, dst, tag int, v any) error {
	if g.freed.Load() {
		return ErrClosed
	}
	if dst < 0 || dst >= len(g.ranks) {
		return fmt.Errorf("%w: send to %d in group of %d", ErrInvalidRank, dst, len(g.ranks))
	}
	payload, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	env := Envelope{Comm: g.id, Source: g.ep.rank, Tag: tag, Payload: payload}

	return g.ep.transport.Deliver(ctx, g.ranks[dst], env)
}

func (g *group) recv(ctx context.Context, src, tag int, v any) (Status, error) {
	if g.freed.Load() {
		return Status{}, ErrClosed
	}
	if src != AnySource && (src < 0 || src >= len(g.ranks)) {
		return Status{}, fmt.Errorf("%w: receive from %d in group of %d", ErrInvalidRank, src, len(g.ranks))
	}
	env, err := g.ep.box.take(ctx, func(e Envelope) bool {
		if e.Comm != g.id {
			return false
		}
		switch {
		case tag == AnyTag && e.Tag < 0:
			return false
		case tag != AnyTag && e.Tag != tag:
			return false
		}
		if src == AnySource {
			_, ok := g.index[e.Source]

			return ok
		}

		return e.Source == g.ranks[src]
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Status{}, fmt.Errorf("%w: rank %d waiting on source %d tag %d in %s", pkgerrors.ErrCommunicationTimeout, g.rank, src, tag, g.id)
		}

		return Status{}, err
	}
	if err := Unmarshal(env.Payload, v); err != nil {
		return Status{}, fmt.Errorf("failed to decode message from %d: %w", env.Source, err)
	}

	return Status{Source: g.index[env.Source], Tag: env.Tag}, nil
}

type splitKey struct {
	Color int `cbor:"1,keyasint"`
	Key   int `cbor:"2,keyasint"`
}

func (g *group) Split(ctx context.Context, color, key int) (Communicator, error) {
	seq := g.splits.Add(1)
	all, err := Allgather(ctx, g, splitKey{Color: color, Key: key})
	if err != nil {
		return nil, fmt.Errorf("failed to exchange split colors: %w", err)
	}
	if color == Undefined {
		return nil, nil
	}

	members := make([]int, 0, len(all))
	for r, k := range all {
		if k.Color == color {
			members = append(members, r)
		}
	}
	slices.SortStableFunc(members, func(a, b int) int {
		return cmp.Or(cmp.Compare(all[a].Key, all[b].Key), cmp.Compare(a, b))
	})
	ranks := make([]int, len(members))
	for i, r := range members {
		ranks[i] = g.ranks[r]
	}
	g.ep.refs.Add(1)

	return newGroup(g.ep, fmt.Sprintf("%s.%d/%d", g.id, seq, color), ranks), nil
}

func (g *group) Free() error {
	if g.freed.Swap(true) {
		return nil
	}
	if g.id != worldID {
		g.ep.box.discard(g.id)
	}

	return g.ep.release()
}
