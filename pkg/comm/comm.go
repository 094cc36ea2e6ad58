// Package comm is a small message-passing runtime. A Communicator addresses a
// fixed, ordered group of ranks; messages are matched on (source, tag) and
// delivered in order per sender.
package comm

import (
	"context"
	"errors"
)

const (
	// AnySource matches a message from any rank of the communicator.
	AnySource = -1
	// AnyTag matches any non-reserved tag.
	AnyTag = -1
	// Undefined as a Split color excludes the caller from every new group.
	Undefined = -1
)

// Reserved tags used by collectives. User tags must be non-negative.
const (
	tagBcast = -(iota + 100)
	tagGather
	tagAllgather
	tagBarrier
	tagHandshake
)

var (
	ErrInvalidRank = errors.New("rank out of range")
	ErrInvalidTag  = errors.New("tag must be non-negative")
	ErrClosed      = errors.New("communicator closed")
)

// Status describes a received message.
type Status struct {
	Source int
	Tag    int
}

type Communicator interface {
	// ID identifies the group. Every member of a group sees the same ID.
	ID() string
	Rank() int
	Size() int
	// Send encodes v and delivers it to rank dst. It does not wait for a
	// matching Recv.
	Send(ctx context.Context, dst, tag int, v any) error
	// Recv blocks until a message matching src and tag arrives, decodes it
	// into v and reports its origin. A ctx deadline yields
	// errors.ErrCommunicationTimeout.
	Recv(ctx context.Context, src, tag int, v any) (Status, error)
	// Split is collective over the group. Members passing the same color end
	// up in one new communicator ordered by (key, rank).
	Split(ctx context.Context, color, key int) (Communicator, error)
	// WorldRank maps a rank of this group to its rank in the world.
	WorldRank(rank int) int
	Free() error
}

// Envelope is the unit carried by a Transport.
type Envelope struct {
	Comm    string `cbor:"1,keyasint"`
	Source  int    `cbor:"2,keyasint"`
	Tag     int    `cbor:"3,keyasint"`
	Payload []byte `cbor:"4,keyasint"`
}

// Transport moves envelopes between world ranks.
type Transport interface {
	Deliver(ctx context.Context, dst int, env Envelope) error
	Close() error
}
