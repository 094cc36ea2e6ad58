package comm

import (
	"context"
	"fmt"
)

type localTransport struct {
	boxes []*mailbox
}

func (t *localTransport) Deliver(ctx context.Context, dst int, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dst < 0 || dst >= len(t.boxes) {
		return fmt.Errorf("%w: %d", ErrInvalidRank, dst)
	}
	t.boxes[dst].put(env)

	return nil
}

func (t *localTransport) Close() error {
	return nil
}

// NewLocalWorld connects size ranks living in the same process. Element i of
// the result is the world communicator of rank i; each is meant to be driven
// by its own goroutine.
func NewLocalWorld(size int) ([]Communicator, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: world size %d", ErrInvalidRank, size)
	}
	t := &localTransport{boxes: make([]*mailbox, size)}
	for i := range t.boxes {
		t.boxes[i] = newMailbox()
	}

	out := make([]Communicator, size)
	for i := range out {
		out[i] = newWorld(&endpoint{rank: i, size: size, transport: t, box: t.boxes[i]})
	}

	return out, nil
}
