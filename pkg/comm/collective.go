package comm

import (
	"context"
	"errors"
	"fmt"
)

var errNotCollective = errors.New("communicator does not support collectives")

type collective interface {
	Communicator
	send(ctx context.Context, dst, tag int, v any) error
	recv(ctx context.Context, src, tag int, v any) (Status, error)
}

func asCollective(c Communicator) (collective, error) {
	cc, ok := c.(collective)
	if !ok {
		return nil, errNotCollective
	}

	return cc, nil
}

// Bcast copies *v from root to every other rank of c.
func Bcast[T any](ctx context.Context, c Communicator, root int, v *T) error {
	cc, err := asCollective(c)
	if err != nil {
		return err
	}
	if cc.Rank() != root {
		_, err := cc.recv(ctx, root, tagBcast, v)

		return err
	}
	for r := range cc.Size() {
		if r == root {
			continue
		}
		if err := cc.send(ctx, r, tagBcast, *v); err != nil {
			return fmt.Errorf("bcast to %d: %w", r, err)
		}
	}

	return nil
}

// Gather collects v from every rank at root, indexed by rank. Non-root ranks
// get a nil slice.
func Gather[T any](ctx context.Context, c Communicator, root int, v T) ([]T, error) {
	cc, err := asCollective(c)
	if err != nil {
		return nil, err
	}
	if cc.Rank() != root {
		return nil, cc.send(ctx, root, tagGather, v)
	}
	out := make([]T, cc.Size())
	out[root] = v
	for r := range cc.Size() {
		if r == root {
			continue
		}
		if _, err := cc.recv(ctx, r, tagGather, &out[r]); err != nil {
			return nil, fmt.Errorf("gather from %d: %w", r, err)
		}
	}

	return out, nil
}

// Allgather is Gather at rank 0 followed by Bcast of the result.
func Allgather[T any](ctx context.Context, c Communicator, v T) ([]T, error) {
	out, err := Gather(ctx, c, 0, v)
	if err != nil {
		return nil, err
	}
	if err := Bcast(ctx, c, 0, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// Barrier returns once every rank of c has entered it.
func Barrier(ctx context.Context, c Communicator) error {
	cc, err := asCollective(c)
	if err != nil {
		return err
	}
	if cc.Rank() != 0 {
		if err := cc.send(ctx, 0, tagBarrier, true); err != nil {
			return err
		}
		_, err := cc.recv(ctx, 0, tagBarrier, nil)

		return err
	}
	for r := 1; r < cc.Size(); r++ {
		if _, err := cc.recv(ctx, r, tagBarrier, nil); err != nil {
			return fmt.Errorf("barrier wait on %d: %w", r, err)
		}
	}
	for r := 1; r < cc.Size(); r++ {
		if err := cc.send(ctx, r, tagBarrier, true); err != nil {
			return err
		}
	}

	return nil
}
