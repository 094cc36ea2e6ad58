package comm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func pendingFor(box *mailbox, id string) int {
	box.mu.Lock()
	defer box.mu.Unlock()

	n := 0
	for _, env := range box.pending {
		if env.Comm == id {
			n++
		}
	}

	return n
}

func TestFreeDiscardsPending(t *testing.T) {
	world, err := NewLocalWorld(2)
	require.NoError(t, err)
	defer func() {
		for _, c := range world {
			c.Free()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subs := make([]Communicator, len(world))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range world {
		g.Go(func() error {
			sub, err := c.Split(gctx, 0, i)
			subs[i] = sub

			return err
		})
	}
	require.NoError(t, g.Wait())
	defer subs[1].Free()

	id := subs[0].ID()
	box := world[0].(*group).ep.box
	require.NoError(t, subs[1].Send(ctx, 0, 7, 1.5))
	require.NoError(t, subs[1].Send(ctx, 0, 7, 2.5))
	assert.Equal(t, 2, pendingFor(box, id))

	require.NoError(t, subs[0].Free())
	assert.Equal(t, 0, pendingFor(box, id))

	require.NoError(t, subs[1].Send(ctx, 0, 7, 3.5))
	assert.Equal(t, 0, pendingFor(box, id), "late traffic for a freed communicator is dropped")

	require.NoError(t, world[1].Send(ctx, 0, 7, 4.5))
	var v float64
	_, err = world[0].Recv(ctx, 1, 7, &v)
	require.NoError(t, err)
	assert.Equal(t, 4.5, v)
}
