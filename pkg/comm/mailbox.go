package comm

import (
	"context"
	"slices"
	"sync"
)

// mailbox buffers envelopes received by one world rank until a matching Recv
// takes them. Matching is first-in-first-out among candidates, which keeps
// the per-sender order.
type mailbox struct {
	mu      sync.Mutex
	pending []Envelope
	// freed holds the IDs of communicators this rank released; their
	// traffic is dropped.
	freed  map[string]struct{}
	wake   chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}), freed: make(map[string]struct{})}
}

func (m *mailbox) put(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if _, ok := m.freed[env.Comm]; ok {
		return
	}
	m.pending = append(m.pending, env)
	close(m.wake)
	m.wake = make(chan struct{})
}

func (m *mailbox) take(ctx context.Context, match func(Envelope) bool) (Envelope, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()

			return Envelope{}, ErrClosed
		}
		for i, env := range m.pending {
			if match(env) {
				m.pending = append(m.pending[:i], m.pending[i+1:]...)
				m.mu.Unlock()

				return env, nil
			}
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-wake:
		}
	}
}

// discard drops the envelopes of communicator id, now and when they arrive
// later.
func (m *mailbox) discard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.freed[id] = struct{}{}
	m.pending = slices.DeleteFunc(m.pending, func(env Envelope) bool {
		return env.Comm == id
	})
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.pending = nil
	close(m.wake)
}
