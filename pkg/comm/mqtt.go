package comm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/mqtt"
)

const (
	rankTopicTemplate = "%s/rank/%d"
	handshakeInterval = time.Second
)

type mqttTransport struct {
	pubsub mqtt.PubSub
	prefix string
	rank   int
}

func (t *mqttTransport) topic(rank int) string {
	return fmt.Sprintf(rankTopicTemplate, t.prefix, rank)
}

func (t *mqttTransport) Deliver(ctx context.Context, dst int, env Envelope) error {
	data, err := Marshal(env)
	if err != nil {
		return err
	}

	return t.pubsub.Publish(ctx, t.topic(dst), data)
}

func (t *mqttTransport) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeInterval)
	defer cancel()

	return t.pubsub.Unsubscribe(ctx, t.topic(t.rank))
}

// NewMQTTWorld joins a world of size ranks whose messages travel over the
// broker behind pubsub. Every rank listens on "<prefix>/rank/<rank>". The
// call returns once all ranks are subscribed, so no message sent afterwards
// is lost to a late subscriber.
func NewMQTTWorld(ctx context.Context, pubsub mqtt.PubSub, prefix string, rank, size int, logger *slog.Logger) (Communicator, error) {
	if size < 1 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrInvalidRank, rank, size)
	}
	t := &mqttTransport{pubsub: pubsub, prefix: prefix, rank: rank}
	ep := &endpoint{rank: rank, size: size, transport: t, box: newMailbox()}

	handler := func(topic string, payload []byte) error {
		var env Envelope
		if err := Unmarshal(payload, &env); err != nil {
			return fmt.Errorf("failed to decode envelope on %s: %w", topic, err)
		}
		ep.box.put(env)

		return nil
	}
	if err := pubsub.Subscribe(ctx, t.topic(rank), handler); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.topic(rank), err)
	}

	w := newWorld(ep)
	if err := handshake(ctx, w); err != nil {
		return nil, errors.Join(err, w.Free())
	}
	logger.Info("joined MQTT world", slog.Int("rank", rank), slog.Int("size", size), slog.String("prefix", prefix))

	return w, nil
}

// handshake has every rank announce itself to rank 0 until rank 0 has heard
// from all of them and answered.
func handshake(ctx context.Context, g *group) error {
	if g.Size() == 1 {
		return nil
	}
	if g.Rank() != 0 {
		for {
			if err := g.send(ctx, 0, tagHandshake, g.Rank()); err != nil {
				return err
			}
			rctx, cancel := context.WithTimeout(ctx, handshakeInterval)
			_, err := g.recv(rctx, 0, tagHandshake, nil)
			cancel()
			switch {
			case err == nil:
				return nil
			case errors.Is(err, pkgerrors.ErrCommunicationTimeout) && ctx.Err() == nil:
				continue
			default:
				return err
			}
		}
	}

	seen := make(map[int]bool, g.Size()-1)
	for len(seen) < g.Size()-1 {
		var r int
		if _, err := g.recv(ctx, AnySource, tagHandshake, &r); err != nil {
			return err
		}
		seen[r] = true
	}
	for r := 1; r < g.Size(); r++ {
		if err := g.send(ctx, r, tagHandshake, true); err != nil {
			return err
		}
	}

	return nil
}
