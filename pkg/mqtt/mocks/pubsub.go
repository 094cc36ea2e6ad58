package mocks

import (
	"context"
	"sync"

	"github.com/absmach/gradsync/pkg/mqtt"
	"github.com/stretchr/testify/mock"
)

var _ mqtt.PubSub = (*MockPubSub)(nil)

// MockPubSub is a testify mock of mqtt.PubSub.
type MockPubSub struct {
	mock.Mock
}

func (m *MockPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	args := m.Called(ctx, topic, payload)

	return args.Error(0)
}

func (m *MockPubSub) Subscribe(ctx context.Context, topic string, handler mqtt.Handler) error {
	args := m.Called(ctx, topic, handler)

	return args.Error(0)
}

func (m *MockPubSub) Unsubscribe(ctx context.Context, topic string) error {
	args := m.Called(ctx, topic)

	return args.Error(0)
}

func (m *MockPubSub) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// Broker routes publications to the handlers subscribed on exactly the same
// topic. Clients created from one Broker see each other's messages, which is
// enough to run multi-rank tests without a real MQTT server.
type Broker struct {
	mu       sync.RWMutex
	handlers map[string][]mqtt.Handler
}

func NewBroker() *Broker {
	return &Broker{handlers: make(map[string][]mqtt.Handler)}
}

func (b *Broker) Client() mqtt.PubSub {
	return &brokerClient{broker: b}
}

type brokerClient struct {
	broker *Broker
	topics []string
}

func (c *brokerClient) Publish(_ context.Context, topic string, payload []byte) error {
	c.broker.mu.RLock()
	hs := append([]mqtt.Handler(nil), c.broker.handlers[topic]...)
	c.broker.mu.RUnlock()

	for _, h := range hs {
		msg := append([]byte(nil), payload...)
		if err := h(topic, msg); err != nil {
			return err
		}
	}

	return nil
}

func (c *brokerClient) Subscribe(_ context.Context, topic string, handler mqtt.Handler) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	c.broker.handlers[topic] = append(c.broker.handlers[topic], handler)
	c.topics = append(c.topics, topic)

	return nil
}

func (c *brokerClient) Unsubscribe(_ context.Context, topic string) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	delete(c.broker.handlers, topic)

	return nil
}

func (c *brokerClient) Disconnect(ctx context.Context) error {
	for _, t := range c.topics {
		if err := c.Unsubscribe(ctx, t); err != nil {
			return err
		}
	}

	return nil
}
