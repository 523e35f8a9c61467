package pushchannel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/events"
	"github.com/google/uuid"
)

// Subscription is an open transport subscription. *nats.Subscription
// satisfies it.
type Subscription interface {
	Unsubscribe() error
}

// Transport opens one subscription per topic.
type Transport interface {
	Listen(ctx context.Context, topic string, handler events.HandlerFunc) (Subscription, error)
}

type TransportFunc func(ctx context.Context, topic string, handler events.HandlerFunc) (Subscription, error)

func (f TransportFunc) Listen(ctx context.Context, topic string, handler events.HandlerFunc) (Subscription, error) {
	return f(ctx, topic, handler)
}

type subscriber struct {
	id      string
	handler events.HandlerFunc
}

type topicState struct {
	sub         Subscription
	subscribers []subscriber
}

// Channel shares one transport subscription per topic among any number of
// subscribers. The transport subscription is opened by the first subscriber
// and closed when the last one leaves.
type Channel struct {
	transport Transport
	logger    aqm.Logger

	mu     sync.RWMutex
	topics map[string]*topicState
}

func New(transport Transport, logger aqm.Logger) *Channel {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Channel{
		transport: transport,
		logger:    logger.With("component", "push-channel"),
		topics:    make(map[string]*topicState),
	}
}

// Subscribe registers handler for topic and returns the function that
// removes it. Calling the returned function more than once is a no-op.
func (c *Channel) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) (func() error, error) {
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.topics[topic]
	if !ok {
		// the transport subscription outlives the first subscriber's request
		sub, err := c.transport.Listen(context.WithoutCancel(ctx), topic, c.dispatcher(topic))
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", topic, err)
		}
		state = &topicState{sub: sub}
		c.topics[topic] = state
		c.logger.Info("topic opened", "topic", topic)
	}
	state.subscribers = append(state.subscribers, subscriber{id: id, handler: handler})
	c.logger.Debug("subscriber added", "topic", topic, "subscriber_id", id, "refs", len(state.subscribers))

	var once sync.Once
	var unsubErr error
	return func() error {
		once.Do(func() {
			unsubErr = c.remove(topic, id)
		})
		return unsubErr
	}, nil
}

func (c *Channel) remove(topic, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.topics[topic]
	if !ok {
		return nil
	}
	for i, s := range state.subscribers {
		if s.id == id {
			state.subscribers = append(state.subscribers[:i], state.subscribers[i+1:]...)
			break
		}
	}
	if len(state.subscribers) > 0 {
		return nil
	}

	delete(c.topics, topic)
	c.logger.Info("topic closed", "topic", topic)
	if state.sub == nil {
		return nil
	}
	if err := state.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
	}
	return nil
}

func (c *Channel) dispatcher(topic string) events.HandlerFunc {
	return func(ctx context.Context, data []byte) error {
		c.mu.RLock()
		state, ok := c.topics[topic]
		var targets []subscriber
		if ok {
			targets = append(targets, state.subscribers...)
		}
		c.mu.RUnlock()

		var errs []error
		for _, s := range targets {
			if err := s.handler(ctx, data); err != nil {
				c.logger.Error("subscriber handler failed", "topic", topic, "subscriber_id", s.id, "error", err)
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// Refs returns the number of subscribers on topic.
func (c *Channel) Refs(topic string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if state, ok := c.topics[topic]; ok {
		return len(state.subscribers)
	}
	return 0
}

// Close drops every subscriber and closes all transport subscriptions.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for topic, state := range c.topics {
		if state.sub != nil {
			if err := state.sub.Unsubscribe(); err != nil {
				errs = append(errs, fmt.Errorf("failed to unsubscribe from %s: %w", topic, err))
			}
		}
		delete(c.topics, topic)
	}
	return errors.Join(errs...)
}
