// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// ChannelBus implements EventBus using Go channels.
// Used as the Community tier event bus.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish delivers a message to every subscriber of topic without blocking.
// A subscriber whose buffer is full misses the message.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg := envelope(topic, payload)
	for _, sub := range b.subscriptions[topic] {
		select {
		case sub.msgCh <- msg:
		default:
			slog.Warn("subscriber buffer full, message dropped",
				"topic", topic,
				"message_id", msg.ID,
				"subscription_id", sub.id,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a topic. The handler runs on its own
// goroutine until ctx is cancelled or the subscription is removed.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	go sub.run()

	b.subscriptions[topic] = append(b.subscriptions[topic], sub)
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			dispatch(s.ctx, s.handler, msg)
		}
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subscriptions[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
