package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// NATSBus publishes decision events as JSON envelopes on NATS subjects named
// after the topic. Used as the Pro tier event bus.
type NATSBus struct {
	conn *nats.Conn
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
}

// NewNATSBus dials cfg.NATSUrl, retrying the initial connection
// NATSMaxReconnects times before giving up.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("event bus disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("event bus reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var (
		conn *nats.Conn
		err  error
	)
	for i := 1; i <= attempts; i++ {
		if conn, err = nats.Connect(url, opts...); err == nil {
			break
		}
		slog.Warn("event bus connect failed", "attempt", i, "url", url, "error", err)
		if i < attempts {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}

	slog.Info("event bus connected", "type", "nats", "url", conn.ConnectedUrl())
	return &NATSBus{conn: conn}, nil
}

// Publish sends payload on the topic subject.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(envelope(topic, payload))
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	return b.conn.Publish(topic, data)
}

// Subscribe runs handler for each envelope received on the topic subject.
// Undecodable messages are logged and skipped.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	sub, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("dropping undecodable event", "subject", m.Subject, "error", err)
			return
		}
		dispatch(ctx, handler, &msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &natsSubscription{topic: topic, sub: sub}, nil
}

// Ping flushes the connection to confirm the server is reachable.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errors.New("nats: not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close closes the connection, ending every subscription.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
