package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// envelope wraps a decision event payload for delivery on topic.
func envelope(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}
}

// dispatch runs handler on msg. Handler errors are logged; the subscription
// keeps receiving.
func dispatch(ctx context.Context, handler domain.MessageHandler, msg *domain.Message) {
	if err := handler(ctx, msg); err != nil {
		slog.Error("event handler failed",
			"topic", msg.Topic,
			"message_id", msg.ID,
			"error", err,
		)
	}
}
