// Package bus provides the event bus carrying recompute requests and run
// notifications between the API, workers and downstream consumers.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("bus is closed")

// New builds the bus named by cfg.Type: "channel" (the default) or "nats".
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	}
	return nil, fmt.Errorf("unsupported event bus type %q", cfg.Type)
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	return b.Publish(ctx, topic, payload)
}

// Decode unmarshals a message payload into v.
func Decode(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s event: %w", msg.Topic, err)
	}
	return nil
}
