package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "bknd.events."

// NATSBus publishes engine events over NATS so external processes can
// observe configuration changes. Delivery is at-most-once; the engine's
// own rebuild path never depends on bus delivery.
type NATSBus struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewNATSBus wraps an existing connection.
func NewNATSBus(nc *nats.Conn, logger *slog.Logger) *NATSBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBus{nc: nc, logger: logger.With("component", "eventbus")}
}

// Emit publishes the event to bknd.events.<type>.
func (b *NATSBus) Emit(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(subjectFor(ev.Type), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe registers a NATS subscription for the event type. Handlers
// always run on the NATS delivery goroutine, so the mode option has no
// effect here.
func (b *NATSBus) Subscribe(eventType string, h Handler, _ ...SubscribeOption) (func(), error) {
	sub, err := b.nc.Subscribe(subjectFor(eventType), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Error("malformed event payload", "subject", msg.Subject, "error", err)
			return
		}
		if err := h(context.Background(), ev); err != nil {
			b.logger.Error("event handler failed",
				"event_type", ev.Type,
				"event_id", ev.ID,
				"error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", eventType, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func subjectFor(eventType string) string {
	if eventType == TypeWildcard {
		return subjectPrefix + ">"
	}
	return subjectPrefix + eventType
}
