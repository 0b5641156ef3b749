// Package eventbus carries the engine's lifecycle events. The engine emits
// an event for every configuration change, secret extraction, and boot;
// listeners subscribe by event type in synchronous or asynchronous mode.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the configuration engine.
const (
	EventConfigUpdate     = "config.update"
	EventSecretsExtracted = "config.secrets.extracted"
	EventBoot             = "system.boot"
	EventFirstBoot        = "system.first-boot"
)

// TypeWildcard subscribes a handler to every event type.
const TypeWildcard = "*"

// Event is one emitted lifecycle event.
type Event struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(eventType string, data map[string]any) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: data,
	}
}

// Handler processes one event. Errors from synchronous handlers are
// reported to the emitter; asynchronous handler errors are logged.
type Handler func(ctx context.Context, ev Event) error

// Mode selects how a subscription's handler is invoked.
type Mode int

const (
	// ModeAsync runs the handler in its own goroutine. Default.
	ModeAsync Mode = iota
	// ModeSync runs the handler inline during Emit.
	ModeSync
)

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	mode Mode
	id   string
}

// WithMode sets the dispatch mode of the subscription.
func WithMode(m Mode) SubscribeOption {
	return func(o *subscribeOptions) { o.mode = m }
}

// WithID names the subscription so it can be replaced or unsubscribed by
// a stable identifier instead of the returned cancel func.
func WithID(id string) SubscribeOption {
	return func(o *subscribeOptions) { o.id = id }
}

// Bus is the event transport. Emit must be safe to call from handlers.
type Bus interface {
	// Emit publishes an event to every matching subscription.
	Emit(ctx context.Context, ev Event) error

	// Subscribe registers a handler for an event type. The returned func
	// cancels the subscription.
	Subscribe(eventType string, h Handler, opts ...SubscribeOption) (func(), error)
}
