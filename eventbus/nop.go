package eventbus

import "context"

// NopBus swallows every emit and subscription. Forked build contexts use
// it to suppress events while seeding or probing a configuration.
type NopBus struct{}

// NewNopBus returns the silent bus.
func NewNopBus() NopBus { return NopBus{} }

// Emit discards the event.
func (NopBus) Emit(context.Context, Event) error { return nil }

// Subscribe registers nothing and returns a no-op cancel.
func (NopBus) Subscribe(string, Handler, ...SubscribeOption) (func(), error) {
	return func() {}, nil
}
