package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// MemoryBus dispatches events to in-process subscribers. Synchronous
// handler errors abort the emit and surface to the caller; asynchronous
// handlers run in their own goroutine and log failures.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*subscription
	logger *slog.Logger
	wg     sync.WaitGroup
}

type subscription struct {
	handler Handler
	mode    Mode
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		subs:   make(map[string]map[string]*subscription),
		logger: logger.With("component", "eventbus"),
	}
}

// Subscribe registers a handler for one event type or the wildcard.
func (b *MemoryBus) Subscribe(eventType string, h Handler, opts ...SubscribeOption) (func(), error) {
	options := subscribeOptions{mode: ModeAsync}
	for _, opt := range opts {
		opt(&options)
	}
	if options.id == "" {
		options.id = uuid.NewString()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	byID, ok := b.subs[eventType]
	if !ok {
		byID = make(map[string]*subscription)
		b.subs[eventType] = byID
	}
	byID[options.id] = &subscription{handler: h, mode: options.mode}

	id := options.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[eventType], id)
	}, nil
}

// Emit dispatches the event to subscribers of its type and the wildcard.
func (b *MemoryBus) Emit(ctx context.Context, ev Event) error {
	b.mu.RLock()
	matched := make([]*subscription, 0, 4)
	for _, sub := range b.subs[ev.Type] {
		matched = append(matched, sub)
	}
	for _, sub := range b.subs[TypeWildcard] {
		matched = append(matched, sub)
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		if sub.mode == ModeSync {
			if err := sub.handler(ctx, ev); err != nil {
				return err
			}
			continue
		}
		b.wg.Add(1)
		go func(sub *subscription) {
			defer b.wg.Done()
			if err := sub.handler(context.WithoutCancel(ctx), ev); err != nil {
				b.logger.Error("async event handler failed",
					"event_type", ev.Type,
					"event_id", ev.ID,
					"error", err)
			}
		}(sub)
	}
	return nil
}

// Drain blocks until every in-flight asynchronous handler has returned.
func (b *MemoryBus) Drain() { b.wg.Wait() }
