// Package events provides a simple event bus for record lifecycle events.
// The manager publishes "<type>.created" and "<type>.updated" after
// every successful write.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Event represents a published event.
type Event struct {
	// Name is the event name (e.g., "user.created", "user.updated").
	Name string

	// Type is the record type that emitted the event.
	Type string

	// Action is the operation that triggered the event (create, update, patch).
	Action string

	// RecordID is the identity of the written record.
	RecordID string

	// Data is the serialized record. Secret fields are never present.
	Data map[string]any
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event pattern:
//   - "user.created" - exact match
//   - "user.*" - all user events
//   - "*" - all events
func (b *Bus) Subscribe(pattern string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[pattern] = append(b.handlers[pattern], handler)
}

// Publish delivers an event to every matching handler.
// Handlers are called synchronously: exact subscribers first, then
// type wildcards, then global wildcards, each in registration order.
// Handler errors are logged and do not stop delivery.
func (b *Bus) Publish(ctx context.Context, event Event) {
	matched := b.match(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("record_id", event.RecordID).
		Int("handlers", len(matched)).
		Msg("event emitted")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Msg("event handler error")
		}
	}
}

// HasSubscribers reports whether any handler would receive the event.
// Publishers use it to skip building unobserved payloads.
func (b *Bus) HasSubscribers(name string) bool {
	return len(b.match(name)) > 0
}

// match collects handlers under the read lock so handlers may
// subscribe while being called.
func (b *Bus) match(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Handler
	matched = append(matched, b.handlers[name]...)
	if typeName, _, ok := strings.Cut(name, "."); ok && typeName != "" {
		matched = append(matched, b.handlers[typeName+".*"]...)
	}
	if name != "*" {
		matched = append(matched, b.handlers["*"]...)
	}
	return matched
}
