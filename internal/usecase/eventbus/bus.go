// Package eventbus is the in-process pub/sub channel for marketplace events.
// It decouples the coordinator from side collaborators (webhook notifier,
// tests) without touching the wire-level subscription index.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"agora/internal/domain"
)

type subscriber struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is a goroutine-safe event bus. Handlers run in their own goroutines;
// a panicking handler is recovered and logged, never crashing the publisher.
type Bus struct {
	mu     sync.RWMutex
	typed  map[domain.EventType][]subscriber
	all    []subscriber
	nextID atomic.Uint64
	wg     sync.WaitGroup
	closed atomic.Bool
	logger *slog.Logger
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]subscriber),
		logger: logger,
	}
}

// Publish fans out event to typed and catch-all subscribers. Publishing on a
// closed bus is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	subs := make([]subscriber, 0, len(b.typed[event.Type])+len(b.all))
	subs = append(subs, b.typed[event.Type]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.wg.Add(1)
		go func(s subscriber) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						"event", string(event.Type),
						"panic", r,
					)
				}
			}()
			s.handler(ctx, event)
		}(s)
	}
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	s := subscriber{id: b.nextID.Add(1), handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], s)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = drop(b.typed[eventType], s.id)
	}
}

// SubscribeAll registers a handler for every event and returns its
// unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	s := subscriber{id: b.nextID.Add(1), handler: handler}

	b.mu.Lock()
	b.all = append(b.all, s)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = drop(b.all, s.id)
	}
}

// Close stops accepting publishes and waits for in-flight handlers.
// Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

func drop(subs []subscriber, id uint64) []subscriber {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
