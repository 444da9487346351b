package bus

import (
	"context"
	"sync"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/pkg/errors"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
)

// MemoryBus is an in-memory event bus using Go channels. It is used in tests
// and in single-process deployments without a broker.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions []subscription
	closed        bool
	log           *logger.Logger
	inflightWg    sync.WaitGroup // Tracks in-flight handlers for graceful shutdown
}

type subscription struct {
	pattern string
	handler Handler
}

// NewMemoryBus creates a new in-memory event bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{log: log}
}

// Publish delivers an event to every subscriber whose pattern matches the
// routing key. Publishing with no matching subscriber is not an error.
func (b *MemoryBus) Publish(ctx context.Context, routingKey string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	// Fan out to all matching handlers with in-flight tracking
	for _, sub := range b.subscriptions {
		if !MatchPattern(sub.pattern, routingKey) {
			continue
		}

		b.inflightWg.Add(1)
		go func(h Handler) {
			defer b.inflightWg.Done()
			if err := h(ctx, event); err != nil {
				// Handler errors never fail the publish
				b.log.Warn("handler error",
					"routing_key", routingKey,
					"error", err.Error(),
				)
			}
		}(sub.handler)
	}

	return nil
}

// Subscribe registers a handler for routing keys matching the pattern.
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	b.subscriptions = append(b.subscriptions, subscription{pattern: pattern, handler: handler})
	return nil
}

// Close closes the bus, waiting for in-flight handlers to complete.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	if !b.DrainTimeout(10 * time.Second) {
		b.log.Warn("bus: event drain timeout reached, some handlers may not have completed")
	}

	b.mu.Lock()
	b.subscriptions = nil
	b.mu.Unlock()

	return nil
}

// DrainTimeout waits for in-flight handlers to complete with custom timeout.
func (b *MemoryBus) DrainTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.inflightWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
