// Package bus provides event bus implementations for inter-service communication.
package bus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/pkg/errors"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
//
// Delivery is at-least-once: handlers must be idempotent. Publish is
// fire-and-forget with respect to delivery confirmation; a returned error
// means the event was dropped, never that it is being retried.
type Bus interface {
	// Publish publishes an event under a routing key.
	Publish(ctx context.Context, routingKey string, event Event) error

	// Subscribe registers a handler for events whose routing key matches the
	// pattern. Patterns use dot-delimited segments with "*" matching exactly
	// one segment and "#" matching zero or more.
	Subscribe(ctx context.Context, pattern string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event is a unit of work flowing through the bus.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Key is the dot-delimited routing key (e.g. "connection.test.requested").
	Key string `json:"key"`

	// Source is the service that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (unix seconds).
	Timestamp int64 `json:"timestamp"`

	// Payload contains the event data. It is opaque to the bus and
	// interpreted only by handlers.
	Payload json.RawMessage `json:"payload"`
}

// Routing keys for the platform integration pipeline.
const (
	// Consumed by this service.
	KeyConnectionTestRequested = "connection.test.requested"
	KeyConnectionSyncRequested = "connection.sync.requested"
	KeyReportDataRequested     = "report.data.requested"

	// Produced by this service.
	KeyConnectionTestCompleted = "connection.test.completed"
	KeyReportDataReady         = "report.data.ready"
)

// NewEvent creates an event with a marshaled payload and generated ID.
func NewEvent(key, source string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrap(errors.CodeInternal, "failed to marshal event payload", err)
	}

	return Event{
		ID:        newEventID(),
		Key:       key,
		Source:    source,
		Timestamp: time.Now().Unix(),
		Payload:   data,
	}, nil
}

// DecodePayload unmarshals the event payload into v.
func (e Event) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.MalformedEventError("failed to decode event payload", err)
	}
	return nil
}

func newEventID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "evt_" + hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return "evt_" + hex.EncodeToString(b[:])
}

// MatchPattern reports whether a routing key matches a binding pattern.
// Patterns follow topic-exchange semantics over dot-delimited segments:
// "*" matches exactly one segment, "#" matches zero or more segments.
func MatchPattern(pattern, key string) bool {
	return matchSegments(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchSegments(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	switch pattern[0] {
	case "#":
		// "#" absorbs zero or more segments
		for i := 0; i <= len(key); i++ {
			if matchSegments(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchSegments(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchSegments(pattern[1:], key[1:])
	}
}
