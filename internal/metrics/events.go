package metrics

import (
	"context"

	"github.com/chongkelv123/prism-sub004/internal/bus"
)

// verificationResult is the subset of the test-completed payload the
// subscriber needs.
type verificationResult struct {
	Result struct {
		Success bool `json:"success"`
	} `json:"result"`
}

// EventSubscriber observes bus traffic and updates metrics. It consumes a
// wildcard subscription so every delivered event is counted, and derives
// domain counters from the service's own completion events.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus
}

// NewEventSubscriber creates a new event subscriber.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus) *EventSubscriber {
	return &EventSubscriber{
		metrics: metrics,
		bus:     eventBus,
	}
}

// SubscribeToEvents registers the metric-updating handlers.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	if err := es.bus.Subscribe(ctx, "#", es.handleAny); err != nil {
		return err
	}
	if err := es.bus.Subscribe(ctx, bus.KeyConnectionTestCompleted, es.handleTestCompleted); err != nil {
		return err
	}
	return es.bus.Subscribe(ctx, bus.KeyReportDataReady, es.handleReportReady)
}

func (es *EventSubscriber) handleAny(ctx context.Context, event bus.Event) error {
	es.metrics.EventsConsumed.WithLabels(event.Key).Inc()
	return nil
}

func (es *EventSubscriber) handleTestCompleted(ctx context.Context, event bus.Event) error {
	var payload verificationResult
	if err := event.DecodePayload(&payload); err != nil {
		return nil // counted under EventsConsumed; shape mismatch is not an error here
	}
	outcome := "failure"
	if payload.Result.Success {
		outcome = "success"
	}
	es.metrics.VerificationsTotal.WithLabels(outcome).Inc()
	return nil
}

func (es *EventSubscriber) handleReportReady(ctx context.Context, event bus.Event) error {
	es.metrics.ReportsAssembled.Inc()
	return nil
}

// InstrumentedBus decorates a Bus so every publish is counted before it
// reaches the broker.
type InstrumentedBus struct {
	bus.Bus
	metrics *Metrics
}

// NewInstrumentedBus wraps inner with publish counting.
func NewInstrumentedBus(inner bus.Bus, metrics *Metrics) *InstrumentedBus {
	return &InstrumentedBus{Bus: inner, metrics: metrics}
}

func (b *InstrumentedBus) Publish(ctx context.Context, routingKey string, event bus.Event) error {
	b.metrics.EventsPublished.WithLabels(routingKey).Inc()
	return b.Bus.Publish(ctx, routingKey, event)
}
