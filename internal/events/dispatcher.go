// Package events wires bus subscriptions to the connection, verification
// and report services. Handlers are safe to re-run: redelivered events
// converge on the same stored state.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/bus"
	"github.com/chongkelv123/prism-sub004/internal/connection"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
	"github.com/chongkelv123/prism-sub004/internal/platform"
	"github.com/chongkelv123/prism-sub004/internal/report"
	"github.com/chongkelv123/prism-sub004/internal/verify"
)

// Source identifies events produced by this service.
const Source = "prism-platform"

// Dispatcher subscribes the service's handlers on the bus.
type Dispatcher struct {
	bus         bus.Bus
	connections *connection.Service
	factory     *platform.Factory
	verifier    *verify.Verifier
	reports     *report.Service
	log         *logger.Logger
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(eventBus bus.Bus, connections *connection.Service, factory *platform.Factory, verifier *verify.Verifier, reports *report.Service, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		bus:         eventBus,
		connections: connections,
		factory:     factory,
		verifier:    verifier,
		reports:     reports,
		log:         log,
	}
}

// Register subscribes all handlers. Patterns are exact keys; wildcard
// binding happens at the broker, not here.
func (d *Dispatcher) Register(ctx context.Context) error {
	subscriptions := map[string]bus.Handler{
		bus.KeyConnectionTestRequested: d.HandleTestRequested,
		bus.KeyConnectionSyncRequested: d.HandleSyncRequested,
		bus.KeyReportDataRequested:     d.HandleReportRequested,
	}
	for pattern, handler := range subscriptions {
		if err := d.bus.Subscribe(ctx, pattern, handler); err != nil {
			return err
		}
	}
	return nil
}

// HandleTestRequested verifies a connection and publishes the outcome.
// The stored connection status follows the verification result.
func (d *Dispatcher) HandleTestRequested(ctx context.Context, event bus.Event) error {
	var payload TestRequestedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	log := d.log.WithConnection(payload.ConnectionID)

	conn, err := d.connections.Get(ctx, payload.ConnectionID)
	if err != nil {
		return err
	}

	client, err := d.factory.ClientFor(conn)
	if err != nil {
		d.setStatus(ctx, conn.ID, connection.StatusError, err.Error())
		return err
	}

	projectKey := payload.ProjectKey
	if projectKey == "" {
		projectKey = conn.ProjectKey
	}
	result := d.verifier.Run(ctx, client, projectKey)

	if result.Success {
		d.setStatus(ctx, conn.ID, connection.StatusConnected, "")
	} else {
		d.setStatus(ctx, conn.ID, connection.StatusError, result.Error)
	}

	d.publish(ctx, bus.KeyConnectionTestCompleted, TestCompletedPayload{
		ConnectionID: conn.ID,
		Result:       result,
	})
	log.Info("connection test completed", "success", result.Success)
	return nil
}

// HandleSyncRequested refreshes a connection's sync state by exercising the
// full retrieval path: identity, project listing, and a bounded issue fetch.
// A connection whose credentials work but whose project or data access is
// broken syncs into the error state. Re-running the handler for the same
// event converges on the same stored outcome.
func (d *Dispatcher) HandleSyncRequested(ctx context.Context, event bus.Event) error {
	var payload SyncRequestedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}

	conn, err := d.connections.Get(ctx, payload.ConnectionID)
	if err != nil {
		return err
	}

	client, err := d.factory.ClientFor(conn)
	if err != nil {
		return d.connections.RecordSync(ctx, conn.ID, time.Now().UTC(), err)
	}

	result := d.verifier.Run(ctx, client, conn.ProjectKey)
	if !result.Success {
		d.log.WithConnection(conn.ID).Warn("sync failed", "error", result.Error)
		return d.connections.RecordSync(ctx, conn.ID, time.Now().UTC(), errors.New(result.Error))
	}
	return d.connections.RecordSync(ctx, conn.ID, time.Now().UTC(), nil)
}

// HandleReportRequested assembles report data and publishes it. A failed
// assembly produces no report event; the error surfaces in logs and the
// connection's sync state.
func (d *Dispatcher) HandleReportRequested(ctx context.Context, event bus.Event) error {
	var payload ReportRequestedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return err
	}
	log := d.log.WithConnection(payload.ConnectionID)

	conn, err := d.connections.Get(ctx, payload.ConnectionID)
	if err != nil {
		return err
	}

	client, err := d.factory.ClientFor(conn)
	if err != nil {
		return err
	}

	var projectKeys []string
	if payload.ProjectID != "" {
		projectKeys = []string{payload.ProjectID}
	}
	data, err := d.reports.Assemble(ctx, conn.ID, client, projectKeys)
	if err != nil {
		log.Error("report assembly failed", "request_id", payload.RequestID, "error", err)
		return err
	}

	d.publish(ctx, bus.KeyReportDataReady, ReportReadyPayload{
		RequestID:    payload.RequestID,
		ConnectionID: conn.ID,
		Report:       data,
	})
	log.Info("report data published", "request_id", payload.RequestID, "projects", len(data.Projects))
	return nil
}

// publish is fire-and-forget: a broker outage must not fail the handler.
func (d *Dispatcher) publish(ctx context.Context, key string, payload any) {
	event, err := bus.NewEvent(key, Source, payload)
	if err != nil {
		d.log.Error("failed to build event", "key", key, "error", err)
		return
	}
	if err := d.bus.Publish(ctx, key, event); err != nil {
		d.log.Error("failed to publish event", "key", key, "error", err)
	}
}

func (d *Dispatcher) setStatus(ctx context.Context, id string, status connection.Status, message string) {
	if err := d.connections.SetStatus(ctx, id, status, message); err != nil {
		d.log.WithConnection(id).Error("failed to update connection status", "error", err)
	}
}
