package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/bus"
	"github.com/chongkelv123/prism-sub004/internal/pkg/errors"
)

// Service provides connection record management.
//
// The service is the only writer of connection status; handlers go through
// SetStatus and RecordSync so that every transition is persisted and
// announced on the bus.
type Service struct {
	bus         bus.Bus
	storage     Storage
	audit       *AuditLogger
	connections map[string]*Connection
	mu          sync.RWMutex
}

// ServiceConfig holds configuration for the connection service.
type ServiceConfig struct {
	// Storage is the persistence backend. Defaults to in-memory.
	Storage Storage

	// Audit optionally records connection lifecycle events to an audit trail.
	Audit *AuditLogger
}

// NewService creates a new connection service.
func NewService(eventBus bus.Bus, cfg ServiceConfig) (*Service, error) {
	storage := cfg.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}

	svc := &Service{
		bus:         eventBus,
		storage:     storage,
		audit:       cfg.Audit,
		connections: make(map[string]*Connection),
	}

	// Load existing connections from storage
	if err := svc.loadConnections(); err != nil {
		return nil, fmt.Errorf("failed to load connections: %w", err)
	}

	return svc, nil
}

// loadConnections loads all connections from storage.
func (s *Service) loadConnections() error {
	connections, err := s.storage.LoadAll()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range connections {
		s.connections[conn.ID] = conn
	}

	return nil
}

// Register registers a new connection or updates an existing one.
func (s *Service) Register(ctx context.Context, conn *Connection) error {
	if err := conn.Validate(); err != nil {
		return fmt.Errorf("invalid connection: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.connections[conn.ID]
	isNew := !exists

	if exists {
		// Update mutable fields, keep verification history
		existing.Name = conn.Name
		existing.EncryptedConfig = conn.EncryptedConfig
		existing.ProjectKey = conn.ProjectKey
		conn = existing
	} else {
		s.connections[conn.ID] = conn
	}

	if err := s.storage.Save(conn); err != nil {
		// Rollback if new
		if isNew {
			delete(s.connections, conn.ID)
		}
		return fmt.Errorf("failed to save connection: %w", err)
	}

	s.auditEvent("connection.registered", conn.ID, map[string]any{"is_new": isNew})
	s.publish(ctx, KeyRegistered, RegisteredPayload{Connection: conn, IsNew: isNew})

	return nil
}

// Get retrieves a connection by ID.
func (s *Service) Get(ctx context.Context, id string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, exists := s.connections[id]
	if !exists {
		return nil, errors.NotFoundError(fmt.Sprintf("connection %s", id))
	}

	// Return a copy to prevent external mutations
	connCopy := *conn
	return &connCopy, nil
}

// List returns connections matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	connections := make([]*Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		if filter.UserID != "" && conn.UserID != filter.UserID {
			continue
		}
		if filter.Platform != "" && conn.Platform != filter.Platform {
			continue
		}
		if filter.Status != "" && conn.Status != filter.Status {
			continue
		}

		connCopy := *conn
		connections = append(connections, &connCopy)
	}

	return connections, nil
}

// Delete deletes a connection.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, exists := s.connections[id]
	if !exists {
		return errors.NotFoundError(fmt.Sprintf("connection %s", id))
	}

	if err := s.storage.Delete(id); err != nil {
		return fmt.Errorf("failed to delete connection from storage: %w", err)
	}

	delete(s.connections, id)

	s.auditEvent("connection.deleted", id, nil)
	s.publish(ctx, KeyDeleted, DeletedPayload{ConnectionID: id, Name: conn.Name})

	return nil
}

// SetStatus records a verification outcome for a connection.
func (s *Service) SetStatus(ctx context.Context, id string, status Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, exists := s.connections[id]
	if !exists {
		return errors.NotFoundError(fmt.Sprintf("connection %s", id))
	}

	old := conn.Status
	oldSyncErr := conn.LastSyncError
	switch status {
	case StatusConnected:
		conn.MarkConnected()
	case StatusError:
		conn.MarkError(message)
	default:
		conn.Status = status
	}

	if err := s.storage.Save(conn); err != nil {
		conn.Status = old
		conn.LastSyncError = oldSyncErr
		return fmt.Errorf("failed to save connection: %w", err)
	}

	s.auditEvent("connection.status.changed", id, map[string]any{
		"old_status": string(old),
		"new_status": string(status),
	})
	s.publish(ctx, KeyStatusChanged, StatusChangedPayload{
		ConnectionID: id,
		OldStatus:    old,
		NewStatus:    status,
		Message:      message,
	})

	return nil
}

// RecordSync records the outcome of a sync run. Safe to replay: the terminal
// state depends only on the arguments, not on the number of invocations.
func (s *Service) RecordSync(ctx context.Context, id string, at time.Time, syncErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, exists := s.connections[id]
	if !exists {
		return errors.NotFoundError(fmt.Sprintf("connection %s", id))
	}

	old := conn.Status
	oldSyncAt, oldSyncErr := conn.LastSyncAt, conn.LastSyncError
	conn.RecordSync(at, syncErr)

	if err := s.storage.Save(conn); err != nil {
		conn.Status = old
		conn.LastSyncAt, conn.LastSyncError = oldSyncAt, oldSyncErr
		return fmt.Errorf("failed to save connection: %w", err)
	}

	if conn.Status != old {
		s.publish(ctx, KeyStatusChanged, StatusChangedPayload{
			ConnectionID: id,
			OldStatus:    old,
			NewStatus:    conn.Status,
			Message:      conn.LastSyncError,
		})
	}

	return nil
}

// Exists checks if a connection exists.
func (s *Service) Exists(ctx context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.connections[id]
	return exists
}

// publish emits a lifecycle event. Publishing is fire-and-forget: a missing
// or unreachable bus never fails the calling operation.
func (s *Service) publish(ctx context.Context, key string, payload any) {
	if s.bus == nil {
		return
	}

	event, err := bus.NewEvent(key, "connection-service", payload)
	if err != nil {
		return
	}
	_ = s.bus.Publish(ctx, key, event)
}

func (s *Service) auditEvent(eventType, connectionID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(eventType, connectionID, details)
}

// Close cleans up connection service resources.
func (s *Service) Close() error {
	if s.audit != nil {
		_ = s.audit.Close()
	}

	if closer, ok := s.storage.(interface{ Close() error }); ok {
		return closer.Close()
	}

	return nil
}
