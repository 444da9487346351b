package connection

// Routing keys for connection lifecycle events.
const (
	// KeyRegistered is published when a connection is registered (new or updated).
	KeyRegistered = "connection.registered"

	// KeyDeleted is published when a connection is deleted.
	KeyDeleted = "connection.deleted"

	// KeyStatusChanged is published when a verification or sync changes the
	// connection status.
	KeyStatusChanged = "connection.status.changed"
)

// Event payload structures for connection lifecycle events. Field names use
// the same camelCase wire vocabulary as the cross-service events.

// RegisteredPayload is the payload for connection.registered events.
type RegisteredPayload struct {
	Connection *Connection `json:"connection"`
	IsNew      bool        `json:"isNew"` // true if newly created, false if updated
}

// DeletedPayload is the payload for connection.deleted events.
type DeletedPayload struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
}

// StatusChangedPayload is the payload for connection.status.changed events.
type StatusChangedPayload struct {
	ConnectionID string `json:"connectionId"`
	OldStatus    Status `json:"oldStatus"`
	NewStatus    Status `json:"newStatus"`
	Message      string `json:"message,omitempty"`
}
