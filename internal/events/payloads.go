package events

import (
	"github.com/chongkelv123/prism-sub004/internal/report"
	"github.com/chongkelv123/prism-sub004/internal/verify"
)

// Payload field names are the cross-service wire contract; peer services
// publish and decode these exact keys.

// TestRequestedPayload asks for a connection to be verified.
type TestRequestedPayload struct {
	ConnectionID string `json:"connectionId"`
	ProjectKey   string `json:"projectId,omitempty"`
}

// TestCompletedPayload carries the verification outcome back onto the bus.
type TestCompletedPayload struct {
	ConnectionID string         `json:"connectionId"`
	Result       *verify.Result `json:"result"`
}

// SyncRequestedPayload asks for a connection's sync state to be refreshed.
type SyncRequestedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// ReportRequestedPayload asks for report data to be assembled. An empty
// ProjectID means every accessible project.
type ReportRequestedPayload struct {
	RequestID    string `json:"requestId,omitempty"`
	ConnectionID string `json:"connectionId"`
	ProjectID    string `json:"projectId,omitempty"`
}

// ReportReadyPayload carries assembled report data.
type ReportReadyPayload struct {
	RequestID    string       `json:"requestId,omitempty"`
	ConnectionID string       `json:"connectionId"`
	Report       *report.Data `json:"report"`
}
