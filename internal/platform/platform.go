// Package platform provides the uniform client contract over external
// project-management platforms. Each variant encapsulates its own
// authentication, pagination and response envelope; callers see one
// normalized capability set.
package platform

import (
	"context"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/connection"
)

// Client is the capability contract shared by all platform variants.
type Client interface {
	// TestConnection performs a minimal authenticated call. Ordinary auth
	// failure is reported as (false, typed error), never a panic.
	TestConnection(ctx context.Context) (bool, error)

	// CurrentUser retrieves the identity of the authenticated principal.
	CurrentUser(ctx context.Context) (*UserRef, error)

	// ListProjects enumerates accessible projects, normalized to ProjectRef
	// regardless of the vendor's envelope shape.
	ListProjects(ctx context.Context, page Page) ([]ProjectRef, error)

	// FetchIssues performs one bounded issue search against a project.
	FetchIssues(ctx context.Context, projectKey string, maxResults int) (*IssueSearch, error)

	// Platform identifies the variant.
	Platform() connection.Platform
}

// UserRef identifies the authenticated principal.
type UserRef struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// ProjectRef is the normalized project shape.
type ProjectRef struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Issue is the normalized work item shape.
type Issue struct {
	ID       string    `json:"id"`
	Key      string    `json:"key"`
	Summary  string    `json:"summary"`
	Status   string    `json:"status,omitempty"`
	Assignee string    `json:"assignee,omitempty"`
	Updated  time.Time `json:"updated,omitempty"`
}

// IssueSearch is the result of a bounded issue search.
type IssueSearch struct {
	Total  int     `json:"total"`
	Issues []Issue `json:"issues"`
}

// Page holds bounded pagination parameters.
type Page struct {
	Size  int // results per page
	Index int // zero-based page index
}

// Config holds settings shared by all client variants.
type Config struct {
	// Timeout applies to every outbound call.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls. 0 = unlimited.
	RequestsPerSecond float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
	}
}
