// Package connection provides platform connection records for Prism.
// A Connection links one user to one external project-management platform.
package connection

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Platform identifies an external project-management platform variant.
type Platform string

// Registered platform variants. Adding a platform means adding a constant
// here and one branch in the client factory.
const (
	PlatformJira   Platform = "jira"
	PlatformTrofos Platform = "trofos"
	PlatformMonday Platform = "monday"
)

// ParsePlatform validates a platform identifier against the registered set.
// Unknown variants are rejected here, never accepted silently.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(s)) {
	case PlatformJira:
		return PlatformJira, nil
	case PlatformTrofos:
		return PlatformTrofos, nil
	case PlatformMonday:
		return PlatformMonday, nil
	default:
		return "", fmt.Errorf("unknown platform: %s", s)
	}
}

// Status is the connection health state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Connection represents a user's link to one external platform.
type Connection struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Platform Platform `json:"platform"`

	// EncryptedConfig is the opaque configuration blob. It decrypts to
	// platform-specific fields (server URL, API token, optional project key)
	// via the secrets codec; this package never inspects it.
	EncryptedConfig []byte `json:"encrypted_config"`

	Status Status `json:"status"`

	// ProjectKey optionally pins the connection to one project.
	ProjectKey string `json:"project_key,omitempty"`

	CreatedAt     time.Time `json:"created_at"`
	LastSyncAt    time.Time `json:"last_sync_at,omitempty"`
	LastSyncError string    `json:"last_sync_error,omitempty"`
}

// Connection name validation rules
var (
	// connectionNameRegex validates display names: printable, no control chars
	connectionNameRegex = regexp.MustCompile(`^[^\x00-\x1f\x7f]+$`)

	// MaxConnectionNameLength is the maximum length of a connection name
	MaxConnectionNameLength = 128
)

// ValidateConnectionName validates a connection display name.
func ValidateConnectionName(name string) error {
	if name == "" {
		return fmt.Errorf("connection name cannot be empty")
	}

	if len(name) > MaxConnectionNameLength {
		return fmt.Errorf("connection name cannot exceed %d characters", MaxConnectionNameLength)
	}

	if !connectionNameRegex.MatchString(name) {
		return fmt.Errorf("connection name contains control characters")
	}

	return nil
}

// Validate validates the connection data.
func (c *Connection) Validate() error {
	if err := ValidateConnectionName(c.Name); err != nil {
		return err
	}

	if c.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	if _, err := ParsePlatform(string(c.Platform)); err != nil {
		return err
	}

	if len(c.EncryptedConfig) == 0 {
		return fmt.Errorf("platform configuration cannot be empty")
	}

	return nil
}

// MarkConnected records a successful verification or sync.
func (c *Connection) MarkConnected() {
	c.Status = StatusConnected
	c.LastSyncError = ""
}

// MarkError records a failed verification or sync.
func (c *Connection) MarkError(message string) {
	c.Status = StatusError
	c.LastSyncError = message
}

// RecordSync updates the last-sync metadata.
func (c *Connection) RecordSync(at time.Time, syncErr error) {
	c.LastSyncAt = at
	if syncErr != nil {
		c.MarkError(syncErr.Error())
		return
	}
	c.MarkConnected()
}

// NewConnection creates a new connection with auto-generated ID.
func NewConnection(userID, name string, platform Platform, encryptedConfig []byte) *Connection {
	return &Connection{
		ID:              GenerateConnectionID(userID, name, platform),
		UserID:          userID,
		Name:            name,
		Platform:        platform,
		EncryptedConfig: encryptedConfig,
		Status:          StatusDisconnected,
		CreatedAt:       time.Now(),
	}
}

// GenerateConnectionID generates a deterministic connection ID from the
// owning user, display name and platform variant.
func GenerateConnectionID(userID, name string, platform Platform) string {
	input := fmt.Sprintf("%s|%s|%s", userID, name, platform)
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("conn_%x", hash[:8])
}

// Filter holds filter criteria for listing connections.
type Filter struct {
	UserID   string   // only return connections owned by this user
	Platform Platform // only return connections for this platform
	Status   Status   // only return connections in this state
}
