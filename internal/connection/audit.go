package connection

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
)

// AuditEntry represents an audit log entry.
type AuditEntry struct {
	Timestamp    time.Time      `json:"timestamp"`
	EventType    string         `json:"event_type"`
	ConnectionID string         `json:"connection_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// AuditLogger records connection lifecycle events for traceability.
// Entries are appended as JSON lines.
type AuditLogger struct {
	log     *logger.Logger
	logPath string
	file    *os.File
	mu      sync.Mutex
}

// AuditLoggerConfig configures the audit logger.
type AuditLoggerConfig struct {
	// LogPath is the path to the audit log file.
	// If empty, entries go to the application logger only.
	LogPath string
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(cfg AuditLoggerConfig, log *logger.Logger) (*AuditLogger, error) {
	if log == nil {
		log = logger.Default()
	}

	a := &AuditLogger{
		log:     log,
		logPath: cfg.LogPath,
	}

	if cfg.LogPath != "" {
		dir := filepath.Dir(cfg.LogPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		a.file = f
	}

	return a, nil
}

// Record appends an audit entry. Failures are logged and swallowed; audit
// writes never fail the operation that triggered them.
func (a *AuditLogger) Record(eventType, connectionID string, details map[string]any) {
	entry := AuditEntry{
		Timestamp:    time.Now(),
		EventType:    eventType,
		ConnectionID: connectionID,
		Details:      details,
	}

	a.log.Debug("audit event",
		"event_type", eventType,
		"connection_id", connectionID,
	)

	if a.file == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		a.log.WithError(err).Warn("Failed to marshal audit entry")
		return
	}

	if _, err := a.file.Write(append(data, '\n')); err != nil {
		a.log.WithError(err).Warn("Failed to write audit entry")
	}
}

// ReadAuditLog reads all entries from an audit log file.
func ReadAuditLog(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Close closes the audit log file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return nil
	}

	err := a.file.Close()
	a.file = nil
	return err
}
