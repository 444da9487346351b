package bus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/pkg/errors"
)

// Discard reasons recorded in the dead-letter log.
const (
	ReasonParseFailure = "parse_failure"
	ReasonDispatchMiss = "dispatch_miss"
)

// DeadLetter is one discarded delivery.
type DeadLetter struct {
	RoutingKey string    `json:"routing_key"`
	Reason     string    `json:"reason"`
	Body       []byte    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

// DeadLetterLog records discarded deliveries to disk so that poison messages
// are inspectable instead of silently lost. Entries are written as JSON
// lines (one JSON object per line).
type DeadLetterLog struct {
	logPath string
	mu      sync.Mutex
	file    *os.File
	enabled bool
	encoder *json.Encoder
}

// NewDeadLetterLog creates a new dead-letter log.
// If enabled is false, the log will be created but will not write entries.
func NewDeadLetterLog(logPath string, enabled bool) (*DeadLetterLog, error) {
	dl := &DeadLetterLog{
		logPath: logPath,
		enabled: enabled,
	}

	if !enabled {
		return dl, nil
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory: %w", err)
	}

	// Open file in append mode (create if doesn't exist)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter log: %w", err)
	}

	dl.file = file
	dl.encoder = json.NewEncoder(file)

	return dl, nil
}

// Record appends one discarded delivery. Best-effort: errors are returned
// for logging but must never crash or requeue the consumer.
func (dl *DeadLetterLog) Record(routingKey, reason string, body []byte) error {
	if !dl.enabled {
		return nil
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file == nil {
		return errors.New(errors.CodeUnavailable, "dead-letter log is closed")
	}

	return dl.encoder.Encode(DeadLetter{
		RoutingKey: routingKey,
		Reason:     reason,
		Body:       body,
		Timestamp:  time.Now(),
	})
}

// ReadAll reads every recorded entry. Used for inspection and in tests.
func (dl *DeadLetterLog) ReadAll() ([]DeadLetter, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	f, err := os.Open(dl.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open dead-letter log: %w", err)
	}
	defer f.Close()

	var entries []DeadLetter
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry DeadLetter
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // Skip corrupt lines
		}
		entries = append(entries, entry)
	}

	return entries, scanner.Err()
}

// Close closes the underlying file.
func (dl *DeadLetterLog) Close() error {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file == nil {
		return nil
	}

	err := dl.file.Close()
	dl.file = nil
	return err
}
