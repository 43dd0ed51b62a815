package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/victoralfred/gowritter/safepath"
)

// AuditLogger records every command the gateway accepts or rejects. The log
// is append-only JSON lines.
type AuditLogger interface {
	// Log appends an audit event.
	Log(ctx context.Context, event *AuditEvent) error

	// Query returns logged events matching the filter.
	Query(ctx context.Context, filter *AuditFilter) ([]*AuditEvent, error)

	// Close closes the audit logger.
	Close() error
}

// AuditEvent is one audit log entry.
type AuditEvent struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Type          AuditEventType    `json:"type"`
	Command       string            `json:"command"`
	Document      string            `json:"document,omitempty"`
	Macro         string            `json:"macro,omitempty"`
	Status        string            `json:"status"`
	PolicyVersion string            `json:"policy_version,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Output        string            `json:"output,omitempty"`
	Duration      time.Duration     `json:"duration"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// AuditEventType classifies audit events.
type AuditEventType string

const (
	// AuditEventCommand is a handled command.
	AuditEventCommand AuditEventType = "command"

	// AuditEventRejected is a validation rejection.
	AuditEventRejected AuditEventType = "rejected"

	// AuditEventRateLimited is a rate limiting event.
	AuditEventRateLimited AuditEventType = "rate_limited"

	// AuditEventError is an internal error event.
	AuditEventError AuditEventType = "error"
)

// AuditFilter filters query results.
type AuditFilter struct {
	// StartTime is the inclusive start of the time range.
	StartTime time.Time

	// EndTime is the exclusive end of the time range.
	EndTime time.Time

	// Command filters by command type.
	Command string

	// Type filters by event type.
	Type AuditEventType

	// Status filters by status.
	Status string

	// Limit caps the number of events returned (0 for unlimited).
	Limit int
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	LogLevel      AuditLogLevel
	BasePath      string
	FilePath      string
	MaxOutputSize int
	Enabled       bool
	IncludeOutput bool
}

// AuditLogLevel determines which events are logged.
type AuditLogLevel string

const (
	// AuditLogAll logs all events.
	AuditLogAll AuditLogLevel = "all"

	// AuditLogFailures logs only failures.
	AuditLogFailures AuditLogLevel = "failures"

	// AuditLogRejections logs only validation rejections.
	AuditLogRejections AuditLogLevel = "rejections"
)

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		LogLevel:      AuditLogAll,
		IncludeOutput: false,
		MaxOutputSize: 1024,
		BasePath:      "/var/log",
		FilePath:      "cadgate/audit.log",
	}
}

// fileAuditLogger implements AuditLogger on a safepath-rooted file.
type fileAuditLogger struct {
	safePath *safepath.SafePath
	config   AuditConfig
	mu       sync.Mutex
}

// NewFileAuditLogger creates a file-based audit logger.
func NewFileAuditLogger(config AuditConfig) (AuditLogger, error) {
	sp, err := safepath.New(config.BasePath)
	if err != nil {
		return nil, fmt.Errorf("creating safe path: %w", err)
	}
	return &fileAuditLogger{config: config, safePath: sp}, nil
}

// Log implements AuditLogger.Log.
func (l *fileAuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	if !l.config.Enabled || !l.shouldLog(event) {
		return nil
	}

	if !l.config.IncludeOutput {
		event.Output = ""
	} else if len(event.Output) > l.config.MaxOutputSize {
		event.Output = event.Output[:l.config.MaxOutputSize] + "...(truncated)"
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.safePath.AppendFile(l.config.FilePath, data, 0o644); err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	return nil
}

// Query implements AuditLogger.Query.
func (l *fileAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEvent, error) {
	l.mu.Lock()
	data, err := l.safePath.ReadFile(l.config.FilePath)
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var events []*AuditEvent
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			// A torn last line from a crash is not worth failing the query.
			continue
		}
		if filter != nil && !matchEvent(&event, filter) {
			continue
		}
		events = append(events, &event)
		if filter != nil && filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning audit log: %w", err)
	}
	return events, nil
}

func matchEvent(event *AuditEvent, filter *AuditFilter) bool {
	if !filter.StartTime.IsZero() && event.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && !event.Timestamp.Before(filter.EndTime) {
		return false
	}
	if filter.Command != "" && event.Command != filter.Command {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Status != "" && event.Status != filter.Status {
		return false
	}
	return true
}

// Close implements AuditLogger.Close.
func (l *fileAuditLogger) Close() error {
	return nil
}

func (l *fileAuditLogger) shouldLog(event *AuditEvent) bool {
	switch l.config.LogLevel {
	case AuditLogAll:
		return true
	case AuditLogFailures:
		return event.Status != "success"
	case AuditLogRejections:
		return event.Type == AuditEventRejected
	default:
		return true
	}
}

// NoopAuditLogger returns a no-op audit logger.
func NoopAuditLogger() AuditLogger {
	return &noopAuditLogger{}
}

type noopAuditLogger struct{}

func (l *noopAuditLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }
func (l *noopAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEvent, error) {
	return nil, nil
}
func (l *noopAuditLogger) Close() error { return nil }
