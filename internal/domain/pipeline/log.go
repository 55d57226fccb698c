package pipeline

import "time"

// LogLevel mirrors the structured logging levels used across the service.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is one append-only line of an execution's log stream. Entries are
// ordered by Sequence, a monotonically increasing counter assigned by the
// store at append time, since wall-clock Timestamp alone cannot guarantee a
// stable order under concurrent stage execution (spec.md §3 "execution
// logs").
type LogEntry struct {
	ExecutionID string
	Sequence    int64
	Timestamp   time.Time
	Level       LogLevel
	StageID     string // empty for supervisor-level entries
	Message     string
	Fields      map[string]interface{}
}

// Validate checks the entry can legally be appended.
func (l LogEntry) Validate() error {
	if l.ExecutionID == "" {
		return newMissingFieldError("execution_id")
	}
	if l.Message == "" {
		return newMissingFieldError("message")
	}
	switch l.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return newTypeError("one of debug, info, warn, error", string(l.Level))
	}
	return nil
}
