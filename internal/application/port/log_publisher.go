package port

import (
	"context"
	"time"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is a structured log line shipped to an external log sink.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Fields    map[string]interface{}
}

// LogPublisher ships log entries to an external sink such as CloudWatch Logs.
type LogPublisher interface {
	Publish(ctx context.Context, entry LogEntry) error

	// PublishBatch must respect the sink's per-request limits.
	PublishBatch(ctx context.Context, entries []LogEntry) error

	// Flush is called on shutdown so buffered entries are not lost.
	Flush(ctx context.Context) error
}
