package port

import (
	"context"
	"time"
)

// CaptureEvent is published after every capture attempt.
type CaptureEvent struct {
	RequestID  string    `json:"request_id,omitempty"`
	URL        string    `json:"url"`
	Outcome    string    `json:"outcome"`
	Category   string    `json:"category,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	AssetID    string    `json:"asset_id,omitempty"`
	AssetURL   string    `json:"asset_url,omitempty"`
	Format     string    `json:"format,omitempty"`
	Bytes      int       `json:"bytes,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher defines the interface for publishing events to a message broker
type EventPublisher interface {
	// PublishEvent publishes an event to the specified subject
	PublishEvent(ctx context.Context, subject string, event interface{}) error

	// Close closes the connection to the message broker
	Close() error
}
