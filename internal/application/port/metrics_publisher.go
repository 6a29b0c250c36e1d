package port

import (
	"context"
	"time"
)

// MetricDatum is a single measurement of the capture pipeline.
type MetricDatum struct {
	Name       string
	Value      float64
	Unit       string
	Dimensions map[string]string
	Timestamp  time.Time
}

// MetricsPublisher defines the interface for publishing metrics to external observability platforms.
type MetricsPublisher interface {
	// PublishBatch publishes multiple metrics in a single operation.
	// Implementations should handle batching constraints (e.g., CloudWatch's 1000 metrics/request limit).
	PublishBatch(ctx context.Context, metrics []MetricDatum) error

	// Flush forces immediate publication of any buffered metrics.
	// Should be called during graceful shutdown to prevent data loss.
	Flush(ctx context.Context) error
}

// CaptureRecorder observes capture outcomes in-process (Prometheus).
type CaptureRecorder interface {
	ObserveStage(stage string, duration time.Duration)
	ObserveOutcome(outcome, category string, bytes int)
}
