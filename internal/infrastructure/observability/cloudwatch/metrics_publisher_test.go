package cloudwatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"github.com/dreschagin/screenshot-api/internal/application/port"
)

type fakeCloudWatch struct {
	mu       sync.Mutex
	inputs   []*cloudwatch.PutMetricDataInput
	failures int
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return nil, errors.New("throttled")
	}
	f.inputs = append(f.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (f *fakeCloudWatch) datumCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, input := range f.inputs {
		total += len(input.MetricData)
	}
	return total
}

func testMetricsConfig() MetricsPublisherConfig {
	return MetricsPublisherConfig{
		Namespace:     "Test/Namespace",
		Region:        "us-east-1",
		BufferSize:    5,
		FlushInterval: time.Hour,
	}
}

func TestMapUnit(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected string
	}{
		{"percentage", "%", "Percent"},
		{"milliseconds", "ms", "Milliseconds"},
		{"seconds", "s", "Seconds"},
		{"bytes", "bytes", "Bytes"},
		{"count", "count", "Count"},
		{"unknown", "custom", "None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mapUnit(tt.unit)
			if string(result) != tt.expected {
				t.Errorf("mapUnit(%q) = %v, want %v", tt.unit, result, tt.expected)
			}
		})
	}
}

func TestConvertToDatum(t *testing.T) {
	p := &MetricsPublisher{
		namespace: "Test/Namespace",
		defaultDimensions: map[string]string{
			"Environment": "test",
			"Outcome":     "overridden",
		},
		storageResolution: 60,
	}

	collectedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	datum := p.convertToDatum(port.MetricDatum{
		Name:       "CaptureDuration",
		Value:      1830,
		Unit:       "ms",
		Dimensions: map[string]string{"Outcome": "captured"},
		Timestamp:  collectedAt,
	})

	if datum.MetricName == nil || *datum.MetricName != "CaptureDuration" {
		t.Errorf("Expected MetricName=CaptureDuration, got %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 1830 {
		t.Errorf("Expected Value=1830, got %v", datum.Value)
	}
	if datum.Unit != "Milliseconds" {
		t.Errorf("Expected Unit=Milliseconds, got %v", datum.Unit)
	}
	if datum.Timestamp == nil || !datum.Timestamp.Equal(collectedAt) {
		t.Errorf("Expected Timestamp=%v, got %v", collectedAt, datum.Timestamp)
	}
	if datum.StorageResolution == nil || *datum.StorageResolution != 60 {
		t.Errorf("Expected StorageResolution=60, got %v", datum.StorageResolution)
	}

	// sorted by name, metric dimension wins over default
	expected := []struct{ name, value string }{
		{"Environment", "test"},
		{"Outcome", "captured"},
	}
	if len(datum.Dimensions) != len(expected) {
		t.Fatalf("Expected %d dimensions, got %d", len(expected), len(datum.Dimensions))
	}
	for i, dim := range datum.Dimensions {
		if *dim.Name != expected[i].name || *dim.Value != expected[i].value {
			t.Errorf("Dimension %d: expected %s=%s, got %s=%s", i, expected[i].name, expected[i].value, *dim.Name, *dim.Value)
		}
	}
}

func TestPublishBatchAutoFlush(t *testing.T) {
	client := &fakeCloudWatch{}
	p := newMetricsPublisher(client, testMetricsConfig(), nil)
	defer p.Close(context.Background())

	metrics := make([]port.MetricDatum, 4)
	for i := range metrics {
		metrics[i] = port.MetricDatum{Name: "CaptureCount", Value: 1, Unit: "count"}
	}

	if err := p.PublishBatch(context.Background(), metrics); err != nil {
		t.Fatalf("PublishBatch() error = %v", err)
	}
	if client.datumCount() != 0 {
		t.Fatalf("expected buffering below buffer size, got %d published", client.datumCount())
	}

	if err := p.PublishBatch(context.Background(), metrics[:1]); err != nil {
		t.Fatalf("PublishBatch() error = %v", err)
	}
	if client.datumCount() != 5 {
		t.Fatalf("expected 5 metrics flushed, got %d", client.datumCount())
	}
	if *client.inputs[0].Namespace != "Test/Namespace" {
		t.Errorf("unexpected namespace: %s", *client.inputs[0].Namespace)
	}
}

func TestFlushChunksLargeBuffers(t *testing.T) {
	client := &fakeCloudWatch{}
	cfg := testMetricsConfig()
	cfg.BufferSize = 5000
	p := newMetricsPublisher(client, cfg, nil)
	defer p.Close(context.Background())

	metrics := make([]port.MetricDatum, 2500)
	for i := range metrics {
		metrics[i] = port.MetricDatum{Name: "CaptureBytes", Value: float64(i), Unit: "bytes"}
	}
	_ = p.PublishBatch(context.Background(), metrics)

	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(client.inputs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(client.inputs))
	}
	if len(client.inputs[0].MetricData) != maxMetricsPerRequest {
		t.Errorf("expected first chunk of %d, got %d", maxMetricsPerRequest, len(client.inputs[0].MetricData))
	}
}

func TestFlushRetriesTransientErrors(t *testing.T) {
	client := &fakeCloudWatch{failures: 2}
	p := newMetricsPublisher(client, testMetricsConfig(), nil)
	defer p.Close(context.Background())

	_ = p.PublishBatch(context.Background(), []port.MetricDatum{{Name: "CaptureCount", Value: 1, Unit: "count"}})
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if client.datumCount() != 1 {
		t.Errorf("expected 1 metric published, got %d", client.datumCount())
	}
}

func TestFlushGivesUpAfterMaxRetries(t *testing.T) {
	client := &fakeCloudWatch{failures: maxRetries}
	p := newMetricsPublisher(client, testMetricsConfig(), nil)
	defer p.Close(context.Background())

	_ = p.PublishBatch(context.Background(), []port.MetricDatum{{Name: "CaptureCount", Value: 1, Unit: "count"}})
	if err := p.Flush(context.Background()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestNewMetricsPublisherValidation(t *testing.T) {
	if _, err := NewMetricsPublisher(context.Background(), MetricsPublisherConfig{Region: "us-east-1"}, nil); err == nil {
		t.Error("expected error for missing namespace")
	}
	if _, err := NewMetricsPublisher(context.Background(), MetricsPublisherConfig{Namespace: "N"}, nil); err == nil {
		t.Error("expected error for missing region")
	}
}
