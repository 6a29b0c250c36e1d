package logger

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dreschagin/screenshot-api/internal/application/port"
)

type recordingPublisher struct {
	mu      sync.Mutex
	entries []port.LogEntry
}

func (p *recordingPublisher) Publish(_ context.Context, entry port.LogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return nil
}

func (p *recordingPublisher) PublishBatch(ctx context.Context, entries []port.LogEntry) error {
	for _, entry := range entries {
		_ = p.Publish(ctx, entry)
	}
	return nil
}

func (p *recordingPublisher) Flush(context.Context) error { return nil }

func TestLoggerWritesKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info")

	log.Info("capture stored", "public_id", "screenshots/abc", "bytes", 42)

	out := buf.String()
	if !strings.Contains(out, "capture stored") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, `"public_id":"screenshots/abc"`) || !strings.Contains(out, `"bytes":42`) {
		t.Fatalf("expected key-value pairs in output, got %q", out)
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn")

	log.Debug("debug hidden")
	log.Info("info hidden")
	log.Warn("warn visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "warn visible") {
		t.Fatalf("expected warn entry, got %q", out)
	}
}

func TestLoggerErrorAppendsError(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "error")

	log.Error("render failed", context.DeadlineExceeded, "stage", "rendering")

	out := buf.String()
	if !strings.Contains(out, `"error":"context deadline exceeded"`) {
		t.Fatalf("expected error field, got %q", out)
	}
	if !strings.Contains(out, `"stage":"rendering"`) {
		t.Fatalf("expected stage field, got %q", out)
	}
}

func TestLoggerMirrorsToPublisher(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug")
	publisher := &recordingPublisher{}
	log.SetLogPublisher(publisher)

	log.Debug("not mirrored")
	log.Info("mirrored", "k", "v")
	log.Error("also mirrored", nil)

	if len(publisher.entries) != 2 {
		t.Fatalf("expected 2 published entries, got %d", len(publisher.entries))
	}
	if publisher.entries[0].Level != port.LogLevelInfo || publisher.entries[0].Fields["k"] != "v" {
		t.Fatalf("unexpected first entry: %+v", publisher.entries[0])
	}
	if publisher.entries[1].Level != port.LogLevelError {
		t.Fatalf("unexpected second entry level: %s", publisher.entries[1].Level)
	}
}

func TestNewWithFileFallsBackWithoutPath(t *testing.T) {
	log := NewWithFile("invalid", FileConfig{})
	log.Info("hello", "k", "v")

	fileLog := NewWithFile("info", FileConfig{
		Path:       filepath.Join(t.TempDir(), "screenshot-api.log"),
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	fileLog.Warn("rotating")
}
