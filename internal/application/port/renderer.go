package port

import (
	"context"
	"fmt"
	"time"

	"github.com/dreschagin/screenshot-api/internal/domain/capture"
)

// RenderCredentials addresses the rendering backend for a single call.
type RenderCredentials struct {
	BaseURL string
	Token   string
}

// RenderResult holds the raw image returned by the rendering backend.
// It lives only for the duration of one capture.
type RenderResult struct {
	Data        []byte
	StatusCode  int
	ContentType string
	Duration    time.Duration
}

// RenderError is returned when the rendering backend answered with a non-success status.
type RenderError struct {
	StatusCode int
	Details    string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render backend returned status %d: %s", e.StatusCode, e.Details)
}

// Renderer captures a web page as a raster image.
type Renderer interface {
	Capture(ctx context.Context, req capture.Request, creds RenderCredentials) (*RenderResult, error)
}
