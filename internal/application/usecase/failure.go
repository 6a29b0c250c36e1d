package usecase

import (
	"errors"
	"fmt"

	"github.com/dreschagin/screenshot-api/internal/application/port"
)

// FailureCategory classifies why a capture did not produce an asset.
type FailureCategory string

const (
	CategoryConfiguration   FailureCategory = "configuration"
	CategoryClientInput     FailureCategory = "client_input"
	CategoryUpstreamService FailureCategory = "upstream_service"
	CategoryInternal        FailureCategory = "internal"
)

// Stage is a state of the capture pipeline.
type Stage string

const (
	StageValidating Stage = "validating"
	StageRendering  Stage = "rendering"
	StagePersisting Stage = "persisting"
	StageDone       Stage = "done"
)

var ErrRenderConfigMissing = errors.New("browserless base url or token is not configured")

// Failure is the single error type returned by CaptureScreenshotUseCase.
type Failure struct {
	Category FailureCategory
	Stage    Stage
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure while %s: %v", f.Category, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Details returns the most specific diagnostic available for the caller.
func (f *Failure) Details() string {
	var renderErr *port.RenderError
	if errors.As(f.Err, &renderErr) {
		return renderErr.Details
	}
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}
