package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dreschagin/screenshot-api/internal/application/dto"
	"github.com/dreschagin/screenshot-api/internal/application/usecase"
	"github.com/dreschagin/screenshot-api/internal/interfaces/http/middleware"
	"github.com/dreschagin/screenshot-api/pkg/logger"
)

const (
	defaultMaxBodyBytes = 64 * 1024

	errConfigMissing    = "Browserless configuration missing"
	errRenderFailed     = "Browserless failed"
	errUnexpected       = "Unexpected server error"
	errBodyTooLarge     = "Request body too large"
	errMethodNotAllowed = "Method not allowed"
)

type screenshotCapturer interface {
	Execute(ctx context.Context, cmd usecase.CaptureScreenshotCommand) (*usecase.CaptureScreenshotResult, error)
}

// CaptureAPIHandler обслуживает POST /api/screenshot.
type CaptureAPIHandler struct {
	captureUC    screenshotCapturer
	maxBodyBytes int64
	logger       *logger.Logger
}

func NewCaptureAPIHandler(captureUC screenshotCapturer, maxBodyBytes int64, log *logger.Logger) *CaptureAPIHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	return &CaptureAPIHandler{
		captureUC:    captureUC,
		maxBodyBytes: maxBodyBytes,
		logger:       log,
	}
}

func (h *CaptureAPIHandler) CaptureScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		middleware.WriteJSON(w, http.StatusMethodNotAllowed, dto.ErrorResponse{Error: errMethodNotAllowed})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			middleware.WriteJSON(w, http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: errBodyTooLarge})
			return
		}
		h.logger.Error("Failed to read capture request body", err)
		middleware.WriteJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: errUnexpected, Details: err.Error()})
		return
	}

	result, err := h.captureUC.Execute(r.Context(), usecase.CaptureScreenshotCommand{
		RequestID: middleware.RequestIDFromContext(r.Context()),
		Body:      body,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, dto.FromAsset(result.Asset))
}

// writeFailure maps a capture failure onto the public status codes and envelopes.
func writeFailure(w http.ResponseWriter, err error) {
	var failure *usecase.Failure
	if !errors.As(err, &failure) {
		failure = &usecase.Failure{Category: usecase.CategoryInternal, Err: err}
	}

	w.Header().Set(middleware.ErrorCategoryHeader, string(failure.Category))

	status, envelope := FailureResponse(failure)
	middleware.WriteJSON(w, status, envelope)
}

// FailureResponse returns the HTTP status and body for a failure.
// Validation and persistence failures share the generic 500 envelope.
func FailureResponse(failure *usecase.Failure) (int, dto.ErrorResponse) {
	switch {
	case failure.Category == usecase.CategoryConfiguration:
		return http.StatusInternalServerError, dto.ErrorResponse{Error: errConfigMissing}
	case failure.Category == usecase.CategoryUpstreamService && failure.Stage == usecase.StageRendering:
		return http.StatusBadGateway, dto.ErrorResponse{Error: errRenderFailed, Details: failure.Details()}
	default:
		return http.StatusInternalServerError, dto.ErrorResponse{Error: errUnexpected, Details: failure.Details()}
	}
}
