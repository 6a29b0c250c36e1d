package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dreschagin/screenshot-api/internal/application/port"
	"github.com/dreschagin/screenshot-api/internal/domain/capture"
	"github.com/dreschagin/screenshot-api/pkg/logger"
)

const (
	OutcomeCaptured = "captured"
	OutcomeFailed   = "failed"
)

// RenderConfig addresses the rendering backend. Both fields are required at call time.
type RenderConfig struct {
	BaseURL string
	Token   string
}

func (c RenderConfig) complete() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.Token) != ""
}

type CaptureScreenshotConfig struct {
	Render             RenderConfig
	EventSubjectPrefix string
}

type CaptureScreenshotCommand struct {
	RequestID string
	Body      []byte
}

type CaptureScreenshotResult struct {
	Asset    capture.PersistedAsset
	Request  capture.Request
	Duration time.Duration
}

// CaptureScreenshotUseCase sequences validation, rendering and persistence for one request.
// It is the error-containment boundary: every failure, panics included, leaves as *Failure.
type CaptureScreenshotUseCase struct {
	renderer port.Renderer
	storage  port.AssetStorage
	recorder port.CaptureRecorder
	metrics  port.MetricsPublisher
	events   port.EventPublisher
	config   CaptureScreenshotConfig
	logger   *logger.Logger
}

func NewCaptureScreenshotUseCase(
	renderer port.Renderer,
	storage port.AssetStorage,
	recorder port.CaptureRecorder, // Can be nil
	metrics port.MetricsPublisher, // Can be nil if CloudWatch disabled
	events port.EventPublisher, // Can be nil if NATS disabled
	config CaptureScreenshotConfig,
	log *logger.Logger,
) *CaptureScreenshotUseCase {
	if strings.TrimSpace(config.EventSubjectPrefix) == "" {
		config.EventSubjectPrefix = "screenshot"
	}
	if log == nil {
		log = logger.New("error")
	}

	return &CaptureScreenshotUseCase{
		renderer: renderer,
		storage:  storage,
		recorder: recorder,
		metrics:  metrics,
		events:   events,
		config:   config,
		logger:   log,
	}
}

func (uc *CaptureScreenshotUseCase) Execute(
	ctx context.Context,
	cmd CaptureScreenshotCommand,
) (result *CaptureScreenshotResult, err error) {
	startedAt := time.Now()
	stage := StageValidating
	var req capture.Request

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &Failure{Category: CategoryInternal, Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
		uc.finish(ctx, cmd.RequestID, req, result, err, time.Since(startedAt))
	}()

	// Validating
	stageStart := time.Now()
	req, err = capture.DecodeRequest(cmd.Body)
	uc.observeStage(stage, stageStart)
	if err != nil {
		var validationErr *capture.ValidationError
		if errors.As(err, &validationErr) {
			return nil, &Failure{Category: CategoryClientInput, Stage: stage, Err: err}
		}
		return nil, &Failure{Category: CategoryInternal, Stage: stage, Err: err}
	}

	// Rendering
	stage = StageRendering
	if !uc.config.Render.complete() {
		return nil, &Failure{Category: CategoryConfiguration, Stage: stage, Err: ErrRenderConfigMissing}
	}
	if uc.renderer == nil {
		return nil, &Failure{Category: CategoryInternal, Stage: stage, Err: errors.New("renderer is not configured")}
	}

	stageStart = time.Now()
	rendered, err := uc.renderer.Capture(ctx, req, port.RenderCredentials{
		BaseURL: uc.config.Render.BaseURL,
		Token:   uc.config.Render.Token,
	})
	uc.observeStage(stage, stageStart)
	if err != nil {
		var renderErr *port.RenderError
		if errors.As(err, &renderErr) {
			return nil, &Failure{Category: CategoryUpstreamService, Stage: stage, Err: err}
		}
		return nil, &Failure{Category: CategoryInternal, Stage: stage, Err: err}
	}
	if rendered == nil || len(rendered.Data) == 0 {
		return nil, &Failure{Category: CategoryInternal, Stage: stage, Err: errors.New("render backend returned an empty image")}
	}

	// Persisting
	stage = StagePersisting
	if uc.storage == nil {
		return nil, &Failure{
			Category: CategoryUpstreamService,
			Stage:    stage,
			Err:      &port.PersistenceError{Backend: "storage", Err: errors.New("storage backend is not configured")},
		}
	}

	stageStart = time.Now()
	asset, err := uc.storage.Store(ctx, rendered.Data, req.ImageType)
	uc.observeStage(stage, stageStart)
	if err != nil {
		return nil, &Failure{Category: CategoryUpstreamService, Stage: stage, Err: err}
	}
	if asset == nil {
		return nil, &Failure{
			Category: CategoryUpstreamService,
			Stage:    stage,
			Err:      &port.PersistenceError{Backend: "storage", Err: errors.New("empty upload result")},
		}
	}

	// Done
	stage = StageDone
	return &CaptureScreenshotResult{
		Asset:    *asset,
		Request:  req,
		Duration: time.Since(startedAt),
	}, nil
}

func (uc *CaptureScreenshotUseCase) observeStage(stage Stage, startedAt time.Time) {
	if uc.recorder != nil {
		uc.recorder.ObserveStage(string(stage), time.Since(startedAt))
	}
}

// finish reports the outcome. Observers are best-effort and never alter the result.
func (uc *CaptureScreenshotUseCase) finish(
	ctx context.Context,
	requestID string,
	req capture.Request,
	result *CaptureScreenshotResult,
	err error,
	duration time.Duration,
) {
	event := port.CaptureEvent{
		RequestID:  requestID,
		URL:        req.URL,
		DurationMS: duration.Milliseconds(),
		OccurredAt: time.Now().UTC(),
	}

	category := ""
	if err != nil {
		var failure *Failure
		if errors.As(err, &failure) {
			category = string(failure.Category)
			event.Stage = string(failure.Stage)
		} else {
			category = string(CategoryInternal)
		}
		event.Outcome = OutcomeFailed
		event.Category = category

		uc.logger.Error("Screenshot capture failed", err,
			"request_id", requestID,
			"url", req.URL,
			"category", category,
			"stage", event.Stage,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		event.Outcome = OutcomeCaptured
		event.AssetID = result.Asset.ID
		event.AssetURL = result.Asset.URL
		event.Format = result.Asset.Format
		event.Bytes = result.Asset.Bytes

		uc.logger.Info("Screenshot captured",
			"request_id", requestID,
			"url", req.URL,
			"public_id", result.Asset.ID,
			"format", result.Asset.Format,
			"bytes", result.Asset.Bytes,
			"duration_ms", duration.Milliseconds(),
		)
	}

	if uc.recorder != nil {
		uc.recorder.ObserveOutcome(event.Outcome, category, event.Bytes)
	}

	if uc.metrics != nil {
		if pubErr := uc.metrics.PublishBatch(ctx, captureMetrics(event, duration)); pubErr != nil {
			uc.logger.Warn("Failed to publish capture metrics", "error", pubErr.Error())
		}
	}

	if uc.events != nil {
		subject := uc.config.EventSubjectPrefix + "." + event.Outcome
		if pubErr := uc.events.PublishEvent(ctx, subject, event); pubErr != nil {
			uc.logger.Warn("Failed to publish capture event", "subject", subject, "error", pubErr.Error())
		}
	}
}

func captureMetrics(event port.CaptureEvent, duration time.Duration) []port.MetricDatum {
	now := event.OccurredAt
	dimensions := map[string]string{"Outcome": event.Outcome}
	if event.Category != "" {
		dimensions["Category"] = event.Category
	}

	data := []port.MetricDatum{
		{Name: "CaptureDuration", Value: float64(duration.Milliseconds()), Unit: "ms", Dimensions: dimensions, Timestamp: now},
		{Name: "CaptureCount", Value: 1, Unit: "count", Dimensions: dimensions, Timestamp: now},
	}
	if event.Bytes > 0 {
		data = append(data, port.MetricDatum{
			Name:       "CaptureBytes",
			Value:      float64(event.Bytes),
			Unit:       "bytes",
			Dimensions: map[string]string{"Format": event.Format},
			Timestamp:  now,
		})
	}
	return data
}
