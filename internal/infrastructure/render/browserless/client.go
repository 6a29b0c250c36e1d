package browserless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dreschagin/screenshot-api/internal/application/port"
	"github.com/dreschagin/screenshot-api/internal/domain/capture"
	"github.com/dreschagin/screenshot-api/pkg/logger"
)

const (
	screenshotPath = "/screenshot"

	defaultMaxResponseBytes = 25 * 1024 * 1024
)

// Config configures the Browserless client.
type Config struct {
	// Timeout bounds a single render call. Zero leaves the deadline to the request context.
	Timeout time.Duration

	// MaxResponseBytes caps the image payload read into memory.
	MaxResponseBytes int64
}

// Client calls the Browserless screenshot endpoint.
type Client struct {
	httpClient       *http.Client
	maxResponseBytes int64
	logger           *logger.Logger
}

type screenshotPayload struct {
	URL                string            `json:"url"`
	Options            screenshotOptions `json:"options"`
	Viewport           capture.Viewport  `json:"viewport"`
	BlockConsentModals bool              `json:"blockConsentModals"`
}

type screenshotOptions struct {
	FullPage bool   `json:"fullPage"`
	Type     string `json:"type"`
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	return NewClientWithHTTP(&http.Client{Timeout: cfg.Timeout}, cfg, log)
}

// NewClientWithHTTP allows injecting a custom transport.
func NewClientWithHTTP(httpClient *http.Client, cfg Config, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if log == nil {
		log = logger.New("error")
	}

	return &Client{
		httpClient:       httpClient,
		maxResponseBytes: cfg.MaxResponseBytes,
		logger:           log,
	}
}

// Capture renders req through Browserless. The backend always produces PNG; conversion
// to the requested image type is left to the storage backend.
func (c *Client) Capture(ctx context.Context, req capture.Request, creds port.RenderCredentials) (*port.RenderResult, error) {
	endpoint, err := buildEndpoint(creds)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(screenshotPayload{
		URL: req.URL,
		Options: screenshotOptions{
			FullPage: req.FullPage,
			Type:     "png",
		},
		Viewport:           req.Viewport,
		BlockConsentModals: req.BlockConsentModals,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode browserless payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build browserless request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startedAt := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("browserless request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, c.maxResponseBytes)
	if err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &port.RenderError{StatusCode: resp.StatusCode, Details: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("failed to read browserless response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		details := strings.TrimSpace(string(body))
		if details == "" {
			details = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("Browserless returned non-success status",
			"status", resp.StatusCode,
			"url", req.URL,
		)
		return nil, &port.RenderError{StatusCode: resp.StatusCode, Details: details}
	}

	duration := time.Since(startedAt)
	c.logger.Debug("Browserless render completed",
		"url", req.URL,
		"bytes", len(body),
		"duration_ms", duration.Milliseconds(),
	)

	return &port.RenderResult{
		Data:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    duration,
	}, nil
}

// buildEndpoint joins the base URL and the screenshot path, then attaches the token.
func buildEndpoint(creds port.RenderCredentials) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if base == "" || strings.TrimSpace(creds.Token) == "" {
		return "", fmt.Errorf("browserless base url and token are required")
	}

	parsed, err := url.Parse(base + screenshotPath)
	if err != nil {
		return "", fmt.Errorf("invalid browserless base url: %w", err)
	}

	query := parsed.Query()
	query.Set("token", creds.Token)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes: %w", limit, io.ErrUnexpectedEOF)
	}
	return data, nil
}
