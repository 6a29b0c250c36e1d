package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreschagin/screenshot-api/internal/application/dto"
	"github.com/dreschagin/screenshot-api/internal/application/port"
	"github.com/dreschagin/screenshot-api/internal/application/usecase"
	"github.com/dreschagin/screenshot-api/internal/domain/capture"
	"github.com/dreschagin/screenshot-api/internal/infrastructure/observability/metrics"
	"github.com/dreschagin/screenshot-api/internal/infrastructure/render/browserless"
	"github.com/dreschagin/screenshot-api/internal/interfaces/http/handler"
	"github.com/dreschagin/screenshot-api/pkg/config"
	"github.com/dreschagin/screenshot-api/pkg/logger"
)

const testToken = "test-token"

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// fakeBrowserless records every /screenshot call and answers with a canned response.
type fakeBrowserless struct {
	calls  atomic.Int32
	mu     sync.Mutex
	bodies []map[string]interface{}
	token  string
	status int
	reply  []byte
}

func newFakeBrowserless(t *testing.T, status int, reply []byte) (*fakeBrowserless, *httptest.Server) {
	t.Helper()
	fake := &fakeBrowserless{status: status, reply: reply}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fake.calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)

		fake.mu.Lock()
		fake.bodies = append(fake.bodies, body)
		fake.token = r.URL.Query().Get("token")
		fake.mu.Unlock()

		w.WriteHeader(fake.status)
		_, _ = w.Write(fake.reply)
	}))
	t.Cleanup(server.Close)
	return fake, server
}

type memoryAssetStorage struct {
	mu    sync.Mutex
	calls int
	data  [][]byte
	err   error
	panic bool
}

func (s *memoryAssetStorage) Store(_ context.Context, data []byte, imageType capture.ImageType) (*capture.PersistedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panic {
		panic("storage exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	s.data = append(s.data, data)
	return &capture.PersistedAsset{
		URL:    "https://res.cloudinary.com/demo/image/upload/v1/screenshots/e2e." + imageType.Extension(),
		Width:  1366,
		Height: 2048,
		Bytes:  len(data) * 10,
		ID:     "screenshots/e2e",
		Format: imageType.Extension(),
	}, nil
}

type denyAfterLimiter struct {
	mu      sync.Mutex
	allowed int
	seen    int
}

func (l *denyAfterLimiter) Allow(context.Context, string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen++
	return l.seen <= l.allowed, nil
}

type serverOptions struct {
	render      usecase.RenderConfig
	storage     port.AssetStorage
	security    config.SecurityConfig
	limiter     port.RateLimiter
	maxBody     int64
	readyChecks map[string]ReadinessCheck
}

func newTestServer(t *testing.T, opts serverOptions) *httptest.Server {
	t.Helper()

	log := logger.New("error")
	registry := prometheus.NewRegistry()
	promMetrics := metrics.New(registry)

	renderer := browserless.NewClient(browserless.Config{}, log)
	captureUC := usecase.NewCaptureScreenshotUseCase(
		renderer,
		opts.storage,
		promMetrics,
		nil,
		nil,
		usecase.CaptureScreenshotConfig{Render: opts.render},
		log,
	)
	captureAPIHandler := handler.NewCaptureAPIHandler(captureUC, opts.maxBody, log)

	router := NewRouter(captureAPIHandler, opts.limiter, promMetrics, registry, opts.security, log)
	for name, check := range opts.readyChecks {
		router.AddReadinessCheck(name, check)
	}

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)
	return server
}

func TestE2EHealthEndpoints(t *testing.T) {
	server := newTestServer(t, serverOptions{storage: &memoryAssetStorage{}})

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestE2EReadinessFailure(t *testing.T) {
	server := newTestServer(t, serverOptions{
		storage: &memoryAssetStorage{},
		readyChecks: map[string]ReadinessCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	})

	resp := doRequest(t, server.Client(), http.MethodGet, server.URL+"/readyz", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestE2ECaptureSuccess(t *testing.T) {
	fake, browserlessServer := newFakeBrowserless(t, http.StatusOK, pngSignature)
	storage := &memoryAssetStorage{}
	server := newTestServer(t, serverOptions{
		render:  usecase.RenderConfig{BaseURL: browserlessServer.URL, Token: "secret token"},
		storage: storage,
	})

	for _, path := range []string{"/api/screenshot", "/api/v1/screenshots"} {
		resp := doRequest(t, server.Client(), http.MethodPost, server.URL+path, bytes.NewBufferString(`{"url":"https://example.com"}`), map[string]string{
			"Content-Type": "application/json",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		if resp.Header.Get("X-Request-Id") == "" {
			t.Fatalf("%s: expected request id header", path)
		}

		var payload dto.CaptureResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		resp.Body.Close()

		if payload.URL == "" || payload.PublicID != "screenshots/e2e" || payload.Format != "png" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		// bytes are reported by storage, not measured from the render
		if payload.Bytes != len(pngSignature)*10 || payload.Width != 1366 || payload.Height != 2048 {
			t.Fatalf("unexpected dimensions or size: %+v", payload)
		}
	}

	if fake.calls.Load() != 2 || storage.calls != 2 {
		t.Fatalf("expected 2 renders and 2 stores, got %d and %d", fake.calls.Load(), storage.calls)
	}
	if fake.token != "secret token" {
		t.Fatalf("unexpected token: %q", fake.token)
	}

	body := fake.bodies[0]
	if body["url"] != "https://example.com" || body["blockConsentModals"] != true {
		t.Fatalf("unexpected browserless body: %v", body)
	}
	viewport, _ := body["viewport"].(map[string]interface{})
	if viewport["width"] != float64(1366) || viewport["height"] != float64(768) {
		t.Fatalf("expected default viewport, got %v", body["viewport"])
	}
	options, _ := body["options"].(map[string]interface{})
	if options["fullPage"] != true || options["type"] != "png" {
		t.Fatalf("unexpected options: %v", body["options"])
	}
}

func TestE2ECaptureFailures(t *testing.T) {
	tests := []struct {
		name            string
		body            string
		render          func(url string) usecase.RenderConfig
		browserStatus   int
		browserReply    string
		storage         *memoryAssetStorage
		wantStatus      int
		wantError       string
		wantDetails     string
		wantCategory    string
		wantRenderCalls int32
		wantStoreCalls  int
	}{
		{
			name:          "missing browserless token",
			body:          `{"url":"https://example.com"}`,
			render:        func(url string) usecase.RenderConfig { return usecase.RenderConfig{BaseURL: url} },
			browserStatus: http.StatusOK,
			storage:       &memoryAssetStorage{},
			wantStatus:    http.StatusInternalServerError,
			wantError:     "Browserless configuration missing",
			wantCategory:  "configuration",
		},
		{
			name:            "browserless rejects",
			body:            `{"url":"https://example.com"}`,
			render:          validRender,
			browserStatus:   http.StatusInternalServerError,
			browserReply:    "boom",
			storage:         &memoryAssetStorage{},
			wantStatus:      http.StatusBadGateway,
			wantError:       "Browserless failed",
			wantDetails:     "boom",
			wantCategory:    "upstream_service",
			wantRenderCalls: 1,
		},
		{
			name:            "browserless rejects with empty body",
			body:            `{"url":"https://example.com"}`,
			render:          validRender,
			browserStatus:   http.StatusServiceUnavailable,
			storage:         &memoryAssetStorage{},
			wantStatus:      http.StatusBadGateway,
			wantError:       "Browserless failed",
			wantDetails:     "Service Unavailable",
			wantCategory:    "upstream_service",
			wantRenderCalls: 1,
		},
		{
			name:          "invalid url",
			body:          `{"url":"not-a-url"}`,
			render:        validRender,
			browserStatus: http.StatusOK,
			storage:       &memoryAssetStorage{},
			wantStatus:    http.StatusInternalServerError,
			wantError:     "Unexpected server error",
			wantDetails:   "invalid url",
			wantCategory:  "client_input",
		},
		{
			name:          "viewport too small",
			body:          `{"url":"https://example.com","viewport":{"width":100,"height":768}}`,
			render:        validRender,
			browserStatus: http.StatusOK,
			storage:       &memoryAssetStorage{},
			wantStatus:    http.StatusInternalServerError,
			wantError:     "Unexpected server error",
			wantDetails:   "viewport.width",
			wantCategory:  "client_input",
		},
		{
			name:          "malformed json",
			body:          `{"url":`,
			render:        validRender,
			browserStatus: http.StatusOK,
			storage:       &memoryAssetStorage{},
			wantStatus:    http.StatusInternalServerError,
			wantError:     "Unexpected server error",
			wantDetails:   "malformed request body",
			wantCategory:  "internal",
		},
		{
			name:          "trailing data after json",
			body:          `{"url":"https://example.com"} not json`,
			render:        validRender,
			browserStatus: http.StatusOK,
			browserReply:  string(pngSignature),
			storage:       &memoryAssetStorage{},
			wantStatus:    http.StatusInternalServerError,
			wantError:     "Unexpected server error",
			wantDetails:   "malformed request body",
			wantCategory:  "internal",
		},
		{
			name:          "concatenated json values",
			body:          `{"url":"https://example.com"}{"url":"ftp://x"}`,
			render:        validRender,
			browserStatus: http.StatusOK,
			browserReply:  string(pngSignature),
			storage:       &memoryAssetStorage{},
			wantStatus:    http.StatusInternalServerError,
			wantError:     "Unexpected server error",
			wantDetails:   "malformed request body",
			wantCategory:  "internal",
		},
		{
			name:            "storage rejects",
			body:            `{"url":"https://example.com","imageType":"jpeg"}`,
			render:          validRender,
			browserStatus:   http.StatusOK,
			browserReply:    string(pngSignature),
			storage:         &memoryAssetStorage{err: &port.PersistenceError{Backend: "cloudinary", Err: errors.New("Invalid Signature")}},
			wantStatus:      http.StatusInternalServerError,
			wantError:       "Unexpected server error",
			wantDetails:     "Invalid Signature",
			wantCategory:    "upstream_service",
			wantRenderCalls: 1,
			wantStoreCalls:  1,
		},
		{
			name:            "storage panics",
			body:            `{"url":"https://example.com"}`,
			render:          validRender,
			browserStatus:   http.StatusOK,
			browserReply:    string(pngSignature),
			storage:         &memoryAssetStorage{panic: true},
			wantStatus:      http.StatusInternalServerError,
			wantError:       "Unexpected server error",
			wantDetails:     "storage exploded",
			wantCategory:    "internal",
			wantRenderCalls: 1,
			wantStoreCalls:  1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake, browserlessServer := newFakeBrowserless(t, tc.browserStatus, []byte(tc.browserReply))
			server := newTestServer(t, serverOptions{
				render:  tc.render(browserlessServer.URL),
				storage: tc.storage,
			})

			resp := doRequest(t, server.Client(), http.MethodPost, server.URL+"/api/screenshot", bytes.NewBufferString(tc.body), map[string]string{
				"Content-Type": "application/json",
			})
			defer resp.Body.Close()

			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, resp.StatusCode)
			}
			if got := resp.Header.Get("X-Error-Category"); got != tc.wantCategory {
				t.Fatalf("expected category %q, got %q", tc.wantCategory, got)
			}

			var envelope map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
				t.Fatalf("decode error envelope: %v", err)
			}
			if envelope["error"] != tc.wantError {
				t.Fatalf("expected error %q, got %v", tc.wantError, envelope["error"])
			}
			details, hasDetails := envelope["details"].(string)
			if tc.wantDetails == "" {
				if hasDetails {
					t.Fatalf("expected no details, got %q", details)
				}
			} else if !strings.Contains(details, tc.wantDetails) {
				t.Fatalf("expected details containing %q, got %q", tc.wantDetails, details)
			}

			if fake.calls.Load() != tc.wantRenderCalls {
				t.Fatalf("expected %d browserless calls, got %d", tc.wantRenderCalls, fake.calls.Load())
			}
			if tc.storage.calls != tc.wantStoreCalls {
				t.Fatalf("expected %d storage calls, got %d", tc.wantStoreCalls, tc.storage.calls)
			}
		})
	}
}

func TestE2ECaptureEnvelopeIsExact(t *testing.T) {
	server := newTestServer(t, serverOptions{storage: &memoryAssetStorage{}})

	resp := doRequest(t, server.Client(), http.MethodPost, server.URL+"/api/screenshot", bytes.NewBufferString(`{"url":"https://example.com"}`), nil)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(raw)) != `{"error":"Browserless configuration missing"}` {
		t.Fatalf("unexpected body: %s", raw)
	}
}

func TestE2EMethodAndBodyLimits(t *testing.T) {
	server := newTestServer(t, serverOptions{storage: &memoryAssetStorage{}, maxBody: 64})
	client := server.Client()

	resp := doRequest(t, client, http.MethodGet, server.URL+"/api/screenshot", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", resp.Header.Get("Allow"))
	}

	large := `{"url":"https://example.com/` + strings.Repeat("a", 128) + `"}`
	resp = doRequest(t, client, http.MethodPost, server.URL+"/api/screenshot", bytes.NewBufferString(large), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", resp.StatusCode)
	}
}

func TestE2EAuth(t *testing.T) {
	fake, browserlessServer := newFakeBrowserless(t, http.StatusOK, pngSignature)
	server := newTestServer(t, serverOptions{
		render:   validRender(browserlessServer.URL),
		storage:  &memoryAssetStorage{},
		security: config.SecurityConfig{AuthEnabled: true, AuthToken: testToken},
	})
	client := server.Client()

	resp := doRequest(t, client, http.MethodPost, server.URL+"/api/screenshot", bytes.NewBufferString(`{"url":"https://example.com"}`), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = doRequest(t, client, http.MethodPost, server.URL+"/api/screenshot", bytes.NewBufferString(`{"url":"https://example.com"}`), map[string]string{
		"Authorization": "Bearer wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", resp.StatusCode)
	}
	if fake.calls.Load() != 0 {
		t.Fatalf("unauthorized requests must not reach browserless")
	}

	resp = doRequest(t, client, http.MethodPost, server.URL+"/api/screenshot", bytes.NewBufferString(`{"url":"https://example.com"}`), map[string]string{
		"Authorization": "Bearer " + testToken,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	healthResp := doRequest(t, client, http.MethodGet, server.URL+"/healthz", nil, nil)
	healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("health must stay unauthenticated, got %d", healthResp.StatusCode)
	}
}

func TestE2ERateLimit(t *testing.T) {
	fake, browserlessServer := newFakeBrowserless(t, http.StatusOK, pngSignature)
	server := newTestServer(t, serverOptions{
		render:  validRender(browserlessServer.URL),
		storage: &memoryAssetStorage{},
		limiter: &denyAfterLimiter{allowed: 1},
	})
	client := server.Client()

	first := doRequest(t, client, http.MethodPost, server.URL+"/api/screenshot", bytes.NewBufferString(`{"url":"https://example.com"}`), nil)
	first.Body.Close()
	second := doRequest(t, client, http.MethodPost, server.URL+"/api/screenshot", bytes.NewBufferString(`{"url":"https://example.com"}`), nil)
	second.Body.Close()

	if first.StatusCode != http.StatusOK || second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %d then %d", first.StatusCode, second.StatusCode)
	}
	if fake.calls.Load() != 1 {
		t.Fatalf("rate limited request must not reach browserless, got %d calls", fake.calls.Load())
	}

	metricsResp := doRequest(t, client, http.MethodGet, server.URL+"/metrics", nil, nil)
	defer metricsResp.Body.Close()
	raw, _ := io.ReadAll(metricsResp.Body)
	for _, want := range []string{
		"screenshot_ratelimit_dropped_total 1",
		`screenshot_captures_total{category="none",outcome="captured"} 1`,
	} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("expected metrics to contain %q", want)
		}
	}
}

func validRender(url string) usecase.RenderConfig {
	return usecase.RenderConfig{BaseURL: url, Token: "token"}
}

func doRequest(t *testing.T, client *http.Client, method, url string, body *bytes.Buffer, headers map[string]string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body.Bytes())
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}
