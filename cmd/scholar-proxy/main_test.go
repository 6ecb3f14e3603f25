package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scholarly-go/semantic-scholar-client/internal/testutil"
	"github.com/scholarly-go/semantic-scholar-client/pkg/client"
)

func newProxyClient(t *testing.T, mock *testutil.MockScholar) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	cfg.RequestsPerSecond = 1000
	cfg.BurstCapacity = 100
	cfg.Retry = client.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return c
}

func TestHealthHandler(t *testing.T) {
	mock := testutil.NewMockScholar()
	defer mock.Close()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(newProxyClient(t, mock))(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var health client.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if health.CircuitState != "closed" {
		t.Errorf("circuit_state = %s, want closed", health.CircuitState)
	}
}

func TestGetPaperHandler(t *testing.T) {
	mock := testutil.NewMockScholar()
	defer mock.Close()
	mock.SetPaperResponse("abc", testutil.NewPaperResponse("abc", "A Paper"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/papers/{id}", getPaperHandler(newProxyClient(t, mock)))

	req := httptest.NewRequest("GET", "/v1/papers/abc", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "A Paper") {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestGetPaperHandler_NotFound(t *testing.T) {
	mock := testutil.NewMockScholar()
	defer mock.Close()
	mock.SetPaperResponse("missing", testutil.NewNotFoundResponse())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/papers/{id}", getPaperHandler(newProxyClient(t, mock)))

	req := httptest.NewRequest("GET", "/v1/papers/missing", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	var errResp map[string]errorBody
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp["error"].Code != "not_found" {
		t.Errorf("error code = %s, want not_found", errResp["error"].Code)
	}
}

func TestSearchPapersHandler_Validation(t *testing.T) {
	mock := testutil.NewMockScholar()
	defer mock.Close()

	handler := searchPapersHandler(newProxyClient(t, mock))

	tests := []struct {
		name string
		url  string
	}{
		{"empty_query", "/v1/papers/search"},
		{"bad_limit", "/v1/papers/search?query=x&limit=abc"},
		{"bad_offset", "/v1/papers/search?query=x&offset=1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Result().StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Result().StatusCode)
			}
		})
	}
	if mock.GetRequestCount() != 0 {
		t.Error("validation failures must not reach upstream")
	}
}

func TestWriteError_RateLimitedCarriesRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, &client.APIError{
		Kind:       client.KindRateLimited,
		Message:    "upstream rate limit exceeded",
		RetryAfter: 5 * time.Second,
	})

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "5" {
		t.Errorf("Retry-After = %q, want 5", got)
	}

	var errResp map[string]errorBody
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp["error"].RetryAfterSeconds != 5 {
		t.Errorf("retry_after_seconds = %d, want 5", errResp["error"].RetryAfterSeconds)
	}
}

func TestWriteError_CircuitOpenMapsTo503(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, &client.APIError{
		Kind:       client.KindCircuitOpen,
		Message:    "circuit breaker open",
		RetryAfter: 30 * time.Second,
	})

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}
}

func TestBatchHandler(t *testing.T) {
	mock := testutil.NewMockScholar()
	defer mock.Close()
	mock.SetResponse("/graph/v1/paper/batch", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `[{"paperId": "p1"}]`,
	})

	handler := batchHandler(newProxyClient(t, mock))

	req := httptest.NewRequest("POST", "/v1/papers/batch", strings.NewReader(`{"ids": ["p1"]}`))
	w := httptest.NewRecorder()
	handler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "p1") {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestBatchHandler_InvalidJSON(t *testing.T) {
	mock := testutil.NewMockScholar()
	defer mock.Close()

	handler := batchHandler(newProxyClient(t, mock))

	req := httptest.NewRequest("POST", "/v1/papers/batch", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Result().StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mock := testutil.NewMockScholar()
	defer mock.Close()

	// Creating a client registers all promauto metrics.
	newProxyClient(t, mock)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "# HELP") || !strings.Contains(string(body), "# TYPE") {
		t.Error("expected Prometheus format metrics output")
	}
	if !strings.Contains(string(body), "s2_circuit_state") {
		t.Error("expected metrics output to contain s2_circuit_state")
	}
}

func TestSplitParam(t *testing.T) {
	if got := splitParam(""); got != nil {
		t.Errorf("splitParam(\"\") = %v, want nil", got)
	}
	got := splitParam("title,abstract")
	if len(got) != 2 || got[0] != "title" || got[1] != "abstract" {
		t.Errorf("splitParam() = %v", got)
	}
}
