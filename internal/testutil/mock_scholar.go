// Package testutil provides testing utilities for the Semantic Scholar client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock upstream endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockScholar is a configurable mock Semantic Scholar server for testing.
type MockScholar struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockScholar creates a new mock upstream server.
func NewMockScholar() *MockScholar {
	mock := &MockScholar{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockScholar) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockScholar) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockScholar) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockScholar) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockScholar) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetPaperResponse configures the paper lookup endpoint for the given ID.
func (m *MockScholar) SetPaperResponse(paperID string, resp MockResponse) {
	m.SetResponse("/graph/v1/paper/"+paperID, resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockScholar) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// defaultHandler provides a minimal healthy JSON response.
func (m *MockScholar) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// NewPaperResponse creates a 200 OK response with a minimal paper document.
func NewPaperResponse(paperID, title string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"paperId": %q, "title": %q}`, paperID, title),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewSearchResponse creates a 200 OK paper search response with the given
// total and one stub result per title.
func NewSearchResponse(total int, titles ...string) MockResponse {
	body := fmt.Sprintf(`{"total": %d, "offset": 0, "data": [`, total)
	for i, title := range titles {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"paperId": "p%d", "title": %q}`, i, title)
	}
	body += `]}`
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response with a
// Retry-After hint in seconds.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Too Many Requests"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Retry-After":  fmt.Sprintf("%d", retryAfterSeconds),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewNotFoundResponse creates a 404 response for a missing paper or author.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Paper not found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewFlakyHandler fails with 500 for the first failCount requests to the
// path, then serves body with 200. Useful for retry and breaker tests.
func NewFlakyHandler(failCount int, body string) func(w http.ResponseWriter, r *http.Request) {
	var mu sync.Mutex
	var calls int
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n <= failCount {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "Internal server error"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}
