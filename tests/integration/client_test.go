package integration

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/scholarly-go/semantic-scholar-client/internal/testutil"
	"github.com/scholarly-go/semantic-scholar-client/pkg/cache"
	"github.com/scholarly-go/semantic-scholar-client/pkg/client"
	"github.com/scholarly-go/semantic-scholar-client/pkg/logging"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	// testcontainers panics (rather than returning an error) when no Docker
	// host can be discovered; translate that into the same skip as below.
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Failed to start Redis container (no Docker?): %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start Redis container (no Docker?): %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// newClient builds a client against the mock upstream, optionally backed by
// a shared Redis cache.
func newClient(t *testing.T, mock *testutil.MockScholar, store cache.Store, mutate func(*client.Config)) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	cfg.Store = store
	cfg.RequestsPerSecond = 1000
	cfg.BurstCapacity = 100
	cfg.Retry = client.RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

// TestFullRequestFlow exercises the complete pipeline with a Redis cache
// backend: cache miss, upstream fetch, cache populate, cache hit.
func TestFullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockScholar()
	defer mock.Close()
	mock.SetPaperResponse("abc", testutil.NewPaperResponse("abc", "A Paper"))

	store := cache.NewRedisStore(redisClient, logging.NewLogger("integration"))
	c := newClient(t, mock, store, nil)

	ctx := context.Background()

	t.Log("Request 1: full flow - cache miss")
	payload1, err := c.GetPaper(ctx, "abc", client.GetPaperOptions{})
	if err != nil {
		t.Fatalf("Request 1 failed: %v", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("After request 1: upstream requests = %d, want 1", mock.GetRequestCount())
	}

	t.Log("Request 2: served from shared Redis cache")
	payload2, err := c.GetPaper(ctx, "abc", client.GetPaperOptions{})
	if err != nil {
		t.Fatalf("Request 2 failed: %v", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("After request 2: upstream requests = %d, want 1 (cache hit)", mock.GetRequestCount())
	}
	if string(payload1) != string(payload2) {
		t.Error("Cached payload differs from original")
	}
}

// TestSharedCacheAcrossClients verifies two client instances share one
// Redis-backed response cache.
func TestSharedCacheAcrossClients(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockScholar()
	defer mock.Close()
	mock.SetPaperResponse("abc", testutil.NewPaperResponse("abc", "A Paper"))

	store := cache.NewRedisStore(redisClient, logging.NewLogger("integration"))
	c1 := newClient(t, mock, store, nil)
	c2 := newClient(t, mock, store, nil)

	ctx := context.Background()

	if _, err := c1.GetPaper(ctx, "abc", client.GetPaperOptions{}); err != nil {
		t.Fatalf("First client request failed: %v", err)
	}
	if _, err := c2.GetPaper(ctx, "abc", client.GetPaperOptions{}); err != nil {
		t.Fatalf("Second client request failed: %v", err)
	}

	if mock.GetRequestCount() != 1 {
		t.Errorf("Upstream requests = %d, want 1 (second client hits shared cache)", mock.GetRequestCount())
	}
}

// TestCacheExpiration verifies expired Redis entries are refetched.
func TestCacheExpiration(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockScholar()
	defer mock.Close()
	mock.SetPaperResponse("abc", testutil.NewPaperResponse("abc", "A Paper"))

	store := cache.NewRedisStore(redisClient, logging.NewLogger("integration"))
	c := newClient(t, mock, store, func(cfg *client.Config) {
		cfg.CacheTTL = 500 * time.Millisecond
	})

	ctx := context.Background()

	if _, err := c.GetPaper(ctx, "abc", client.GetPaperOptions{}); err != nil {
		t.Fatalf("First request failed: %v", err)
	}

	time.Sleep(700 * time.Millisecond)

	if _, err := c.GetPaper(ctx, "abc", client.GetPaperOptions{}); err != nil {
		t.Fatalf("Request after expiry failed: %v", err)
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("Upstream requests = %d, want 2 (entry expired)", mock.GetRequestCount())
	}
}

// TestRetryThenBreakerOpens drives the full failure path: 5xx responses
// exhaust the retry budget, accumulate breaker failures, and eventually the
// circuit opens and fails fast.
func TestRetryThenBreakerOpens(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockScholar()
	defer mock.Close()
	mock.SetPaperResponse("abc", testutil.NewServerErrorResponse())

	store := cache.NewRedisStore(redisClient, logging.NewLogger("integration"))
	c := newClient(t, mock, store, func(cfg *client.Config) {
		cfg.Retry.MaxAttempts = 3
		cfg.FailureThreshold = 3
	})

	ctx := context.Background()

	// One call makes three attempts, each a breaker failure. The circuit
	// opens mid-call once the threshold is reached.
	_, err := c.GetPaper(ctx, "abc", client.GetPaperOptions{})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetPaper() error = %v, want *APIError", err)
	}
	if apiErr.Kind != client.KindServiceUnavailable {
		t.Errorf("kind = %s, want service_unavailable", apiErr.Kind)
	}
	if got := c.HealthCheck().CircuitState; got != "open" {
		t.Fatalf("circuit state = %s, want open", got)
	}

	upstreamCalls := mock.GetRequestCount()

	// The next call fails fast without touching the upstream.
	_, err = c.GetPaper(ctx, "abc", client.GetPaperOptions{})
	if !errors.As(err, &apiErr) || apiErr.Kind != client.KindCircuitOpen {
		t.Fatalf("GetPaper() error = %v, want circuit_open", err)
	}
	if mock.GetRequestCount() != upstreamCalls {
		t.Errorf("Upstream requests grew from %d to %d while circuit open", upstreamCalls, mock.GetRequestCount())
	}
}

// TestRetrySucceedsAfterTransientFailure verifies 5xx responses are retried
// and the final success is cached.
func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockScholar()
	defer mock.Close()
	mock.SetHandler("/graph/v1/paper/abc", testutil.NewFlakyHandler(2, `{"paperId": "abc", "title": "A Paper"}`))

	store := cache.NewRedisStore(redisClient, logging.NewLogger("integration"))
	c := newClient(t, mock, store, nil)

	ctx := context.Background()

	if _, err := c.GetPaper(ctx, "abc", client.GetPaperOptions{}); err != nil {
		t.Fatalf("Request failed after retries: %v", err)
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("Upstream requests = %d, want 3 (two failures, one success)", mock.GetRequestCount())
	}

	// The retried success was cached.
	if _, err := c.GetPaper(ctx, "abc", client.GetPaperOptions{}); err != nil {
		t.Fatalf("Cached request failed: %v", err)
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("Upstream requests = %d, want 3 (repeat call hits cache)", mock.GetRequestCount())
	}
}

// TestNotFoundNotRetried verifies 404 responses fail once without retries.
func TestNotFoundNotRetried(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockScholar()
	defer mock.Close()
	mock.SetPaperResponse("missing", testutil.NewNotFoundResponse())

	store := cache.NewRedisStore(redisClient, logging.NewLogger("integration"))
	c := newClient(t, mock, store, nil)

	_, err := c.GetPaper(context.Background(), "missing", client.GetPaperOptions{})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != client.KindNotFound {
		t.Fatalf("GetPaper() error = %v, want not_found", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Upstream requests = %d, want 1 (no retries for 404)", mock.GetRequestCount())
	}
}

// TestErrorsNeverCached verifies a failed lookup does not poison the cache.
func TestErrorsNeverCached(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockScholar()
	defer mock.Close()
	mock.SetHandler("/graph/v1/paper/abc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "Paper not found"}`))
	})

	store := cache.NewRedisStore(redisClient, logging.NewLogger("integration"))
	c := newClient(t, mock, store, nil)

	ctx := context.Background()

	if _, err := c.GetPaper(ctx, "abc", client.GetPaperOptions{}); err == nil {
		t.Fatal("expected error for 404 response")
	}

	// Upstream recovers; the next call must reach it rather than replay a
	// cached failure.
	mock.SetPaperResponse("abc", testutil.NewPaperResponse("abc", "A Paper"))
	payload, err := c.GetPaper(ctx, "abc", client.GetPaperOptions{})
	if err != nil {
		t.Fatalf("GetPaper() after recovery error = %v", err)
	}
	if len(payload) == 0 {
		t.Error("expected fresh payload after upstream recovery")
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("Upstream requests = %d, want 2", mock.GetRequestCount())
	}
}
