// Package client provides the resilient Semantic Scholar API client: a
// token-bucket rate limiter, a circuit breaker, a TTL/LRU response cache,
// and a backoff retry policy composed around a single outbound call path.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scholarly-go/semantic-scholar-client/pkg/breaker"
	"github.com/scholarly-go/semantic-scholar-client/pkg/cache"
	"github.com/scholarly-go/semantic-scholar-client/pkg/ratelimit"
)

// Prometheus metrics for API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "s2_requests_total",
		Help: "Total API requests by operation and status",
	}, []string{"operation", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "s2_request_duration_seconds",
		Help:    "Logical call duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "s2_errors_total",
		Help: "Total classified errors by kind",
	}, []string{"kind"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "s2_retries_total",
		Help: "Total retry attempts by error kind",
	}, []string{"kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "s2_retry_backoff_seconds",
		Help:    "Backoff duration before retries by error kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})

	retryGiveUpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "s2_retry_give_up_total",
		Help: "Total calls abandoned after a retryable failure by error kind and reason (budget or deadline)",
	}, []string{"kind", "reason"})
)

// DefaultBaseURL is the Semantic Scholar API endpoint.
const DefaultBaseURL = "https://api.semanticscholar.org"

// Config holds the client configuration. All knobs are injected here;
// the client never reads environment variables.
type Config struct {
	// BaseURL is the upstream API root.
	BaseURL string

	// APIKey, when set, is sent as the x-api-key header for elevated
	// rate limits.
	APIKey string

	// UserAgent identifies this client to the upstream.
	UserAgent string

	// HTTPClient overrides the default bounded-pool transport (mainly
	// for tests). Its own timeout, if any, is ignored; AttemptTimeout
	// governs each network attempt.
	HTTPClient *http.Client

	// Store overrides the default in-memory LRU response cache.
	Store cache.Store

	// Rate limiting.
	RequestsPerSecond float64
	BurstCapacity     int

	// Circuit breaker.
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenMaxTrials int

	// Response cache.
	CacheSize int
	CacheTTL  time.Duration

	// Retry and deadlines. AttemptTimeout bounds a single network
	// attempt and must be strictly shorter than RequestTimeout, the
	// overall per-call budget the retry loop works within.
	Retry          RetryConfig
	RequestTimeout time.Duration
	AttemptTimeout time.Duration
}

// DefaultConfig returns a configuration suitable for the public
// (unauthenticated) Semantic Scholar rate limits.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		UserAgent:         "semantic-scholar-client/1.0 (github.com/scholarly-go/semantic-scholar-client)",
		RequestsPerSecond: 1,
		BurstCapacity:     3,
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxTrials: 2,
		CacheSize:         1000,
		CacheTTL:          5 * time.Minute,
		Retry:             DefaultRetryConfig(),
		RequestTimeout:    30 * time.Second,
		AttemptTimeout:    10 * time.Second,
	}
}

// Request describes one logical call against the upstream API.
type Request struct {
	// Operation is the logical operation name, used for cache keys,
	// metrics, and logs (e.g., "getPaper").
	Operation string

	// Method and Path form the HTTP call; Path is relative to BaseURL.
	Method string
	Path   string

	// Params is the normalized parameter bag the cache key is derived
	// from. It must capture everything that makes the request distinct.
	Params map[string]string

	// Query is the wire-level query string.
	Query url.Values

	// Body is an optional JSON request body (POST operations).
	Body []byte

	// Cacheable marks the response as eligible for the response cache.
	// Calls carrying enrichment expansions set this to false.
	Cacheable bool
}

// Client is the resilient Semantic Scholar API client. A single instance
// is safe for concurrent use and is intended to be shared per process.
type Client struct {
	httpClient *http.Client
	store      cache.Store
	limiter    *ratelimit.Limiter
	breaker    *breaker.Breaker
	config     Config
	logger     zerolog.Logger
}

// New creates a new client from cfg, filling unset fields from
// DefaultConfig and validating the timeout budget.
func New(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstCapacity <= 0 {
		cfg.BurstCapacity = def.BurstCapacity
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxTrials <= 0 {
		cfg.HalfOpenMaxTrials = def.HalfOpenMaxTrials
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = def.Retry.MaxDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}

	if cfg.AttemptTimeout >= cfg.RequestTimeout {
		return nil, fmt.Errorf("attempt timeout (%v) must be shorter than request timeout (%v)",
			cfg.AttemptTimeout, cfg.RequestTimeout)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 16,
				MaxConnsPerHost:     32,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	store := cfg.Store
	if store == nil {
		store = cache.NewMemoryStore(cfg.CacheSize, cfg.CacheTTL)
	}

	return &Client{
		httpClient: httpClient,
		store:      store,
		limiter:    ratelimit.New(cfg.RequestsPerSecond, cfg.BurstCapacity),
		breaker: breaker.New(breaker.Config{
			FailureThreshold:  cfg.FailureThreshold,
			RecoveryTimeout:   cfg.RecoveryTimeout,
			HalfOpenMaxTrials: cfg.HalfOpenMaxTrials,
		}),
		config: cfg,
		logger: log.With().Str("component", "s2-client").Logger(),
	}, nil
}

// Execute runs one logical call: cache check, then up to MaxAttempts
// rounds of breaker gate, rate limit acquisition, and network attempt.
// Retryable failures are resolved internally; the caller observes either
// the raw JSON payload or a single terminal *APIError.
func (c *Client) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Operation == "" {
		return nil, &APIError{Kind: KindInternal, Message: "operation name is required"}
	}

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(req.Operation).Observe(time.Since(start).Seconds())
	}()

	key := cache.Key{Operation: req.Operation, Params: req.Params}.String()
	if req.Cacheable {
		if value, ok := c.store.Get(ctx, key); ok {
			c.logger.Debug().
				Str("operation", req.Operation).
				Str("cache_key", key).
				Msg("Cache hit")
			return value, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	logger := c.logger.With().
		Str("correlation_id", newCorrelationID()).
		Str("operation", req.Operation).
		Logger()

	var lastErr *APIError
	giveUpReason := "budget"
	for attempt := 1; attempt <= c.config.Retry.MaxAttempts; attempt++ {
		// The breaker gate comes before token acquisition: an open
		// circuit must not consume rate limiter capacity.
		if !c.breaker.Allow() {
			logger.Warn().Int("attempt", attempt).Msg("Circuit open, failing fast")
			errorsTotal.WithLabelValues(string(KindCircuitOpen)).Inc()
			return nil, &APIError{
				Kind:       KindCircuitOpen,
				Message:    "circuit breaker open",
				RetryAfter: c.config.RecoveryTimeout,
			}
		}

		waited, err := c.limiter.Acquire(ctx)
		if err != nil {
			// The wait never reached the network. A half-open trial slot
			// was already claimed, so hand it back.
			c.breaker.RecordNeutral()
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Rate limiter wait aborted")
			errorsTotal.WithLabelValues(string(KindTimeout)).Inc()
			return nil, &APIError{
				Kind:    KindTimeout,
				Message: "rate limiter wait aborted",
				Err:     err,
			}
		}
		if waited > 10*time.Millisecond {
			logger.Debug().Dur("waited", waited).Msg("Throttled by rate limiter")
		}

		payload, apiErr := c.attempt(ctx, req, attempt, logger)
		if apiErr == nil {
			c.breaker.RecordSuccess()
			if req.Cacheable {
				c.store.Put(ctx, key, payload, c.config.CacheTTL)
			}
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return payload, nil
		}

		if apiErr.Kind.countsForBreaker() {
			c.breaker.RecordFailure()
		} else {
			// Client-side and rate-limit errors say nothing about upstream
			// health; release the half-open trial slot if one was held.
			c.breaker.RecordNeutral()
		}
		errorsTotal.WithLabelValues(string(apiErr.Kind)).Inc()
		lastErr = apiErr

		if !apiErr.Retryable() {
			logger.Warn().
				Str("kind", string(apiErr.Kind)).
				Int("status", apiErr.StatusCode).
				Msg("Non-retryable failure")
			return nil, apiErr
		}
		if attempt >= c.config.Retry.MaxAttempts {
			break
		}

		delay := c.config.Retry.Delay(attempt, apiErr.RetryAfter)
		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
			logger.Warn().Dur("backoff", delay).Msg("Backoff would exceed deadline, giving up")
			giveUpReason = "deadline"
			break
		}

		retriesTotal.WithLabelValues(string(apiErr.Kind)).Inc()
		retryBackoffSeconds.WithLabelValues(string(apiErr.Kind)).Observe(delay.Seconds())
		logger.Debug().
			Int("attempt", attempt).
			Str("kind", string(apiErr.Kind)).
			Dur("backoff", delay).
			Msg("Retrying after backoff")

		if err := sleep(ctx, delay); err != nil {
			return nil, &APIError{
				Kind:    KindTimeout,
				Message: "backoff interrupted",
				Err:     err,
			}
		}
	}

	retryGiveUpTotal.WithLabelValues(string(lastErr.Kind), giveUpReason).Inc()
	logger.Warn().
		Str("kind", string(lastErr.Kind)).
		Str("reason", giveUpReason).
		Int("max_attempts", c.config.Retry.MaxAttempts).
		Msg("Giving up on retryable failure")

	return nil, lastErr
}

// attempt performs a single network attempt under AttemptTimeout and
// returns either the response payload or a classified error.
func (c *Client) attempt(ctx context.Context, req Request, attempt int, logger zerolog.Logger) (json.RawMessage, *APIError) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.AttemptTimeout)
	defer cancel()

	target := c.config.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, target, body)
	if err != nil {
		return nil, &APIError{Kind: KindInternal, Message: "build request", Err: err}
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		httpReq.Header.Set("x-api-key", c.config.APIKey)
	}

	logger.Debug().
		Int("attempt", attempt).
		Str("method", req.Method).
		Str("path", req.Path).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		requestsTotal.WithLabelValues(req.Operation, "network_error").Inc()
		return nil, Classify(nil, err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(req.Operation, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, Classify(resp, nil)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		// The connection dropped mid-body; retryable like any other
		// transport failure.
		return nil, Classify(nil, err)
	}

	return payload, nil
}

// Health is a local snapshot of the resilience components' state. It makes
// no network call.
type Health struct {
	CircuitState   string  `json:"circuit_state"`
	RateTokens     float64 `json:"rate_tokens"`
	CacheEntries   int     `json:"cache_entries,omitempty"`
	CacheShared    bool    `json:"cache_shared"`
	MaxAttempts    int     `json:"max_attempts"`
	RequestTimeout string  `json:"request_timeout"`
	AttemptTimeout string  `json:"attempt_timeout"`
}

// HealthCheck reports the current state of the breaker, limiter, and cache.
func (c *Client) HealthCheck() Health {
	h := Health{
		CircuitState:   c.breaker.State().String(),
		RateTokens:     c.limiter.Tokens(),
		MaxAttempts:    c.config.Retry.MaxAttempts,
		RequestTimeout: c.config.RequestTimeout.String(),
		AttemptTimeout: c.config.AttemptTimeout.String(),
	}
	if mem, ok := c.store.(*cache.MemoryStore); ok {
		h.CacheEntries = mem.Len()
	} else {
		h.CacheShared = true
	}
	return h
}

// ResetBreaker forces the circuit breaker back to CLOSED. Intended for
// operational recovery, not routine use.
func (c *Client) ResetBreaker() {
	c.breaker.Reset()
}

// Invalidate removes a cached response for the given operation and params.
func (c *Client) Invalidate(ctx context.Context, operation string, params map[string]string) {
	c.store.Invalidate(ctx, cache.Key{Operation: operation, Params: params}.String())
}

// newCorrelationID returns a short random identifier tying together the
// log lines of one logical call.
func newCorrelationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
