// Package metrics provides the centralized Prometheus metrics registry for
// the Semantic Scholar client. All metrics are defined in their respective
// packages (client, cache, ratelimit, breaker) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - s2_rate_limit_wait_seconds (Histogram): Time spent waiting for a token
//   - s2_rate_limit_timeouts_total (Counter): Acquisitions abandoned because the deadline could not cover the wait
//
// Circuit Breaker Metrics (pkg/breaker):
//   - s2_circuit_state (Gauge): Current state (0=closed, 1=open, 2=half_open)
//   - s2_circuit_transitions_total{to} (Counter): State transitions by target state
//   - s2_circuit_rejections_total (Counter): Calls rejected while the circuit is open
//
// Cache Metrics (pkg/cache):
//   - s2_cache_hits_total{layer} (Counter): Cache hits by backend layer (memory, redis)
//   - s2_cache_misses_total (Counter): Cache misses
//   - s2_cache_evictions_total (Counter): Entries evicted to make room (LRU)
//   - s2_cache_expirations_total (Counter): Entries removed on TTL expiry
//   - s2_cache_entries{layer} (Gauge): Current entry count by backend layer
//   - s2_cache_errors_total{operation} (Counter): Cache backend operation errors
//
// Request Metrics (pkg/client):
//   - s2_requests_total{operation, status} (Counter): Network attempts by operation and HTTP status
//   - s2_request_duration_seconds{operation} (Histogram): Logical call duration by operation
//   - s2_errors_total{kind} (Counter): Classified errors by kind
//
// Retry Metrics (pkg/client):
//   - s2_retries_total{kind} (Counter): Retry attempts by error kind
//   - s2_retry_backoff_seconds{kind} (Histogram): Backoff duration by error kind
//   - s2_retry_give_up_total{kind,reason} (Counter): Calls abandoned after a retryable failure (budget or deadline)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(s2_cache_hits_total[5m])) /
//   (sum(rate(s2_cache_hits_total[5m])) + sum(rate(s2_cache_misses_total[5m])))
//
//   # Circuit Open
//   s2_circuit_state == 1
//
//   # Request Error Rate
//   rate(s2_errors_total[5m])
//
//   # P95 Call Latency
//   histogram_quantile(0.95, rate(s2_request_duration_seconds_bucket[5m]))
//
//   # Retry Pressure
//   rate(s2_retries_total[5m]) / rate(s2_requests_total[5m])
