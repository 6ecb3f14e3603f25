package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s2_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"layer"}, // "memory", "redis"
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "s2_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	cacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "s2_cache_evictions_total",
			Help: "Total number of LRU evictions",
		},
	)

	cacheExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "s2_cache_expirations_total",
			Help: "Total number of entries dropped on expiry",
		},
	)

	cacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "s2_cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"layer"},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s2_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
