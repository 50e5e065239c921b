package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apollo_cache_hits_total",
		Help: "Enrichments served from the cache",
	})

	// CacheMisses by reason: absent, expired, invalid
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_cache_misses_total",
		Help: "Enrichment cache misses by reason",
	}, []string{"reason"})

	// CacheStores by outcome: stored, skipped (non-200 response)
	CacheStores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_cache_stores_total",
		Help: "Enrich responses offered to the cache by outcome",
	}, []string{"outcome"})

	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apollo_cache_size_bytes",
		Help: "Bytes written to the enrichment cache",
	})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_cache_errors_total",
		Help: "Redis errors of the enrichment cache by operation",
	}, []string{"operation"}) // get, set, delete
)
