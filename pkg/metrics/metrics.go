package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapviewer_tile_requests_total",
		Help: "Total number of tile factory lookups",
	}, []string{"priority"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapviewer_cache_hits_total",
		Help: "Total number of cache hits by tier",
	}, []string{"tier"})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapviewer_cache_misses_total",
		Help: "Total number of lookups that missed every cache tier",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapviewer_cache_evictions_total",
		Help: "Total number of entries evicted from the memory tier",
	})

	CacheWriteThroughErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapviewer_cache_write_through_errors_total",
		Help: "Total number of evicted entries the durable tier failed to store",
	})

	FetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapviewer_fetch_attempts_total",
		Help: "Total number of upstream tile fetch attempts",
	})

	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapviewer_fetch_failures_total",
		Help: "Total number of failed fetch attempts; kind is attempt or exhausted",
	}, []string{"kind"})

	FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapviewer_fetch_latency_seconds",
		Help:    "Latency of single upstream tile fetch attempts in seconds",
		Buckets: prometheus.DefBuckets,
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapviewer_fetch_queue_depth",
		Help: "Number of tiles waiting in the fetch queue",
	})
)
