// Package xmetrics registers the prometheus series every component
// exposes. Naming and registration idiom follows the teacher's
// prometheus dependency, cross-checked against cuemby-warren's
// pkg/metrics package registration style.
package xmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BlobPutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_blobstore_put_total",
			Help: "Blobstore put operations by resulting status.",
		},
		[]string{"status"},
	)

	BlobGetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_blobstore_get_total",
			Help: "Blobstore get operations by hit/miss.",
		},
		[]string{"result"},
	)

	BlobChunkCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corestore_blobstore_chunk_count",
			Help:    "Number of chunks written per chunked put.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	MappingCacheHitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_bonsaihg_cache_total",
			Help: "Bonsai<->Hg mapping cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corestore_asyncqueue_depth",
			Help: "Async request queue row count by status.",
		},
		[]string{"status"},
	)

	DerivationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corestore_manifest_derive_seconds",
			Help:    "Stack manifest derivation wall time.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	MutationFlushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corestore_mutationstore_flush_total",
			Help: "Mutation store flush calls by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		BlobPutTotal,
		BlobGetTotal,
		BlobChunkCount,
		MappingCacheHitTotal,
		QueueDepth,
		DerivationDuration,
		MutationFlushTotal,
	)
}

// Handler exposes the /metrics scrape endpoint for cmd/corestore.
func Handler() http.Handler {
	return promhttp.Handler()
}
