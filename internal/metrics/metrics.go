// Package metrics defines the Prometheus collectors shared by the snapshot
// and extractor packages, and the HTTP handler that serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfeed_poll_cycles_total",
		Help: "Completed poll cycles by outcome.",
	}, []string{"outcome"})

	RecordsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatfeed_records_fetched_total",
		Help: "Source records fetched beyond the cursor.",
	})

	RecordsPersistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatfeed_records_persisted_total",
		Help: "Normalized messages newly written to the local store.",
	})

	RecordsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfeed_records_skipped_total",
		Help: "Fetched records dropped before persistence, by reason.",
	}, []string{"reason"})

	DecodeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatfeed_decode_total",
		Help: "Text recovery outcomes by winning strategy.",
	}, []string{"strategy"})

	SnapshotCopiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatfeed_snapshot_copies_total",
		Help: "Fresh snapshot copies taken of the source database.",
	})

	SnapshotCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatfeed_snapshot_cache_hits_total",
		Help: "Snapshot requests served from the cached copy.",
	})

	SnapshotCopySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatfeed_snapshot_copy_seconds",
		Help:    "Wall time of snapshot copy plus validation.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
