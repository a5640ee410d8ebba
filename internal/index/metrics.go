package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SizeGauge tracks the number of live index entries.
	SizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "skywatch",
		Subsystem: "index",
		Name:      "size",
		Help:      "Number of live documents in the embedding index",
	})

	// UpsertsTotal counts upsert outcomes (ok, stale, error).
	UpsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skywatch",
		Subsystem: "index",
		Name:      "upserts_total",
		Help:      "Total upsert operations by result",
	}, []string{"result"})

	// RemovalsTotal counts entry removals (expiry or explicit).
	RemovalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skywatch",
		Subsystem: "index",
		Name:      "removals_total",
		Help:      "Total index entry removals",
	})

	// RebuildsTotal counts rebuild outcomes (ok, error).
	RebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skywatch",
		Subsystem: "index",
		Name:      "rebuilds_total",
		Help:      "Total index rebuilds by result",
	}, []string{"result"})

	// RebuildDuration observes rebuild wall time in seconds.
	RebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skywatch",
		Subsystem: "index",
		Name:      "rebuild_duration_seconds",
		Help:      "Duration of index rebuilds",
		Buckets:   prometheus.DefBuckets,
	})

	// SearchesTotal counts similarity searches.
	SearchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skywatch",
		Subsystem: "index",
		Name:      "searches_total",
		Help:      "Total similarity searches served",
	})

	// EmbeddingFailuresTotal counts documents skipped during rebuild
	// because embedding failed.
	EmbeddingFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "skywatch",
		Subsystem: "index",
		Name:      "embedding_failures_total",
		Help:      "Documents skipped during rebuild due to embedding failures",
	})
)
