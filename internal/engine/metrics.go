package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PushesTotal counts ingestion pushes by kind and result
	// (ok, invalid, error).
	PushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skywatch",
		Subsystem: "engine",
		Name:      "pushes_total",
		Help:      "Ingestion pushes by kind and result",
	}, []string{"kind", "result"})

	// QueriesTotal counts answered queries by outcome
	// (ok, degraded, insufficient).
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skywatch",
		Subsystem: "engine",
		Name:      "queries_total",
		Help:      "Queries answered by outcome",
	}, []string{"result"})

	// QueryDuration observes end-to-end query latency in seconds.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skywatch",
		Subsystem: "engine",
		Name:      "query_duration_seconds",
		Help:      "End-to-end query latency",
		Buckets:   prometheus.DefBuckets,
	})
)
