// Package metrics holds the prometheus collectors of the backend.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/engine"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/extract"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/graph"
	"github.com/OFFIS-RIT/maintkg/backend/pkg/query"
)

const namespace = "maintkg"

var (
	// ingestions counts update attempts.
	// Labels: operation (ingest, remove), result (committed, unchanged, or the failed stage)
	ingestions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "updates_total",
		Help:      "Document updates by operation and result",
	}, []string{"operation", "result"})

	ingestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "update_duration_seconds",
		Help:      "Duration of document updates in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"operation"})

	graphVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "version",
		Help:      "Latest committed graph version",
	})

	factChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "fact_changes_total",
		Help:      "Nodes and edges changed by committed updates",
	}, []string{"change"})

	extractionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "extract",
		Name:      "failures_total",
		Help:      "Segments or mentions dropped during extraction",
	}, []string{"level"})

	sinkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "sink_failures_total",
		Help:      "Failed post-commit projections",
	})

	queryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "latency_seconds",
		Help:      "Question answering latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"outcome"})
)

// Hooks returns engine hooks that record every update, answer and
// extraction failure.
func Hooks() engine.Hooks {
	return engine.Hooks{
		OnIngest:            ObserveUpdate,
		OnAnswer:            ObserveAnswer,
		OnExtractionFailure: ObserveExtractionFailure,
	}
}

func ObserveUpdate(r graph.Report, err error) {
	op := string(r.Operation)
	ingestDuration.WithLabelValues(op).Observe(r.Duration.Seconds())
	ingestions.WithLabelValues(op, updateResult(r, err)).Inc()
	if err != nil || !r.Committed {
		return
	}
	graphVersion.Set(float64(r.Version))
	factChanges.WithLabelValues("created").Add(float64(len(r.Created)))
	factChanges.WithLabelValues("reactivated").Add(float64(len(r.Reactivated)))
	factChanges.WithLabelValues("retracted").Add(float64(len(r.Retracted)))
}

func updateResult(r graph.Report, err error) string {
	var uerr *graph.UpdateError
	switch {
	case errors.As(err, &uerr):
		return string(uerr.Stage)
	case err != nil:
		return "error"
	case r.Committed:
		return "committed"
	}
	return "unchanged"
}

func ObserveAnswer(a query.Answer, d time.Duration) {
	outcome := "answered"
	switch {
	case a.Unresolved:
		outcome = "unresolved"
	case a.TimedOut:
		outcome = "timed_out"
	case a.Cached:
		outcome = "cached"
	case len(a.Results) == 0:
		outcome = "empty"
	}
	queryLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func ObserveExtractionFailure(f extract.Failure) {
	level := "segment"
	if f.Mention != "" {
		level = "mention"
	}
	extractionFailures.WithLabelValues(level).Inc()
}

func ObserveSinkFailure(error) {
	sinkFailures.Inc()
}

// SetVersion records the graph version after a restore.
func SetVersion(v int64) {
	graphVersion.Set(float64(v))
}
