// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics provides Prometheus metrics for reconciliation runs.
// A Recorder owns its registry so that runs and tests do not share state;
// a batch run writes the registry to a textfile when it finishes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "registry_reconciler"

// Recorder holds the metrics for one run. All methods are safe to call on
// a nil *Recorder, which records nothing.
type Recorder struct {
	reg *prometheus.Registry

	// PagesFetched tracks pages retrieved successfully.
	PagesFetched prometheus.Counter

	// FetchRetries tracks retries by cause ("503" or "network").
	FetchRetries *prometheus.CounterVec

	// FetchFailures tracks aborted fetches by kind ("incomplete" or "failed").
	FetchFailures *prometheus.CounterVec

	// PageDuration tracks the duration of page requests, retries included.
	PageDuration prometheus.Histogram

	// RecordsFetched tracks raw records retrieved.
	RecordsFetched prometheus.Counter

	// RecordsRejected tracks raw records rejected during normalization.
	RecordsRejected prometheus.Counter

	// EdgesDropped tracks unresolved relationship references by edge kind.
	EdgesDropped *prometheus.CounterVec

	// EntitiesExcluded tracks excluded entities by reason.
	EntitiesExcluded *prometheus.CounterVec

	// MatchOutcomes tracks authority matching outcomes
	// ("matched", "contested", "no_match", "ambiguous").
	MatchOutcomes *prometheus.CounterVec

	// Changes tracks change records by kind.
	Changes *prometheus.CounterVec
}

// NewRecorder creates a Recorder registered on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		PagesFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "pages_total",
			Help:      "Total number of pages fetched",
		}),
		FetchRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Total number of page retries by cause",
		}, []string{"cause"}),
		FetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "failures_total",
			Help:      "Total number of aborted fetches by kind",
		}, []string{"kind"}),
		PageDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "page_duration_seconds",
			Help:      "Duration of page requests in seconds, retries included",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		RecordsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "records_total",
			Help:      "Total number of raw records fetched",
		}),
		RecordsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalize",
			Name:      "records_rejected_total",
			Help:      "Total number of raw records rejected for missing fields",
		}),
		EdgesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalize",
			Name:      "edges_dropped_total",
			Help:      "Total number of unresolved relationship references by kind",
		}, []string{"kind"}),
		EntitiesExcluded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "entities_excluded_total",
			Help:      "Total number of excluded entities by reason",
		}, []string{"reason"}),
		MatchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "match",
			Name:      "outcomes_total",
			Help:      "Total number of authority matching outcomes",
		}, []string{"outcome"}),
		Changes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "diff",
			Name:      "changes_total",
			Help:      "Total number of change records by kind",
		}, []string{"kind"}),
	}
}

// Registry returns the registry the Recorder's metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Page records one successfully fetched page.
func (r *Recorder) Page(records int, d time.Duration) {
	if r == nil {
		return
	}
	r.PagesFetched.Inc()
	r.RecordsFetched.Add(float64(records))
	r.PageDuration.Observe(d.Seconds())
}

// Retry records one page retry.
func (r *Recorder) Retry(cause string) {
	if r == nil {
		return
	}
	r.FetchRetries.WithLabelValues(cause).Inc()
}

// FetchFailure records an aborted fetch.
func (r *Recorder) FetchFailure(kind string) {
	if r == nil {
		return
	}
	r.FetchFailures.WithLabelValues(kind).Inc()
}

// Rejected records raw records rejected during normalization.
func (r *Recorder) Rejected(n int) {
	if r == nil {
		return
	}
	r.RecordsRejected.Add(float64(n))
}

// DroppedEdges records unresolved references for one edge kind.
func (r *Recorder) DroppedEdges(kind string, n int) {
	if r == nil {
		return
	}
	r.EdgesDropped.WithLabelValues(kind).Add(float64(n))
}

// Excluded records excluded entities for one reason.
func (r *Recorder) Excluded(reason string, n int) {
	if r == nil {
		return
	}
	r.EntitiesExcluded.WithLabelValues(reason).Add(float64(n))
}

// MatchOutcome records n matching outcomes of one kind.
func (r *Recorder) MatchOutcome(outcome string, n int) {
	if r == nil {
		return
	}
	r.MatchOutcomes.WithLabelValues(outcome).Add(float64(n))
}

// Change records n change records of one kind.
func (r *Recorder) Change(kind string, n int) {
	if r == nil {
		return
	}
	r.Changes.WithLabelValues(kind).Add(float64(n))
}

// WriteTextfile writes all metrics in the Prometheus text format to path,
// for collection by a node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
