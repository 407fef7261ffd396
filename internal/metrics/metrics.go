// Package metrics exposes Prometheus instrumentation of the pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "segment_recolor"

// Metrics holds the pipeline collectors.
type Metrics struct {
	jobs            *prometheus.CounterVec
	items           *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	conceptFailures prometheus.Counter
	segmentSeconds  prometheus.Histogram
	itemSeconds     prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs processed, by outcome.",
		}, []string{"outcome"}),
		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items processed, by status.",
		}, []string{"status"}),
		callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Callback deliveries, by result.",
		}, []string{"result"}),
		conceptFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concept_segmentation_failures_total",
			Help:      "Concepts whose segmentation failed.",
		}),
		segmentSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "concept_segmentation_seconds",
			Help:      "Duration of one concept segmentation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		itemSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_seconds",
			Help:      "Duration of one item from download to callback.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// JobDone counts a finished job. fatal marks jobs whose setup failed.
func (m *Metrics) JobDone(fatal bool) {
	if m == nil {
		return
	}

	outcome := "completed"
	if fatal {
		outcome = "fatal"
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

// ItemDone records one item outcome.
func (m *Metrics) ItemDone(status string, d time.Duration) {
	if m == nil {
		return
	}

	m.items.WithLabelValues(status).Inc()
	if d > 0 {
		m.itemSeconds.Observe(d.Seconds())
	}
}

// CallbackDone records one callback delivery.
func (m *Metrics) CallbackDone(delivered bool) {
	if m == nil {
		return
	}

	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.callbacks.WithLabelValues(result).Inc()
}

// ConceptSegmented records one segmentation call.
func (m *Metrics) ConceptSegmented(d time.Duration, err error) {
	if m == nil {
		return
	}

	m.segmentSeconds.Observe(d.Seconds())
	if err != nil {
		m.conceptFailures.Inc()
	}
}
