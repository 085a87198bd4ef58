// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	indicesProcessed *prometheus.CounterVec
	patchesSaved     prometheus.Counter
	overlapRejected  prometheus.Counter
	retries          prometheus.Counter
	acceptedPoints   prometheus.Gauge
	resolveDuration  prometheus.Histogram
	extractDuration  prometheus.Histogram
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "terrapatch"
	}

	return &Collector{
		indicesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "indices_processed_total",
				Help:      "Total number of indices driven to a terminal state",
			},
			[]string{"status"},
		),

		patchesSaved: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "patches_saved_total",
				Help:      "Total number of per-window patch sets persisted",
			},
		),

		overlapRejected: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overlap_rejected_total",
				Help:      "Sampled coordinates rejected by the overlap index",
			},
		),

		retries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Resample attempts after a retryable failure",
			},
		),

		acceptedPoints: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "accepted_points",
				Help:      "Coordinates currently held by the overlap index",
			},
		),

		resolveDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Scene resolution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		extractDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extract_duration_seconds",
				Help:      "Patch extraction duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// IncIndexProcessed counts one index reaching a terminal state.
func (c *Collector) IncIndexProcessed(status string) {
	c.indicesProcessed.WithLabelValues(status).Inc()
}

// IncPatchesSaved counts persisted patch sets.
func (c *Collector) IncPatchesSaved(n int) {
	c.patchesSaved.Add(float64(n))
}

// IncOverlapRejected counts one rejected coordinate draw.
func (c *Collector) IncOverlapRejected() {
	c.overlapRejected.Inc()
}

// IncRetries counts one resample attempt.
func (c *Collector) IncRetries() {
	c.retries.Inc()
}

// SetAcceptedPoints sets the overlap index size.
func (c *Collector) SetAcceptedPoints(n int) {
	c.acceptedPoints.Set(float64(n))
}

// ObserveResolveDuration records scene resolution duration.
func (c *Collector) ObserveResolveDuration(d time.Duration) {
	c.resolveDuration.Observe(d.Seconds())
}

// ObserveExtractDuration records patch extraction duration.
func (c *Collector) ObserveExtractDuration(d time.Duration) {
	c.extractDuration.Observe(d.Seconds())
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
