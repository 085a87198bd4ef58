package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncIndexProcessed counts one finished index by terminal status
	// (sampled, matched, failure, skipped).
	IncIndexProcessed(status string)

	// IncPatchesSaved counts persisted per-scene patch sets.
	IncPatchesSaved(n int)

	// IncOverlapRejected counts candidates rejected by the overlap index.
	IncOverlapRejected()

	// IncRetries counts full resample-and-retry rounds.
	IncRetries()

	// ObserveResolveDuration records one catalog resolution round trip.
	ObserveResolveDuration(d time.Duration)

	// ObserveExtractDuration records one pixel fetch and crop.
	ObserveExtractDuration(d time.Duration)

	// SetAcceptedPoints publishes the current overlap index size.
	SetAcceptedPoints(n int)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncIndexProcessed implements MetricsCollector.
func (n *NoOpMetrics) IncIndexProcessed(_ string) {}

// IncPatchesSaved implements MetricsCollector.
func (n *NoOpMetrics) IncPatchesSaved(_ int) {}

// IncOverlapRejected implements MetricsCollector.
func (n *NoOpMetrics) IncOverlapRejected() {}

// IncRetries implements MetricsCollector.
func (n *NoOpMetrics) IncRetries() {}

// ObserveResolveDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveResolveDuration(_ time.Duration) {}

// ObserveExtractDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveExtractDuration(_ time.Duration) {}

// SetAcceptedPoints implements MetricsCollector.
func (n *NoOpMetrics) SetAcceptedPoints(_ int) {}
