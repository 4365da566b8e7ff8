package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID indexes one counter in the metrics block.
type MetricID uint16

const (
	// MetricSessionStarted counts sessions opened via StartSession.
	MetricSessionStarted MetricID = iota
	// MetricSessionTerminated counts sessions terminated for any reason.
	MetricSessionTerminated
	// MetricSessionDisplaced counts sessions removed by the concurrency
	// policy.
	MetricSessionDisplaced
	// MetricSessionLimitRejected counts logins rejected by the concurrency
	// policy.
	MetricSessionLimitRejected
	// MetricRefreshSuccess counts successful token rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts refreshes rejected for any reason.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts confirmed refresh token replays.
	MetricRefreshReuseDetected
	// MetricRefreshRateLimited counts refreshes rejected by the throttle.
	MetricRefreshRateLimited
	// MetricRefreshPatternSuspicious counts refreshes flagged by the
	// pattern heuristic.
	MetricRefreshPatternSuspicious
	// MetricTokenRevoked counts single-token revocations.
	MetricTokenRevoked
	// MetricUserRevoked counts user-wide revocations.
	MetricUserRevoked
	// MetricSessionRevoked counts session-scope revocations.
	MetricSessionRevoked
	// MetricTenantRevoked counts tenant-wide revocations.
	MetricTenantRevoked
	// MetricValidateSuccess counts access tokens that passed validation.
	MetricValidateSuccess
	// MetricValidateRejected counts access tokens that failed structural or
	// signature checks.
	MetricValidateRejected
	// MetricValidateRevoked counts access tokens rejected by a revocation
	// rule.
	MetricValidateRevoked
	// MetricRenewalSuccess counts sessions actually extended.
	MetricRenewalSuccess
	// MetricRenewalSkipped counts renewal attempts skipped by policy.
	MetricRenewalSkipped
	// MetricEventPublishFailure counts revocation events that could not be
	// published. Publishing is fire-and-forget; this counter is the only
	// trace of a failure besides the log.
	MetricEventPublishFailure
	// MetricValidateLatency is the histogram slot for validation latency.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps each counter on its own cache line so concurrent
// increments of different metrics never contend.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the in-process metrics block: lock-free counters plus an
// optional latency histogram for the validation hot path.
type Metrics struct {
	enabled    bool
	histograms bool
	counters   [metricIDCount]paddedCounter
	latency    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] block.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:    cfg.Enabled,
		histograms: cfg.EnableLatencyHistograms,
	}
}

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample into the histogram for id.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.histograms || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.latency[id].buckets[latencyBucket(d)], 1)
}

// Snapshot copies every counter and histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, metricIDCount),
		Histograms: make(map[MetricID][]uint64),
	}
	if m == nil || !m.enabled {
		return snap
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.histograms {
		for id := MetricID(0); id < metricIDCount; id++ {
			buckets := make([]uint64, histBucketCount)
			var nonZero bool
			for i := range buckets {
				buckets[i] = atomic.LoadUint64(&m.latency[id].buckets[i])
				if buckets[i] > 0 {
					nonZero = true
				}
			}
			if nonZero {
				snap.Histograms[id] = buckets
			}
		}
	}

	return snap
}

// latencyBucket maps a duration to a power-of-four bucket starting at
// 100µs: <100µs, <400µs, <1.6ms, <6.4ms, <25.6ms, <102ms, <410ms, rest.
func latencyBucket(d time.Duration) int {
	limit := 100 * time.Microsecond
	for i := 0; i < histBucketCount-1; i++ {
		if d < limit {
			return i
		}
		limit *= 4
	}
	return histBucketCount - 1
}
