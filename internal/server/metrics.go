package server

import (
	"math"
	"sync/atomic"
)

// Metrics holds process-wide request counters. All fields move forward only
// and are updated with atomic adds.
type Metrics struct {
	total   atomic.Int64
	success atomic.Int64
	failure atomic.Int64
	quota   atomic.Int64
	retries atomic.Int64
}

// MetricsSnapshot is the /health representation of the counters.
type MetricsSnapshot struct {
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`
	QuotaErrors        int64 `json:"quota_errors"`
	RetryAttempts      int64 `json:"retry_attempts"`
	SuccessRate        int64 `json:"success_rate"`
}

func (m *Metrics) RecordSuccess() {
	m.total.Add(1)
	m.success.Add(1)
}

func (m *Metrics) RecordFailure() {
	m.total.Add(1)
	m.failure.Add(1)
}

func (m *Metrics) RecordQuotaError() {
	m.quota.Add(1)
}

func (m *Metrics) RecordRetry() {
	m.retries.Add(1)
}

// Snapshot reads the counters. Success rate is 100 with no traffic,
// otherwise the rounded success percentage.
func (m *Metrics) Snapshot() MetricsSnapshot {
	total := m.total.Load()
	success := m.success.Load()
	rate := int64(100)
	if total > 0 {
		rate = int64(math.Round(100 * float64(success) / float64(total)))
	}
	return MetricsSnapshot{
		TotalRequests:      total,
		SuccessfulRequests: success,
		FailedRequests:     m.failure.Load(),
		QuotaErrors:        m.quota.Load(),
		RetryAttempts:      m.retries.Load(),
		SuccessRate:        rate,
	}
}
