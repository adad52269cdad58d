package pii

import (
	"sync"
	"sync/atomic"
)

// Statistics is the process-wide request accumulator. Counters are atomic;
// the running latency average needs a read-modify-write cycle and sits
// behind a mutex. Reset on restart, no persistence.
type Statistics struct {
	totalRequests          atomic.Int64
	successfulRequests     atomic.Int64
	failedRequests         atomic.Int64
	falsePositivesFiltered atomic.Int64

	mu             sync.Mutex
	latencyCount   int64
	averageLatency float64
}

// StatsSnapshot is a read-only view for reporting endpoints.
type StatsSnapshot struct {
	TotalRequests          int64   `json:"total_requests"`
	SuccessfulRequests     int64   `json:"successful_requests"`
	FailedRequests         int64   `json:"failed_requests"`
	FalsePositivesFiltered int64   `json:"false_positives_filtered"`
	AverageLatencySeconds  float64 `json:"average_latency_seconds"`
}

// NewStatistics creates a zeroed accumulator.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// RecordRequest folds one completed request into the accumulator.
func (s *Statistics) RecordRequest(success bool, latencySeconds float64, falsePositivesFiltered int) {
	s.totalRequests.Add(1)
	if success {
		s.successfulRequests.Add(1)
	} else {
		s.failedRequests.Add(1)
	}
	if falsePositivesFiltered > 0 {
		s.falsePositivesFiltered.Add(int64(falsePositivesFiltered))
	}

	s.mu.Lock()
	// Incremental mean. The count must be taken under the same lock as the
	// average, so each sample is folded in with its own divisor.
	s.latencyCount++
	s.averageLatency += (latencySeconds - s.averageLatency) / float64(s.latencyCount)
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of the current counters.
func (s *Statistics) Snapshot() StatsSnapshot {
	s.mu.Lock()
	latency := s.averageLatency
	s.mu.Unlock()

	return StatsSnapshot{
		TotalRequests:          s.totalRequests.Load(),
		SuccessfulRequests:     s.successfulRequests.Load(),
		FailedRequests:         s.failedRequests.Load(),
		FalsePositivesFiltered: s.falsePositivesFiltered.Load(),
		AverageLatencySeconds:  latency,
	}
}
