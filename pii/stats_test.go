package pii

import (
	"math"
	"sync"
	"testing"
)

func TestStatisticsRecordRequest(t *testing.T) {
	stats := NewStatistics()
	stats.RecordRequest(true, 0.2, 1)
	stats.RecordRequest(true, 0.4, 0)
	stats.RecordRequest(false, 0.6, 0)

	snap := stats.Snapshot()
	if snap.TotalRequests != 3 {
		t.Errorf("expected 3 total, got %d", snap.TotalRequests)
	}
	if snap.SuccessfulRequests != 2 || snap.FailedRequests != 1 {
		t.Errorf("expected 2 successful / 1 failed, got %d / %d", snap.SuccessfulRequests, snap.FailedRequests)
	}
	if snap.FalsePositivesFiltered != 1 {
		t.Errorf("expected 1 filtered, got %d", snap.FalsePositivesFiltered)
	}
	if math.Abs(snap.AverageLatencySeconds-0.4) > 1e-9 {
		t.Errorf("expected average latency 0.4, got %v", snap.AverageLatencySeconds)
	}
}

func TestStatisticsConcurrentRecording(t *testing.T) {
	stats := NewStatistics()

	const workers = 16
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				stats.RecordRequest(i%2 == 0, 0.1, 1)
			}
		}()
	}
	wg.Wait()

	snap := stats.Snapshot()
	if snap.TotalRequests != workers*perWorker {
		t.Errorf("expected %d total, got %d", workers*perWorker, snap.TotalRequests)
	}
	if snap.SuccessfulRequests+snap.FailedRequests != snap.TotalRequests {
		t.Errorf("success+failure must equal total: %+v", snap)
	}
	if snap.FalsePositivesFiltered != workers*perWorker {
		t.Errorf("expected %d filtered, got %d", workers*perWorker, snap.FalsePositivesFiltered)
	}
	if math.Abs(snap.AverageLatencySeconds-0.1) > 1e-9 {
		t.Errorf("constant latency must average to itself, got %v", snap.AverageLatencySeconds)
	}
}

func TestStatisticsConcurrentMixedLatencies(t *testing.T) {
	stats := NewStatistics()

	const workers = 16
	const perWorker = 200

	// Half the workers record 0.2s, half 0.4s. Whatever order the recordings
	// interleave in, the mean must come out as the arithmetic mean of all
	// samples, which requires each sample to be folded in with its own count.
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		latency := 0.2
		if w%2 == 1 {
			latency = 0.4
		}
		wg.Add(1)
		go func(latency float64) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				stats.RecordRequest(true, latency, 0)
			}
		}(latency)
	}
	wg.Wait()

	snap := stats.Snapshot()
	if snap.TotalRequests != workers*perWorker {
		t.Errorf("expected %d total, got %d", workers*perWorker, snap.TotalRequests)
	}
	if math.Abs(snap.AverageLatencySeconds-0.3) > 1e-6 {
		t.Errorf("expected average latency 0.3, got %v", snap.AverageLatencySeconds)
	}
}
