package pii

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	detectors "github.com/hannes/deepsearch/pii/detectors"
)

// DetectorStatus marks the outcome of one detector run.
type DetectorStatus string

const (
	DetectorSuccess DetectorStatus = "success"
	DetectorFailed  DetectorStatus = "failed"
)

// DetectorOutcome is the typed result of one detector: either the spans it
// produced or the reason it failed. Failure is data, not control flow.
type DetectorOutcome struct {
	Detector string           `json:"detector"`
	Status   DetectorStatus   `json:"status"`
	Spans    []detectors.Span `json:"spans,omitempty"`
	Err      string           `json:"error,omitempty"`
}

// CascadeResult aggregates all detector outcomes for one input.
type CascadeResult struct {
	ByDetector map[string]DetectorOutcome `json:"by_detector"`
	AllSpans   []detectors.Span           `json:"all_spans"`
}

// RunCascade fans out to every enabled detector concurrently and joins the
// results. A failure or timeout in one detector is recorded as that
// detector's outcome and never aborts its siblings; if every detector fails,
// the result is empty but still successful. Total latency is bounded by the
// per-detector timeout, not the sum.
func RunCascade(ctx context.Context, text, language string, enabled []detectors.Detector, perDetectorTimeout time.Duration) CascadeResult {
	result := CascadeResult{ByDetector: make(map[string]DetectorOutcome, len(enabled))}
	if len(enabled) == 0 {
		return result
	}

	outcomes := make([]DetectorOutcome, len(enabled))
	input := detectors.DetectorInput{Text: text, Language: language}

	var wg sync.WaitGroup
	for i, det := range enabled {
		wg.Add(1)
		go func(idx int, d detectors.Detector) {
			defer wg.Done()
			outcomes[idx] = runOne(ctx, d, input, perDetectorTimeout)
		}(i, det)
	}
	wg.Wait()

	for _, outcome := range outcomes {
		result.ByDetector[outcome.Detector] = outcome
		if outcome.Status == DetectorSuccess {
			result.AllSpans = append(result.AllSpans, outcome.Spans...)
		} else {
			log.Printf("[Cascade] Detector %s failed: %s", outcome.Detector, outcome.Err)
		}
	}

	return result
}

func runOne(ctx context.Context, d detectors.Detector, input detectors.DetectorInput, timeout time.Duration) (outcome DetectorOutcome) {
	outcome = DetectorOutcome{Detector: d.GetName()}

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = DetectorFailed
			outcome.Spans = nil
			outcome.Err = fmt.Sprintf("panic: %v", r)
		}
	}()

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan struct{})
	var output detectors.DetectorOutput
	var err error
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			close(done)
		}()
		output, err = d.Detect(callCtx, input)
	}()

	select {
	case <-done:
	case <-callCtx.Done():
		outcome.Status = DetectorFailed
		outcome.Err = callCtx.Err().Error()
		return outcome
	}

	if err != nil {
		outcome.Status = DetectorFailed
		outcome.Err = err.Error()
		return outcome
	}

	outcome.Status = DetectorSuccess
	outcome.Spans = output.Spans
	return outcome
}
