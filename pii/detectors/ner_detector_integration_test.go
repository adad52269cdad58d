//go:build integration && onnx
// +build integration,onnx

package pii

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

// Requires the quantized model artifacts; override locations via environment
// variables when they live elsewhere.
var (
	nerModelPath     = getEnvOrDefault("ONNX_MODEL_PATH", "../../model/quantized/model_quantized.onnx")
	nerTokenizerPath = getEnvOrDefault("ONNX_TOKENIZER_PATH", "../../model/quantized/tokenizer.json")
	nerLabelMapPath  = getEnvOrDefault("ONNX_LABEL_MAP_PATH", "../../model/quantized/label_mappings.json")
)

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func skipIfNoModel(t *testing.T) {
	t.Helper()
	for _, path := range []string{nerModelPath, nerTokenizerPath, nerLabelMapPath} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Skipf("Skipping: model file not found at %s", path)
		}
	}
}

func TestNERDetectorDetect(t *testing.T) {
	skipIfNoModel(t)

	detector, err := NewNERDetector(nerModelPath, nerTokenizerPath, nerLabelMapPath)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	defer detector.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	input := DetectorInput{Text: "My name is John Smith and my email is john@example.com", Language: "en"}
	output, err := detector.Detect(ctx, input)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if output.Text != input.Text {
		t.Errorf("Output text should match input")
	}
	for _, span := range output.Spans {
		t.Logf("  - %s: '%s' [%d:%d] (%.2f)", span.Type, span.Text, span.Start, span.End, span.Probability)
	}
}

// Concurrent requests share one session and one set of tensors; each caller
// must still get spans decoded from its own input, not a sibling's.
func TestNERDetectorConcurrentDetect(t *testing.T) {
	skipIfNoModel(t)

	detector, err := NewNERDetector(nerModelPath, nerTokenizerPath, nerLabelMapPath)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}
	defer detector.Close()

	const workers = 8
	const iterations = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers*iterations)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			text := fmt.Sprintf("Worker %d writes to person%d@example.com today.", id, id)
			for i := 0; i < iterations; i++ {
				output, err := detector.Detect(context.Background(), DetectorInput{Text: text, Language: "en"})
				if err != nil {
					errs <- fmt.Errorf("worker %d: %v", id, err)
					return
				}
				if output.Text != text {
					errs <- fmt.Errorf("worker %d: got output for different input", id)
					return
				}
				for _, span := range output.Spans {
					if span.Start < 0 || span.End > len(text) || span.Start >= span.End {
						errs <- fmt.Errorf("worker %d: span [%d:%d] out of bounds for input of length %d",
							id, span.Start, span.End, len(text))
						return
					}
					if text[span.Start:span.End] != span.Text {
						errs <- fmt.Errorf("worker %d: span text %q does not match input at [%d:%d]",
							id, span.Text, span.Start, span.End)
						return
					}
				}
			}
		}(w)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// Closing while detections are in flight must wait for them rather than
// destroying the session underneath a running inference.
func TestNERDetectorCloseDuringDetect(t *testing.T) {
	skipIfNoModel(t)

	detector, err := NewNERDetector(nerModelPath, nerTokenizerPath, nerLabelMapPath)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Errors are acceptable here, crashes are not.
			_, _ = detector.Detect(context.Background(), DetectorInput{Text: "Call Jane Doe at 555-123-4567", Language: "en"})
		}()
	}

	time.Sleep(10 * time.Millisecond)
	if err := detector.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	wg.Wait()
}
