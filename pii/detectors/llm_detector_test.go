package pii

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hannes/deepsearch/providers"
)

func newOllamaStub(t *testing.T, response string) (*httptest.Server, *providers.OllamaClient) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := json.Marshal(map[string]any{"response": response, "done": true})
		if err != nil {
			t.Fatalf("Failed to marshal stub response: %v", err)
		}
		if _, err := w.Write(payload); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	client := providers.NewOllamaClient(providers.OllamaConfig{
		BaseURL: server.URL, Model: "llama3.2", RequestsPerSecond: 100,
	})
	return server, client
}

func TestLLMDetector_Detect(t *testing.T) {
	text := "Write to jane@example.com please."
	server, client := newOllamaStub(t,
		`{"has_pii": true, "pii_items": [{"text": "jane@example.com", "type": "email", "confidence": 0.9, "start_pos": 9, "end_pos": 25}]}`)
	defer server.Close()

	detector := NewLLMDetector(client)
	if detector.GetName() != "llm_detector" {
		t.Errorf("Expected name 'llm_detector', got '%s'", detector.GetName())
	}

	output, err := detector.Detect(context.Background(), DetectorInput{Text: text, Language: "en"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(output.Spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(output.Spans))
	}
	span := output.Spans[0]
	if span.Text != "jane@example.com" || span.Type != TypeEmail {
		t.Errorf("Unexpected span: %+v", span)
	}
	if span.Start != 9 || span.End != 25 {
		t.Errorf("Unexpected positions: [%d:%d]", span.Start, span.End)
	}
}

func TestLLMDetector_RecomputesWrongPositions(t *testing.T) {
	text := "Call 555-123-4567 now."
	server, client := newOllamaStub(t,
		`{"has_pii": true, "pii_items": [{"text": "555-123-4567", "type": "phone", "confidence": 0.8, "start_pos": 0, "end_pos": 12}]}`)
	defer server.Close()

	detector := NewLLMDetector(client)
	output, err := detector.Detect(context.Background(), DetectorInput{Text: text, Language: "en"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(output.Spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(output.Spans))
	}
	if output.Spans[0].Start != 5 || output.Spans[0].End != 17 {
		t.Errorf("Expected recomputed positions [5:17], got [%d:%d]", output.Spans[0].Start, output.Spans[0].End)
	}
}

func TestLLMDetector_HallucinatedItemDropped(t *testing.T) {
	server, client := newOllamaStub(t,
		`{"has_pii": true, "pii_items": [{"text": "not-in-text@nowhere.com", "type": "email", "confidence": 0.9, "start_pos": 0, "end_pos": 5}]}`)
	defer server.Close()

	detector := NewLLMDetector(client)
	output, err := detector.Detect(context.Background(), DetectorInput{Text: "The weather is nice.", Language: "en"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(output.Spans) != 0 {
		t.Errorf("Expected hallucinated item to be dropped, got %+v", output.Spans)
	}
}

func TestLLMDetector_MalformedResponseYieldsNoSpans(t *testing.T) {
	server, client := newOllamaStub(t, "I could not find anything interesting to report.")
	defer server.Close()

	detector := NewLLMDetector(client)
	output, err := detector.Detect(context.Background(), DetectorInput{Text: "Some text.", Language: "en"})
	if err != nil {
		t.Fatalf("Malformed output must not be a request failure, got %v", err)
	}
	if len(output.Spans) != 0 {
		t.Errorf("Expected no spans, got %+v", output.Spans)
	}
}

func TestLLMDetector_ProseWrappedJSON(t *testing.T) {
	text := "SSN 123-45-6789 here."
	server, client := newOllamaStub(t,
		"Here is what I found: {\"has_pii\": true, \"pii_items\": [{\"text\": \"123-45-6789\", \"type\": \"ssn\", \"confidence\": 0.95, \"start_pos\": 4, \"end_pos\": 15}]} done")
	defer server.Close()

	detector := NewLLMDetector(client)
	output, err := detector.Detect(context.Background(), DetectorInput{Text: text, Language: "en"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(output.Spans) != 1 || output.Spans[0].Type != TypeSSN {
		t.Errorf("Expected 1 ssn span from prose-wrapped JSON, got %+v", output.Spans)
	}
}
