package pii

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hannes/deepsearch/providers"
)

const llmDetectionPrompt = `Find all personally identifiable information in the text below.

Text: "%s"

Respond with JSON only:
{"has_pii": true, "pii_items": [{"text": "...", "type": "name|email|phone|ssn|credit_card|address|organization|date|id_number", "confidence": 0.9, "start_pos": 0, "end_pos": 10}]}`

// LLMDetector asks a generative model to enumerate PII items. The model's
// output is JSON by request only, so the response goes through the same
// extraction chain as the analysis backends. Reported positions are verified
// against the text and recomputed when they do not line up.
type LLMDetector struct {
	client *providers.OllamaClient
}

// NewLLMDetector creates the prompt-based detector.
func NewLLMDetector(client *providers.OllamaClient) *LLMDetector {
	return &LLMDetector{client: client}
}

// GetName returns the name of this detector.
func (d *LLMDetector) GetName() string {
	return "llm_detector"
}

type llmDetectionPayload struct {
	HasPII   bool `json:"has_pii"`
	PIIItems []struct {
		Text       string  `json:"text"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
		StartPos   int     `json:"start_pos"`
		EndPos     int     `json:"end_pos"`
	} `json:"pii_items"`
}

// Detect prompts the model and converts the reported items into spans.
func (d *LLMDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	raw, err := d.client.Generate(ctx, fmt.Sprintf(llmDetectionPrompt, input.Text))
	if err != nil {
		return DetectorOutput{}, fmt.Errorf("llm generation failed: %w", err)
	}

	data, ok := providers.ExtractJSON(raw)
	if !ok {
		// Malformed output means no usable evidence, not a request failure.
		return DetectorOutput{Text: input.Text}, nil
	}

	var payload llmDetectionPayload
	if err := json.Unmarshal(data, &payload); err != nil || !payload.HasPII {
		return DetectorOutput{Text: input.Text}, nil
	}

	var spans []Span
	for _, item := range payload.PIIItems {
		if item.Text == "" {
			continue
		}
		start, end := item.StartPos, item.EndPos
		if !positionsMatch(input.Text, item.Text, start, end) {
			idx := strings.Index(input.Text, item.Text)
			if idx < 0 {
				continue
			}
			start, end = idx, idx+len(item.Text)
		}

		confidence := Clamp01(item.Confidence)
		spans = append(spans, Span{
			Text:           input.Text[start:end],
			Type:           PIIType(strings.ToLower(item.Type)),
			Language:       input.Language,
			Start:          start,
			End:            end,
			Probability:    confidence,
			ConfidenceTier: TierFor(confidence),
			Sources:        []string{d.GetName()},
		})
	}

	return DetectorOutput{Text: input.Text, Spans: spans}, nil
}

func positionsMatch(text, fragment string, start, end int) bool {
	if start < 0 || end > len(text) || start >= end {
		return false
	}
	return text[start:end] == fragment
}

// Close implements the Detector interface.
func (d *LLMDetector) Close() error {
	return nil
}
