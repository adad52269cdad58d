package pii

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	detectors "github.com/hannes/deepsearch/pii/detectors"
	"github.com/hannes/deepsearch/providers"
)

// AnalysisMode controls how much reasoning is spent per entity.
type AnalysisMode string

const (
	ModeFast     AnalysisMode = "fast"
	ModeStandard AnalysisMode = "standard"
	ModeThorough AnalysisMode = "thorough"
)

// AnalysisBackend is one reasoning backend consulted about a detected
// entity. Backends receive only the bounded context window, never the full
// document.
type AnalysisBackend interface {
	Name() string
	Analyze(ctx context.Context, window string, span detectors.Span, mode AnalysisMode) (ModelSignal, error)
}

// ExtractWindow returns the symmetric character window around an entity,
// clipped to the text bounds.
func ExtractWindow(text string, start, end, windowSize int) string {
	ws := start - windowSize
	if ws < 0 {
		ws = 0
	}
	we := end + windowSize
	if we > len(text) {
		we = len(text)
	}
	if ws > len(text) {
		ws = len(text)
	}
	if we < ws {
		we = ws
	}
	return text[ws:we]
}

// AnalysisStage re-validates detected entities against their context. It
// fans out to the configured backends with the same isolation contract as
// the detection cascade and fuses whatever signals come back.
type AnalysisStage struct {
	backends   []AnalysisBackend
	windowSize int
	timeout    time.Duration
}

// NewAnalysisStage builds the stage; windowSize is the number of context
// characters on each side of the entity.
func NewAnalysisStage(backends []AnalysisBackend, windowSize int, timeout time.Duration) *AnalysisStage {
	if windowSize <= 0 {
		windowSize = 300
	}
	return &AnalysisStage{backends: backends, windowSize: windowSize, timeout: timeout}
}

// Analyze runs every backend against the entity's context window and fuses
// the surviving signals. Backend failures are logged and treated as missing
// signals; with no backends or all backends failing the conservative default
// applies.
func (s *AnalysisStage) Analyze(ctx context.Context, fullText string, span detectors.Span, mode AnalysisMode) ContextAnalysisResult {
	if len(s.backends) == 0 {
		return ConservativeDefault()
	}

	window := ExtractWindow(fullText, span.Start, span.End, s.windowSize)

	type backendResult struct {
		name   string
		signal ModelSignal
		err    error
	}
	results := make([]backendResult, len(s.backends))

	var wg sync.WaitGroup
	for i, backend := range s.backends {
		wg.Add(1)
		go func(idx int, b AnalysisBackend) {
			defer wg.Done()
			callCtx := ctx
			if s.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}
			signal, err := b.Analyze(callCtx, window, span, mode)
			results[idx] = backendResult{name: b.Name(), signal: signal, err: err}
		}(i, backend)
	}
	wg.Wait()

	var primary, secondary *ModelSignal
	for i := range results {
		if results[i].err != nil {
			log.Printf("[Analysis] Backend %s failed for entity at [%d:%d]: %v",
				results[i].name, span.Start, span.End, results[i].err)
			continue
		}
		signal := results[i].signal
		if signal.Source == "llm" && primary == nil {
			primary = &signal
		} else if secondary == nil {
			secondary = &signal
		}
	}

	return Fuse(primary, secondary)
}

// LLMAnalysisBackend asks a generative model whether the entity is genuine
// PII in its context. CJK languages get the culturally-aware prompt; the
// thorough mode additionally runs the false-positive prompt and folds its
// indicators into the signal.
type LLMAnalysisBackend struct {
	client  *providers.OllamaClient
	prompts PromptSet
}

// NewLLMAnalysisBackend creates the LLM reasoning backend.
func NewLLMAnalysisBackend(client *providers.OllamaClient, prompts PromptSet) *LLMAnalysisBackend {
	return &LLMAnalysisBackend{client: client, prompts: prompts}
}

func (b *LLMAnalysisBackend) Name() string { return "llm" }

var cjkLanguages = map[string]bool{"zh": true, "ja": true, "ko": true}

// Analyze renders the appropriate prompt, queries the model and coerces the
// response into a signal.
func (b *LLMAnalysisBackend) Analyze(ctx context.Context, window string, span detectors.Span, mode AnalysisMode) (ModelSignal, error) {
	var prompt string
	if cjkLanguages[span.Language] {
		prompt = b.prompts.RenderMultilingual(span.Language, window, span.Text, span.Type, span.Start, span.End)
	} else {
		prompt = b.prompts.RenderContext(window, span.Text, span.Type, span.Start, span.End)
	}

	raw, err := b.client.Generate(ctx, prompt)
	if err != nil {
		return ModelSignal{}, err
	}

	signal := ParseAnalysisResponse(raw, span.Type)
	signal.Source = b.Name()

	if mode == ModeThorough {
		b.checkFalsePositive(ctx, window, span, &signal)
	}

	return signal, nil
}

// CheckFalsePositive runs the dedicated false-positive prompt for an entity.
// An unparseable response counts as "not a false positive" with zero
// confidence rather than an error.
func (b *LLMAnalysisBackend) CheckFalsePositive(ctx context.Context, window string, span detectors.Span) (*FalsePositiveCheckResponse, error) {
	raw, err := b.client.Generate(ctx, b.prompts.RenderFalsePositive(window, span.Text, span.Type))
	if err != nil {
		return nil, err
	}

	verdict := &FalsePositiveCheckResponse{}
	data, ok := providers.ExtractJSON(raw)
	if !ok {
		return verdict, nil
	}
	if err := json.Unmarshal(data, verdict); err != nil {
		return &FalsePositiveCheckResponse{}, nil
	}
	verdict.Confidence = detectors.Clamp01(verdict.Confidence)
	return verdict, nil
}

func (b *LLMAnalysisBackend) checkFalsePositive(ctx context.Context, window string, span detectors.Span, signal *ModelSignal) {
	verdict, err := b.CheckFalsePositive(ctx, window, span)
	if err != nil {
		log.Printf("[Analysis] False-positive check failed for '%s': %v", span.Text, err)
		return
	}
	if verdict.IsFalsePositive && verdict.Explanation != "" {
		signal.FalsePositiveIndicators = append(signal.FalsePositiveIndicators, verdict.Explanation)
	}
}

// analysisPayload is the JSON shape the prompts ask for.
type analysisPayload struct {
	IsGenuinePII            bool     `json:"is_genuine_pii"`
	Confidence              float64  `json:"confidence"`
	Reason                  string   `json:"reason"`
	RiskLevel               string   `json:"risk_level"`
	CulturalContext         string   `json:"cultural_context"`
	FalsePositiveIndicators []string `json:"false_positive_indicators"`
	PrivacyImplications     string   `json:"privacy_implications"`
}

// ParseAnalysisResponse coerces a raw backend response into a signal.
// Structured extraction is tried first; failing that, keyword heuristics
// decide the verdict and a stated confidence is pulled out of the prose.
// A response carrying no usable information at all becomes the conservative
// default.
func ParseAnalysisResponse(raw string, piiType detectors.PIIType) ModelSignal {
	if data, ok := providers.ExtractJSON(raw); ok {
		var payload analysisPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			confidence := detectors.Clamp01(payload.Confidence)
			return ModelSignal{
				IsGenuinePII:            payload.IsGenuinePII,
				Confidence:              confidence,
				Reason:                  payload.Reason,
				RiskLevel:               ParseRiskLevel(payload.RiskLevel, RiskForType(piiType, confidence)),
				CulturalContext:         payload.CulturalContext,
				FalsePositiveIndicators: payload.FalsePositiveIndicators,
				PrivacyImplications:     payload.PrivacyImplications,
			}
		}
	}

	lower := strings.ToLower(raw)
	genuine := strings.Contains(lower, "genuine") || strings.Contains(lower, "real") ||
		strings.Contains(lower, "personal")
	confidence, found := providers.ExtractConfidence(raw)

	if !genuine && !found {
		def := ConservativeDefault()
		return ModelSignal{
			IsGenuinePII: def.IsGenuinePII,
			Confidence:   def.Confidence,
			Reason:       def.Reason,
			RiskLevel:    def.RiskLevel,
		}
	}

	if !found {
		confidence = 0.5
	}
	return ModelSignal{
		IsGenuinePII: genuine,
		Confidence:   confidence,
		Reason:       "Derived from unstructured backend response",
		RiskLevel:    RiskForType(piiType, confidence),
	}
}

// ClassifierAnalysisBackend consults a remote sequence-classification model.
// Label scores are split into PII-vs-non-PII evidence by label keywords; the
// verdict is genuine only when the PII evidence dominates and clears 0.5.
type ClassifierAnalysisBackend struct {
	client *providers.InferenceClient
	model  string
}

// NewClassifierAnalysisBackend creates the classifier reasoning backend.
func NewClassifierAnalysisBackend(client *providers.InferenceClient, model string) *ClassifierAnalysisBackend {
	return &ClassifierAnalysisBackend{client: client, model: model}
}

func (b *ClassifierAnalysisBackend) Name() string { return "classifier" }

// Analyze classifies the context window and derives a signal from the label
// scores.
func (b *ClassifierAnalysisBackend) Analyze(ctx context.Context, window string, span detectors.Span, mode AnalysisMode) (ModelSignal, error) {
	scores, err := b.client.Classify(ctx, b.model, window)
	if err != nil {
		return ModelSignal{}, err
	}

	var piiScore, nonPIIScore float64
	for _, score := range scores {
		label := strings.ToLower(score.Label)
		switch {
		case strings.Contains(label, "not") || strings.Contains(label, "non") || strings.Contains(label, "safe"):
			if score.Score > nonPIIScore {
				nonPIIScore = score.Score
			}
		case strings.Contains(label, "pii") || strings.Contains(label, "personal") || strings.Contains(label, "sensitive"):
			if score.Score > piiScore {
				piiScore = score.Score
			}
		}
	}

	genuine := piiScore > nonPIIScore && piiScore > 0.5
	confidence := piiScore
	if nonPIIScore > confidence {
		confidence = nonPIIScore
	}

	return ModelSignal{
		Source:       b.Name(),
		IsGenuinePII: genuine,
		Confidence:   detectors.Clamp01(confidence),
		Reason:       fmt.Sprintf("Classifier scores: pii=%.2f, non-pii=%.2f", piiScore, nonPIIScore),
		RiskLevel:    RiskForType(span.Type, piiScore),
	}, nil
}
