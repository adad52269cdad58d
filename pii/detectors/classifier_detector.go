package pii

import (
	"context"
	"regexp"
	"strings"
)

// ClassifierDetector is a lightweight statistical detector. It segments the
// text into candidate spans with cheap patterns, then scores each candidate
// from a weighted indicator-token table built from labeled samples. It is the
// fastest model-style detector in the cascade and is meant to catch what the
// fixed regex table cannot, without loading a transformer.
type ClassifierDetector struct {
	threshold  float64
	indicators map[string]float64
	candidates []candidateRule
}

type candidateRule struct {
	re      *regexp.Regexp
	piiType PIIType
	prior   float64
}

var defaultCandidateRules = []struct {
	pattern string
	piiType PIIType
	prior   float64
}{
	// Two or three capitalized words, a likely person name.
	{`\b[A-Z][a-z]+(?: [A-Z][a-z]+){1,2}\b`, TypeName, 0.55},
	// Street-style address fragment.
	{`\b\d{1,5} [A-Z][a-z]+ (?:St|Street|Ave|Avenue|Rd|Road|Blvd|Lane|Ln|Drive|Dr)\b`, TypeAddress, 0.6},
	// Long digit runs that the fixed patterns did not claim.
	{`\b\d{6,10}\b`, TypeIDNumber, 0.35},
}

// Context tokens that raise or lower the odds a candidate is genuine PII.
var defaultIndicators = map[string]float64{
	"name":      0.2,
	"called":    0.15,
	"mr":        0.25,
	"mrs":       0.25,
	"ms":        0.25,
	"dr":        0.2,
	"contact":   0.15,
	"address":   0.2,
	"lives":     0.2,
	"born":      0.2,
	"account":   0.15,
	"id":        0.1,
	"customer":  0.15,
	"patient":   0.25,
	"employee":  0.2,
	"example":   -0.3,
	"sample":    -0.3,
	"test":      -0.2,
	"fictional": -0.4,
	"character": -0.3,
	"company":   -0.1,
	"weather":   -0.2,
}

// NewClassifierDetector builds the detector with the default candidate rules
// and indicator table.
func NewClassifierDetector(threshold float64) *ClassifierDetector {
	rules := make([]candidateRule, 0, len(defaultCandidateRules))
	for _, r := range defaultCandidateRules {
		rules = append(rules, candidateRule{
			re:      regexp.MustCompile(r.pattern),
			piiType: r.piiType,
			prior:   r.prior,
		})
	}
	return &ClassifierDetector{
		threshold:  threshold,
		indicators: defaultIndicators,
		candidates: rules,
	}
}

// GetName returns the name of this detector.
func (d *ClassifierDetector) GetName() string {
	return "classifier_detector"
}

// Detect scores candidate spans and emits those above the threshold.
func (d *ClassifierDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	var spans []Span

	for _, rule := range d.candidates {
		matches := rule.re.FindAllStringIndex(input.Text, -1)
		for _, match := range matches {
			start, end := match[0], match[1]
			score := d.score(input.Text, start, end, rule.prior)
			if score < d.threshold {
				continue
			}
			spans = append(spans, Span{
				Text:           input.Text[start:end],
				Type:           rule.piiType,
				Language:       input.Language,
				Start:          start,
				End:            end,
				Probability:    score,
				ConfidenceTier: TierFor(score),
				Sources:        []string{d.GetName()},
			})
		}
	}

	return DetectorOutput{Text: input.Text, Spans: spans}, nil
}

// score combines the rule prior with indicator tokens found in a small
// context neighborhood around the candidate.
func (d *ClassifierDetector) score(text string, start, end int, prior float64) float64 {
	windowStart := start - 60
	if windowStart < 0 {
		windowStart = 0
	}
	windowEnd := end + 60
	if windowEnd > len(text) {
		windowEnd = len(text)
	}

	score := prior
	for _, token := range tokenize(text[windowStart:windowEnd]) {
		if weight, ok := d.indicators[token]; ok {
			score += weight
		}
	}
	return Clamp01(score)
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	return fields
}

// Close implements the Detector interface.
func (d *ClassifierDetector) Close() error {
	return nil
}
