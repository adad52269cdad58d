package pii

import (
	"context"
	"log"
	"regexp"
	"sort"
)

// RegexDetector matches a fixed table of patterns against the input text.
// Patterns are language-independent, so the detector reports "universal"
// regardless of the requested language.
type RegexDetector struct {
	patterns map[PIIType]compiledPattern
}

type compiledPattern struct {
	re          *regexp.Regexp
	probability float64
}

// NewRegexDetector creates a regex detector from a pattern table. Invalid
// patterns are skipped with a warning rather than failing construction.
func NewRegexDetector(patterns map[PIIType]PatternSpec) *RegexDetector {
	compiled := make(map[PIIType]compiledPattern, len(patterns))
	for piiType, spec := range patterns {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			log.Printf("[RegexDetector] Skipping invalid pattern for %s: %v", piiType, err)
			continue
		}
		compiled[piiType] = compiledPattern{re: re, probability: spec.Probability}
	}
	return &RegexDetector{patterns: compiled}
}

// GetName returns the name of this detector.
func (d *RegexDetector) GetName() string {
	return "regex_detector"
}

// Detect finds all pattern matches and returns them as spans sorted by
// position.
func (d *RegexDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	var spans []Span

	for piiType, pattern := range d.patterns {
		matches := pattern.re.FindAllStringIndex(input.Text, -1)
		for _, match := range matches {
			start, end := match[0], match[1]
			spans = append(spans, Span{
				Text:           input.Text[start:end],
				Type:           piiType,
				Language:       "universal",
				Start:          start,
				End:            end,
				Probability:    pattern.probability,
				ConfidenceTier: TierFor(pattern.probability),
				Sources:        []string{d.GetName()},
			})
		}
	}

	// Map iteration order is random; keep output deterministic.
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})

	return DetectorOutput{Text: input.Text, Spans: spans}, nil
}

// Close implements the Detector interface.
func (d *RegexDetector) Close() error {
	return nil
}
