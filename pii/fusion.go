package pii

import (
	detectors "github.com/hannes/deepsearch/pii/detectors"
)

// ModelSignal is one reasoning backend's verdict about a candidate entity.
type ModelSignal struct {
	Source                  string
	IsGenuinePII            bool
	Confidence              float64
	Reason                  string
	RiskLevel               detectors.RiskLevel
	CulturalContext         string
	FalsePositiveIndicators []string
	PrivacyImplications     string
}

// ContextAnalysisResult is the fused verdict fed back into probability
// refinement. Ephemeral: consumed within the request, not persisted.
type ContextAnalysisResult struct {
	IsGenuinePII            bool                `json:"is_genuine_pii"`
	Confidence              float64             `json:"confidence"`
	Reason                  string              `json:"reason"`
	RiskLevel               detectors.RiskLevel `json:"risk_level"`
	CulturalContext         string              `json:"cultural_context,omitempty"`
	FalsePositiveIndicators []string            `json:"false_positive_indicators,omitempty"`
	PrivacyImplications     string              `json:"privacy_implications,omitempty"`
}

// ConservativeDefault is the verdict used when no backend produced a usable
// signal. Missed PII costs more than a false positive, so total failure
// biases toward flagging.
func ConservativeDefault() ContextAnalysisResult {
	return ContextAnalysisResult{
		IsGenuinePII: true,
		Confidence:   0.5,
		Reason:       "Analysis unavailable, conservative default applied",
		RiskLevel:    detectors.RiskMedium,
	}
}

// Fuse combines the primary (LLM) and secondary (classifier) signals into one
// verdict.
//
// The more confident signal dominates with a 0.7/0.3 blend. Disagreement on
// the verdict itself never resolves to "not PII": the fused verdict is forced
// genuine and the blended confidence is capped at 0.7. With only a secondary
// signal, it is accepted as PII when it says genuine or carries confidence
// above 0.3, flooring the confidence at 0.5.
func Fuse(primary, secondary *ModelSignal) ContextAnalysisResult {
	result := ConservativeDefault()

	if primary != nil {
		result = signalToResult(*primary)
	}

	if secondary == nil {
		return clampResult(result)
	}

	if primary == nil {
		if secondary.IsGenuinePII || secondary.Confidence > 0.3 {
			result = signalToResult(*secondary)
			if result.Confidence < 0.5 {
				result.Confidence = 0.5
			}
		} else {
			result = signalToResult(*secondary)
			result.IsGenuinePII = false
		}
		return clampResult(result)
	}

	if secondary.Confidence > primary.Confidence {
		result = signalToResult(*secondary)
		result.Confidence = secondary.Confidence*0.7 + primary.Confidence*0.3
	} else {
		result.Confidence = primary.Confidence*0.7 + secondary.Confidence*0.3
	}

	if primary.IsGenuinePII != secondary.IsGenuinePII {
		result.IsGenuinePII = true
		if result.Confidence > 0.7 {
			result.Confidence = 0.7
		}
	}

	// Merge false-positive indicators from both backends.
	if primary.FalsePositiveIndicators != nil || secondary.FalsePositiveIndicators != nil {
		seen := make(map[string]bool)
		var merged []string
		for _, ind := range append(append([]string{}, primary.FalsePositiveIndicators...), secondary.FalsePositiveIndicators...) {
			if !seen[ind] {
				seen[ind] = true
				merged = append(merged, ind)
			}
		}
		result.FalsePositiveIndicators = merged
	}

	return clampResult(result)
}

func signalToResult(s ModelSignal) ContextAnalysisResult {
	risk := s.RiskLevel
	if risk == "" {
		risk = detectors.RiskMedium
	}
	return ContextAnalysisResult{
		IsGenuinePII:            s.IsGenuinePII,
		Confidence:              s.Confidence,
		Reason:                  s.Reason,
		RiskLevel:               risk,
		CulturalContext:         s.CulturalContext,
		FalsePositiveIndicators: s.FalsePositiveIndicators,
		PrivacyImplications:     s.PrivacyImplications,
	}
}

func clampResult(r ContextAnalysisResult) ContextAnalysisResult {
	r.Confidence = detectors.Clamp01(r.Confidence)
	return r
}

// RefineProbability blends the original detection probability with the fused
// analysis confidence. A non-PII verdict forces the probability to zero
// outright.
func RefineProbability(originalProbability float64, analysis ContextAnalysisResult) float64 {
	if !analysis.IsGenuinePII {
		return 0.0
	}
	return detectors.Clamp01(originalProbability*0.4 + analysis.Confidence*0.6)
}
