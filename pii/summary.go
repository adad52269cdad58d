package pii

import (
	detectors "github.com/hannes/deepsearch/pii/detectors"
)

// RefinedEntity is a span after context analysis and fusion. Never mutated
// after construction; discarded at end of request except for aggregate
// statistics.
type RefinedEntity struct {
	ID                  string                `json:"id"`
	Span                detectors.Span        `json:"span"`
	OriginalProbability float64               `json:"original_probability"`
	RefinedProbability  float64               `json:"refined_probability"`
	IsValidated         bool                  `json:"is_validated"`
	Analysis            ContextAnalysisResult `json:"analysis"`
}

// SummaryStats aggregates the final entity set for one request.
type SummaryStats struct {
	TotalItems         int                       `json:"total_items"`
	ValidatedCount     int                       `json:"validated_count"`
	RejectedCount      int                       `json:"rejected_count"`
	ByRiskBucket       map[string]int            `json:"by_risk_bucket"`
	ByLanguage         map[string]int            `json:"by_language"`
	ByType             map[detectors.PIIType]int `json:"by_type"`
	AverageProbability float64                   `json:"average_probability"`
}

// Risk buckets fold the five risk levels into three for reporting.
func riskBucket(level detectors.RiskLevel) string {
	switch level {
	case detectors.RiskCritical, detectors.RiskHigh:
		return "high"
	case detectors.RiskLow, detectors.RiskMinimal:
		return "low"
	default:
		return "medium"
	}
}

// BuildSummary aggregates processed entities. Pure function of its input:
// recomputable from the entity list alone. Counts other than RejectedCount
// cover validated entities only; AverageProbability averages
// refinedProbability over validated entities and is 0.0 when none validated.
func BuildSummary(entities []RefinedEntity) SummaryStats {
	summary := SummaryStats{
		ByRiskBucket: make(map[string]int),
		ByLanguage:   make(map[string]int),
		ByType:       make(map[detectors.PIIType]int),
	}

	var probabilitySum float64
	for _, entity := range entities {
		if !entity.IsValidated {
			summary.RejectedCount++
			continue
		}
		summary.ValidatedCount++
		summary.ByRiskBucket[riskBucket(entity.Analysis.RiskLevel)]++
		summary.ByLanguage[entity.Span.Language]++
		summary.ByType[entity.Span.Type]++
		probabilitySum += entity.RefinedProbability
	}

	summary.TotalItems = summary.ValidatedCount
	if summary.ValidatedCount > 0 {
		summary.AverageProbability = probabilitySum / float64(summary.ValidatedCount)
	}

	return summary
}
