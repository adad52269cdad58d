package pii

import (
	detectors "github.com/hannes/deepsearch/pii/detectors"
)

// Severity by PII type, independent of detection confidence. Identifiers
// that enable identity theft outrank contact details, which outrank
// everything else.
var highRiskTypes = map[detectors.PIIType]bool{
	detectors.TypeSSN:        true,
	detectors.TypeCreditCard: true,
	detectors.TypeIDNumber:   true,
	detectors.TypePassport:   true,
}

var mediumRiskTypes = map[detectors.PIIType]bool{
	detectors.TypeEmail:       true,
	detectors.TypePhone:       true,
	detectors.TypeAddress:     true,
	detectors.TypeDateOfBirth: true,
}

// RiskForType maps a PII type and analysis confidence to a risk level.
func RiskForType(piiType detectors.PIIType, confidence float64) detectors.RiskLevel {
	switch {
	case highRiskTypes[piiType]:
		if confidence >= 0.8 {
			return detectors.RiskCritical
		}
		return detectors.RiskHigh
	case mediumRiskTypes[piiType]:
		if confidence >= 0.8 {
			return detectors.RiskHigh
		}
		return detectors.RiskMedium
	default:
		if confidence >= 0.8 {
			return detectors.RiskMedium
		}
		if confidence >= 0.5 {
			return detectors.RiskLow
		}
		return detectors.RiskMinimal
	}
}

// ParseRiskLevel normalizes a backend-reported risk string; unknown values
// fall back to the type-derived level.
func ParseRiskLevel(raw string, fallback detectors.RiskLevel) detectors.RiskLevel {
	switch raw {
	case "critical":
		return detectors.RiskCritical
	case "high":
		return detectors.RiskHigh
	case "medium":
		return detectors.RiskMedium
	case "low":
		return detectors.RiskLow
	case "minimal", "very_low":
		return detectors.RiskMinimal
	default:
		return fallback
	}
}
