package pii

// PIIType classifies what kind of personal information a span contains.
type PIIType string

const (
	TypePhone        PIIType = "phone"
	TypeEmail        PIIType = "email"
	TypeSSN          PIIType = "ssn"
	TypeCreditCard   PIIType = "credit_card"
	TypeName         PIIType = "name"
	TypeAddress      PIIType = "address"
	TypeOrganization PIIType = "organization"
	TypeDate         PIIType = "date"
	TypeDateOfBirth  PIIType = "date_of_birth"
	TypeIDNumber     PIIType = "id_number"
	TypePassport     PIIType = "passport"
	TypePostalCode   PIIType = "postal_code"
)

// ConfidenceLevel is the coarse tier derived from a continuous probability.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// TierFor buckets a probability into a confidence tier.
func TierFor(probability float64) ConfidenceLevel {
	switch {
	case probability >= 0.9:
		return ConfidenceHigh
	case probability >= 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// RiskLevel is the severity classification of a PII type, independent of
// detection confidence.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
	RiskMinimal  RiskLevel = "minimal"
)

// Span is a detected PII candidate: a half-open character range [Start, End)
// in the source text, plus type, language and a probability in [0,1].
// Sources records every detector that contributed to the span; the merge
// step unions it across overlapping candidates.
type Span struct {
	Text           string          `json:"text"`
	Type           PIIType         `json:"type"`
	Language       string          `json:"language"`
	Start          int             `json:"start"`
	End            int             `json:"end"`
	Probability    float64         `json:"probability"`
	ConfidenceTier ConfidenceLevel `json:"confidence_tier"`
	Sources        []string        `json:"sources"`
}

// AddSource appends a source identifier if not already present, preserving
// encounter order.
func (s *Span) AddSource(source string) {
	for _, existing := range s.Sources {
		if existing == source {
			return
		}
	}
	s.Sources = append(s.Sources, source)
}

// UnionSources merges another span's sources into this one.
func (s *Span) UnionSources(other Span) {
	for _, src := range other.Sources {
		s.AddSource(src)
	}
}

// DetectorInput represents the input for PII detection.
type DetectorInput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// DetectorOutput represents the output of PII detection.
type DetectorOutput struct {
	Text  string `json:"text"`
	Spans []Span `json:"spans"`
}

// Clamp01 clamps a probability to [0,1].
func Clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
