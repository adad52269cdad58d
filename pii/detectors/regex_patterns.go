package pii

// PatternSpec pairs a regular expression with the fixed probability assigned
// to its matches. Pattern matches are high-precision, so most confidences sit
// well above the model detectors' floor.
type PatternSpec struct {
	Pattern     string
	Probability float64
}

// DefaultPatterns defines the built-in regex patterns per PII type.
var DefaultPatterns = map[PIIType]PatternSpec{
	TypeEmail:       {`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`, 0.95},
	TypePhone:       {`\b(?:\+?1[-.]?)?\(?([0-9]{3})\)?[-.]?([0-9]{3})[-.]?([0-9]{4})\b`, 0.9},
	TypeSSN:         {`\b\d{3}-\d{2}-\d{4}\b`, 0.95},
	TypeCreditCard:  {`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`, 0.85},
	TypeDateOfBirth: {`\b(?:0?[1-9]|1[0-2])[-/](?:0?[1-9]|[12][0-9]|3[01])[-/](?:19|20)\d{2}\b`, 0.8},
	TypePostalCode:  {`\b\d{5}(?:-\d{4})?\b`, 0.6},
	TypeIDNumber:    {`\b(?:ID|id)[\s#:]*([A-Z0-9]{6,12})\b`, 0.7},
	TypePassport:    {`\b[A-Z]{1,2}\d{7,8}\b`, 0.65},
}
