package pii

import (
	"fmt"
	"os"
	"strings"

	detectors "github.com/hannes/deepsearch/pii/detectors"
	"gopkg.in/yaml.v3"
)

// PromptSet holds the reasoning-backend prompt templates. Templates are
// plain strings with recognized placeholders {text}, {entity}, {type},
// {start}, {end} and {language}; unknown placeholders are left untouched.
type PromptSet struct {
	ContextAnalysis string `yaml:"context_analysis"`
	FalsePositive   string `yaml:"false_positive_detection"`
	Multilingual    string `yaml:"multilingual_context"`
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() PromptSet {
	return PromptSet{
		ContextAnalysis: `Analyze if "{entity}" is genuine personal information in this context:

Text: "{text}"
Entity: "{entity}" (Type: {type})

Is this likely to be real personal information (not fictional, example, or generic text)?

Respond in JSON format:
{"is_genuine_pii": true, "confidence": 0.8, "reason": "This appears to be a real person's name", "risk_level": "medium"}`,
		FalsePositive: `Determine if this detected entity is a false positive:

Text: "{text}"
Detected: "{entity}" as {type}

Common false positives:
- Movie/book titles, fictional characters
- Company names in non-personal contexts
- Technical terms, product names
- Example/placeholder text
- Historical references

JSON response: {"is_false_positive": boolean, "confidence": float, "explanation": string}`,
		Multilingual: `Analyze this {language} text for genuine PII:

Text: "{text}"
Entity: "{entity}" (Type: {type})

Consider cultural and linguistic context specific to {language}.
Account for naming conventions, address formats, and privacy norms.

JSON response: {"is_genuine_pii": boolean, "cultural_context": string, "confidence": float}`,
	}
}

// LoadPrompts reads template overrides from a YAML file; keys that are
// missing or empty fall back to the defaults.
func LoadPrompts(path string) (PromptSet, error) {
	prompts := DefaultPrompts()

	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if err != nil {
		return prompts, fmt.Errorf("failed to read prompt file: %w", err)
	}

	var loaded PromptSet
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return prompts, fmt.Errorf("failed to parse prompt file: %w", err)
	}

	if loaded.ContextAnalysis != "" {
		prompts.ContextAnalysis = loaded.ContextAnalysis
	}
	if loaded.FalsePositive != "" {
		prompts.FalsePositive = loaded.FalsePositive
	}
	if loaded.Multilingual != "" {
		prompts.Multilingual = loaded.Multilingual
	}
	return prompts, nil
}

// RenderContext fills the context-analysis template for one entity.
func (p PromptSet) RenderContext(window, entity string, piiType detectors.PIIType, start, end int) string {
	return renderTemplate(p.ContextAnalysis, map[string]string{
		"text":   window,
		"entity": entity,
		"type":   string(piiType),
		"start":  fmt.Sprintf("%d", start),
		"end":    fmt.Sprintf("%d", end),
	})
}

// RenderFalsePositive fills the false-positive template for one entity.
func (p PromptSet) RenderFalsePositive(window, entity string, piiType detectors.PIIType) string {
	return renderTemplate(p.FalsePositive, map[string]string{
		"text":   window,
		"entity": entity,
		"type":   string(piiType),
	})
}

// RenderMultilingual fills the language-aware template for one entity.
func (p PromptSet) RenderMultilingual(language, window, entity string, piiType detectors.PIIType, start, end int) string {
	return renderTemplate(p.Multilingual, map[string]string{
		"language": language,
		"text":     window,
		"entity":   entity,
		"type":     string(piiType),
		"start":    fmt.Sprintf("%d", start),
		"end":      fmt.Sprintf("%d", end),
	})
}

func renderTemplate(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
