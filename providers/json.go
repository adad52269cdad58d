package providers

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// LLM backends are asked for JSON but do not reliably return it. ExtractJSON
// applies an ordered chain of strategies and returns the first candidate that
// parses as a JSON object: direct parse, nested-brace extraction, fenced code
// block extraction.
func ExtractJSON(raw string) ([]byte, bool) {
	trimmed := strings.TrimSpace(raw)
	if isJSONObject([]byte(trimmed)) {
		return []byte(trimmed), true
	}

	// One level of nested objects is enough for the payloads the prompts ask
	// for.
	if match := nestedBraceRe.FindString(raw); match != "" && isJSONObject([]byte(match)) {
		return []byte(match), true
	}

	if groups := fencedBlockRe.FindStringSubmatch(raw); len(groups) > 1 && isJSONObject([]byte(groups[1])) {
		return []byte(groups[1]), true
	}

	return nil, false
}

var (
	nestedBraceRe = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
	fencedBlockRe = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*?\\})\\s*```")
	confidenceRe  = regexp.MustCompile(`(?i)confidence["']?\s*[:=]\s*([0-9]+(?:\.[0-9]+)?)`)
)

func isJSONObject(data []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(data, &obj) == nil
}

// ExtractConfidence pulls a stated numeric confidence out of free text.
// Values above 1.0 are assumed to be percentages and divided by 100.
func ExtractConfidence(raw string) (float64, bool) {
	groups := confidenceRe.FindStringSubmatch(raw)
	if len(groups) < 2 {
		return 0, false
	}
	value, err := strconv.ParseFloat(groups[1], 64)
	if err != nil {
		return 0, false
	}
	if value > 1.0 {
		value /= 100
	}
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	return value, true
}
