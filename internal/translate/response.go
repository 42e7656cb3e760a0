package translate

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var codeFenceRegex = regexp.MustCompile("```(?:json)?\\s*")

func cleanJSONResponse(s string) string {
	s = codeFenceRegex.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// fixInvalidEscapes doubles the backslash of escapes JSON does not know,
// such as the \N line break some subtitle formats use.
func fixInvalidEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		switch next := s[i+1]; next {
		case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
			b.WriteByte('\\')
			b.WriteByte(next)
		default:
			b.WriteString(`\\`)
			b.WriteByte(next)
		}
		i++
	}
	return b.String()
}

// extractResults finds the first JSON array of translations in text, also
// accepting one wrapped in an object.
func extractResults(text string) ([]item, error) {
	text = fixInvalidEscapes(text)

	for i := 0; i < len(text); i++ {
		if text[i] != '[' && text[i] != '{' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&raw); err != nil {
			continue
		}
		if results, ok := resultsFrom(raw); ok {
			return results, nil
		}
	}
	return nil, errors.New("no translation JSON found in response")
}

var wrapperKeys = []string{"results", "translations", "data", "items"}

func resultsFrom(raw json.RawMessage) ([]item, bool) {
	var results []item
	if err := json.Unmarshal(raw, &results); err == nil && hasText(results) {
		return results, true
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, false
	}
	for _, key := range wrapperKeys {
		if field, ok := wrapper[key]; ok {
			if err := json.Unmarshal(field, &results); err == nil && hasText(results) {
				return results, true
			}
		}
	}
	for _, field := range wrapper {
		if err := json.Unmarshal(field, &results); err == nil && hasText(results) {
			return results, true
		}
	}
	return nil, false
}

func hasText(results []item) bool {
	for _, r := range results {
		if r.Text != "" {
			return true
		}
	}
	return false
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
