package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	// Regex definitions use \x60 for backticks because Go raw strings cannot contain backticks.
	fencedJSONRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")

	// controlCharRegex strips the raw control characters some models leak
	// into string values, which encoding/json rejects.
	controlCharRegex = regexp.MustCompile(`[\x00-\x09\x0B\x0C\x0E-\x1F\x7F-\x9F]`)

	// trailingCommaRegex drops the trailing commas models add before a
	// closing bracket.
	trailingCommaRegex = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON parses a model reply into T. It tolerates markdown fences,
// conversational preamble around the object, and the usual formatting damage
// (control characters, literal newlines inside strings, trailing commas).
func ExtractJSON[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, fmt.Errorf("empty response")
	}

	candidate := response
	if m := fencedJSONRegex.FindStringSubmatch(response); len(m) > 1 {
		candidate = m[1]
	}
	// Narrow to the outermost braces so prose on either side of the object
	// never reaches the decoder.
	first := strings.Index(candidate, "{")
	last := strings.LastIndex(candidate, "}")
	if first == -1 || last <= first {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	candidate = candidate[first : last+1]

	var target T
	if err := json.Unmarshal([]byte(candidate), &target); err == nil {
		return &target, nil
	}

	// Second pass: scrub the common damage and retry.
	repaired := sanitizeJSON(candidate)
	if err := json.Unmarshal([]byte(repaired), &target); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from response: %w", err)
	}
	return &target, nil
}

// sanitizeJSON repairs model-mangled JSON: raw control characters inside
// string values become spaces (newlines survive as escaped newlines), and
// trailing commas are removed.
func sanitizeJSON(s string) string {
	var sb strings.Builder
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			case r == '\n' || r == '\r':
				sb.WriteString(`\n`)
				continue
			case r == '\t':
				sb.WriteString(`\t`)
				continue
			}
		} else if r == '"' {
			inString = true
		}
		sb.WriteRune(r)
	}
	out := controlCharRegex.ReplaceAllString(sb.String(), " ")
	out = trailingCommaRegex.ReplaceAllString(out, "$1")
	return out
}
