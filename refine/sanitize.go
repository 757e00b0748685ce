// Package refine turns capture bundles into memories through LLM
// extractors, each with its own cooldown, prompt, and parsing rules.
package refine

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
)

const (
	// MaxPromptChars bounds any single user-data block in a prompt.
	MaxPromptChars = 4000

	filterMarker = "[filtered]"
)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
	regexp.MustCompile(`(?i)disregard (all )?prior (instructions|context)`),
}

var systemToken = regexp.MustCompile(`(?i)(system)\s*:`)

// Sanitize neutralizes prompt-injection attempts in user-derived text and
// truncates it. Every capture fragment passes through here before it can
// reach a prompt.
func Sanitize(text string) string {
	for _, p := range injectionPatterns {
		text = p.ReplaceAllString(text, filterMarker)
	}
	// Break up role tokens so the model never sees a bare "system:".
	text = systemToken.ReplaceAllString(text, "$1 :")
	if len(text) > MaxPromptChars {
		text = text[:MaxPromptChars]
	}
	return text
}

// AnonymizePath hides the user's home directory prefix.
func AnonymizePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + strings.TrimPrefix(path, home)
	}
	return path
}

// WrapUserData delimits user-derived text inside a prompt.
func WrapUserData(text string) string {
	return "<user_data>\n" + text + "\n</user_data>"
}

var (
	fencedBlock    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommas = regexp.MustCompile(`,\s*([\]}])`)
)

// ExtractJSON pulls the outermost JSON array or object out of a model
// response: fences stripped, then bracket matching, then a trailing-comma
// repair pass. Returns nil when nothing parseable remains; extraction
// failures are data errors, never panics.
func ExtractJSON(raw string) []byte {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}

	candidate := outermost(raw, '[', ']')
	if candidate == "" {
		candidate = outermost(raw, '{', '}')
	}
	if candidate == "" {
		return nil
	}

	if json.Valid([]byte(candidate)) {
		return []byte(candidate)
	}
	repaired := trailingCommas.ReplaceAllString(candidate, "$1")
	if json.Valid([]byte(repaired)) {
		return []byte(repaired)
	}
	return nil
}

func outermost(s string, open, shut byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, shut)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// DecodeArray unmarshals a model response into a slice, tolerating fences,
// prose around the JSON, and trailing commas. An unparseable response
// yields an empty slice.
func DecodeArray[T any](raw string) []T {
	data := ExtractJSON(raw)
	if data == nil {
		return nil
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		// A single object where an array was expected still counts.
		var one T
		if err := json.Unmarshal(data, &one); err != nil {
			return nil
		}
		return []T{one}
	}
	return out
}
