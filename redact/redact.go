// Package redact keeps secrets out of captures and logs. Commands are
// matched against a fixed sensitive-pattern set plus gitleaks' rule corpus;
// a hit replaces the whole command with a marker so nothing leaks through
// partial matching.
package redact

import (
	"regexp"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Marker replaces a sensitive command in its entirety.
const Marker = "[REDACTED — sensitive command]"

// KeywordMarker replaces configured keywords inside transcripts.
const KeywordMarker = "[redacted]"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)token`),
	regexp.MustCompile(`(?i)api[_-]?key`),
	regexp.MustCompile(`(?i)ssh[_-]?key`),
	regexp.MustCompile(`(?i)private[_-]?key`),
	regexp.MustCompile(`(?i)passphrase`),
	regexp.MustCompile(`(?i)export\s+\w*(SECRET|TOKEN|KEY|PASSWORD|PASS)\w*=`),
}

var (
	detector     *detect.Detector
	detectorOnce sync.Once
)

func getDetector() *detect.Detector {
	detectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return
		}
		detector = d
	})
	return detector
}

// Sensitive reports whether a command line should never be stored verbatim.
// Layered: the fixed pattern set catches the shapes users actually type,
// gitleaks catches known credential formats the patterns miss.
func Sensitive(command string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(command) {
			return true
		}
	}
	if d := getDetector(); d != nil {
		for _, finding := range d.DetectString(command) {
			if finding.Secret != "" {
				return true
			}
		}
	}
	return false
}

// Command returns the command unchanged, or the marker when it is sensitive.
func Command(command string) string {
	if Sensitive(command) {
		return Marker
	}
	return command
}

// Keywords replaces case-insensitive occurrences of each keyword in text
// with the keyword marker. Voice transcripts run through this before
// storage.
func Keywords(text string, keywords []string) string {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		text = replaceInsensitive(text, kw, KeywordMarker)
	}
	return text
}

func replaceInsensitive(text, old, new string) string {
	lowerText := strings.ToLower(text)
	lowerOld := strings.ToLower(old)

	var b strings.Builder
	start := 0
	for {
		idx := strings.Index(lowerText[start:], lowerOld)
		if idx < 0 {
			b.WriteString(text[start:])
			return b.String()
		}
		abs := start + idx
		b.WriteString(text[start:abs])
		b.WriteString(new)
		start = abs + len(old)
	}
}
