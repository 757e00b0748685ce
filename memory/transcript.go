package memory

import (
	"context"
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/signetai/signet/errors"
)

// Generator is the slice of the LLM client transcript extraction needs.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Available(ctx context.Context) bool
}

// Transcript extraction bounds. Auto-extracted memories are deliberately
// second-class: low importance, hard count cap, aggressive dedup.
const (
	minTranscriptChars = 500
	maxTranscriptChars = 8000
	maxAutoMemories    = 5
	minAutoImportance  = 0.4
	maxAutoImportance  = 0.5
)

const transcriptSystemPrompt = `Extract ONLY significant, contextual facts from this coding session transcript.

STRICT RULES:
1. DO NOT save: user messages verbatim, assistant responses, temporary states, routine operations
2. DO save: user preferences, technical decisions with reasoning, solved issues with solutions, project-specific configs
3. Each memory MUST have enough context to be useful standalone
4. Maximum 5 memories per session. If nothing significant, return []
5. importance scale: 0.3-0.5 (most auto-extracted should be low)

Return ONLY a JSON array:
[{"content": "...", "type": "fact|decision|preference|skill|procedural", "tags": "tag1,tag2", "importance": 0.3-0.5}]`

type autoMemory struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Tags       string  `json:"tags"`
	Importance float64 `json:"importance"`
}

// ExtractFromTranscript reads a session transcript, asks the model for the
// few facts worth keeping, and persists them. Short transcripts and model
// unavailability are not errors: nothing is saved and the session moves on.
// Returns the number saved.
func (s *Store) ExtractFromTranscript(ctx context.Context, gen Generator, path, sessionID, who string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "read transcript")
	}
	content := string(data)
	if len(content) < minTranscriptChars {
		return 0, nil
	}
	if gen == nil || !gen.Available(ctx) {
		s.warnf("model unavailable, transcript extraction skipped")
		return 0, nil
	}
	if len(content) > maxTranscriptChars {
		content = content[:maxTranscriptChars]
	}

	raw, err := gen.Generate(ctx, transcriptSystemPrompt, "Transcript:\n"+content)
	if err != nil {
		return 0, errors.Wrap(err, "transcript extraction")
	}

	items := decodeAutoMemories(raw)
	if len(items) > maxAutoMemories {
		items = items[:maxAutoMemories]
	}

	saved := 0
	for _, it := range items {
		it.Content = strings.TrimSpace(it.Content)
		if it.Content == "" {
			continue
		}
		importance := it.Importance
		if importance > maxAutoImportance {
			// The model overreached; keep the memory but at auto weight.
			importance = 0.4
		}
		if importance < minAutoImportance {
			continue
		}
		if dup, err := s.isNearDuplicate(ctx, it.Content); err != nil || dup {
			continue
		}

		if _, err := s.Remember(ctx, RememberInput{
			Content:    it.Content,
			Type:       it.Type,
			Source:     "session",
			Importance: &importance,
			Who:        who,
			SessionID:  sessionID,
			Tags:       splitAutoTags(it.Tags),
		}); err != nil {
			s.warnf("transcript extract save failed: %v", err)
			continue
		}
		saved++
	}
	return saved, nil
}

// decodeAutoMemories finds the first JSON array in a model response and
// unmarshals it. Anything undecodable yields nothing.
func decodeAutoMemories(raw string) []autoMemory {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}
	var items []autoMemory
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil
	}
	return items
}

var dupWordPattern = regexp.MustCompile(`\b\w{4,}\b`)

// isNearDuplicate reports whether an existing memory already covers this
// content: FTS candidates sharing its leading substantive words, then
// containment either way or above 70% word overlap.
func (s *Store) isNearDuplicate(ctx context.Context, content string) (bool, error) {
	words := dupWordPattern.FindAllString(strings.ToLower(content), 5)
	if len(words) == 0 {
		return false, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT content FROM memories_fts WHERE memories_fts MATCH ? LIMIT 5",
		strings.Join(words, " AND "))
	if err != nil {
		// A query the tokenizer rejects means no candidates, not failure.
		return false, nil
	}
	defer rows.Close()

	lower := strings.ToLower(content)
	contentWords := strings.Fields(lower)
	for rows.Next() {
		var existing string
		if err := rows.Scan(&existing); err != nil {
			continue
		}
		existingLower := strings.ToLower(existing)
		if strings.Contains(existingLower, lower) || strings.Contains(lower, existingLower) {
			return true, nil
		}
		if wordOverlap(contentWords, strings.Fields(existingLower)) > float64(len(contentWords))*0.7 {
			return true, nil
		}
	}
	return false, rows.Err()
}

func wordOverlap(a, b []string) float64 {
	set := make(map[string]struct{}, len(b))
	for _, w := range b {
		set[w] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	n := 0
	for _, w := range a {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := set[w]; ok {
			n++
		}
	}
	return float64(n)
}

func splitAutoTags(tags string) []string {
	if tags == "" {
		return []string{"session-extract"}
	}
	parts := strings.Split(tags, ",")
	out := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return append(out, "session-extract")
}
