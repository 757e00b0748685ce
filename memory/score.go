package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/internal/util"
)

const (
	// Importance decays 5% per day of age, floored so old memories never
	// vanish entirely from budget selection.
	decayRate  = 0.95
	decayFloor = 0.1

	// DefaultSessionBudget caps the characters injected at session start.
	DefaultSessionBudget = 2000

	// Memories scoring at or below this are left out of session injection
	// unless pinned.
	sessionScoreFloor = 0.2
)

// EffectiveScore ranks a memory for session injection. Pinned memories
// always score 1.0; everything else decays with age.
func EffectiveScore(m *Memory, now time.Time) float64 {
	if m.Pinned {
		return 1.0
	}
	ageDays := now.Sub(m.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return m.Importance * math.Max(decayFloor, math.Pow(decayRate, ageDays))
}

// SessionContext selects memories into a character budget and renders them
// as a markdown block for injection at session start. Rows scoped to the
// given project come first, then unscoped rows; within each group pinned
// and high-scoring memories win. Returns the block and the count included.
func (s *Store) SessionContext(ctx context.Context, project string, budget int) (string, int, error) {
	if budget <= 0 {
		budget = DefaultSessionBudget
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, type, source, importance,
		confidence, tags, pinned, who, project, session_id,
		created_at, updated_at, accessed_at, access_count
		FROM memories WHERE is_deleted = 0 AND (project = ? OR project = '')
		ORDER BY pinned DESC, importance DESC LIMIT 200`, project)
	if err != nil {
		return "", 0, errors.Wrap(err, "query session memories")
	}
	defer rows.Close()

	memories, err := scanMemories(rows)
	if err != nil {
		return "", 0, err
	}
	if len(memories) == 0 {
		return "", 0, nil
	}

	now := time.Now().UTC()
	sort.SliceStable(memories, func(i, j int) bool {
		mi, mj := &memories[i], &memories[j]
		if project != "" && mi.Project != mj.Project {
			return mi.Project == project
		}
		return EffectiveScore(mi, now) > EffectiveScore(mj, now)
	})

	var b strings.Builder
	b.WriteString("## Memories\n\n")
	var ids []string
	for i := range memories {
		m := &memories[i]
		if !m.Pinned && EffectiveScore(m, now) <= sessionScoreFloor {
			continue
		}
		line := formatContextLine(m)
		if b.Len()+len(line) > budget {
			break
		}
		b.WriteString(line)
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return "", 0, nil
	}

	s.bumpAccess(ctx, ids)
	return b.String(), len(ids), nil
}

func formatContextLine(m *Memory) string {
	marker := ""
	if m.Pinned {
		marker = " [pinned]"
	}
	return fmt.Sprintf("- (%s)%s %s\n", m.Type, marker, m.Content)
}

// ExtractKeywords pulls search terms from a user prompt: lowercase words
// of three or more characters, deduplicated, capped at ten. The hook layer
// joins them into a recall query.
func ExtractKeywords(prompt string) []string {
	const maxKeywords = 10
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range util.Tokens(prompt) {
		if len(tok) < 3 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
