// Package memory persists and retrieves agent memories: a SQLite store
// with FTS5 keyword search blended against sqlite-vec semantic search.
package memory

import "time"

// Memory types form a closed enum. Unknown strings are coerced to TypeFact
// at the persistence boundary.
const (
	TypeExplicit   = "explicit"
	TypeSkill      = "skill"
	TypeFact       = "fact"
	TypeDecision   = "decision"
	TypeProcedural = "procedural"
	TypePreference = "preference"
	TypePattern    = "pattern"
	TypeSemantic   = "semantic"
	TypeSystem     = "system"
)

var validTypes = map[string]bool{
	TypeExplicit: true, TypeSkill: true, TypeFact: true,
	TypeDecision: true, TypeProcedural: true, TypePreference: true,
	TypePattern: true, TypeSemantic: true, TypeSystem: true,
}

// Memory is one persisted row.
type Memory struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Type        string     `json:"type"`
	Source      string     `json:"source"`
	Importance  float64    `json:"importance"`
	Confidence  float64    `json:"confidence"`
	Tags        []string   `json:"tags"`
	Pinned      bool       `json:"pinned"`
	Who         string     `json:"who,omitempty"`
	Project     string     `json:"project,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AccessedAt  *time.Time `json:"accessed_at,omitempty"`
	AccessCount int        `json:"access_count"`
}

// RememberInput carries the writable fields of a new memory.
type RememberInput struct {
	Content    string   `json:"content"`
	Type       string   `json:"type,omitempty"`
	Source     string   `json:"source,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Pinned     bool     `json:"pinned,omitempty"`
	Who        string   `json:"who,omitempty"`
	Project    string   `json:"project,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
}

// RememberResult reports the persisted id and whether a vector was written.
type RememberResult struct {
	ID       string `json:"id"`
	Embedded bool   `json:"embedded"`
}

// RecallQuery filters a hybrid search.
type RecallQuery struct {
	Query string     `json:"query"`
	Limit int        `json:"limit,omitempty"`
	Type  string     `json:"type,omitempty"`
	Tags  []string   `json:"tags,omitempty"`
	Who   string     `json:"who,omitempty"`
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

// Match sources.
const (
	SourceKeyword  = "keyword"
	SourceSemantic = "semantic"
	SourceHybrid   = "hybrid"
)

// RecallResult is one scored hit.
type RecallResult struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	Tags      []string  `json:"tags"`
	Pinned    bool      `json:"pinned"`
	Who       string    `json:"who,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditResult summarizes embedding coverage.
type AuditResult struct {
	Total      int     `json:"total"`
	Unembedded int     `json:"unembedded"`
	Coverage   float64 `json:"coverage"`
}
