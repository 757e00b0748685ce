package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signetai/signet/memory"
)

// Hook endpoints never answer with an error shape: external collaborators
// fire them on every session event and must not block or fail on us.

type sessionStartRequest struct {
	Harness string `json:"harness"`
	Project string `json:"project,omitempty"`
}

func (d *Daemon) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req sessionStartRequest
	if !readJSON(w, r, &req) {
		return
	}

	inject, count, err := d.store.SessionContext(r.Context(), req.Project, d.cfg.Memory.SessionBudget)
	if err != nil {
		d.logger.Warnw("Session context unavailable", "harness", req.Harness, "error", err)
		inject, count = "", 0
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"inject":   inject,
		"memories": count,
	})
}

type promptSubmitRequest struct {
	Harness    string `json:"harness"`
	UserPrompt string `json:"userPrompt"`
}

func (d *Daemon) handleUserPromptSubmit(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req promptSubmitRequest
	if !readJSON(w, r, &req) {
		return
	}

	inject, count := d.promptContext(r.Context(), req.UserPrompt)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"inject":      inject,
		"memoryCount": count,
	})
}

// promptBudget caps the characters injected per user prompt; prompt-scoped
// context is a nudge, not a session preamble.
const promptBudget = 500

// promptContext recalls memories keyed on the prompt's keywords and renders
// them for injection. Any failure degrades to nothing injected.
func (d *Daemon) promptContext(ctx context.Context, prompt string) (string, int) {
	keywords := memory.ExtractKeywords(prompt)
	if len(keywords) == 0 {
		return "", 0
	}

	results, _, err := d.store.Recall(ctx, memory.RecallQuery{
		Query: strings.Join(keywords, " "),
		Limit: 5,
	})
	if err != nil || len(results) == 0 {
		return "", 0
	}

	var b strings.Builder
	b.WriteString("## Relevant memories\n\n")
	count := 0
	for _, res := range results {
		line := fmt.Sprintf("- (%s) %s\n", res.Type, res.Content)
		if b.Len()+len(line) > promptBudget {
			break
		}
		b.WriteString(line)
		count++
	}
	if count == 0 {
		return "", 0
	}
	return b.String(), count
}

type sessionEndRequest struct {
	Harness        string `json:"harness"`
	TranscriptPath string `json:"transcriptPath,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func (d *Daemon) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req sessionEndRequest
	if !readJSON(w, r, &req) {
		return
	}

	saved := 0
	// A cleared session carries nothing worth keeping.
	if req.TranscriptPath != "" && req.Reason != "clear" {
		n, err := d.store.ExtractFromTranscript(r.Context(), d.client,
			req.TranscriptPath, req.SessionID, req.Harness)
		if err != nil {
			d.logger.Warnw("Transcript extraction failed",
				"path", req.TranscriptPath, "error", err)
		} else {
			saved = n
		}
	}
	d.recordConversation(r.Context(), req, saved)

	writeJSON(w, http.StatusOK, map[string]interface{}{"memoriesSaved": saved})
}

func (d *Daemon) recordConversation(ctx context.Context, req sessionEndRequest, saved int) {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := d.database.ExecContext(ctx, `INSERT INTO conversations
		(id, harness, session_id, started_at, ended_at, memories_saved)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), req.Harness, req.SessionID, now, now, saved,
	); err != nil {
		d.logger.Warnw("Conversation not recorded", "error", err)
	}
}

// handleCompactionAck acknowledges pre-compaction and compaction-complete.
// Idempotent: the daemon keeps no per-compaction state.
func (d *Daemon) handleCompactionAck(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
