package daemon

import (
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/signetai/signet/memory"
)

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !d.ready(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status := map[string]interface{}{
		"pid":     os.Getpid(),
		"uptime":  time.Since(d.startedAt).Round(time.Second).String(),
		"version": d.version,
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			status["rssBytes"] = mem.RSS
		}
	}
	if d.manager != nil {
		status["captures"] = d.manager.GetCounts()
	}
	if d.scheduler != nil {
		status["memoriesExtractedToday"] = d.scheduler.MemoriesExtractedToday()
	}
	if count, err := d.store.Count(r.Context()); err == nil {
		status["memories"] = count
	}

	writeJSON(w, http.StatusOK, status)
}

func (d *Daemon) handleRemember(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var input memory.RememberInput
	if !readJSON(w, r, &input) {
		return
	}
	if input.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	result, err := d.store.Remember(r.Context(), input)
	if err != nil {
		d.logger.Warnw("Remember failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save memory")
		return
	}

	saved, err := d.store.Get(r.Context(), result.ID)
	if err != nil || saved == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": result.ID, "embedded": result.Embedded,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       result.ID,
		"embedded": result.Embedded,
		"type":     saved.Type,
		"tags":     saved.Tags,
		"pinned":   saved.Pinned,
	})
}

func (d *Daemon) handleRecall(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var query memory.RecallQuery
	if !readJSON(w, r, &query) {
		return
	}
	if query.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, method, err := d.store.Recall(r.Context(), query)
	if err != nil {
		d.logger.Warnw("Recall failed", "query", query.Query, "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []memory.RecallResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query.Query,
		"method":  method,
		"results": results,
	})
}

func (d *Daemon) handleEmbeddingGaps(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	audit, err := d.store.Audit(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit failed")
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

func (d *Daemon) handleReEmbed(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		BatchSize int  `json:"batchSize"`
		DryRun    bool `json:"dryRun"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	affected, message, err := d.store.Backfill(r.Context(), req.BatchSize, req.DryRun)
	if err != nil {
		d.logger.Warnw("Backfill failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"action": "re-embed", "success": false, "affected": 0, "message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"action":   "re-embed",
		"success":  true,
		"affected": affected,
		"message":  message,
	})
}
