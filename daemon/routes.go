package daemon

import (
	"net/http"
	"time"
)

// routes builds the loopback API surface.
func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/api/status", d.handleStatus)

	mux.HandleFunc("/api/memory/remember", d.handleRemember)
	mux.HandleFunc("/api/memory/recall", d.handleRecall)

	mux.HandleFunc("/api/repair/embedding-gaps", d.handleEmbeddingGaps)
	mux.HandleFunc("/api/repair/re-embed", d.handleReEmbed)

	mux.HandleFunc("/api/hooks/session-start", d.handleSessionStart)
	mux.HandleFunc("/api/hooks/user-prompt-submit", d.handleUserPromptSubmit)
	mux.HandleFunc("/api/hooks/session-end", d.handleSessionEnd)
	mux.HandleFunc("/api/hooks/pre-compaction", d.handleCompactionAck)
	mux.HandleFunc("/api/hooks/compaction-complete", d.handleCompactionAck)

	mux.HandleFunc("/api/logs", d.handleLogs)
	mux.HandleFunc("/api/logs/stream", d.handleLogStream)
	mux.HandleFunc("/ws/logs", d.handleLogSocket)

	return d.logRequests(mux)
}

// logRequests traces every API call with its handling time. The original
// ResponseWriter passes straight through so streaming handlers keep their
// Flusher and Hijacker interfaces.
func (d *Daemon) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		d.logger.Debugw("Request handled",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
