package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	dbpkg "github.com/onnwee/chat-warden/db"
)

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with detailed checks: database
// connectivity and moderator credentials (a stored OAuth token or a static
// token from the environment).
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"credentials", func() error {
			if os.Getenv("TWITCH_OAUTH_TOKEN") != "" {
				return nil
			}
			var count int
			err := h.db.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM oauth_tokens WHERE provider='twitch'").Scan(&count)
			if err != nil && err != sql.ErrNoRows {
				return err
			}
			if count < 1 {
				return fmt.Errorf("no moderator token")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports a coarse service summary for the dashboard header.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	mutes := h.mgr.ActiveMutes()
	out := map[string]any{
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"active_mutes":   len(mutes),
		"versions": map[string]uint64{
			"mutes":   h.mgr.Versions().Current("mutes"),
			"history": h.mgr.Versions().Current("history"),
			"ranking": h.mgr.Versions().Current("ranking"),
		},
	}
	if h.db != nil {
		if v, err := dbpkg.GetKV(r.Context(), h.db, "service_started_at"); err == nil && v != "" {
			out["service_started_at"] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}
