// Package testutil holds helpers shared by integration-style tests.
package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	dbpkg "github.com/onnwee/chat-warden/db"
)

// SetupTestDB opens the Postgres instance named by TEST_PG_DSN, runs
// migrations, and registers cleanup. Tests are skipped when the variable is
// unset so the suite passes without a database.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := dbpkg.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// ModerationServer is a fake Helix moderation API backed by httptest. It
// records bans and unbans so tests can assert against the remote surface.
type ModerationServer struct {
	*httptest.Server

	mu      sync.Mutex
	banned  map[string]int // user_id -> duration seconds
	unbans  []string
	sent    []string
	failAll bool
}

// NewModerationServer starts the fake API. Close it via the embedded server.
func NewModerationServer() *ModerationServer {
	ms := &ModerationServer{banned: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /moderation/bans", ms.handleBan)
	mux.HandleFunc("DELETE /moderation/bans", ms.handleUnban)
	mux.HandleFunc("POST /chat/announcements", ms.handleAnnouncement)
	ms.Server = httptest.NewServer(mux)
	return ms
}

// FailAll makes every endpoint return 500 until called with false.
func (ms *ModerationServer) FailAll(v bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failAll = v
}

// Banned returns the ban duration in seconds and whether the user is banned.
func (ms *ModerationServer) Banned(userID string) (int, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	d, ok := ms.banned[userID]
	return d, ok
}

// Unbans returns the user ids unbanned so far, in order.
func (ms *ModerationServer) Unbans() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.unbans...)
}

// Announcements returns the announcement messages received so far.
func (ms *ModerationServer) Announcements() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.sent...)
}

func (ms *ModerationServer) failing(w http.ResponseWriter) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.failAll {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return true
	}
	return false
}

func (ms *ModerationServer) handleBan(w http.ResponseWriter, r *http.Request) {
	if ms.failing(w) {
		return
	}
	var body struct {
		Data struct {
			UserID   string `json:"user_id"`
			Duration int    `json:"duration"`
			Reason   string `json:"reason"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	ms.mu.Lock()
	ms.banned[body.Data.UserID] = body.Data.Duration
	ms.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (ms *ModerationServer) handleUnban(w http.ResponseWriter, r *http.Request) {
	if ms.failing(w) {
		return
	}
	userID := r.URL.Query().Get("user_id")
	ms.mu.Lock()
	delete(ms.banned, userID)
	ms.unbans = append(ms.unbans, userID)
	ms.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (ms *ModerationServer) handleAnnouncement(w http.ResponseWriter, r *http.Request) {
	if ms.failing(w) {
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	ms.mu.Lock()
	ms.sent = append(ms.sent, body.Message)
	ms.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
