package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/chat-warden/moderation"
)

const (
	defaultHistoryLimit = 50
	defaultRankingLimit = 20
)

// HandleMutes returns the active-mute index, oldest first.
func (h *Handlers) HandleMutes(w http.ResponseWriter, r *http.Request) {
	mutes := h.mgr.ActiveMutes()
	writeJSON(w, http.StatusOK, map[string]any{
		"version": h.mgr.Versions().Current(moderation.ViewMutes),
		"mutes":   mutes,
	})
}

// HandleHistory returns the most recent mute episodes, newest first.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultHistoryLimit)
	writeJSON(w, http.StatusOK, map[string]any{
		"version": h.mgr.Versions().Current(moderation.ViewHistory),
		"history": h.mgr.RecentHistory(limit),
	})
}

// HandleRanking returns identities ordered by mute count.
func (h *Handlers) HandleRanking(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultRankingLimit)
	writeJSON(w, http.StatusOK, map[string]any{
		"version": h.mgr.Versions().Current(moderation.ViewRanking),
		"ranking": h.mgr.Ranking(limit),
	})
}

// HandleViewsPoll lets clients cheaply ask whether a view changed since the
// version token they last saw: GET /views/poll?view=mutes&since=42.
func (h *Handlers) HandleViewsPoll(w http.ResponseWriter, r *http.Request) {
	view := moderation.View(r.URL.Query().Get("view"))
	switch view {
	case moderation.ViewMutes, moderation.ViewHistory, moderation.ViewRanking:
	default:
		http.Error(w, "unknown view", http.StatusBadRequest)
		return
	}
	since := uint64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = v
	}
	cur, changed := h.mgr.Versions().Poll(view, since)
	writeJSON(w, http.StatusOK, map[string]any{
		"view":    view,
		"version": cur,
		"changed": changed,
	})
}

// HandleAdminMute applies a manual mute: POST {"user_id": "...", "display_name": "..."}.
func (h *Handlers) HandleAdminMute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	if body.DisplayName == "" {
		body.DisplayName = body.UserID
	}
	rec, applied, err := h.mgr.ApplyMute(r.Context(), body.UserID, body.DisplayName, moderation.ReasonManual)
	if err != nil {
		slog.Error("admin mute failed", slog.String("user_id", body.UserID), slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied, "mute": rec})
}

// HandleAdminUnmute lifts a mute early: POST {"user_id": "..."}.
func (h *Handlers) HandleAdminUnmute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	lifted, err := h.mgr.Unmute(r.Context(), body.UserID)
	if err != nil {
		slog.Error("admin unmute failed", slog.String("user_id", body.UserID), slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lifted": lifted})
}

// HandleAdminSend posts an announcement to chat: POST {"message": "..."}.
func (h *Handlers) HandleAdminSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}
	if h.helix == nil {
		http.Error(w, "announcements not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.helix.SendAnnouncement(r.Context(), body.Message); err != nil {
		slog.Error("admin announcement failed", slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
