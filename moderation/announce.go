package moderation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chat-warden/telemetry"
)

// Announcer sends a recurring channel announcement at most once per interval.
// The timestamp only advances on successful delivery, so a failed send is
// retried on the next tick rather than silently skipped for a full interval.
type Announcer struct {
	api      Broadcaster
	text     string
	interval time.Duration

	mu       sync.Mutex
	lastSent time.Time
}

func NewAnnouncer(api Broadcaster, text string, interval time.Duration) *Announcer {
	return &Announcer{api: api, text: text, interval: interval}
}

// MaybeSend delivers the announcement if at least one interval has elapsed
// since the last successful send. Returns whether a send was attempted.
func (a *Announcer) MaybeSend(ctx context.Context, now time.Time) bool {
	if a.text == "" || a.interval <= 0 {
		return false
	}
	a.mu.Lock()
	if !a.lastSent.IsZero() && now.Sub(a.lastSent) < a.interval {
		a.mu.Unlock()
		return false
	}
	a.mu.Unlock()

	if err := a.api.SendMessage(ctx, a.text); err != nil {
		slog.Warn("announcement send failed", slog.Any("err", err))
		return true
	}
	a.mu.Lock()
	a.lastSent = now
	a.mu.Unlock()
	telemetry.AnnouncementsSent.Inc()
	return true
}
