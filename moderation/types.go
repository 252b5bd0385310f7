package moderation

import (
	"context"
	"time"
)

// Reason classifies why a mute was applied.
type Reason string

const (
	ReasonKeywordFlood Reason = "keyword_flood"
	ReasonMessageFlood Reason = "message_flood"
	ReasonManual       Reason = "manual"
)

// MuteRecord is one entry in the active-mute index. At most one exists per
// identity at any time.
type MuteRecord struct {
	UserID      string        `json:"user_id"`
	DisplayName string        `json:"display_name"`
	MutedAt     time.Time     `json:"muted_at"`
	Duration    time.Duration `json:"duration"`
}

// ScheduledUnmuteAt returns when the mute is due to be lifted.
func (r MuteRecord) ScheduledUnmuteAt() time.Time {
	return r.MutedAt.Add(r.Duration)
}

// Expired reports whether the mute is due at the given time.
func (r MuteRecord) Expired(now time.Time) bool {
	return !r.ScheduledUnmuteAt().After(now)
}

// HistoryEntry is one mute episode in the append-only history log. It is
// immutable once written except for ActualUnmuteAt and Status, which are set
// once when the episode closes.
type HistoryEntry struct {
	UserID            string        `json:"user_id"`
	DisplayName       string        `json:"display_name"`
	MutedAt           time.Time     `json:"muted_at"`
	Duration          time.Duration `json:"duration"`
	ScheduledUnmuteAt time.Time     `json:"scheduled_unmute_at"`
	Reason            Reason        `json:"reason"`
	ActualUnmuteAt    *time.Time    `json:"actual_unmute_at,omitempty"`
	Status            string        `json:"status"`
}

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// RankingEntry aggregates an identity's mute episodes.
type RankingEntry struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	MuteCount   int     `json:"mute_count"`
	TotalHours  float64 `json:"total_hours"`
}

// ModerationAPI is the remote platform's moderation action surface. Calls may
// block or fail; they are never made while holding the manager's mutation
// lock.
type ModerationAPI interface {
	Mute(ctx context.Context, userID string, duration time.Duration, reason string) error
	Unmute(ctx context.Context, userID string) error
}

// Broadcaster sends a message to the monitored channel.
type Broadcaster interface {
	SendMessage(ctx context.Context, text string) error
}

// Closure records one lifted mute for the batched durable write.
type Closure struct {
	UserID    string
	UnmutedAt time.Time
}

// Store durably persists the active-mute index and the history log. Writes
// are atomic with respect to process crash: fully visible on the next load or
// not at all.
type Store interface {
	// Load returns the persisted active mutes and history, oldest history first.
	Load(ctx context.Context) ([]MuteRecord, []HistoryEntry, error)
	// SaveMute persists a newly applied mute and its open history entry in one transaction.
	SaveMute(ctx context.Context, rec MuteRecord, entry HistoryEntry) error
	// CloseMutes persists a batch of lifted mutes in one transaction.
	CloseMutes(ctx context.Context, closures []Closure) error
}
