package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/chat-warden/telemetry"
)

// Manager owns the authoritative active-mute index and the append-only mute
// history. Every mutation to either structure happens under one mutex so they
// are never observed in a mismatched state; calls to the external moderation
// API are made outside the lock.
//
// State machine per identity: Clear -> Muted -> Clear. ApplyMute and Unmute
// are idempotent; a failed external call leaves the state untouched
// (fail-closed for mutes, retained-for-retry for unmutes).
type Manager struct {
	api      ModerationAPI
	store    Store
	duration time.Duration
	fanout   int
	clock    func() time.Time

	mu       sync.Mutex
	active   map[string]MuteRecord
	history  []HistoryEntry
	inflight map[string]struct{}
	pending  []func(ctx context.Context) error
	versions *Versions
}

// NewManager creates a manager applying mutes of the given duration.
// sweepFanout bounds concurrent unmute calls during a sweep (min 1).
func NewManager(api ModerationAPI, store Store, muteDuration time.Duration, sweepFanout int) *Manager {
	telemetry.Init()
	if sweepFanout < 1 {
		sweepFanout = 1
	}
	return &Manager{
		api:      api,
		store:    store,
		duration: muteDuration,
		fanout:   sweepFanout,
		clock:    time.Now,
		active:   make(map[string]MuteRecord),
		inflight: make(map[string]struct{}),
		versions: NewVersions(),
	}
}

// Versions exposes the per-view change-notification counters.
func (m *Manager) Versions() *Versions { return m.versions }

// Load replaces in-memory state with the persisted active mutes and history.
func (m *Manager) Load(ctx context.Context) error {
	recs, hist, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load moderation state: %w", err)
	}
	m.mu.Lock()
	m.active = make(map[string]MuteRecord, len(recs))
	for _, rec := range recs {
		m.active[rec.UserID] = rec
	}
	m.history = hist
	n := len(m.active)
	m.mu.Unlock()
	telemetry.SetActiveMutes(n)
	slog.Info("moderation state loaded", slog.Int("active_mutes", len(recs)), slog.Int("history_entries", len(hist)))
	return nil
}

// ReconcileStartup loads persisted state and immediately sweeps mutes that
// expired while the process was down. It must complete before the event loop
// starts so a long downtime does not leave stale mutes active.
func (m *Manager) ReconcileStartup(ctx context.Context) error {
	if err := m.Load(ctx); err != nil {
		return err
	}
	lifted, failed := m.SweepExpired(ctx)
	if lifted > 0 || failed > 0 {
		slog.Info("startup reconciliation complete", slog.Int("lifted", lifted), slog.Int("failed", failed))
	}
	return nil
}

// ApplyMute transitions an identity from Clear to Muted. It is a no-op
// returning the existing record when the identity is already muted (or a mute
// for it is in flight). The external mute call happens before any state
// change: on failure nothing is recorded and the caller may retry on the next
// violation. Returns the record and whether a new mute was applied.
func (m *Manager) ApplyMute(ctx context.Context, userID, displayName string, reason Reason) (MuteRecord, bool, error) {
	m.mu.Lock()
	if err := m.flushPendingLocked(ctx); err != nil {
		m.mu.Unlock()
		return MuteRecord{}, false, err
	}
	if rec, ok := m.active[userID]; ok {
		m.mu.Unlock()
		return rec, false, nil
	}
	if _, busy := m.inflight[userID]; busy {
		m.mu.Unlock()
		return MuteRecord{}, false, nil
	}
	m.inflight[userID] = struct{}{}
	d := m.duration
	m.mu.Unlock()

	err := m.api.Mute(ctx, userID, d, string(reason))

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, userID)
	if err != nil {
		telemetry.MutesFailed.Inc()
		return MuteRecord{}, false, fmt.Errorf("mute %s: %w", userID, err)
	}

	now := m.clock().UTC()
	rec := MuteRecord{UserID: userID, DisplayName: displayName, MutedAt: now, Duration: d}
	entry := HistoryEntry{
		UserID:            userID,
		DisplayName:       displayName,
		MutedAt:           now,
		Duration:          d,
		ScheduledUnmuteAt: now.Add(d),
		Reason:            reason,
		Status:            StatusOpen,
	}
	m.active[userID] = rec
	m.history = append(m.history, entry)
	m.versions.Bump(ViewMutes, ViewHistory, ViewRanking)
	telemetry.MutesApplied.Inc()
	telemetry.SetActiveMutes(len(m.active))
	slog.Info("mute applied", slog.String("user", displayName), slog.String("user_id", userID), slog.Duration("duration", d), slog.String("reason", string(reason)))

	if serr := m.store.SaveMute(ctx, rec, entry); serr != nil {
		m.queuePersistLocked(serr, func(ctx context.Context) error { return m.store.SaveMute(ctx, rec, entry) })
	}
	return rec, true, nil
}

// Unmute transitions an identity from Muted to Clear. No-op when the identity
// is not muted. On external API failure the record is retained so the next
// sweep retries. Returns whether a mute was lifted.
func (m *Manager) Unmute(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	if err := m.flushPendingLocked(ctx); err != nil {
		m.mu.Unlock()
		return false, err
	}
	if _, ok := m.active[userID]; !ok {
		m.mu.Unlock()
		return false, nil
	}
	if _, busy := m.inflight[userID]; busy {
		m.mu.Unlock()
		return false, nil
	}
	m.inflight[userID] = struct{}{}
	m.mu.Unlock()

	err := m.api.Unmute(ctx, userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, userID)
	if err != nil {
		telemetry.UnmutesFailed.Inc()
		return false, fmt.Errorf("unmute %s: %w", userID, err)
	}
	m.closeLocked(ctx, []Closure{{UserID: userID, UnmutedAt: m.clock().UTC()}})
	return true, nil
}

// SweepExpired lifts every expired active mute. Unmute calls run concurrently
// with bounded fan-out; one identity's failure does not block the others. The
// batch commits with a single durable write. Returns lifted and failed counts.
func (m *Manager) SweepExpired(ctx context.Context) (lifted, failed int) {
	now := m.clock().UTC()

	m.mu.Lock()
	if err := m.flushPendingLocked(ctx); err != nil {
		m.mu.Unlock()
		slog.Error("sweep skipped: pending persist retry failed", slog.Any("err", err))
		return 0, 0
	}
	var due []MuteRecord
	for _, rec := range m.active {
		if !rec.Expired(now) {
			continue
		}
		if _, busy := m.inflight[rec.UserID]; busy {
			continue
		}
		m.inflight[rec.UserID] = struct{}{}
		due = append(due, rec)
	}
	m.mu.Unlock()

	telemetry.SweepCycles.Inc()
	if len(due) == 0 {
		return 0, 0
	}

	errs := make([]error, len(due))
	g := new(errgroup.Group)
	g.SetLimit(m.fanout)
	for i, rec := range due {
		g.Go(func() error {
			errs[i] = m.api.Unmute(ctx, rec.UserID)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	var closures []Closure
	for i, rec := range due {
		delete(m.inflight, rec.UserID)
		if errs[i] != nil {
			// Retained in the active index; the next sweep retries.
			failed++
			telemetry.UnmutesFailed.Inc()
			slog.Warn("sweep unmute failed", slog.String("user_id", rec.UserID), slog.Any("err", errs[i]))
			continue
		}
		closures = append(closures, Closure{UserID: rec.UserID, UnmutedAt: now})
	}
	if len(closures) > 0 {
		m.closeLocked(ctx, closures)
	}
	slog.Info("sweep complete", slog.Int("lifted", len(closures)), slog.Int("failed", failed))
	return len(closures), failed
}

// closeLocked removes lifted mutes from the active index, closes their open
// history entries, bumps versions, and persists the batch. Caller holds m.mu.
func (m *Manager) closeLocked(ctx context.Context, closures []Closure) {
	for _, c := range closures {
		delete(m.active, c.UserID)
		for i := len(m.history) - 1; i >= 0; i-- {
			if m.history[i].UserID == c.UserID && m.history[i].ActualUnmuteAt == nil {
				at := c.UnmutedAt
				m.history[i].ActualUnmuteAt = &at
				m.history[i].Status = StatusClosed
				break
			}
		}
		telemetry.Unmutes.Inc()
	}
	m.versions.Bump(ViewMutes, ViewHistory)
	telemetry.SetActiveMutes(len(m.active))
	if err := m.store.CloseMutes(ctx, closures); err != nil {
		batch := append([]Closure(nil), closures...)
		m.queuePersistLocked(err, func(ctx context.Context) error { return m.store.CloseMutes(ctx, batch) })
	}
}

// flushPendingLocked retries queued durable writes. A mutation is accepted
// only once the queue has drained, bounding data loss on crash. Caller holds m.mu.
func (m *Manager) flushPendingLocked(ctx context.Context) error {
	for len(m.pending) > 0 {
		if err := m.pending[0](ctx); err != nil {
			return fmt.Errorf("retry pending persist: %w", err)
		}
		m.pending = m.pending[1:]
	}
	return nil
}

func (m *Manager) queuePersistLocked(cause error, op func(ctx context.Context) error) {
	m.pending = append(m.pending, op)
	telemetry.PersistFailures.Inc()
	slog.Error("durable write failed; queued for retry before next mutation", slog.Any("err", cause))
}

// IsMuted reports whether the identity currently has an active mute.
func (m *Manager) IsMuted(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[userID]
	return ok
}

// ActiveMutes returns a snapshot of the active-mute index, oldest first.
func (m *Manager) ActiveMutes() []MuteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MuteRecord, 0, len(m.active))
	for _, rec := range m.active {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MutedAt.Equal(out[j].MutedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].MutedAt.Before(out[j].MutedAt)
	})
	return out
}

// RecentHistory returns up to limit history entries, newest first.
func (m *Manager) RecentHistory(limit int) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]HistoryEntry, 0, limit)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.history[i])
	}
	return out
}

// Ranking aggregates history by identity into mute count and cumulative mute
// hours, ordered by count descending. Ties keep first-seen order in the
// history log (stable sort over append order).
func (m *Manager) Ranking(limit int) []RankingEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := make(map[string]int)
	var out []RankingEntry
	for _, e := range m.history {
		i, ok := index[e.UserID]
		if !ok {
			index[e.UserID] = len(out)
			out = append(out, RankingEntry{UserID: e.UserID, DisplayName: e.DisplayName})
			i = len(out) - 1
		}
		out[i].MuteCount++
		out[i].TotalHours += e.Duration.Hours()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MuteCount > out[j].MuteCount })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
