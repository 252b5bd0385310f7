package moderation

import (
	"sync"
	"time"
)

// Tracker keeps a sliding window of event timestamps per identity and decides
// whether a new event breaches the flood threshold. Identities with no events
// are never pre-allocated; stale entries are evicted lazily on Record and in
// bulk by the periodic Cleanup.
type Tracker struct {
	mu       sync.Mutex
	window   time.Duration
	maxCount int
	windows  map[string][]time.Time
}

// NewTracker returns a tracker that flags an identity once strictly more than
// maxCount events land inside the trailing window.
func NewTracker(window time.Duration, maxCount int) *Tracker {
	return &Tracker{
		window:   window,
		maxCount: maxCount,
		windows:  make(map[string][]time.Time),
	}
}

// Record registers an event for the identity at the given time and reports
// whether it breaches the threshold: true iff, after evicting entries older
// than the window and appending now, the window holds strictly more than
// maxCount entries.
func (t *Tracker) Record(identity string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	win := evict(t.windows[identity], now.Add(-t.window))
	win = append(win, now)
	t.windows[identity] = win
	return len(win) > t.maxCount
}

// Cleanup evicts stale entries for every tracked identity and drops
// identities whose windows are left empty, reclaiming memory. It returns the
// number of identities still tracked. This is the only path that removes an
// identity's rate-tracking state; it runs on a fixed period, never inline
// with event handling.
func (t *Tracker) Cleanup(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	for id, win := range t.windows {
		win = evict(win, cutoff)
		if len(win) == 0 {
			delete(t.windows, id)
			continue
		}
		t.windows[id] = win
	}
	return len(t.windows)
}

// Tracked reports whether the identity currently has rate-tracking state.
func (t *Tracker) Tracked(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.windows[identity]
	return ok
}

// Size returns the number of identities currently tracked.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

// evict drops leading entries with timestamp before cutoff. Entries are
// appended in arrival order, so the slice stays monotonically non-decreasing.
func evict(win []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(win) && win[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return win
	}
	return append(win[:0:0], win[i:]...)
}
