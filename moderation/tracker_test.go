package moderation

import (
	"testing"
	"time"
)

func TestTrackerThreshold(t *testing.T) {
	tr := NewTracker(10*time.Second, 3)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	steps := []struct {
		offset time.Duration
		want   bool
	}{
		{0, false},
		{3 * time.Second, false},
		{6 * time.Second, false},
		{8 * time.Second, true},
	}
	for i, s := range steps {
		if got := tr.Record("u1", base.Add(s.offset)); got != s.want {
			t.Fatalf("event %d at +%v: Record = %v, want %v", i, s.offset, got, s.want)
		}
	}
}

func TestTrackerEviction(t *testing.T) {
	tr := NewTracker(10*time.Second, 2)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.Record("u1", base)
	tr.Record("u1", base.Add(1*time.Second))
	// Both earlier events have aged out; window holds only this one.
	if tr.Record("u1", base.Add(12*time.Second)) {
		t.Fatal("expected no violation after earlier events aged out")
	}
	if tr.Record("u1", base.Add(13*time.Second)) {
		t.Fatal("window holds 2 events at max 2, expected no violation")
	}
	if !tr.Record("u1", base.Add(14*time.Second)) {
		t.Fatal("window holds 3 events at max 2, expected violation")
	}
}

func TestTrackerBoundaryTimestamp(t *testing.T) {
	tr := NewTracker(10*time.Second, 1)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.Record("u1", base)
	// Exactly window-old entries stay: cutoff comparison is strict.
	if !tr.Record("u1", base.Add(10*time.Second)) {
		t.Fatal("entry exactly one window old should still count")
	}
}

func TestTrackerIdentitiesIndependent(t *testing.T) {
	tr := NewTracker(10*time.Second, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.Record("u1", now)
	if tr.Record("u2", now) {
		t.Fatal("u2's first event must not violate because of u1's events")
	}
	if !tr.Record("u1", now.Add(time.Second)) {
		t.Fatal("u1's second event should violate at max 1")
	}
}

func TestTrackerCleanup(t *testing.T) {
	tr := NewTracker(10*time.Second, 3)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.Record("idle", base)
	tr.Record("busy", base.Add(55*time.Second))

	if n := tr.Cleanup(base.Add(time.Minute)); n != 1 {
		t.Fatalf("Cleanup tracked = %d, want 1", n)
	}
	if tr.Tracked("idle") {
		t.Fatal("idle identity should have been dropped")
	}
	if !tr.Tracked("busy") {
		t.Fatal("busy identity should still be tracked")
	}
}
