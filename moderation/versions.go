package moderation

import "sync"

// View names a logical read surface whose mutations are tracked by a
// monotonic version counter. Polling clients compare version tokens instead
// of re-deriving content hashes.
type View string

const (
	ViewMutes   View = "mutes"
	ViewHistory View = "history"
	ViewRanking View = "ranking"
)

// Versions holds one monotonically increasing counter per view.
type Versions struct {
	mu sync.Mutex
	v  map[View]uint64
}

func NewVersions() *Versions {
	return &Versions{v: make(map[View]uint64)}
}

// Bump increments the counters of the given views.
func (vs *Versions) Bump(views ...View) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	for _, view := range views {
		vs.v[view]++
	}
}

// Current returns the view's current version token.
func (vs *Versions) Current(view View) uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.v[view]
}

// Poll returns the current version for the view and whether it differs from
// the client's last seen version.
func (vs *Versions) Poll(view View, since uint64) (uint64, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	cur := vs.v[view]
	return cur, cur != since
}
