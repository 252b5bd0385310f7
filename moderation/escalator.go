package moderation

import "sync"

// Escalator counts confirmed flood violations per identity. The count is
// incremented exactly once per violation (never per raw message) and is not
// reset when a mute is applied or lifted, so repeat offenders accumulate
// warnings across episodes. The only reset path is DropIdle, driven by the
// periodic cleanup once an identity has no rate-tracking state left.
type Escalator struct {
	mu       sync.Mutex
	warnings map[string]int
}

func NewEscalator() *Escalator {
	return &Escalator{warnings: make(map[string]int)}
}

// OnViolation increments and returns the identity's warning count.
func (e *Escalator) OnViolation(identity string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warnings[identity]++
	return e.warnings[identity]
}

// Count returns the identity's current warning count.
func (e *Escalator) Count(identity string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.warnings[identity]
}

// DropIdle removes warning state for identities no longer tracked anywhere,
// as reported by the tracked callback. Returns how many were dropped.
func (e *Escalator) DropIdle(tracked func(identity string) bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	dropped := 0
	for id := range e.warnings {
		if !tracked(id) {
			delete(e.warnings, id)
			dropped++
		}
	}
	return dropped
}
