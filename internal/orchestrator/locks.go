package orchestrator

import (
	"sync"
	"time"
)

// orphanLockAge is the safety-net threshold after which a held operation
// lock is considered orphaned and detached from the registry.
const orphanLockAge = 5 * time.Minute

// discussionLock serializes commands for one discussion id.
type discussionLock struct {
	mu         sync.Mutex
	holders    int
	acquiredAt time.Time
	lastUsed   time.Time
}

// lockRegistry hands out per-discussion operation locks. Commands for the
// same discussion serialize; commands across discussions never block each
// other.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*discussionLock
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*discussionLock)}
}

// acquire blocks until the discussion's operation lock is held and returns
// the release function.
func (r *lockRegistry) acquire(discussionID string) func() {
	r.mu.Lock()
	l, ok := r.locks[discussionID]
	if !ok {
		l = &discussionLock{}
		r.locks[discussionID] = l
	}
	l.holders++
	if l.holders == 1 {
		l.acquiredAt = time.Now().UTC()
	}
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.holders--
		l.lastUsed = time.Now().UTC()
		r.mu.Unlock()
	}
}

// scrubOrphans removes idle lock entries and detaches locks that have been
// held longer than maxAge. A detached lock stays valid for its current
// holders, but new commands get a fresh one so a stuck caller cannot wedge
// the discussion forever. Returns the number of entries removed.
func (r *lockRegistry) scrubOrphans(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, l := range r.locks {
		if l.holders == 0 && l.lastUsed.Before(cutoff) {
			delete(r.locks, id)
			removed++
			continue
		}
		if l.holders > 0 && l.acquiredAt.Before(cutoff) {
			delete(r.locks, id)
			removed++
		}
	}
	return removed
}

// size returns the number of tracked lock entries.
func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
