package orchestrator

import (
	"sync"
	"testing"
	"time"
)

func TestLockRegistrySerializesPerDiscussion(t *testing.T) {
	r := newLockRegistry()

	var mu sync.Mutex
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.acquire("d1")
			defer unlock()
			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 serialized sections, got %d", counter)
	}
}

func TestLockRegistryIndependentDiscussions(t *testing.T) {
	r := newLockRegistry()

	unlock1 := r.acquire("d1")
	defer unlock1()

	done := make(chan struct{})
	go func() {
		unlock2 := r.acquire("d2")
		unlock2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for d2 must not wait on d1")
	}
}

func TestLockRegistryScrubOrphans(t *testing.T) {
	r := newLockRegistry()

	unlock := r.acquire("idle")
	unlock()
	if r.size() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.size())
	}

	// Nothing younger than the cutoff is touched.
	if removed := r.scrubOrphans(time.Hour); removed != 0 {
		t.Fatalf("fresh entries must survive, removed %d", removed)
	}

	// Backdate the entry and scrub again.
	r.mu.Lock()
	r.locks["idle"].lastUsed = time.Now().UTC().Add(-time.Hour)
	r.mu.Unlock()
	if removed := r.scrubOrphans(5 * time.Minute); removed != 1 {
		t.Fatalf("expected idle entry scrubbed, removed %d", removed)
	}
	if r.size() != 0 {
		t.Fatalf("expected empty registry, got %d", r.size())
	}
}

func TestLockRegistryDetachesStuckLocks(t *testing.T) {
	r := newLockRegistry()

	// Simulate a holder that never returns.
	_ = r.acquire("stuck")
	r.mu.Lock()
	r.locks["stuck"].acquiredAt = time.Now().UTC().Add(-time.Hour)
	r.mu.Unlock()

	if removed := r.scrubOrphans(5 * time.Minute); removed != 1 {
		t.Fatalf("expected stuck lock detached, removed %d", removed)
	}

	// New commands get a fresh lock instead of blocking forever.
	done := make(chan struct{})
	go func() {
		unlock := r.acquire("stuck")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("detached lock still blocks new commands")
	}
}
