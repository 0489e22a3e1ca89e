package orchestrator

import (
	"testing"
	"time"

	"github.com/confab/confab/internal/common/logger"
)

func TestTimerRegistryFires(t *testing.T) {
	r := NewTimerRegistry(logger.Default())
	fired := make(chan struct{})

	r.Schedule("d1", 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if r.Has("d1") {
		t.Fatal("fired timer must leave the registry")
	}
}

func TestTimerRegistryAtMostOnePerDiscussion(t *testing.T) {
	r := NewTimerRegistry(logger.Default())
	first := make(chan struct{})
	second := make(chan struct{})

	r.Schedule("d1", 20*time.Millisecond, func() { close(first) })
	r.Schedule("d1", 20*time.Millisecond, func() { close(second) })

	if r.Active() != 1 {
		t.Fatalf("expected 1 outstanding timer, got %d", r.Active())
	}

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("replacement timer did not fire")
	}
	select {
	case <-first:
		t.Fatal("replaced timer must not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerRegistryCancelIdempotent(t *testing.T) {
	r := NewTimerRegistry(logger.Default())
	fired := make(chan struct{})

	r.Schedule("d1", 20*time.Millisecond, func() { close(fired) })

	if !r.Cancel("d1") {
		t.Fatal("cancel of an armed timer should report true")
	}
	if r.Cancel("d1") {
		t.Fatal("second cancel must be a no-op")
	}
	if r.Cancel("never-scheduled") {
		t.Fatal("cancel of an unknown discussion must be a no-op")
	}

	select {
	case <-fired:
		t.Fatal("cancelled timer must not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerRegistryRecoversPanics(t *testing.T) {
	r := NewTimerRegistry(logger.Default())
	fired := make(chan struct{})

	r.Schedule("d1", 5*time.Millisecond, func() { panic("boom") })
	r.Schedule("d2", 15*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("panic in one callback must not break the registry")
	}
}

func TestTimerRegistryCancelAll(t *testing.T) {
	r := NewTimerRegistry(logger.Default())
	r.Schedule("d1", time.Minute, func() {})
	r.Schedule("d2", time.Minute, func() {})

	r.CancelAll()
	if r.Active() != 0 {
		t.Fatalf("expected 0 timers after CancelAll, got %d", r.Active())
	}
}
