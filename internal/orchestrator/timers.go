package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/confab/confab/internal/common/logger"
)

// TimerRegistry tracks at most one outstanding turn timer per discussion.
// Scheduling while a timer exists atomically replaces it; Cancel is
// idempotent. Callback panics are recovered and logged, never propagated.
type TimerRegistry struct {
	logger *logger.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTimerRegistry creates an empty timer registry.
func NewTimerRegistry(log *logger.Logger) *TimerRegistry {
	return &TimerRegistry{
		logger: log.WithFields(zap.String("component", "timers")),
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms a one-shot timer for a discussion, cancelling any existing
// one. The callback must re-check discussion status itself; the registry
// only guarantees it no longer tracks the timer when the callback runs.
func (r *TimerRegistry) Schedule(discussionID string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.timers[discussionID]; ok {
		existing.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		// A replacement may already be armed; only the current timer may
		// clear the slot.
		if r.timers[discussionID] == timer {
			delete(r.timers, discussionID)
		}
		r.mu.Unlock()

		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("timer callback panicked",
					zap.String("discussion_id", discussionID),
					zap.Any("panic", rec))
			}
		}()
		fn()
	})
	r.timers[discussionID] = timer
}

// Cancel stops and forgets the discussion's timer. Cancelling a discussion
// without a timer is a no-op.
func (r *TimerRegistry) Cancel(discussionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer, ok := r.timers[discussionID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(r.timers, discussionID)
	return true
}

// CancelAll stops every outstanding timer. Used on shutdown.
func (r *TimerRegistry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}

// Has reports whether a timer is outstanding for the discussion.
func (r *TimerRegistry) Has(discussionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[discussionID]
	return ok
}

// Active returns the number of outstanding timers.
func (r *TimerRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
