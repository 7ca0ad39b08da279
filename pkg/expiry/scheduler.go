// Package expiry arms the single one-shot timer that fires when a
// session's known expiration instant is reached.
package expiry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler owns at most one outstanding expiration timer. Arming
// always cancels the prior timer first, so a stale timer can never
// fire against a replaced session.
type Scheduler struct {
	clock clockwork.Clock

	mu    sync.Mutex
	timer clockwork.Timer
}

// NewScheduler creates a Scheduler on the given clock.
func NewScheduler(clock clockwork.Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Arm schedules fire to run when expiresAt is reached. When reference
// is non-zero the wait is computed as expiresAt − reference, both
// server-supplied, which is immune to client/server clock skew. When
// reference is zero the client clock is the fallback. A non-positive
// wait means the session is already expired and fire runs
// synchronously before Arm returns; otherwise fire runs on its own
// goroutine when the timer elapses.
func (s *Scheduler) Arm(expiresAt, reference time.Time, fire func()) {
	ref := reference
	if ref.IsZero() {
		ref = s.clock.Now()
	}
	wait := expiresAt.Sub(ref)

	s.mu.Lock()
	s.stopLocked()
	if wait > 0 {
		// fire runs on its own goroutine so it may call back into the
		// scheduler (cancel, re-arm) without holding clock internals.
		s.timer = s.clock.AfterFunc(wait, func() { go fire() })
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Already expired. Fire outside the lock so the callback may
	// re-enter the scheduler.
	fire()
}

// Cancel stops any outstanding timer. Safe to call when nothing is
// armed.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
