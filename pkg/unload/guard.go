// Package unload notifies the server, best-effort, that the session is
// closing when the process tears down. It never blocks shutdown and
// never reports failure.
package unload

import (
	"os"
	"os/signal"
	"sync"
)

// Notifier issues the fire-and-forget close. Satisfied by
// *api.Client's CloseBeacon.
type Notifier interface {
	CloseBeacon(id string)
}

// Guard watches for teardown and fires a single close notification for
// the active session, if any.
type Guard struct {
	notifier Notifier
	current  func() string

	once sync.Once
}

// NewGuard creates a Guard. current returns the active session id, or
// empty when no session exists; it is consulted at fire time.
func NewGuard(notifier Notifier, current func() string) *Guard {
	return &Guard{notifier: notifier, current: current}
}

// Fire issues the close notification if a session is active. Idempotent:
// only the first call has any effect.
func (g *Guard) Fire() {
	g.once.Do(func() {
		id := g.current()
		if id == "" {
			return
		}
		g.notifier.CloseBeacon(id)
	})
}

// Watch registers the guard on teardown signals and returns a function
// that detaches it. With no signals given it watches os.Interrupt.
func (g *Guard) Watch(sigs ...os.Signal) func() {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})

	go func() {
		select {
		case <-ch:
			g.Fire()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
