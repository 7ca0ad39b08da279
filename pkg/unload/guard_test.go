package unload

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

const guardTestSessionID = "sess-teardown"

type fakeNotifier struct {
	calls atomic.Int32
	last  atomic.Value
}

func (f *fakeNotifier) CloseBeacon(id string) {
	f.calls.Add(1)
	f.last.Store(id)
}

func TestGuard_FireNotifiesActiveSession(t *testing.T) {
	n := &fakeNotifier{}
	g := NewGuard(n, func() string { return guardTestSessionID })

	g.Fire()

	assert.Equal(t, int32(1), n.calls.Load())
	assert.Equal(t, guardTestSessionID, n.last.Load())
}

func TestGuard_FireWithoutSessionIsNoop(t *testing.T) {
	n := &fakeNotifier{}
	g := NewGuard(n, func() string { return "" })

	g.Fire()

	assert.Zero(t, n.calls.Load())
}

func TestGuard_FireIsIdempotent(t *testing.T) {
	n := &fakeNotifier{}
	g := NewGuard(n, func() string { return guardTestSessionID })

	g.Fire()
	g.Fire()
	g.Fire()

	assert.Equal(t, int32(1), n.calls.Load(), "only the first fire notifies")
}

func TestGuard_WatchDetach(t *testing.T) {
	n := &fakeNotifier{}
	g := NewGuard(n, func() string { return guardTestSessionID })

	stop := g.Watch()
	stop()

	// Detached guard can still be fired explicitly.
	g.Fire()
	assert.Equal(t, int32(1), n.calls.Load())
}
