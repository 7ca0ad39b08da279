package expiry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	expiryTestTTL  = 10 * time.Minute
	expiryTestWait = time.Second
	expiryTestTick = time.Millisecond
)

func waitForFires(t *testing.T, fired *atomic.Int32, want int32) {
	t.Helper()
	require.Eventually(t, func() bool {
		return fired.Load() == want
	}, expiryTestWait, expiryTestTick)
}

func TestScheduler_FiresAtExpiration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock)

	var fired atomic.Int32
	now := clock.Now()
	s.Arm(now.Add(expiryTestTTL), now, func() { fired.Add(1) })

	clock.Advance(expiryTestTTL - time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "must not fire before the expiration instant")

	clock.Advance(time.Millisecond)
	waitForFires(t, &fired, 1)
}

func TestScheduler_UsesServerReferenceNotClientClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock)

	// Server clock runs 2 minutes ahead of the client: the reference
	// and the expiration instant are both server-supplied, so the wait
	// is their difference regardless of the skew.
	serverNow := clock.Now().Add(2 * time.Minute)

	var fired atomic.Int32
	s.Arm(serverNow.Add(expiryTestTTL), serverNow, func() { fired.Add(1) })

	clock.Advance(expiryTestTTL - time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	clock.Advance(time.Millisecond)
	waitForFires(t, &fired, 1)
}

func TestScheduler_ClientClockFallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock)

	var fired atomic.Int32
	s.Arm(clock.Now().Add(expiryTestTTL), time.Time{}, func() { fired.Add(1) })

	clock.Advance(expiryTestTTL)
	waitForFires(t, &fired, 1)
}

func TestScheduler_PastInstantFiresSynchronously(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock)

	var fired atomic.Int32
	now := clock.Now()
	s.Arm(now.Add(-time.Second), now, func() { fired.Add(1) })

	assert.Equal(t, int32(1), fired.Load(), "non-positive wait fires before Arm returns")
}

func TestScheduler_RearmCancelsPreviousTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock)

	var first, second atomic.Int32
	now := clock.Now()
	s.Arm(now.Add(time.Minute), now, func() { first.Add(1) })
	s.Arm(now.Add(expiryTestTTL), now, func() { second.Add(1) })

	clock.Advance(2 * time.Minute)
	assert.Equal(t, int32(0), first.Load(), "superseded timer must not fire")
	assert.Equal(t, int32(0), second.Load())

	clock.Advance(expiryTestTTL)
	waitForFires(t, &second, 1)
	assert.Equal(t, int32(0), first.Load())
}

func TestScheduler_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock)

	var fired atomic.Int32
	now := clock.Now()
	s.Arm(now.Add(time.Minute), now, func() { fired.Add(1) })
	s.Cancel()

	clock.Advance(expiryTestTTL)
	assert.Equal(t, int32(0), fired.Load())

	// Cancel with nothing armed is a no-op.
	s.Cancel()
}
