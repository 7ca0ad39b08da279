package activity

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	activityTestWindow = time.Minute
	activityTestWait   = time.Second
	activityTestTick   = time.Millisecond
)

func TestMonitor_ThrottlesWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var accepted atomic.Int32
	m := NewMonitor(clock, activityTestWindow, func(Kind) { accepted.Add(1) })
	defer m.Close()

	// Ten raw signals inside one throttle window.
	for i := 0; i < 10; i++ {
		m.Observe(KindPointerMove)
		clock.Advance(activityTestWindow / 12)
	}

	assert.Equal(t, int32(1), accepted.Load(), "at most one accepted signal per window")
}

func TestMonitor_AcceptsAfterWindowElapses(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var accepted atomic.Int32
	m := NewMonitor(clock, activityTestWindow, func(Kind) { accepted.Add(1) })
	defer m.Close()

	m.Observe(KindKeyPress)
	clock.Advance(activityTestWindow)
	m.Observe(KindKeyPress)

	assert.Equal(t, int32(2), accepted.Load())
}

func TestMonitor_SimulatedContinuousActivity(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var accepted atomic.Int32
	m := NewMonitor(clock, activityTestWindow, func(Kind) { accepted.Add(1) })
	defer m.Close()

	// 300s of activity at 10s intervals with a 60s window: exactly
	// floor(300/60) accepted signals.
	for i := 0; i < 30; i++ {
		clock.Advance(10 * time.Second)
		m.Observe(KindClick)
	}

	assert.Equal(t, int32(5), accepted.Load())
}

func TestMonitor_ZeroWindowDisablesThrottle(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var accepted atomic.Int32
	m := NewMonitor(clock, 0, func(Kind) { accepted.Add(1) })
	defer m.Close()

	for i := 0; i < 5; i++ {
		m.Observe(KindScroll)
	}

	assert.Equal(t, int32(5), accepted.Load())
}

func TestMonitor_CloseDropsSignals(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var accepted atomic.Int32
	m := NewMonitor(clock, activityTestWindow, func(Kind) { accepted.Add(1) })

	m.Close()
	m.Observe(KindTouchStart)

	assert.Equal(t, int32(0), accepted.Load())

	// Close is idempotent.
	m.Close()
}

type chanSource struct {
	ch chan Kind
}

func (s *chanSource) Signals() <-chan Kind { return s.ch }

func TestMonitor_AttachedSource(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var accepted atomic.Int32
	m := NewMonitor(clock, activityTestWindow, func(Kind) { accepted.Add(1) })
	defer m.Close()

	src := &chanSource{ch: make(chan Kind)}
	m.Attach(src)

	src.ch <- KindPointerDown
	require.Eventually(t, func() bool {
		return accepted.Load() == 1
	}, activityTestWait, activityTestTick)

	// Signals inside the window are forwarded but dropped by the
	// throttle.
	src.ch <- KindPointerDown
	close(src.ch)

	m.Close()
	assert.Equal(t, int32(1), accepted.Load())
}
