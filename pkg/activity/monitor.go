// Package activity observes generic user-input signals and forwards
// them, throttled, to a caller-supplied callback. It is a pure
// filtering layer: it never touches the network or the session handle.
package activity

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Kind classifies a raw input signal.
type Kind string

// Input signal classes observed on the global input surface.
const (
	KindPointerDown Kind = "pointer_down"
	KindPointerMove Kind = "pointer_move"
	KindKeyPress    Kind = "key_press"
	KindScroll      Kind = "scroll"
	KindTouchStart  Kind = "touch_start"
	KindClick       Kind = "click"
)

// Source emits raw input signals. Implementations close their channel
// when they have no more signals.
type Source interface {
	Signals() <-chan Kind
}

// Monitor throttles raw input signals and invokes a callback on each
// accepted one. Signals arriving within the throttle window of the
// last accepted signal are dropped.
type Monitor struct {
	clock    clockwork.Clock
	limiter  *rate.Limiter
	callback func(Kind)

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor enforcing the given throttle window. A
// non-positive window disables throttling. The callback runs on the
// goroutine that delivered the signal.
func NewMonitor(clock clockwork.Clock, window time.Duration, callback func(Kind)) *Monitor {
	limit := rate.Inf
	if window > 0 {
		limit = rate.Every(window)
	}
	return &Monitor{
		clock:    clock,
		limiter:  rate.NewLimiter(limit, 1),
		callback: callback,
		stop:     make(chan struct{}),
	}
}

// Observe reports one raw input signal. If the throttle window since
// the last accepted signal has not elapsed the signal is dropped,
// otherwise the callback is invoked.
func (m *Monitor) Observe(kind Kind) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	accepted := m.limiter.AllowN(m.clock.Now(), 1)
	m.mu.Unlock()

	if accepted {
		m.callback(kind)
	}
}

// Attach subscribes the monitor to a signal source. Signals are
// forwarded through Observe until the source's channel closes or the
// monitor is closed.
func (m *Monitor) Attach(src Source) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.stop:
				return
			case kind, ok := <-src.Signals():
				if !ok {
					return
				}
				m.Observe(kind)
			}
		}
	}()
}

// Close detaches all sources and drops any further signals. It blocks
// until forwarding goroutines have exited.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
}
