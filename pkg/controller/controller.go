// Package controller owns the session handle and orchestrates its
// lifecycle: creation, heartbeats (periodic and activity-triggered),
// expiration detection, closure, restart, and language updates.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/txn2/session-keeper/pkg/api"
	"github.com/txn2/session-keeper/pkg/expiry"
	"github.com/txn2/session-keeper/pkg/session"
)

const (
	// defaultTransientLimit is the number of consecutive transient
	// heartbeat failures tolerated before a warning is surfaced.
	defaultTransientLimit = 3

	// warningUnstable is surfaced after repeated transient failures.
	// It never expires the session.
	warningUnstable = "connection unstable"

	// slogKeyError is the slog attribute key for error values.
	slogKeyError = "error"
)

// Config configures a Controller.
type Config struct {
	// Defaults are the creation options used when Create or Restart is
	// called without explicit options.
	Defaults session.CreateOptions

	// HeartbeatInterval enables the periodic heartbeat timer when
	// positive. Zero disables it: the session then expires purely on
	// inactivity, kept alive only by activity-triggered heartbeats.
	HeartbeatInterval time.Duration

	// TransientLimit overrides defaultTransientLimit when positive.
	TransientLimit int
}

// Status is a point-in-time snapshot of the controller's state.
type Status struct {
	ID                  string
	State               session.State
	ExpiresAt           time.Time
	Language            string
	Loading             bool
	ErrorMessage        string
	Warning             string
	IsExpired           bool
	ConsecutiveFailures int

	// Generation increments on every session adoption or teardown.
	// Diagnostic only.
	Generation uint64
}

// Controller is the single owner of the session handle. All mutation
// happens under its lock; the other components are stateless with
// respect to the handle.
type Controller struct {
	cfg   Config
	svc   api.Service
	clock clockwork.Clock
	sched *expiry.Scheduler

	mu       sync.Mutex
	handle   session.Handle
	language string
	expired  bool
	loading  bool
	errMsg   string
	warning  string
	failures int
	gen      uint64

	hbStop chan struct{}

	expireCbs map[int]func(id string)
	nextCb    int
}

// New creates a Controller using the given API service and clock.
func New(svc api.Service, clock clockwork.Clock, cfg Config) *Controller {
	if cfg.TransientLimit <= 0 {
		cfg.TransientLimit = defaultTransientLimit
	}
	return &Controller{
		cfg:       cfg,
		svc:       svc,
		clock:     clock,
		sched:     expiry.NewScheduler(clock),
		language:  cfg.Defaults.Language,
		expireCbs: make(map[int]func(string)),
	}
}

// Status returns a snapshot of the controller's state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		ID:                  c.handle.ID,
		State:               c.handle.State,
		ExpiresAt:           c.handle.ExpiresAt,
		Language:            c.language,
		Loading:             c.loading,
		ErrorMessage:        c.errMsg,
		Warning:             c.warning,
		IsExpired:           c.expired,
		ConsecutiveFailures: c.failures,
		Generation:          c.gen,
	}
}

// OnExpired registers a callback invoked exactly once per session
// instance when expiration is detected, with the expired session id.
// The returned function unregisters the callback.
func (c *Controller) OnExpired(fn func(id string)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.nextCb
	c.nextCb++
	c.expireCbs[key] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.expireCbs, key)
	}
}

// Create requests a new session and, on success, populates the handle
// and arms the heartbeat and expiration timers. On failure the
// controller stays in its resting state and the error is surfaced.
// Calling Create while a session is active replaces the local handle;
// the server-side previous session is not deduplicated.
func (c *Controller) Create(ctx context.Context, opts *session.CreateOptions) error {
	o := c.createOptions(opts)

	c.mu.Lock()
	c.loading = true
	c.errMsg = ""
	c.mu.Unlock()

	res, err := c.svc.Create(ctx, o)

	c.mu.Lock()
	c.loading = false
	if err != nil {
		c.errMsg = err.Error()
		c.mu.Unlock()
		slog.Error("controller: session creation failed", slogKeyError, err)
		return err
	}
	gen := c.adoptLocked(res)
	cbs := c.armLocked(res.ExpiresAt, res.CreatedAt, gen, res.ID)
	c.mu.Unlock()

	slog.Info("controller: session created", "session_id", res.ID, "expires_at", res.ExpiresAt)
	for _, cb := range cbs {
		cb(res.ID)
	}
	return nil
}

// Close requests server-side close and clears the local handle. The
// local handle is cleared and all timers cancelled unconditionally,
// even when the close request fails; the returned error is
// informational. No-op when no session exists.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.handle.Active() {
		c.mu.Unlock()
		return nil
	}
	id := c.handle.ID
	c.teardownLocked()
	c.mu.Unlock()

	if err := c.svc.Close(ctx, id); err != nil {
		slog.Warn("controller: session close request failed", "session_id", id, slogKeyError, err)
		return fmt.Errorf("closing session %s: %w", id, err)
	}
	slog.Info("controller: session closed", "session_id", id)
	return nil
}

// Restart replaces the current session with a fresh one. With no
// active session it behaves as Create with defaults. The old session's
// timers are cancelled before the new handle is adopted.
func (c *Controller) Restart(ctx context.Context, opts *session.CreateOptions) error {
	c.mu.Lock()
	if !c.handle.Active() {
		c.mu.Unlock()
		return c.Create(ctx, opts)
	}
	oldID := c.handle.ID
	c.loading = true
	c.errMsg = ""
	c.mu.Unlock()

	res, err := c.svc.Restart(ctx, oldID, c.createOptions(opts))

	c.mu.Lock()
	c.loading = false
	if err != nil {
		c.errMsg = err.Error()
		c.mu.Unlock()
		slog.Error("controller: session restart failed", "session_id", oldID, slogKeyError, err)
		return err
	}
	gen := c.adoptLocked(res)
	cbs := c.armLocked(res.ExpiresAt, res.CreatedAt, gen, res.ID)
	c.mu.Unlock()

	slog.Info("controller: session restarted", "old_session_id", oldID, "session_id", res.ID)
	for _, cb := range cbs {
		cb(res.ID)
	}
	return nil
}

// UpdateLanguage changes the display language. Without a session only
// the local value changes and no network call is made. With a session
// the server-confirmed (possibly normalized) code is adopted on
// success; on failure the prior language is left untouched.
func (c *Controller) UpdateLanguage(ctx context.Context, code string) (string, error) {
	c.mu.Lock()
	if !c.handle.Active() {
		c.language = code
		c.mu.Unlock()
		return code, nil
	}
	id := c.handle.ID
	gen := c.gen
	c.mu.Unlock()

	confirmed, err := c.svc.UpdateLanguage(ctx, id, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errMsg = err.Error()
		slog.Error("controller: language update failed", "session_id", id, slogKeyError, err)
		return c.language, err
	}
	if c.gen != gen {
		// Session replaced while the update was in flight.
		return c.language, nil
	}
	c.language = confirmed
	c.handle.Language = confirmed
	return confirmed, nil
}

// TriggerHeartbeat performs one keep-alive round trip. It is invoked
// by the activity monitor callback and by the periodic timer. No-op
// without a session. SessionGone expires the session immediately;
// transient failures leave it valid and surface a warning only after
// the configured number of consecutive failures.
func (c *Controller) TriggerHeartbeat(ctx context.Context) {
	c.mu.Lock()
	if !c.handle.Active() {
		c.mu.Unlock()
		return
	}
	id := c.handle.ID
	gen := c.gen
	c.mu.Unlock()

	res, err := c.svc.Heartbeat(ctx, id)

	c.mu.Lock()
	if c.gen != gen || c.handle.ID != id {
		// Completion for a session that has since been replaced or
		// torn down. Must not touch the current handle.
		c.mu.Unlock()
		return
	}

	if err != nil {
		c.heartbeatFailedLocked(id, err)
		return
	}

	c.failures = 0
	c.warning = ""
	c.handle.ExpiresAt = res.ExpiresAt
	c.handle.LastActivityAt = res.LastActivity
	cbs := c.armLocked(res.ExpiresAt, res.LastActivity, gen, id)
	c.mu.Unlock()

	slog.Debug("controller: heartbeat ok", "session_id", id, "expires_at", res.ExpiresAt)
	for _, cb := range cbs {
		cb(id)
	}
}

// heartbeatFailedLocked handles a failed heartbeat. Called with the
// lock held; releases it.
func (c *Controller) heartbeatFailedLocked(id string, err error) {
	if errors.Is(err, session.ErrSessionGone) {
		cbs := c.expireNowLocked()
		c.mu.Unlock()
		slog.Info("controller: session gone, expiring", "session_id", id)
		for _, cb := range cbs {
			cb(id)
		}
		return
	}

	c.failures++
	if c.failures >= c.cfg.TransientLimit {
		c.warning = warningUnstable
	}
	failures := c.failures
	c.mu.Unlock()
	slog.Warn("controller: transient heartbeat failure",
		"session_id", id, "consecutive", failures, slogKeyError, err)
}

// AcknowledgeExpiration resets the expired flag, returning the
// controller to its resting state so a new session can be started.
func (c *Controller) AcknowledgeExpiration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired = false
	c.errMsg = ""
}

// Dispose cancels all timers and detaches subscribers without any
// server notification. Local teardown only; the unload guard owns the
// best-effort server notify.
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.teardownLocked()
	c.expireCbs = make(map[int]func(string))
	c.mu.Unlock()
}

// createOptions resolves the options for a create or restart. Nil
// means the configured defaults with the current local language;
// explicit options are used verbatim so a caller can request zero
// values (e.g. a zero similarity threshold).
func (c *Controller) createOptions(opts *session.CreateOptions) session.CreateOptions {
	if opts != nil {
		return *opts
	}
	o := c.cfg.Defaults
	c.mu.Lock()
	o.Language = c.language
	c.mu.Unlock()
	return o
}

// adoptLocked installs a freshly created or restarted session. Called
// with the lock held. Returns the new generation for timer guards.
func (c *Controller) adoptLocked(res *api.CreateResult) uint64 {
	c.stopHeartbeatLoopLocked()
	c.gen++
	c.handle = session.Handle{
		ID:        res.ID,
		State:     res.State,
		ExpiresAt: res.ExpiresAt,
		Language:  res.Language,
	}
	if res.Language != "" {
		c.language = res.Language
	}
	c.handle.Language = c.language
	c.expired = false
	c.failures = 0
	c.warning = ""
	c.startHeartbeatLoopLocked()
	return c.gen
}

// teardownLocked clears the handle and cancels both timers. Called
// with the lock held so no concurrent adoption can arm a timer between
// the generation bump and the cancellation.
func (c *Controller) teardownLocked() {
	c.stopHeartbeatLoopLocked()
	c.sched.Cancel()
	c.gen++
	c.handle = session.Handle{Language: c.language}
	c.failures = 0
	c.warning = ""
	c.loading = false
	c.errMsg = ""
}

// expireNowLocked transitions Active → Expired, cancelling both
// timers. Called with the lock held. Returns the callbacks to invoke
// after the lock is released.
func (c *Controller) expireNowLocked() []func(string) {
	c.stopHeartbeatLoopLocked()
	c.sched.Cancel()
	c.gen++
	c.handle = session.Handle{Language: c.language}
	c.expired = true
	c.failures = 0
	c.warning = ""

	cbs := make([]func(string), 0, len(c.expireCbs))
	for _, cb := range c.expireCbs {
		cbs = append(cbs, cb)
	}
	return cbs
}

// armLocked arms the expiration timer for the given session
// generation, cancelling any prior timer. Called with the lock held.
// When the expiration instant is already past it expires the session
// in place and returns the subscriber callbacks for the caller to
// invoke after releasing the lock; otherwise it returns nil. The
// reference instant is preferred over the client clock so the wait is
// immune to client/server clock skew.
func (c *Controller) armLocked(expiresAt, reference time.Time, gen uint64, id string) []func(string) {
	ref := reference
	if ref.IsZero() {
		ref = c.clock.Now()
	}
	if !expiresAt.After(ref) {
		slog.Info("controller: session already expired on arm", "session_id", id)
		return c.expireNowLocked()
	}
	c.sched.Arm(expiresAt, ref, c.expiryFired(gen, id))
	return nil
}

// expiryFired returns the expiration-timer callback for a specific
// session generation. Firing against a stale generation is ignored.
func (c *Controller) expiryFired(gen uint64, id string) func() {
	return func() {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		cbs := c.expireNowLocked()
		c.mu.Unlock()

		slog.Info("controller: session expired", "session_id", id)
		for _, cb := range cbs {
			cb(id)
		}
	}
}

// startHeartbeatLoopLocked starts the periodic heartbeat goroutine
// when an interval is configured. Called with the lock held.
func (c *Controller) startHeartbeatLoopLocked() {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.hbStop = stop
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				c.TriggerHeartbeat(context.Background())
			}
		}
	}()
}

// stopHeartbeatLoopLocked signals the periodic heartbeat goroutine to
// exit. Called with the lock held; does not wait for exit, the
// generation guard discards any in-flight completion.
func (c *Controller) stopHeartbeatLoopLocked() {
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
}
