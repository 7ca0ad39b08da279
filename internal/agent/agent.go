// Package agent wires the session API client, lifecycle controller,
// activity monitor, and unload guard into a runnable unit behind a
// YAML configuration.
package agent

import (
	"context"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/txn2/session-keeper/pkg/activity"
	"github.com/txn2/session-keeper/pkg/api"
	"github.com/txn2/session-keeper/pkg/controller"
	"github.com/txn2/session-keeper/pkg/session"
	"github.com/txn2/session-keeper/pkg/unload"
)

// Agent owns one session lifecycle controller and its collaborators.
type Agent struct {
	cfg     *Config
	client  *api.Client
	ctrl    *controller.Controller
	monitor *activity.Monitor
	guard   *unload.Guard
	unwatch func()
}

// New assembles an Agent from config. Nothing is started: call Start.
func New(cfg *Config, clock clockwork.Clock) *Agent {
	client := api.NewClient(api.Config{
		BaseURL:       cfg.Server.BaseURL,
		BearerToken:   cfg.Server.BearerToken,
		Timeout:       cfg.Server.Timeout,
		BeaconTimeout: cfg.Unload.BeaconTimeout,
	})

	ctrl := controller.New(client, clock, controller.Config{
		Defaults: session.CreateOptions{
			Language:            cfg.Session.Language,
			SimilarityThreshold: cfg.Session.SimilarityThreshold,
			CustomPrompt:        cfg.Session.CustomPrompt,
		},
		HeartbeatInterval: cfg.Heartbeat.Interval,
		TransientLimit:    cfg.Heartbeat.TransientLimit,
	})

	monitor := activity.NewMonitor(clock, cfg.Heartbeat.ActivityThrottle, func(activity.Kind) {
		ctrl.TriggerHeartbeat(context.Background())
	})

	guard := unload.NewGuard(client, func() string {
		return ctrl.Status().ID
	})

	return &Agent{
		cfg:     cfg,
		client:  client,
		ctrl:    ctrl,
		monitor: monitor,
		guard:   guard,
	}
}

// Controller exposes the lifecycle controller for callers that need
// session operations or status.
func (a *Agent) Controller() *controller.Controller {
	return a.ctrl
}

// Monitor exposes the activity monitor so callers can attach input
// sources or report signals directly.
func (a *Agent) Monitor() *activity.Monitor {
	return a.monitor
}

// Start creates the session and arms the unload guard.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.ctrl.Create(ctx, nil); err != nil {
		return err
	}
	a.unwatch = a.guard.Watch(syscall.SIGINT, syscall.SIGTERM)
	return nil
}

// Shutdown tears the agent down: detaches the activity sources,
// notifies the server through the guard's best-effort path, and
// disposes the controller's timers. Never blocks on the network
// beyond the beacon timeout.
func (a *Agent) Shutdown() {
	a.monitor.Close()
	if a.unwatch != nil {
		a.unwatch()
		a.unwatch = nil
	}
	a.guard.Fire()
	a.ctrl.Dispose()
}
