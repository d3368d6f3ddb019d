// Package worker runs the background loops of the service.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// LabelScheduled labels the audit records of interval runs.
const LabelScheduled = "scheduled"

// SyncRunner runs orchestrated syncs. *sync.Orchestrator satisfies it.
type SyncRunner interface {
	SyncOnStartup(ctx context.Context) bool
	RunFullSync(ctx context.Context, label string) bool
}

// SyncCoordinator runs the startup sync and then a full sync on every
// interval tick.
type SyncCoordinator struct {
	runner    SyncRunner
	interval  time.Duration
	onStartup bool
}

// NewSyncCoordinator creates a coordinator. An interval of zero disables
// scheduled runs; onStartup controls the unaudited run made when Run starts.
func NewSyncCoordinator(runner SyncRunner, interval time.Duration, onStartup bool) *SyncCoordinator {
	return &SyncCoordinator{
		runner:    runner,
		interval:  interval,
		onStartup: onStartup,
	}
}

// Run starts the coordinator loop and blocks until ctx is done.
func (c *SyncCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync-coordinator",
		"action", "worker_started",
		"interval", c.interval.String(),
	)

	if c.onStartup {
		ok := c.runner.SyncOnStartup(ctx)
		c.logCycle(ctx, "startup", ok)
	}

	// A nil channel never fires, so a zero interval only waits for shutdown.
	var tick <-chan time.Time
	if c.interval > 0 {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-tick:
			ok := c.runner.RunFullSync(ctx, LabelScheduled)
			c.logCycle(ctx, LabelScheduled, ok)
		}
	}
}

// logCycle records the outcome of one run. Table detail is logged by the
// orchestrator.
func (c *SyncCoordinator) logCycle(ctx context.Context, label string, ok bool) {
	if ctx.Err() != nil {
		return // Graceful shutdown, don't log summary
	}
	if !ok {
		slog.Warn("sync cycle incomplete",
			"component", "worker",
			"worker", "sync-coordinator",
			"action", "cycle_incomplete",
			"label", label,
		)
		return
	}
	slog.Info("sync cycle completed",
		"component", "worker",
		"worker", "sync-coordinator",
		"action", "cycle_complete",
		"label", label,
	)
}
