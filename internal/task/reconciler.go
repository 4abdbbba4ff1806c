// ABOUTME: Background sweep that fails running tasks with no live worker.
// ABOUTME: Recovers budget reservations after a crash or lost worker.

package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/quarrydev/quarry/internal/observability"
	"github.com/quarrydev/quarry/internal/store"
)

// Reconciler periodically fails tasks that have been running longer than
// the orphan timeout. A healthy worker finishes well inside the timeout,
// so anything past it lost its worker, typically to a crash.
type Reconciler struct {
	store         store.Store
	broker        *Broker
	logger        *slog.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	orphanTimeout time.Duration
}

// NewReconciler creates a reconciler sweeping at the given interval.
func NewReconciler(st store.Store, broker *Broker, logger *slog.Logger, metrics *observability.Metrics, interval, orphanTimeout time.Duration) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if orphanTimeout <= 0 {
		orphanTimeout = 2 * time.Minute
	}
	return &Reconciler{
		store:         st,
		broker:        broker,
		logger:        logger.With("component", "reconciler"),
		metrics:       metrics,
		interval:      interval,
		orphanTimeout: orphanTimeout,
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep fails every running task older than the orphan timeout. Exported
// so operators can trigger it once at startup to clean up after a crash.
func (r *Reconciler) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.orphanTimeout)
	orphans, err := r.store.RunningTasksBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("listing running tasks", "error", err)
		return
	}

	for _, task := range orphans {
		done, err := r.store.FailTask(ctx, task.ID, "orphaned: worker made no progress before the deadline")
		if err != nil {
			r.logger.Error("failing orphaned task", "task_id", task.ID, "error", err)
			continue
		}
		if !done {
			// Reached a terminal state between listing and failing.
			continue
		}

		r.logger.Warn("orphaned task failed",
			"task_id", task.ID,
			"capability", task.Capability,
			"running_since", task.UpdatedAt,
		)
		r.metrics.CountTransition(string(store.TaskStateFailed))

		if final, err := r.store.GetTask(ctx, task.ID); err == nil {
			r.broker.CloseTask(final)
		}
	}
}
