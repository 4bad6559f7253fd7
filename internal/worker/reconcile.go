package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/hyperengineering/boardsync/internal/engine"
	"github.com/hyperengineering/boardsync/internal/types"
)

// DefaultQueueCapacity is used when a non-positive capacity is given.
const DefaultQueueCapacity = 256

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Reconcile(ctx context.Context, session *engine.Session, trigger *types.TriggerEvent) (*types.PassResult, error)
}

// ReconcileWorker consumes trigger events from a bounded queue and runs one
// pass per event, in arrival order. Events are never coalesced.
type ReconcileWorker struct {
	reconciler Reconciler
	queue      chan types.TriggerEvent
	session    *engine.Session

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewReconcileWorker creates a worker with its own session.
func NewReconcileWorker(r Reconciler, capacity int) *ReconcileWorker {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &ReconcileWorker{
		reconciler: r,
		queue:      make(chan types.TriggerEvent, capacity),
		session:    engine.NewSession(),
	}
}

// TryEnqueue hands ev to the worker without blocking. It returns false and
// logs an error when the queue is full.
func (w *ReconcileWorker) TryEnqueue(ev types.TriggerEvent) bool {
	select {
	case w.queue <- ev:
		return true
	default:
		w.dropped.Add(1)
		slog.Error("reconcile queue full, trigger dropped",
			"component", "worker",
			"worker", "reconcile",
			"action", "trigger_dropped",
			"item_id", ev.ItemID,
			"capacity", cap(w.queue),
		)
		return false
	}
}

// Session returns the session shared by every pass this worker runs.
func (w *ReconcileWorker) Session() *engine.Session {
	return w.session
}

// Stats returns the queue depth and lifetime counters.
func (w *ReconcileWorker) Stats() (queued int, processed, failed, dropped int64) {
	return len(w.queue), w.processed.Load(), w.failed.Load(), w.dropped.Load()
}

// Run consumes the queue until ctx is cancelled. A pass in flight at
// cancellation runs to completion; queued events are not drained.
func (w *ReconcileWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "reconcile",
		"session_id", w.session.ID,
		"capacity", cap(w.queue),
	)

	for {
		// select picks randomly among ready cases, so check cancellation first.
		if ctx.Err() != nil {
			w.logStopped()
			return
		}
		select {
		case <-ctx.Done():
			w.logStopped()
			return
		case ev := <-w.queue:
			w.process(context.WithoutCancel(ctx), ev)
		}
	}
}

func (w *ReconcileWorker) logStopped() {
	slog.Info("worker stopped",
		"component", "worker",
		"worker", "reconcile",
		"reason", "context_cancelled",
		"pending", len(w.queue),
	)
}

func (w *ReconcileWorker) process(ctx context.Context, ev types.TriggerEvent) {
	result, err := w.reconciler.Reconcile(ctx, w.session, &ev)
	if err != nil {
		w.failed.Add(1)
		attrs := []any{
			"component", "worker",
			"worker", "reconcile",
			"action", "pass_failed",
			"session_id", w.session.ID,
			"item_id", ev.ItemID,
			"error", err,
		}
		if result != nil {
			attrs = append(attrs, "written", result.Written)
		}
		slog.Error("reconciliation pass failed", attrs...)
		return
	}

	w.processed.Add(1)
	slog.Info("reconciliation pass completed",
		"component", "worker",
		"worker", "reconcile",
		"action", "pass_complete",
		"session_id", w.session.ID,
		"item_id", ev.ItemID,
		"trigger_found", result.TriggerFound,
		"rows", result.Rows,
		"written", result.Written,
		"skipped", result.Skipped,
		"duration_ms", result.Duration.Milliseconds(),
	)
}
