// Package reconcile runs the background upkeep of the engine: reclaiming
// expired holds and settling payments whose outcome is still open.
package reconcile

import (
	"context"
	"time"

	"reservas/internal/service"

	"github.com/rs/zerolog"
)

type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type Reconciler interface {
	ReconcilePending(ctx context.Context) (service.ReconcileSummary, error)
}

// Worker ticks Sweep and ReconcilePending.
type Worker struct {
	locks    Sweeper
	payments Reconciler
	interval time.Duration
	logger   *zerolog.Logger
}

func NewWorker(locks Sweeper, payments Reconciler, interval time.Duration, logger *zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "reconcile").Logger()
	return &Worker{locks: locks, payments: payments, interval: interval, logger: &l}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("Reconciliation worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Reconciliation worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and reconciliation pass.
func (w *Worker) RunOnce(ctx context.Context) service.ReconcileSummary {
	if _, err := w.locks.Sweep(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Lock sweep failed")
	}
	summary, err := w.payments.ReconcilePending(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("Reconciliation pass failed")
	}
	if summary.Orphaned > 0 || summary.Unknown > 0 {
		w.logger.Warn().Int("orphaned", summary.Orphaned).Int("unknown", summary.Unknown).
			Msg("Payments need manual review")
	}
	return summary
}
