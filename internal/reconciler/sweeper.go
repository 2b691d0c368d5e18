// Package reconciler periodically settles payments whose callback never arrived.
package reconciler

import (
	"context"
	"time"

	"github.com/fitstack/membership-payments/internal/core/service"
	"github.com/fitstack/membership-payments/internal/platform/logging"
	"go.uber.org/zap"
)

// PendingReconciler is satisfied by *service.PaymentService.
type PendingReconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (service.ReconcileSummary, error)
}

// Config controls how often and how much the sweeper reconciles.
type Config struct {
	Interval  time.Duration
	OlderThan time.Duration
	BatchSize int
}

// Sweeper reconciles stale Pending payments in the background.
type Sweeper struct {
	svc    PendingReconciler
	cfg    Config
	logger *zap.Logger
}

// NewSweeper fills in a one minute interval and a batch of 50 when unset.
func NewSweeper(svc PendingReconciler, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &Sweeper{svc: svc, cfg: cfg, logger: logger}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	logging.Info(ctx, s.logger, "starting reconciler",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("older_than", s.cfg.OlderThan),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, s.logger, "reconciler stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) service.ReconcileSummary {
	summary, err := s.svc.ReconcilePending(ctx, s.cfg.OlderThan, s.cfg.BatchSize)
	if err != nil {
		logging.Error(ctx, s.logger, "reconcile pass failed", zap.Error(err))
		return summary
	}

	if summary.Checked > 0 {
		logging.Info(ctx, s.logger, "reconcile pass finished",
			zap.Int("checked", summary.Checked),
			zap.Int("settled", summary.Settled),
			zap.Int("errors", summary.Errors),
		)
	}

	return summary
}
