package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner invokes the reconciler on a fixed interval until its context ends.
type Runner struct {
	rec      *Reconciler
	interval time.Duration
	logger   *zap.Logger
}

// NewRunner constructs a Runner. A non-positive interval defaults to five
// minutes.
func NewRunner(rec *Reconciler, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{rec: rec, interval: interval, logger: logger}
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := r.rec.Reconcile(ctx, false)
			if err != nil {
				r.logger.Error("reconcile pass failed", zap.Error(err))
				continue
			}
			if len(result.Orphaned) > 0 {
				r.logger.Warn("reconcile pass recovered orphans",
					zap.Int("orphaned", len(result.Orphaned)),
					zap.Int("active_in_queue", len(result.ActiveInQueue)),
				)
			}
		}
	}
}
