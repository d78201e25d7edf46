// Package schedule drives periodic refresh runs in the background.
package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/config"
)

// Refresher is the subset of the tracking service the runner drives.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Runner re-checks watched item prices on a fixed interval. Runs are
// sequential: a tick that arrives while a refresh is still in flight
// waits for the next one.
type Runner struct {
	svc Refresher
	cfg config.RefreshConfig
}

// NewRunner creates a background refresh runner.
func NewRunner(svc Refresher, cfg config.RefreshConfig) *Runner {
	return &Runner{svc: svc, cfg: cfg}
}

// Run starts the periodic refresh loop. It blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	interval := time.Duration(r.cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	log := zap.L().With(zap.String("component", "schedule.runner"))
	log.Info("starting refresh runner", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("refresh runner stopped")
			return
		case <-ticker.C:
			r.refresh(ctx, log)
		}
	}
}

func (r *Runner) refresh(ctx context.Context, log *zap.Logger) {
	start := time.Now()
	updated, err := r.svc.Refresh(ctx)
	if err != nil {
		log.Error("schedule: refresh run failed", zap.Error(err))
		return
	}
	log.Info("schedule: refresh run complete",
		zap.Int("updated", updated),
		zap.Duration("elapsed", time.Since(start)),
	)
}
