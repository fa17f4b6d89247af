package tasks

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically reconciles in-flight tasks past their deadline.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.store.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("task_sweep_failed", slog.String("error", err.Error()))
				continue
			}
			if result.MovedToVerifying > 0 || result.FailedSent > 0 || result.FailedVerifying > 0 {
				s.logger.Info("task_sweep",
					slog.Int64("moved_to_verifying", result.MovedToVerifying),
					slog.Int64("failed_sent", result.FailedSent),
					slog.Int64("failed_verifying", result.FailedVerifying))
			}
		}
	}
}
