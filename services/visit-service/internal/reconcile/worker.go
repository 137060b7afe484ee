// Package reconcile runs the periodic sweep that frees slots left booked
// without a visit.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/visitbook/libs/config"
)

type Sweeper interface {
	ReconcileStrandedSlots(ctx context.Context, grace time.Duration, limit int) ([]string, error)
}

// Locker elects a single sweeping instance when several replicas share a database.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context)
}

type Config struct {
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
	LockRetry time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Interval:  config.Duration("VISIT_RECONCILE_INTERVAL", time.Minute),
		Grace:     config.Duration("VISIT_RECONCILE_GRACE", 10*time.Minute),
		BatchSize: config.Int("VISIT_RECONCILE_BATCH", 100),
		LockRetry: 30 * time.Second,
	}
}

type Worker struct {
	sweeper Sweeper
	locker  Locker
	logger  *slog.Logger
	cfg     Config
}

// NewWorker builds a sweep loop. locker may be nil for single-instance deployments.
func NewWorker(sweeper Sweeper, locker Locker, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = 30 * time.Second
	}
	return &Worker{sweeper: sweeper, locker: locker, logger: logger, cfg: cfg}
}

func (w *Worker) Run(ctx context.Context) {
	if w.locker != nil {
		if !w.acquire(ctx) {
			return
		}
		defer w.locker.Unlock(context.WithoutCancel(ctx))
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	// run immediately so slots stranded during downtime are freed on startup
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *Worker) acquire(ctx context.Context) bool {
	for {
		locked, err := w.locker.TryLock(ctx)
		switch {
		case err != nil:
			w.logger.Error("reconcile: failed to acquire lock", "err", err)
		case locked:
			w.logger.Info("reconcile: lock acquired")
			return true
		default:
			w.logger.Debug("reconcile: lock held by another instance")
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.cfg.LockRetry):
		}
	}
}

func (w *Worker) RunOnce(ctx context.Context) []string {
	released, err := w.sweeper.ReconcileStrandedSlots(ctx, w.cfg.Grace, w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("reconcile sweep failed", "err", err)
		}
		return released
	}
	if len(released) > 0 {
		w.logger.Info("reconcile sweep released slots", "count", len(released), "slot_ids", released)
	}
	return released
}
