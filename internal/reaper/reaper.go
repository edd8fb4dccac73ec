// Package reaper sweeps up tasks and results the runners can no longer
// clean after themselves.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metascrape/internal/scraper"
)

// Config controls sweep cadence and thresholds.
type Config struct {
	Interval time.Duration
	// HardLimit matches the runner's hard execution budget; anything
	// in_progress longer than this was externally terminated.
	HardLimit time.Duration
	// ResultRetention is how long result rows are kept.
	ResultRetention time.Duration
}

// Reaper periodically fails stalled tasks and purges expired results.
type Reaper struct {
	store  scraper.TaskStore
	cfg    Config
	logger *zap.Logger
}

// New constructs a Reaper.
func New(store scraper.TaskStore, cfg Config, logger *zap.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.HardLimit <= 0 {
		cfg.HardLimit = 300 * time.Second
	}
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = 24 * time.Hour
	}
	return &Reaper{store: store, cfg: cfg, logger: logger}
}

// Run blocks, sweeping on the configured interval until ctx finishes.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
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

// Sweep performs one pass of both cleanups.
func (r *Reaper) Sweep(ctx context.Context) {
	stalled, err := r.store.FailStalled(ctx, r.cfg.HardLimit)
	if err != nil {
		r.logger.Error("fail stalled tasks errored", zap.Error(err))
	} else if stalled > 0 {
		r.logger.Warn("failed stalled tasks", zap.Int("count", stalled))
	}

	purged, err := r.store.PurgeExpiredResults(ctx, r.cfg.ResultRetention)
	if err != nil {
		r.logger.Error("purge expired results errored", zap.Error(err))
	} else if purged > 0 {
		r.logger.Info("purged expired results", zap.Int("count", purged))
	}
}
