// Package runner implements the task lifecycle execution loop.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metascrape/internal/metrics"
	"github.com/JakeFAU/metascrape/internal/scraper"
)

// Config controls Runner behavior.
type Config struct {
	// MaxAttempts caps transient retries of one task. The initial
	// delivery is not counted, so a task is fetched at most
	// MaxAttempts+1 times.
	MaxAttempts int
	// RetryBackoff is the delay before a transient-failure retry.
	RetryBackoff time.Duration
	// SoftLimit bounds the fetch portion of a run; HardLimit bounds the
	// whole run and force-fails anything that outlives it.
	SoftLimit time.Duration
	HardLimit time.Duration
	// SnapshotBytes caps the raw HTML stored with a result.
	SnapshotBytes int
}

// Runner consumes queue items and executes the scrape pipeline for one
// task at a time. All failures are converted into a persisted failed
// status; nothing escapes to crash the dispatch loop.
type Runner struct {
	queue     scraper.Queue
	store     scraper.TaskStore
	fetcher   scraper.Fetcher
	extractor scraper.Extractor
	clock     scraper.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner.
func New(
	queue scraper.Queue,
	store scraper.TaskStore,
	fetcher scraper.Fetcher,
	extractor scraper.Extractor,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 60 * time.Second
	}
	if cfg.SoftLimit <= 0 {
		cfg.SoftLimit = 240 * time.Second
	}
	if cfg.HardLimit < cfg.SoftLimit {
		cfg.HardLimit = 300 * time.Second
	}
	if cfg.SnapshotBytes <= 0 {
		cfg.SnapshotBytes = 100000
	}
	return &Runner{
		queue:     queue,
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (r *Runner) Run(ctx context.Context) {
	for {
		item, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		r.Execute(ctx, item)
	}
}

// Execute runs the full lifecycle for one delivered task id.
func (r *Runner) Execute(ctx context.Context, item scraper.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := r.clock.Now()
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.HardLimit)
	defer cancel()
	// Terminal status writes must land even after the hard deadline.
	persistCtx := context.WithoutCancel(ctx)

	task, err := r.store.GetTask(runCtx, item.TaskID)
	if err != nil {
		if errors.Is(err, scraper.ErrTaskNotFound) {
			r.logger.Error("task not found, dropping delivery", zap.String("task_id", item.TaskID))
			return
		}
		r.logger.Error("load task failed", zap.String("task_id", item.TaskID), zap.Error(err))
		return
	}

	// At-least-once delivery: a terminal task re-delivered without
	// explicit retry intent is a no-op.
	if task.Status.IsTerminal() && !item.Retry {
		r.logger.Info("duplicate delivery of terminal task ignored",
			zap.String("task_id", task.ID),
			zap.String("status", string(task.Status)),
		)
		return
	}

	if err := r.store.UpdateStatus(runCtx, task.ID, scraper.TaskStatusInProgress, ""); err != nil {
		r.logger.Error("mark task in progress failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic during task execution",
				zap.String("task_id", task.ID),
				zap.Any("panic", rec),
			)
			r.failTask(persistCtx, task.ID, fmt.Sprintf("unexpected error: %v", rec), start)
		}
	}()

	if err := scraper.ValidateURL(task.URL); err != nil {
		r.failTask(persistCtx, task.ID, "Invalid URL format", start)
		return
	}

	fetchCtx, fetchCancel := context.WithTimeout(runCtx, r.cfg.SoftLimit)
	defer fetchCancel()
	resp, err := r.fetcher.Fetch(fetchCtx, task.URL)
	if err != nil {
		r.handleFetchFailure(persistCtx, task, item, err, start)
		return
	}

	content := r.extractor.Extract(task.URL, resp.Body)
	result := scraper.Result{
		TaskID:      task.ID,
		Content:     content,
		HTMLContent: string(truncateBytes(resp.Body, r.cfg.SnapshotBytes)),
	}
	if _, err := r.store.CreateResult(persistCtx, result); err != nil {
		r.logger.Error("persist result failed", zap.String("task_id", task.ID), zap.Error(err))
		r.failTask(persistCtx, task.ID, fmt.Sprintf("failed to store result: %v", err), start)
		return
	}

	if err := r.store.UpdateStatus(persistCtx, task.ID, scraper.TaskStatusCompleted, ""); err != nil {
		r.logger.Error("mark task completed failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	metrics.ObserveTask(string(scraper.TaskStatusCompleted), r.clock.Now().Sub(start))
	r.logger.Info("task completed",
		zap.String("task_id", task.ID),
		zap.String("url", task.URL),
		zap.Int("links", content.LinksCount),
		zap.Int("images", content.ImagesCount),
	)
}

// handleFetchFailure persists the failed status and, for transient
// failures with retry budget left, schedules a delayed re-delivery.
func (r *Runner) handleFetchFailure(
	ctx context.Context,
	task scraper.Task,
	item scraper.QueueItem,
	fetchErr error,
	start time.Time,
) {
	msg := fmt.Sprintf("Failed to fetch URL: %v", fetchErr)
	r.failTask(ctx, task.ID, msg, start)

	var fe *scraper.FetchError
	if !errors.As(fetchErr, &fe) || !fe.Transient() {
		r.logger.Warn("fetch failed permanently",
			zap.String("task_id", task.ID),
			zap.String("url", task.URL),
			zap.Error(fetchErr),
		)
		return
	}
	if item.Attempt > r.cfg.MaxAttempts {
		r.logger.Warn("retry budget exhausted",
			zap.String("task_id", task.ID),
			zap.Int("attempts", item.Attempt),
		)
		return
	}
	r.scheduleRetry(task.ID, item.Attempt+1)
}

// scheduleRetry re-enqueues the task id after the backoff elapses. The
// wait happens on a timer, not in this worker, so capacity frees up
// immediately.
func (r *Runner) scheduleRetry(taskID string, attempt int) {
	metrics.ObserveRetryScheduled()
	r.logger.Info("transient failure, retry scheduled",
		zap.String("task_id", taskID),
		zap.Int("attempt", attempt),
		zap.Duration("backoff", r.cfg.RetryBackoff),
	)
	time.AfterFunc(r.cfg.RetryBackoff, func() {
		enqueueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		item := scraper.QueueItem{
			TaskID:    taskID,
			Attempt:   attempt,
			Retry:     true,
			Submitted: r.clock.Now().Unix(),
		}
		if err := r.queue.Enqueue(enqueueCtx, item); err != nil {
			r.logger.Error("enqueue retry failed", zap.String("task_id", taskID), zap.Error(err))
		}
	})
}

func (r *Runner) failTask(ctx context.Context, taskID, msg string, start time.Time) {
	if err := r.store.UpdateStatus(ctx, taskID, scraper.TaskStatusFailed, msg); err != nil {
		r.logger.Error("mark task failed errored", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	metrics.ObserveTask(string(scraper.TaskStatusFailed), r.clock.Now().Sub(start))
}

func truncateBytes(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return b[:max]
}
