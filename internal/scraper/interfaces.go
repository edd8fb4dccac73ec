package scraper

import (
	"context"
	"time"
)

// TaskStore persists tasks and their results. The store is the single
// source of truth: every write is durable and immediately visible.
type TaskStore interface {
	// CreateTask validates url and persists a new pending task.
	// Returns ErrInvalidURL without creating a row when url is not an
	// absolute HTTP(S) URL.
	CreateTask(ctx context.Context, url string) (Task, error)
	GetTask(ctx context.Context, taskID string) (Task, error)
	GetTaskWithResults(ctx context.Context, taskID string) (Task, []Result, error)
	ListTasks(ctx context.Context, offset, limit int) ([]Task, error)
	// UpdateStatus persists the new status, stamping started_at on
	// in_progress and completed_at on terminal transitions.
	UpdateStatus(ctx context.Context, taskID string, status TaskStatus, errMsg string) error
	CreateResult(ctx context.Context, result Result) (Result, error)
	// FailStalled marks tasks stuck in_progress longer than olderThan
	// as failed and returns how many rows changed.
	FailStalled(ctx context.Context, olderThan time.Duration) (int, error)
	// PurgeExpiredResults deletes results past the retention window.
	PurgeExpiredResults(ctx context.Context, olderThan time.Duration) (int, error)
}

// Fetcher performs a single HTTP GET and returns the body plus metadata.
// Failures are reported as *FetchError; the caller owns retry decisions.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Extractor parses fetched HTML into structured fields. Implementations
// are pure: no I/O, identical input yields identical output.
type Extractor interface {
	Extract(baseURL string, body []byte) ExtractedContent
}

// Queue provides enqueue/dequeue semantics for task delivery.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task and result IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
