// Package postgres provides the Postgres-backed TaskStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/metascrape/internal/scraper"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock
// satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// TaskStore persists tasks and results in Postgres.
type TaskStore struct {
	pool  pool
	idGen scraper.IDGenerator
	clock scraper.Clock
}

// NewTaskStore creates a Postgres-backed TaskStore using the provided config.
func NewTaskStore(
	ctx context.Context,
	cfg Config,
	idGen scraper.IDGenerator,
	clock scraper.Clock,
) (*TaskStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TaskStore{pool: p, idGen: idGen, clock: clock}, nil
}

// NewTaskStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTaskStoreWithPool(p pool, idGen scraper.IDGenerator, clock scraper.Clock) (*TaskStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TaskStore{pool: p, idGen: idGen, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const taskColumns = "id, url, status, created_at, started_at, completed_at, error_message"

// CreateTask validates url and inserts a new pending task row.
func (s *TaskStore) CreateTask(ctx context.Context, url string) (scraper.Task, error) {
	if err := scraper.ValidateURL(url); err != nil {
		return scraper.Task{}, err
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return scraper.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	task := scraper.Task{
		ID:        id,
		URL:       url,
		Status:    scraper.TaskStatusPending,
		CreatedAt: s.clock.Now().UTC(),
	}
	query := `INSERT INTO tasks (id, url, status, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, task.ID, task.URL, task.Status, task.CreatedAt); err != nil {
		return scraper.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetTask fetches a task by id. Returns scraper.ErrTaskNotFound on a miss.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (scraper.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(s.pool.QueryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Task{}, scraper.ErrTaskNotFound
		}
		return scraper.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// GetTaskWithResults fetches a task and all of its result rows.
func (s *TaskStore) GetTaskWithResults(
	ctx context.Context,
	taskID string,
) (scraper.Task, []scraper.Result, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return scraper.Task{}, nil, err
	}

	query := `SELECT id, task_id, content, html_content, created_at
		FROM results WHERE task_id = $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, taskID)
	if err != nil {
		return scraper.Task{}, nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	results := []scraper.Result{}
	for rows.Next() {
		var (
			result      scraper.Result
			contentJSON []byte
			htmlContent *string
		)
		if err := rows.Scan(&result.ID, &result.TaskID, &contentJSON, &htmlContent, &result.CreatedAt); err != nil {
			return scraper.Task{}, nil, fmt.Errorf("scan result row: %w", err)
		}
		if len(contentJSON) > 0 {
			if err := json.Unmarshal(contentJSON, &result.Content); err != nil {
				return scraper.Task{}, nil, fmt.Errorf("decode result content: %w", err)
			}
		}
		if htmlContent != nil {
			result.HTMLContent = *htmlContent
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return scraper.Task{}, nil, fmt.Errorf("iterate result rows: %w", err)
	}
	return task, results, nil
}

// ListTasks returns a page of tasks in submission order.
func (s *TaskStore) ListTasks(ctx context.Context, offset, limit int) ([]scraper.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []scraper.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}

// UpdateStatus persists the new status. Transitions to in_progress
// stamp started_at; terminal transitions stamp completed_at.
func (s *TaskStore) UpdateStatus(
	ctx context.Context,
	taskID string,
	status scraper.TaskStatus,
	errMsg string,
) error {
	now := s.clock.Now().UTC()
	var (
		query string
		args  []any
	)
	switch {
	case status == scraper.TaskStatusInProgress:
		query = `UPDATE tasks SET status = $2, error_message = NULLIF($3, ''), started_at = $4 WHERE id = $1`
		args = []any{taskID, status, errMsg, now}
	case status.IsTerminal():
		query = `UPDATE tasks SET status = $2, error_message = NULLIF($3, ''), completed_at = $4 WHERE id = $1`
		args = []any{taskID, status, errMsg, now}
	default:
		query = `UPDATE tasks SET status = $2, error_message = NULLIF($3, '') WHERE id = $1`
		args = []any{taskID, status, errMsg}
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrTaskNotFound
	}
	return nil
}

// CreateResult inserts a result row for a completed run.
func (s *TaskStore) CreateResult(ctx context.Context, result scraper.Result) (scraper.Result, error) {
	if result.TaskID == "" {
		return scraper.Result{}, fmt.Errorf("result task id is required")
	}
	if result.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			return scraper.Result{}, fmt.Errorf("generate result id: %w", err)
		}
		result.ID = id
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = s.clock.Now().UTC()
	}
	contentJSON, err := json.Marshal(result.Content)
	if err != nil {
		return scraper.Result{}, fmt.Errorf("marshal result content: %w", err)
	}
	query := `INSERT INTO results (id, task_id, content, html_content, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(
		ctx,
		query,
		result.ID,
		result.TaskID,
		contentJSON,
		result.HTMLContent,
		result.CreatedAt,
	); err != nil {
		return scraper.Result{}, fmt.Errorf("insert result: %w", err)
	}
	return result, nil
}

// FailStalled fails tasks sitting in_progress longer than olderThan.
func (s *TaskStore) FailStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.clock.Now().UTC()
	query := `UPDATE tasks
		SET status = $1, error_message = $2, completed_at = $3
		WHERE status = $4 AND started_at < $5`
	tag, err := s.pool.Exec(
		ctx,
		query,
		scraper.TaskStatusFailed,
		"execution exceeded hard time limit",
		now,
		scraper.TaskStatusInProgress,
		now.Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("fail stalled tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeExpiredResults deletes result rows past the retention window.
func (s *TaskStore) PurgeExpiredResults(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM results WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired results: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanTask(row pgx.Row) (scraper.Task, error) {
	var (
		task   scraper.Task
		errMsg *string
	)
	if err := row.Scan(
		&task.ID,
		&task.URL,
		&task.Status,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
		&errMsg,
	); err != nil {
		return scraper.Task{}, err
	}
	if errMsg != nil {
		task.ErrorMessage = *errMsg
	}
	return task, nil
}
