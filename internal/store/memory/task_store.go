// Package memory provides an in-memory TaskStore for development/testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/metascrape/internal/scraper"
)

// TaskStore keeps tasks and results in process memory.
type TaskStore struct {
	mu      sync.RWMutex
	tasks   map[string]scraper.Task
	results map[string][]scraper.Result
	order   []string
	idGen   scraper.IDGenerator
	clock   scraper.Clock
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore(idGen scraper.IDGenerator, clock scraper.Clock) *TaskStore {
	return &TaskStore{
		tasks:   make(map[string]scraper.Task),
		results: make(map[string][]scraper.Result),
		idGen:   idGen,
		clock:   clock,
	}
}

// CreateTask validates url and stores a new pending task.
func (s *TaskStore) CreateTask(_ context.Context, url string) (scraper.Task, error) {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = task
	s.order = append(s.order, id)
	return task, nil
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (scraper.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return scraper.Task{}, scraper.ErrTaskNotFound
	}
	return task, nil
}

// GetTaskWithResults fetches a task and all of its results.
func (s *TaskStore) GetTaskWithResults(_ context.Context, taskID string) (scraper.Task, []scraper.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return scraper.Task{}, nil, scraper.ErrTaskNotFound
	}
	results := append([]scraper.Result(nil), s.results[taskID]...)
	return task, results, nil
}

// ListTasks returns tasks in submission order.
func (s *TaskStore) ListTasks(_ context.Context, offset, limit int) ([]scraper.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.order) {
		return []scraper.Task{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(s.order) {
		end = len(s.order)
	}
	out := make([]scraper.Task, 0, end-offset)
	for _, id := range s.order[offset:end] {
		out = append(out, s.tasks[id])
	}
	return out, nil
}

// UpdateStatus persists the new status and stamps lifecycle timestamps.
func (s *TaskStore) UpdateStatus(
	_ context.Context,
	taskID string,
	status scraper.TaskStatus,
	errMsg string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return scraper.ErrTaskNotFound
	}
	now := s.clock.Now().UTC()
	task.Status = status
	task.ErrorMessage = errMsg
	if status == scraper.TaskStatusInProgress {
		task.StartedAt = pointerTime(now)
	}
	if status.IsTerminal() {
		task.CompletedAt = pointerTime(now)
	}
	s.tasks[taskID] = task
	return nil
}

// CreateResult appends a result row for a task.
func (s *TaskStore) CreateResult(_ context.Context, result scraper.Result) (scraper.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[result.TaskID]; !ok {
		return scraper.Result{}, scraper.ErrTaskNotFound
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
	s.results[result.TaskID] = append(s.results[result.TaskID], result)
	return result, nil
}

// FailStalled marks tasks stuck in_progress past olderThan as failed.
func (s *TaskStore) FailStalled(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UTC()
	cutoff := now.Add(-olderThan)
	changed := 0
	for id, task := range s.tasks {
		if task.Status != scraper.TaskStatusInProgress {
			continue
		}
		if task.StartedAt == nil || task.StartedAt.After(cutoff) {
			continue
		}
		task.Status = scraper.TaskStatusFailed
		task.ErrorMessage = "execution exceeded hard time limit"
		task.CompletedAt = pointerTime(now)
		s.tasks[id] = task
		changed++
	}
	return changed, nil
}

// PurgeExpiredResults removes results created before the retention cutoff.
func (s *TaskStore) PurgeExpiredResults(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	purged := 0
	for taskID, results := range s.results {
		kept := results[:0]
		for _, r := range results {
			if r.CreatedAt.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.results, taskID)
			continue
		}
		s.results[taskID] = kept
	}
	return purged, nil
}

// ResultCount reports stored results across all tasks (test helper).
func (s *TaskStore) ResultCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, results := range s.results {
		total += len(results)
	}
	return total
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
