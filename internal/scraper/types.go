// Package scraper defines core types shared across subsystems.
package scraper

import (
	"net/http"
	"time"
)

// TaskStatus represents the lifecycle state of a scrape task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether s is a final lifecycle state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task represents the metadata persisted for each submitted scrape request.
type Task struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ExtractedContent is the structured output of a successful scrape.
// LinksCount and ImagesCount report totals found before truncation.
type ExtractedContent struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	URL             string   `json:"url"`
	Links           []string `json:"links"`
	Images          []string `json:"images"`
	LinksCount      int      `json:"links_count"`
	ImagesCount     int      `json:"images_count"`
}

// Result is persisted once a task completes. HTMLContent holds a
// byte-capped snapshot of the fetched document.
type Result struct {
	ID          string           `json:"id"`
	TaskID      string           `json:"task_id"`
	Content     ExtractedContent `json:"content"`
	HTMLContent string           `json:"html_content,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a task id ready to run. Attempt counts deliveries of
// this task starting at 1; Retry marks an explicit re-execution of a
// task that already reached a terminal state.
type QueueItem struct {
	TaskID    string `json:"task_id"`
	Attempt   int    `json:"attempt"`
	Retry     bool   `json:"retry"`
	Submitted int64  `json:"submitted"`
}

// TaskResult is returned by the API result endpoint.
type TaskResult struct {
	Task    Task     `json:"task"`
	Results []Result `json:"results"`
}
