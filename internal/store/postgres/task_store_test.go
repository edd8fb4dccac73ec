package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metascrape/internal/scraper"
)

type staticClock struct {
	now time.Time
}

func (c staticClock) Now() time.Time { return c.now }

type staticIDGen struct {
	id string
}

func (g staticIDGen) NewID() (string, error) { return g.id, nil }

func newMockStore(t *testing.T, id string) (*TaskStore, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewTaskStoreWithPool(mock, staticIDGen{id: id}, staticClock{now: now})
	require.NoError(t, err)
	return store, mock, now
}

func TestCreateTaskInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t, "task-uuid")

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs("task-uuid", "http://example.com", scraper.TaskStatusPending, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	task, err := store.CreateTask(context.Background(), "http://example.com")
	require.NoError(t, err)
	require.Equal(t, "task-uuid", task.ID)
	require.Equal(t, scraper.TaskStatusPending, task.Status)
	require.Equal(t, now, task.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t, "task-uuid")

	_, err := store.CreateTask(context.Background(), "not-a-url")
	require.ErrorIs(t, err, scraper.ErrInvalidURL)
	// No SQL should have run.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t, "task-uuid")

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "url", "status", "created_at", "started_at", "completed_at", "error_message",
		}))

	_, err := store.GetTask(context.Background(), "missing")
	require.ErrorIs(t, err, scraper.ErrTaskNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskScansRow(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t, "task-uuid")

	started := now.Add(time.Second)
	errMsg := "Failed to fetch URL: status 404"
	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WithArgs("task-uuid").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "url", "status", "created_at", "started_at", "completed_at", "error_message",
		}).AddRow(
			"task-uuid", "http://example.com", scraper.TaskStatusFailed, now, &started, &started, &errMsg,
		))

	task, err := store.GetTask(context.Background(), "task-uuid")
	require.NoError(t, err)
	require.Equal(t, scraper.TaskStatusFailed, task.Status)
	require.Equal(t, errMsg, task.ErrorMessage)
	require.NotNil(t, task.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusBranches(t *testing.T) {
	t.Parallel()

	t.Run("in progress stamps started_at", func(t *testing.T) {
		t.Parallel()
		store, mock, now := newMockStore(t, "task-uuid")

		mock.ExpectExec("UPDATE tasks SET status (.+) started_at").
			WithArgs("task-uuid", scraper.TaskStatusInProgress, "", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, store.UpdateStatus(context.Background(), "task-uuid", scraper.TaskStatusInProgress, ""))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal stamps completed_at", func(t *testing.T) {
		t.Parallel()
		store, mock, now := newMockStore(t, "task-uuid")

		mock.ExpectExec("UPDATE tasks SET status (.+) completed_at").
			WithArgs("task-uuid", scraper.TaskStatusCompleted, "", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, store.UpdateStatus(context.Background(), "task-uuid", scraper.TaskStatusCompleted, ""))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row maps to not found", func(t *testing.T) {
		t.Parallel()
		store, mock, now := newMockStore(t, "task-uuid")

		mock.ExpectExec("UPDATE tasks SET status").
			WithArgs("missing", scraper.TaskStatusFailed, "boom", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := store.UpdateStatus(context.Background(), "missing", scraper.TaskStatusFailed, "boom")
		require.ErrorIs(t, err, scraper.ErrTaskNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateResultInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t, "result-uuid")

	content := scraper.ExtractedContent{
		Title:  "Example",
		URL:    "http://example.com",
		Links:  []string{"http://example.com/about"},
		Images: []string{},

		LinksCount: 1,
	}
	contentJSON, err := json.Marshal(content)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO results").
		WithArgs("result-uuid", "task-uuid", contentJSON, "<html></html>", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := store.CreateResult(context.Background(), scraper.Result{
		TaskID:      "task-uuid",
		Content:     content,
		HTMLContent: "<html></html>",
	})
	require.NoError(t, err)
	require.Equal(t, "result-uuid", result.ID)
	require.Equal(t, now, result.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskWithResultsDecodesContent(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t, "task-uuid")

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id").
		WithArgs("task-uuid").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "url", "status", "created_at", "started_at", "completed_at", "error_message",
		}).AddRow(
			"task-uuid", "http://example.com", scraper.TaskStatusCompleted, now, (*time.Time)(nil), (*time.Time)(nil), (*string)(nil),
		))

	html := "<html><title>Example</title></html>"
	mock.ExpectQuery("SELECT (.+) FROM results WHERE task_id").
		WithArgs("task-uuid").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "task_id", "content", "html_content", "created_at",
		}).AddRow(
			"result-uuid", "task-uuid", []byte(`{"title":"Example","links_count":2}`), &html, now,
		))

	task, results, err := store.GetTaskWithResults(context.Background(), "task-uuid")
	require.NoError(t, err)
	require.Equal(t, scraper.TaskStatusCompleted, task.Status)
	require.Len(t, results, 1)
	require.Equal(t, "Example", results[0].Content.Title)
	require.Equal(t, 2, results[0].Content.LinksCount)
	require.Equal(t, html, results[0].HTMLContent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTasksPages(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t, "task-uuid")

	mock.ExpectQuery("SELECT (.+) FROM tasks ORDER BY created_at").
		WithArgs(2, 1).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "url", "status", "created_at", "started_at", "completed_at", "error_message",
		}).AddRow(
			"t2", "http://example.com/2", scraper.TaskStatusPending, now, (*time.Time)(nil), (*time.Time)(nil), (*string)(nil),
		).AddRow(
			"t3", "http://example.com/3", scraper.TaskStatusPending, now, (*time.Time)(nil), (*time.Time)(nil), (*string)(nil),
		))

	tasks, err := store.ListTasks(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "t2", tasks[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStalledUpdatesRows(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t, "task-uuid")

	mock.ExpectExec("UPDATE tasks").
		WithArgs(
			scraper.TaskStatusFailed,
			"execution exceeded hard time limit",
			now,
			scraper.TaskStatusInProgress,
			now.Add(-5*time.Minute),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	changed, err := store.FailStalled(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeExpiredResultsDeletesRows(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t, "task-uuid")

	mock.ExpectExec("DELETE FROM results").
		WithArgs(now.Add(-24 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	purged, err := store.PurgeExpiredResults(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 3, purged)
	require.NoError(t, mock.ExpectationsWereMet())
}
