package repo

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"stratline/internal/db"
	"stratline/internal/domain"
	"stratline/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return Repo{DB: conn}
}

func seedTask(t *testing.T, r Repo, id, status string, priority int, createdAt string) {
	t.Helper()
	require.NoError(t, r.InsertTask(context.Background(), domain.Task{
		ID:        id,
		Title:     "task " + id,
		Category:  "seo",
		Priority:  priority,
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}))
}

func inTx(t *testing.T, r Repo, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	err = fn(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	require.NoError(t, tx.Commit())
	return nil
}

func TestCompareAndSetTaskStatus(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", domain.TaskBacklog, 2, "2026-01-01T00:00:00Z")

	ok, err := r.CompareAndSetTaskStatus(ctx, "t1", domain.TaskBacklog, domain.TaskInProgress, "2026-01-01T00:01:00Z")
	require.NoError(t, err)
	require.True(t, ok)

	// The row already moved; the same guard loses now.
	ok, err = r.CompareAndSetTaskStatus(ctx, "t1", domain.TaskBacklog, domain.TaskInProgress, "2026-01-01T00:02:00Z")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := r.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, domain.TaskInProgress, got.Status)
	require.Equal(t, "2026-01-01T00:01:00Z", got.UpdatedAt)
}

func TestPendingApprovalUnique(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", domain.TaskInProgress, 2, "2026-01-01T00:00:00Z")

	err := inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertApproval(ctx, tx, domain.Approval{
			ID: "a1", TaskID: "t1", ReviewStatus: domain.ReviewPending,
			SubmittedBy: "agent-1", SubmittedAt: "2026-01-01T00:05:00Z",
		})
	})
	require.NoError(t, err)

	err = inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertApproval(ctx, tx, domain.Approval{
			ID: "a2", TaskID: "t1", ReviewStatus: domain.ReviewPending,
			SubmittedBy: "agent-2", SubmittedAt: "2026-01-01T00:06:00Z",
		})
	})
	require.ErrorIs(t, err, ErrDuplicate)

	// Once the first is decided a new pending row is allowed again.
	err = inTx(t, r, func(tx *sql.Tx) error {
		decided, err := r.DecideApproval(ctx, tx, "a1", domain.ReviewRejected, "lead", "2026-01-01T00:10:00Z", "")
		require.NoError(t, err)
		require.True(t, decided)
		return nil
	})
	require.NoError(t, err)

	err = inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertApproval(ctx, tx, domain.Approval{
			ID: "a3", TaskID: "t1", ReviewStatus: domain.ReviewPending,
			SubmittedBy: "agent-1", SubmittedAt: "2026-01-01T00:15:00Z",
		})
	})
	require.NoError(t, err)
}

func TestDecideApprovalGuards(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", domain.TaskInProgress, 2, "2026-01-01T00:00:00Z")

	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertApproval(ctx, tx, domain.Approval{
			ID: "a1", TaskID: "t1", ReviewStatus: domain.ReviewPending,
			SubmittedBy: "agent-1", SubmittedAt: "2026-01-01T00:05:00Z",
		})
	}))

	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		ok, err := r.DecideApproval(ctx, tx, "a1", domain.ReviewApproved, "lead", "2026-01-01T00:10:00Z", "ship it")
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	}))

	require.NoError(t, inTx(t, r, func(tx *sql.Tx) error {
		ok, err := r.DecideApproval(ctx, tx, "a1", domain.ReviewRejected, "lead", "2026-01-01T00:11:00Z", "")
		require.NoError(t, err)
		require.False(t, ok, "second decision must lose")
		return nil
	}))

	got, err := r.GetApproval(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewApproved, got.ReviewStatus)
	require.NotNil(t, got.Notes)
	require.Equal(t, "ship it", *got.Notes)
}

func TestListTasksOrdering(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "older-low", domain.TaskBacklog, 4, "2026-01-01T00:00:00Z")
	seedTask(t, r, "newer-high", domain.TaskBacklog, 1, "2026-01-02T00:00:00Z")
	seedTask(t, r, "older-high", domain.TaskBacklog, 1, "2026-01-01T00:00:00Z")

	tasks, err := r.ListTasks(ctx, TaskFilters{Limit: 10})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, "older-high", tasks[0].ID)
	require.Equal(t, "newer-high", tasks[1].ID)
	require.Equal(t, "older-low", tasks[2].ID)
}

func TestExecutionLogTaskFilter(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", domain.TaskInProgress, 2, "2026-01-01T00:00:00Z")
	seedTask(t, r, "t2", domain.TaskInProgress, 2, "2026-01-01T00:00:00Z")

	require.NoError(t, r.InsertExecutionLog(ctx, domain.ExecutionLog{
		ID: "l1", AgentName: "writer", Status: domain.ExecRunning,
		TaskIDs: []string{"t1", "t2"}, StartedAt: "2026-01-01T01:00:00Z",
	}))
	require.NoError(t, r.InsertExecutionLog(ctx, domain.ExecutionLog{
		ID: "l2", AgentName: "analyst", Status: domain.ExecRunning,
		TaskIDs: []string{"t2"}, StartedAt: "2026-01-01T02:00:00Z",
	}))

	logs, err := r.ListExecutionLogs(ctx, LogFilters{TaskID: "t1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "l1", logs[0].ID)

	logs, err = r.ListExecutionLogs(ctx, LogFilters{TaskID: "t2", Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "l2", logs[0].ID, "newest started first")

	logs, err = r.ListExecutionLogs(ctx, LogFilters{AgentName: "analyst", Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestRateCounterWindows(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		n, err := r.IncrementRateCounter(ctx, "execute", "2026-01-01T00:00:00Z")
		require.NoError(t, err)
		require.Equal(t, want, n)
	}

	// A new window restarts the count on the same key.
	n, err := r.IncrementRateCounter(ctx, "execute", "2026-01-01T00:01:00Z")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAPIKeyLookup(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	raw := "some-secret-material"
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{
		ID: "k1", ActorID: "ops", Name: "ci",
		KeyHash: HashAPIKey(raw), CreatedAt: "2026-01-01T00:00:00Z",
	}))

	got, err := r.GetAPIKeyByHash(ctx, HashAPIKey(raw))
	require.NoError(t, err)
	require.Equal(t, "ops", got.ActorID)

	_, err = r.GetAPIKeyByHash(ctx, HashAPIKey("wrong"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	require.ErrorIs(t, r.DeleteAPIKey(ctx, "k1"), ErrNotFound)
}
