package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/domain"
	"stratline/internal/migrate"
	"stratline/internal/repo"
)

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := New(conn, config.Default())
	e.Now = func() time.Time {
		return time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	}
	e.OrchestratorKey = "orch-secret"
	return e
}

func mustCreate(t *testing.T, e Engine, title string, priority int) domain.Task {
	t.Helper()
	task, err := e.CreateTask(context.Background(), TaskCreateOptions{
		Title:    title,
		Category: "seo",
		Priority: priority,
		ActorID:  "tester",
	})
	require.NoError(t, err)
	return task
}

func TestCreateTaskValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateTask(ctx, TaskCreateOptions{Category: "seo"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "title", verr.Field)

	_, err = e.CreateTask(ctx, TaskCreateOptions{Title: "x", Category: "gardening"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "category", verr.Field)

	_, err = e.CreateTask(ctx, TaskCreateOptions{Title: "x", Category: "seo", Priority: 9})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "priority", verr.Field)

	task := mustCreate(t, e, "defaults", 0)
	require.Equal(t, 3, task.Priority)
	require.Equal(t, domain.TaskBacklog, task.Status)
}

func TestTransitionGraph(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		path []string
		ok   bool
	}{
		{path: []string{"in_progress", "blocked", "backlog"}, ok: true},
		{path: []string{"in_progress", "blocked", "in_progress"}, ok: true},
		{path: []string{"done"}, ok: false},
		{path: []string{"review"}, ok: false},
		{path: []string{"approved"}, ok: false},
		{path: []string{"in_progress", "done"}, ok: false},
	}
	for _, tc := range cases {
		task := mustCreate(t, e, "walker", 2)
		var err error
		for _, next := range tc.path {
			_, err = e.TransitionStatus(ctx, task.ID, next, "tester")
			if err != nil {
				break
			}
		}
		if tc.ok {
			require.NoError(t, err, "path %v", tc.path)
			continue
		}
		var terr *InvalidTransitionError
		require.ErrorAs(t, err, &terr, "path %v", tc.path)
	}
}

func TestApprovalFlow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	task := mustCreate(t, e, "needs review", 1)
	_, err := e.TransitionStatus(ctx, task.ID, domain.TaskInProgress, "tester")
	require.NoError(t, err)

	// Submitting from any state other than in_progress is refused.
	other := mustCreate(t, e, "still in backlog", 2)
	_, err = e.SubmitForReview(ctx, other.ID, "agent-1", "", "tester")
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)

	approval, err := e.SubmitForReview(ctx, task.ID, "agent-1", "first draft", "tester")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewPending, approval.ReviewStatus)

	_, err = e.SubmitForReview(ctx, task.ID, "agent-2", "", "tester")
	require.ErrorIs(t, err, ErrConflict)

	decided, err := e.DecideApproval(ctx, approval.ID, "approved", "lead", "", "tester")
	require.NoError(t, err)
	require.Equal(t, domain.ReviewApproved, decided.ReviewStatus)
	require.NotNil(t, decided.DecidedAt)

	got, err := e.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)

	_, err = e.DecideApproval(ctx, approval.ID, "rejected", "lead", "", "tester")
	require.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestRejectionParksTask(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	task := mustCreate(t, e, "reject me", 1)
	_, err := e.TransitionStatus(ctx, task.ID, domain.TaskInProgress, "tester")
	require.NoError(t, err)
	approval, err := e.SubmitForReview(ctx, task.ID, "agent-1", "", "tester")
	require.NoError(t, err)

	_, err = e.DecideApproval(ctx, approval.ID, "rejected", "lead", "too thin", "tester")
	require.NoError(t, err)

	got, err := e.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskBlocked, got.Status)
	require.Nil(t, got.ApprovedAt)

	// Back to work and around the loop again.
	_, err = e.TransitionStatus(ctx, task.ID, domain.TaskInProgress, "tester")
	require.NoError(t, err)
	_, err = e.SubmitForReview(ctx, task.ID, "agent-1", "second draft", "tester")
	require.NoError(t, err)
}

func TestQualityScoreGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	task := mustCreate(t, e, "score me", 2)
	score := 0.85
	_, err := e.UpdateProgress(ctx, ProgressUpdateOptions{
		ID: task.ID, Progress: 50, QualityScore: &score, ActorID: "tester",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "quality_score", verr.Field)

	// Scores live on a 0 to 1 scale; anything above 1 is rejected outright.
	tooBig := 5.0
	_, err = e.UpdateProgress(ctx, ProgressUpdateOptions{
		ID: task.ID, Progress: 50, QualityScore: &tooBig, ActorID: "tester",
	})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "quality_score", verr.Field)

	_, err = e.TransitionStatus(ctx, task.ID, domain.TaskInProgress, "tester")
	require.NoError(t, err)
	_, err = e.SubmitForReview(ctx, task.ID, "agent-1", "", "tester")
	require.NoError(t, err)

	updated, err := e.UpdateProgress(ctx, ProgressUpdateOptions{
		ID: task.ID, Progress: 100, QualityScore: &score, ActorID: "tester",
	})
	require.NoError(t, err)
	require.NotNil(t, updated.QualityScore)
	require.Equal(t, score, *updated.QualityScore)
}

func TestRequestExecution(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.RequestExecution(ctx, "wrong", 0, "orchestrator", false)
	require.ErrorIs(t, err, ErrUnauthorized)

	for i := 0; i < 4; i++ {
		mustCreate(t, e, "eligible", 2)
	}
	done := mustCreate(t, e, "not eligible", 2)
	_, err = e.TransitionStatus(ctx, done.ID, domain.TaskInProgress, "tester")
	require.NoError(t, err)
	_, err = e.TransitionStatus(ctx, done.ID, domain.TaskBlocked, "tester")
	require.NoError(t, err)

	res, err := e.RequestExecution(ctx, "orch-secret", 2, "orchestrator", false)
	require.NoError(t, err)
	require.Equal(t, "accepted", res.Status)
	require.Equal(t, 2, res.EligibleTasks)
	require.Equal(t, 2, res.Limit)
	// Fixed clock 10:15 with the default cron "0 */6 * * *" lands on noon.
	require.Equal(t, "2026-03-01T12:00:00Z", res.NextCheck)

	res, err = e.RequestExecution(ctx, "orch-secret", 0, "orchestrator", false)
	require.NoError(t, err)
	require.Equal(t, e.Config.Execution.DefaultLimit, res.Limit)
	require.Equal(t, 4, res.EligibleTasks)
}

func TestExecutionRateLimit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// A rejected key does not consume rate budget.
	_, err := e.RequestExecution(ctx, "wrong", 0, "orchestrator", false)
	require.ErrorIs(t, err, ErrUnauthorized)

	for i := 0; i < e.Config.RateLimit.MaxRequests; i++ {
		_, err := e.RequestExecution(ctx, "orch-secret", 0, "orchestrator", false)
		require.NoError(t, err)
	}
	_, err = e.RequestExecution(ctx, "orch-secret", 0, "orchestrator", false)
	require.ErrorIs(t, err, ErrRateLimited)

	// A later window resets the counter.
	e.Now = func() time.Time {
		return time.Date(2026, 3, 1, 10, 17, 0, 0, time.UTC)
	}
	_, err = e.RequestExecution(ctx, "orch-secret", 0, "orchestrator", false)
	require.NoError(t, err)
}

func TestStatsAndSummary(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a := mustCreate(t, e, "a", 1)
	mustCreate(t, e, "b", 2)
	c := mustCreate(t, e, "c", 3)

	_, err := e.TransitionStatus(ctx, a.ID, domain.TaskInProgress, "tester")
	require.NoError(t, err)
	approval, err := e.SubmitForReview(ctx, a.ID, "agent-1", "", "tester")
	require.NoError(t, err)
	score := 0.9
	_, err = e.UpdateProgress(ctx, ProgressUpdateOptions{ID: a.ID, Progress: 100, QualityScore: &score, ActorID: "tester"})
	require.NoError(t, err)
	_, err = e.TransitionStatus(ctx, c.ID, domain.TaskInProgress, "tester")
	require.NoError(t, err)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Tasks.Total)
	require.Equal(t, 1, stats.Tasks.Backlog)
	require.Equal(t, 1, stats.Tasks.InProgress)
	require.Equal(t, 1, stats.Tasks.Review)
	require.Equal(t, 1, stats.Approvals.Pending)
	// One scored task out of three; the average divides by scored count.
	require.InDelta(t, 0.9, stats.Tasks.AvgQuality, 0.001)

	summary, err := e.Summarize(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, summary.Recommendations)

	_, err = e.DecideApproval(ctx, approval.ID, "approved", "lead", "", "tester")
	require.NoError(t, err)
	stats, err = e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Approvals.Approved)
}

func TestExecutionLogLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	task := mustCreate(t, e, "worked on", 2)

	_, err := e.StartExecutionLog(ctx, "seo-writer", []string{"missing-task"}, "runner")
	require.ErrorIs(t, err, repo.ErrNotFound)

	started, err := e.StartExecutionLog(ctx, "seo-writer", []string{task.ID}, "runner")
	require.NoError(t, err)
	require.Equal(t, domain.ExecRunning, started.Status)

	finished, err := e.FinishExecutionLog(ctx, LogFinishOptions{
		ID:         started.ID,
		Status:     domain.ExecSuccess,
		Output:     "two articles drafted",
		APICost:    0.37,
		TokensUsed: 9000,
		ActorID:    "runner",
	})
	require.NoError(t, err)
	require.Equal(t, domain.ExecSuccess, finished.Status)
	require.NotNil(t, finished.FinishedAt)

	_, err = e.FinishExecutionLog(ctx, LogFinishOptions{
		ID: started.ID, Status: domain.ExecFailed, ActorID: "runner",
	})
	require.ErrorIs(t, err, ErrConflict)
}
