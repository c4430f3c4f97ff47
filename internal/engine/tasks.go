package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/log"
	"stratline/internal/repo"
)

// taskEdges is the status graph. Edges into review and approved are absent
// on purpose: those moves belong to SubmitForReview and DecideApproval.
var taskEdges = map[string][]string{
	domain.TaskBacklog:    {domain.TaskInProgress},
	domain.TaskInProgress: {domain.TaskBlocked},
	domain.TaskReview:     {domain.TaskBlocked},
	domain.TaskApproved:   {domain.TaskDone},
	domain.TaskBlocked:    {domain.TaskBacklog, domain.TaskInProgress},
}

func validStatus(s string) bool {
	switch s {
	case domain.TaskBacklog, domain.TaskInProgress, domain.TaskReview,
		domain.TaskApproved, domain.TaskDone, domain.TaskBlocked:
		return true
	}
	return false
}

func ensureTaskTransition(from, to string) error {
	for _, next := range taskEdges[from] {
		if next == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID            string
	Title         string
	Description   string
	Category      string
	Priority      int
	AssignedAgent string
	ActorID       string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Task{}, invalidf("title", "required")
	}
	if opts.Category == "" {
		return domain.Task{}, invalidf("category", "required")
	}
	if !e.Config.KnownCategory(opts.Category) {
		return domain.Task{}, invalidf("category", "unknown category %q", opts.Category)
	}
	if opts.Priority == 0 {
		opts.Priority = 3
	}
	if opts.Priority < 1 || opts.Priority > 5 {
		return domain.Task{}, invalidf("priority", "must be between 1 and 5")
	}
	id := opts.ID
	now := e.nowRFC3339()
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Task{
		ID:            id,
		Title:         opts.Title,
		Description:   opts.Description,
		Category:      opts.Category,
		Priority:      opts.Priority,
		Status:        domain.TaskBacklog,
		AssignedAgent: optionalString(opts.AssignedAgent),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,description,category,priority,status,assigned_agent,progress,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,0,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Category, t.Priority, t.Status,
		nullable(opts.AssignedAgent), t.CreatedAt, t.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, "task", t.ID, opts.ActorID, events.EventPayload{
		"title":    t.Title,
		"category": t.Category,
		"priority": t.Priority,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

// ListTasks returns tasks ordered by priority, most urgent first. Limit
// defaults to 50.
func (e Engine) ListTasks(ctx context.Context, status, category string, limit int) ([]domain.Task, error) {
	if status != "" && !validStatus(status) {
		return nil, invalidf("status", "unknown status %q", status)
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return e.Repo.ListTasks(ctx, repo.TaskFilters{Status: status, Category: category, Limit: limit})
}

// TransitionStatus moves a task along the status graph. The update is a
// compare-and-set against the status the caller observed, so two racing
// transitions cannot both win.
func (e Engine) TransitionStatus(ctx context.Context, id, to, actorID string) (domain.Task, error) {
	if !validStatus(to) {
		return domain.Task{}, invalidf("status", "unknown status %q", to)
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureTaskTransition(t.Status, to); err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	ok, err := e.Repo.CompareAndSetTaskStatusTx(ctx, tx, id, t.Status, to, now)
	if err != nil {
		return t, err
	}
	if !ok {
		return t, ErrConflict
	}
	if err := e.Events.Append(ctx, tx, events.TaskTransitioned, "task", id, actorID, events.EventPayload{
		"from": t.Status,
		"to":   to,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	t.Status = to
	t.UpdatedAt = now
	return t, nil
}

// ProgressUpdateOptions are parameters for UpdateProgress.
type ProgressUpdateOptions struct {
	ID            string
	Progress      int
	QualityScore  *float64
	AssignedAgent *string
	ActorID       string
}

// UpdateProgress records execution progress on a task. Progress moving
// backwards is allowed but logged; quality scores are only accepted once a
// task has reached review.
func (e Engine) UpdateProgress(ctx context.Context, opts ProgressUpdateOptions) (domain.Task, error) {
	if opts.Progress < 0 || opts.Progress > 100 {
		return domain.Task{}, invalidf("progress", "must be between 0 and 100")
	}
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.QualityScore != nil {
		if *opts.QualityScore < 0 || *opts.QualityScore > 1 {
			return t, invalidf("quality_score", "must be between 0 and 1")
		}
		switch t.Status {
		case domain.TaskReview, domain.TaskApproved, domain.TaskDone:
		default:
			return t, invalidf("quality_score", "task %s is %s; scores apply from review onward", t.ID, t.Status)
		}
	}
	if opts.Progress < t.Progress {
		log.GetLogger().WithField("task_id", t.ID).
			Warnf("progress moved backwards: %d -> %d", t.Progress, opts.Progress)
	}
	now := e.nowRFC3339()
	if err := e.Repo.UpdateTaskProgress(ctx, opts.ID, opts.Progress, opts.QualityScore, opts.AssignedAgent, now); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, nil, events.TaskProgressed, "task", t.ID, opts.ActorID, events.EventPayload{
		"progress": opts.Progress,
	}); err != nil {
		return t, err
	}
	t.Progress = opts.Progress
	if opts.QualityScore != nil {
		t.QualityScore = opts.QualityScore
	}
	if opts.AssignedAgent != nil {
		t.AssignedAgent = opts.AssignedAgent
	}
	t.UpdatedAt = now
	return t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
