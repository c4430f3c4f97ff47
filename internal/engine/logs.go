package engine

import (
	"context"

	"github.com/google/uuid"

	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/repo"
)

// StartExecutionLog opens a running log entry for an execution run.
func (e Engine) StartExecutionLog(ctx context.Context, agentName string, taskIDs []string, actorID string) (domain.ExecutionLog, error) {
	for _, id := range taskIDs {
		if _, err := e.Repo.GetTask(ctx, id); err != nil {
			return domain.ExecutionLog{}, err
		}
	}
	l := domain.ExecutionLog{
		ID:        uuid.New().String(),
		AgentName: agentName,
		Status:    domain.ExecRunning,
		TaskIDs:   taskIDs,
		StartedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertExecutionLog(ctx, l); err != nil {
		return domain.ExecutionLog{}, err
	}
	if err := e.Events.Append(ctx, nil, events.LogStarted, "execution_log", l.ID, actorID, events.EventPayload{
		"agent_name": agentName,
		"task_count": len(taskIDs),
	}); err != nil {
		return domain.ExecutionLog{}, err
	}
	return l, nil
}

// LogFinishOptions are parameters for FinishExecutionLog.
type LogFinishOptions struct {
	ID         string
	Status     string
	Output     string
	ErrorText  string
	APICost    float64
	TokensUsed int64
	ActorID    string
}

// FinishExecutionLog settles a running log entry. A second finish for the
// same entry gets ErrConflict; the first result stands.
func (e Engine) FinishExecutionLog(ctx context.Context, opts LogFinishOptions) (domain.ExecutionLog, error) {
	if opts.Status != domain.ExecSuccess && opts.Status != domain.ExecFailed {
		return domain.ExecutionLog{}, invalidf("status", "must be success or failed")
	}
	if opts.APICost < 0 {
		return domain.ExecutionLog{}, invalidf("api_cost", "must not be negative")
	}
	if opts.TokensUsed < 0 {
		return domain.ExecutionLog{}, invalidf("tokens_used", "must not be negative")
	}
	l, err := e.Repo.GetExecutionLog(ctx, opts.ID)
	if err != nil {
		return domain.ExecutionLog{}, err
	}
	now := e.nowRFC3339()
	ok, err := e.Repo.FinishExecutionLog(ctx, opts.ID, opts.Status, opts.Output, opts.ErrorText, opts.APICost, opts.TokensUsed, now)
	if err != nil {
		return l, err
	}
	if !ok {
		return l, ErrConflict
	}
	if err := e.Events.Append(ctx, nil, events.LogFinished, "execution_log", l.ID, opts.ActorID, events.EventPayload{
		"status":   opts.Status,
		"api_cost": opts.APICost,
	}); err != nil {
		return l, err
	}
	return e.Repo.GetExecutionLog(ctx, opts.ID)
}

// ListExecutionLogs returns recent execution runs, newest first. Limit
// defaults to and is capped at 100.
func (e Engine) ListExecutionLogs(ctx context.Context, f repo.LogFilters) ([]domain.ExecutionLog, error) {
	switch f.Status {
	case "", domain.ExecRunning, domain.ExecSuccess, domain.ExecFailed:
	default:
		return nil, invalidf("status", "unknown status %q", f.Status)
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 100
	}
	return e.Repo.ListExecutionLogs(ctx, f)
}
