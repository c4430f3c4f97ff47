package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"stratline/internal/domain"
	"stratline/internal/events"
)

var milestoneEdges = map[string][]string{
	domain.MilestonePlanned:    {domain.MilestoneInProgress, domain.MilestoneCompleted},
	domain.MilestoneInProgress: {domain.MilestoneCompleted, domain.MilestonePlanned},
}

func (e Engine) CreateMilestone(ctx context.Context, name, targetDate string, taskCount int, actorID string) (domain.Milestone, error) {
	if name == "" {
		return domain.Milestone{}, invalidf("name", "required")
	}
	if targetDate != "" {
		if _, err := time.Parse("2006-01-02", targetDate); err != nil {
			return domain.Milestone{}, invalidf("target_date", "must be YYYY-MM-DD")
		}
	}
	if taskCount < 0 {
		return domain.Milestone{}, invalidf("task_count", "must not be negative")
	}
	m := domain.Milestone{
		ID:         uuid.New().String(),
		Name:       name,
		Status:     domain.MilestonePlanned,
		TargetDate: optionalString(targetDate),
		TaskCount:  taskCount,
		CreatedAt:  e.nowRFC3339(),
	}
	if err := e.Repo.InsertMilestone(ctx, m); err != nil {
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, nil, events.MilestoneCreated, "milestone", m.ID, actorID, events.EventPayload{
		"name": m.Name,
	}); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

func (e Engine) ListMilestones(ctx context.Context) ([]domain.Milestone, error) {
	return e.Repo.ListMilestones(ctx)
}

func (e Engine) SetMilestoneStatus(ctx context.Context, id, status, actorID string) (domain.Milestone, error) {
	switch status {
	case domain.MilestonePlanned, domain.MilestoneInProgress, domain.MilestoneCompleted:
	default:
		return domain.Milestone{}, invalidf("status", "unknown status %q", status)
	}
	m, err := e.Repo.GetMilestone(ctx, id)
	if err != nil {
		return domain.Milestone{}, err
	}
	allowed := false
	for _, next := range milestoneEdges[m.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return m, &InvalidTransitionError{From: m.Status, To: status}
	}
	if err := e.Repo.UpdateMilestoneStatus(ctx, id, status); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, nil, events.MilestoneUpdated, "milestone", id, actorID, events.EventPayload{
		"from": m.Status,
		"to":   status,
	}); err != nil {
		return m, err
	}
	m.Status = status
	return m, nil
}
