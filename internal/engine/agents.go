package engine

import (
	"context"

	"stratline/internal/domain"
)

// RecordAgentSkill stores the per-agent performance snapshot reported by
// the external execution process.
func (e Engine) RecordAgentSkill(ctx context.Context, a domain.AgentSkill) (domain.AgentSkill, error) {
	if a.AgentName == "" {
		return a, invalidf("agent_name", "required")
	}
	if a.AvgQualityScore < 0 || a.AvgQualityScore > 1 {
		return a, invalidf("avg_quality_score", "must be between 0 and 1")
	}
	if a.SuccessRate < 0 || a.SuccessRate > 1 {
		return a, invalidf("success_rate", "must be between 0 and 1")
	}
	if a.TasksCompleted < 0 {
		return a, invalidf("tasks_completed", "must not be negative")
	}
	a.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpsertAgentSkill(ctx, a); err != nil {
		return a, err
	}
	return a, nil
}

// ListAgents returns agent performance records, best quality first.
func (e Engine) ListAgents(ctx context.Context, activeOnly bool) ([]domain.AgentSkill, error) {
	return e.Repo.ListAgentSkills(ctx, activeOnly)
}
