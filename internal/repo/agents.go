package repo

import (
	"context"

	"stratline/internal/domain"
)

// UpsertAgentSkill replaces the per-agent performance record. The external
// execution process calls this after every completed task.
func (r Repo) UpsertAgentSkill(ctx context.Context, a domain.AgentSkill) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agent_skills(agent_name,active,tasks_completed,avg_quality_score,success_rate,updated_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(agent_name) DO UPDATE SET
  active=excluded.active,
  tasks_completed=excluded.tasks_completed,
  avg_quality_score=excluded.avg_quality_score,
  success_rate=excluded.success_rate,
  updated_at=excluded.updated_at`,
		a.AgentName, a.Active, a.TasksCompleted, a.AvgQualityScore, a.SuccessRate, a.UpdatedAt)
	return err
}

// ListAgentSkills returns agent records, best average quality first.
func (r Repo) ListAgentSkills(ctx context.Context, activeOnly bool) ([]domain.AgentSkill, error) {
	query := `SELECT agent_name,active,tasks_completed,avg_quality_score,success_rate,updated_at FROM agent_skills`
	if activeOnly {
		query += " WHERE active=1"
	}
	query += " ORDER BY avg_quality_score DESC, agent_name ASC"
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentSkill
	for rows.Next() {
		var a domain.AgentSkill
		if err := rows.Scan(&a.AgentName, &a.Active, &a.TasksCompleted, &a.AvgQualityScore, &a.SuccessRate, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
