package repo

import (
	"context"
	"database/sql"

	"stratline/internal/domain"
)

const milestoneColumns = `id,name,status,target_date,task_count,created_at`

func scanMilestone(scan func(dest ...any) error) (domain.Milestone, error) {
	var m domain.Milestone
	var targetDate sql.NullString
	err := scan(&m.ID, &m.Name, &m.Status, &targetDate, &m.TaskCount, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if targetDate.Valid {
		m.TargetDate = &targetDate.String
	}
	return m, nil
}

func (r Repo) InsertMilestone(ctx context.Context, m domain.Milestone) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO milestones(id,name,status,target_date,task_count,created_at)
VALUES (?,?,?,?,?,?)`,
		m.ID, m.Name, m.Status, nullableStringPtr(m.TargetDate), m.TaskCount, m.CreatedAt)
	return err
}

func (r Repo) GetMilestone(ctx context.Context, id string) (domain.Milestone, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id=?`, id)
	return scanMilestone(row.Scan)
}

// ListMilestones returns milestones ordered by target date, undated last.
func (r Repo) ListMilestones(ctx context.Context) ([]domain.Milestone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+milestoneColumns+` FROM milestones
ORDER BY target_date IS NULL, target_date ASC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UpdateMilestoneStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE milestones SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMilestonesByStatus returns milestone counts keyed by status.
func (r Repo) CountMilestonesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM milestones GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
