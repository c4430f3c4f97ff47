package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"stratline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const taskColumns = `id,title,COALESCE(description,'') AS description,category,priority,status,assigned_agent,progress,quality_score,approval_status,created_at,updated_at,approved_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var agent, approvalStatus, approvedAt sql.NullString
	var quality sql.NullFloat64
	err := scan(&t.ID, &t.Title, &t.Description, &t.Category, &t.Priority, &t.Status,
		&agent, &t.Progress, &quality, &approvalStatus, &t.CreatedAt, &t.UpdatedAt, &approvedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if agent.Valid {
		t.AssignedAgent = &agent.String
	}
	if quality.Valid {
		t.QualityScore = &quality.Float64
	}
	if approvalStatus.Valid {
		t.ApprovalStatus = &approvalStatus.String
	}
	if approvedAt.Valid {
		t.ApprovedAt = &approvedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(id,title,description,category,priority,status,assigned_agent,progress,quality_score,approval_status,created_at,updated_at,approved_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Category, t.Priority, t.Status,
		nullableStringPtr(t.AssignedAgent), t.Progress, nullableFloatPtr(t.QualityScore),
		nullableStringPtr(t.ApprovalStatus), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.ApprovedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	Status   string
	Category string
	Limit    int
}

// ListTasks returns tasks ordered by priority ascending (lower is more
// urgent), then creation time.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CompareAndSetTaskStatus moves a task from an expected status to a new one
// in a single conditional update. It reports false when the stored status no
// longer matches the expectation.
func (r Repo) CompareAndSetTaskStatus(ctx context.Context, id, from, to, updatedAt string) (bool, error) {
	return compareAndSetTaskStatus(ctx, r.DB, id, from, to, updatedAt)
}

// CompareAndSetTaskStatusTx is the transactional variant used by the
// approval decision path.
func (r Repo) CompareAndSetTaskStatusTx(ctx context.Context, tx *sql.Tx, id, from, to, updatedAt string) (bool, error) {
	return compareAndSetTaskStatus(ctx, tx, id, from, to, updatedAt)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func compareAndSetTaskStatus(ctx context.Context, db execer, id, from, to, updatedAt string) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=? AND status=?`,
		to, updatedAt, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// StampTaskApproval records the approval outcome on the task row. Called
// only from the approval decision transaction.
func (r Repo) StampTaskApproval(ctx context.Context, tx *sql.Tx, id, approvalStatus string, approvedAt *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET approval_status=?, approved_at=COALESCE(?, approved_at) WHERE id=?`,
		approvalStatus, nullableStringPtr(approvedAt), id)
	return err
}

// UpdateTaskProgress sets progress and, optionally, quality score and
// assigned agent.
func (r Repo) UpdateTaskProgress(ctx context.Context, id string, progress int, quality *float64, agent *string, updatedAt string) error {
	fields := []string{"progress=?", "updated_at=?"}
	args := []any{progress, updatedAt}
	if quality != nil {
		fields = append(fields, "quality_score=?")
		args = append(args, *quality)
	}
	if agent != nil {
		fields = append(fields, "assigned_agent=?")
		args = append(args, nullable(*agent))
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountTasksByStatus returns task counts keyed by status.
func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
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

// TaskQuality returns the number of scored tasks and their score sum.
func (r Repo) TaskQuality(ctx context.Context) (scored int, sum float64, err error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COUNT(quality_score), COALESCE(SUM(quality_score),0) FROM tasks WHERE quality_score IS NOT NULL`)
	err = row.Scan(&scored, &sum)
	return scored, sum, err
}

// CountTasksByCategory returns task counts keyed by category.
func (r Repo) CountTasksByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT category, COUNT(*) FROM tasks GROUP BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		counts[category] = n
	}
	return counts, rows.Err()
}

// CountTasksByPriority returns task counts keyed by priority value.
func (r Repo) CountTasksByPriority(ctx context.Context) (map[int]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT priority, COUNT(*) FROM tasks GROUP BY priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[int]int{}
	for rows.Next() {
		var priority, n int
		if err := rows.Scan(&priority, &n); err != nil {
			return nil, err
		}
		counts[priority] = n
	}
	return counts, rows.Err()
}

// AverageTaskProgress returns the mean progress over all tasks, 0 when empty.
func (r Repo) AverageTaskProgress(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT AVG(progress) FROM tasks`).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// CountEligibleTasks counts tasks an execution run could pick up.
func (r Repo) CountEligibleTasks(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status IN (?,?)`,
		domain.TaskBacklog, domain.TaskInProgress).Scan(&n)
	return n, err
}

// EarliestTaskCreation returns the oldest created_at, or "" when no tasks.
func (r Repo) EarliestTaskCreation(ctx context.Context) (string, error) {
	var ts sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT MIN(created_at) FROM tasks`).Scan(&ts)
	if err != nil {
		return "", err
	}
	if !ts.Valid {
		return "", nil
	}
	return ts.String, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
