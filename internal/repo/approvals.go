package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"stratline/internal/domain"
)

// ErrDuplicate reports a write rejected by a uniqueness constraint, e.g. a
// second pending approval for the same task.
var ErrDuplicate = errors.New("duplicate")

const approvalColumns = `id,task_id,review_status,submitted_by,submitted_at,reviewed_by,decided_at,notes`

func scanApproval(scan func(dest ...any) error) (domain.Approval, error) {
	var a domain.Approval
	var reviewedBy, decidedAt, notes sql.NullString
	err := scan(&a.ID, &a.TaskID, &a.ReviewStatus, &a.SubmittedBy, &a.SubmittedAt,
		&reviewedBy, &decidedAt, &notes)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if reviewedBy.Valid {
		a.ReviewedBy = &reviewedBy.String
	}
	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.String
	}
	if notes.Valid {
		a.Notes = &notes.String
	}
	return a, nil
}

// InsertApproval creates a pending approval. The partial unique index on
// approvals(task_id) rejects a second pending row for the same task; that
// shows up here as ErrDuplicate.
func (r Repo) InsertApproval(ctx context.Context, tx *sql.Tx, a domain.Approval) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO approvals(id,task_id,review_status,submitted_by,submitted_at,reviewed_by,decided_at,notes)
VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.ReviewStatus, a.SubmittedBy, a.SubmittedAt,
		nullableStringPtr(a.ReviewedBy), nullableStringPtr(a.DecidedAt), nullableStringPtr(a.Notes))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

// HasPendingApproval reports whether the task already carries an undecided
// approval.
func (r Repo) HasPendingApproval(ctx context.Context, taskID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approvals WHERE task_id=? AND review_status='pending'`, taskID).Scan(&n)
	return n > 0, err
}

func (r Repo) GetApproval(ctx context.Context, id string) (domain.Approval, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=?`, id)
	return scanApproval(row.Scan)
}

// ListApprovals returns approvals newest submission first, optionally
// filtered by review status.
func (r Repo) ListApprovals(ctx context.Context, reviewStatus string, limit int) ([]domain.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	var args []any
	if reviewStatus != "" {
		query += " WHERE review_status=?"
		args = append(args, reviewStatus)
	}
	query += " ORDER BY submitted_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Approval
	for rows.Next() {
		a, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// DecideApproval settles a pending approval. The WHERE clause makes the
// update a no-op when the approval is already decided; the caller tells the
// two cases apart from the returned flag.
func (r Repo) DecideApproval(ctx context.Context, tx *sql.Tx, id, outcome, reviewedBy, decidedAt, notes string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE approvals SET review_status=?, reviewed_by=?, decided_at=?, notes=COALESCE(NULLIF(?,''),notes)
WHERE id=? AND review_status=?`,
		outcome, nullable(reviewedBy), decidedAt, notes, id, domain.ReviewPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountApprovalsByStatus returns approval counts keyed by review status.
func (r Repo) CountApprovalsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT review_status, COUNT(*) FROM approvals GROUP BY review_status`)
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
