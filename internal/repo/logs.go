package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"stratline/internal/domain"
)

const logColumns = `id,agent_name,status,task_ids_json,COALESCE(output,'') AS output,COALESCE(error_text,'') AS error_text,api_cost,tokens_used,started_at,finished_at`

func scanExecutionLog(scan func(dest ...any) error) (domain.ExecutionLog, error) {
	var l domain.ExecutionLog
	var agent, taskIDs, finishedAt sql.NullString
	err := scan(&l.ID, &agent, &l.Status, &taskIDs, &l.Output, &l.ErrorText,
		&l.APICost, &l.TokensUsed, &l.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if agent.Valid {
		l.AgentName = agent.String
	}
	if taskIDs.Valid && taskIDs.String != "" {
		if err := json.Unmarshal([]byte(taskIDs.String), &l.TaskIDs); err != nil {
			return l, err
		}
	}
	if finishedAt.Valid {
		l.FinishedAt = &finishedAt.String
	}
	return l, nil
}

func (r Repo) InsertExecutionLog(ctx context.Context, l domain.ExecutionLog) error {
	var taskIDs any
	if len(l.TaskIDs) > 0 {
		raw, err := json.Marshal(l.TaskIDs)
		if err != nil {
			return err
		}
		taskIDs = string(raw)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO execution_logs(id,agent_name,status,task_ids_json,output,error_text,api_cost,tokens_used,started_at,finished_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.ID, nullable(l.AgentName), l.Status, taskIDs, nullable(l.Output), nullable(l.ErrorText),
		l.APICost, l.TokensUsed, l.StartedAt, nullableStringPtr(l.FinishedAt))
	return err
}

func (r Repo) GetExecutionLog(ctx context.Context, id string) (domain.ExecutionLog, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+logColumns+` FROM execution_logs WHERE id=?`, id)
	return scanExecutionLog(row.Scan)
}

// FinishExecutionLog settles a running log entry. Reports false when the
// entry was not running anymore.
func (r Repo) FinishExecutionLog(ctx context.Context, id, status, output, errorText string, apiCost float64, tokens int64, finishedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE execution_logs
SET status=?, output=COALESCE(NULLIF(?,''),output), error_text=COALESCE(NULLIF(?,''),error_text),
    api_cost=?, tokens_used=?, finished_at=?
WHERE id=? AND status=?`,
		status, output, errorText, apiCost, tokens, finishedAt, id, domain.ExecRunning)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type LogFilters struct {
	Status    string
	AgentName string
	TaskID    string
	Limit     int
}

// ListExecutionLogs returns log entries newest first. Task membership is
// matched against the JSON id list.
func (r Repo) ListExecutionLogs(ctx context.Context, f LogFilters) ([]domain.ExecutionLog, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AgentName != "" {
		clauses = append(clauses, "agent_name=?")
		args = append(args, f.AgentName)
	}
	if f.TaskID != "" {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM json_each(execution_logs.task_ids_json) WHERE json_each.value=?)`)
		args = append(args, f.TaskID)
	}
	query := `SELECT ` + logColumns + ` FROM execution_logs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionLog
	for rows.Next() {
		l, err := scanExecutionLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ExecutionTotals aggregates cost and volume across all log entries.
func (r Repo) ExecutionTotals(ctx context.Context) (runs int, succeeded int, failed int, cost float64, tokens int64, err error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COUNT(*),
COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0),
COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0),
COALESCE(SUM(api_cost),0), COALESCE(SUM(tokens_used),0) FROM execution_logs`,
		domain.ExecSuccess, domain.ExecFailed)
	err = row.Scan(&runs, &succeeded, &failed, &cost, &tokens)
	return runs, succeeded, failed, cost, tokens, err
}
