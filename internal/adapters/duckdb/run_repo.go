package duckdb

import (
	"context"
	"database/sql"
	"time"

	"agentcron/internal/core/domain"
)

const runColumns = `id, task_id, external_run_id, session_id, status, attempt_number,
	scheduled_for, started_at, completed_at, duration_ms, result_summary, error, resolved_prompt, created_at`

func (r *Repository) InsertRun(ctx context.Context, run *domain.TaskRun) error {
	query := `INSERT INTO task_runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.TaskID, run.ExternalRunID, run.SessionID,
		run.Status, run.AttemptNumber, run.ScheduledFor,
		run.StartedAt, run.CompletedAt, run.DurationMs,
		run.ResultSummary, run.Error, run.ResolvedPrompt, run.CreatedAt,
	)
	return err
}

func (r *Repository) GetRun(ctx context.Context, id domain.RunID) (*domain.TaskRun, error) {
	query := `SELECT ` + runColumns + ` FROM task_runs WHERE id = ?`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

func (r *Repository) UpdateRun(ctx context.Context, run *domain.TaskRun) error {
	query := `UPDATE task_runs SET
		external_run_id = ?, session_id = ?, status = ?, attempt_number = ?,
		started_at = ?, completed_at = ?, duration_ms = ?,
		result_summary = ?, error = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		run.ExternalRunID, run.SessionID, run.Status, run.AttemptNumber,
		run.StartedAt, run.CompletedAt, run.DurationMs,
		run.ResultSummary, run.Error, run.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *Repository) ListTaskRuns(ctx context.Context, taskID domain.TaskID, limit int) ([]domain.TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM task_runs WHERE task_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.TaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// FailStaleRuns reconciles runs a prior process left queued/running: anything
// created before cutoff that never reached a terminal state is marked failed.
func (r *Repository) FailStaleRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE task_runs SET
		status = 'failed',
		error = 'stale run reconciled at startup',
		completed_at = ?
		WHERE status IN ('pending', 'queued', 'running') AND created_at < ?`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRun(row rowScanner) (*domain.TaskRun, error) {
	var run domain.TaskRun
	var idStr, taskStr, statusStr string
	var extID, sessID, summary, errMsg, prompt sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&idStr, &taskStr, &extID, &sessID, &statusStr, &run.AttemptNumber,
		&run.ScheduledFor, &run.StartedAt, &run.CompletedAt, &durationMs,
		&summary, &errMsg, &prompt, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.ID = domain.RunID(idStr)
	run.TaskID = domain.TaskID(taskStr)
	run.Status = domain.RunStatus(statusStr)
	run.ExternalRunID = extID.String
	run.SessionID = domain.SessionID(sessID.String)
	run.DurationMs = durationMs.Int64
	run.ResultSummary = summary.String
	run.Error = errMsg.String
	run.ResolvedPrompt = prompt.String
	return &run, nil
}
