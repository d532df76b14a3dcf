package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"agentcron/internal/core/domain"
)

const taskColumns = `id, user_id, agent_id, name, schedule_type, cron_expression, interval_minutes,
	scheduled_at, timezone, initial_prompt, prompt_variables, context_sources,
	enabled, max_retries, timeout_ms, priority, status, paused_at, paused_until, pause_reason,
	delivery_method, delivery_config, result_session_id, new_session_per_run,
	last_run_at, next_run_at, created_at, updated_at, created_by`

func (r *Repository) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	vars, err := json.Marshal(task.PromptVariables)
	if err != nil {
		return fmt.Errorf("marshal prompt variables: %w", err)
	}
	sources, err := json.Marshal(task.ContextSources)
	if err != nil {
		return fmt.Errorf("marshal context sources: %w", err)
	}
	deliveryCfg, err := json.Marshal(task.DeliveryConfig)
	if err != nil {
		return fmt.Errorf("marshal delivery config: %w", err)
	}

	query := `
	INSERT INTO scheduled_tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		schedule_type = excluded.schedule_type,
		cron_expression = excluded.cron_expression,
		interval_minutes = excluded.interval_minutes,
		scheduled_at = excluded.scheduled_at,
		timezone = excluded.timezone,
		initial_prompt = excluded.initial_prompt,
		prompt_variables = excluded.prompt_variables,
		context_sources = excluded.context_sources,
		enabled = excluded.enabled,
		max_retries = excluded.max_retries,
		timeout_ms = excluded.timeout_ms,
		priority = excluded.priority,
		status = excluded.status,
		paused_at = excluded.paused_at,
		paused_until = excluded.paused_until,
		pause_reason = excluded.pause_reason,
		delivery_method = excluded.delivery_method,
		delivery_config = excluded.delivery_config,
		result_session_id = excluded.result_session_id,
		new_session_per_run = excluded.new_session_per_run,
		last_run_at = excluded.last_run_at,
		next_run_at = excluded.next_run_at,
		updated_at = excluded.updated_at;
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID, task.UserID, task.AgentID, task.Name,
		task.ScheduleType, task.CronExpression, task.IntervalMinutes,
		task.ScheduledAt, task.Timezone, task.InitialPrompt,
		string(vars), string(sources),
		task.Enabled, task.MaxRetries, task.TimeoutMs, task.Priority,
		task.Status, task.PausedAt, task.PausedUntil, task.PauseReason,
		task.DeliveryMethod, string(deliveryCfg), task.ResultSessionID, task.CreateNewSessionPerRun,
		task.LastRunAt, task.NextRunAt, task.CreatedAt, task.UpdatedAt, task.CreatedBy,
	)
	return err
}

func (r *Repository) GetTask(ctx context.Context, id domain.TaskID) (*domain.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE id = ?`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (r *Repository) DeleteTask(ctx context.Context, id domain.TaskID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	return err
}

func (r *Repository) ListTriggerableTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks
		WHERE enabled = true AND status = 'active' ORDER BY created_at ASC`
	return r.queryTasks(ctx, query)
}

func (r *Repository) ListDuePausedTasks(ctx context.Context, now time.Time) ([]domain.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks
		WHERE status = 'paused' AND paused_until IS NOT NULL AND paused_until <= ?
		ORDER BY paused_until ASC`
	return r.queryTasks(ctx, query, now)
}

func (r *Repository) UpdateTaskTimes(ctx context.Context, id domain.TaskID, lastRunAt, nextRunAt *time.Time) error {
	query := `UPDATE scheduled_tasks SET
		last_run_at = COALESCE(?, last_run_at),
		next_run_at = COALESCE(?, next_run_at),
		updated_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, lastRunAt, nextRunAt, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (r *Repository) queryTasks(ctx context.Context, query string, args ...any) ([]domain.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	var idStr, userStr, agentStr, typeStr, priorityStr, statusStr, methodStr string
	var cronExpr, tz, pauseReason, sessionID, createdBy sql.NullString
	var varsJSON, sourcesJSON, deliveryJSON sql.NullString
	var intervalMin sql.NullInt64

	err := row.Scan(
		&idStr, &userStr, &agentStr, &t.Name,
		&typeStr, &cronExpr, &intervalMin,
		&t.ScheduledAt, &tz, &t.InitialPrompt,
		&varsJSON, &sourcesJSON,
		&t.Enabled, &t.MaxRetries, &t.TimeoutMs, &priorityStr,
		&statusStr, &t.PausedAt, &t.PausedUntil, &pauseReason,
		&methodStr, &deliveryJSON, &sessionID, &t.CreateNewSessionPerRun,
		&t.LastRunAt, &t.NextRunAt, &t.CreatedAt, &t.UpdatedAt, &createdBy,
	)
	if err != nil {
		return nil, err
	}

	t.ID = domain.TaskID(idStr)
	t.UserID = domain.UserID(userStr)
	t.AgentID = domain.AgentID(agentStr)
	t.ScheduleType = domain.ScheduleType(typeStr)
	t.Priority = domain.Priority(priorityStr)
	t.Status = domain.TaskStatus(statusStr)
	t.DeliveryMethod = domain.DeliveryMethod(methodStr)
	t.CronExpression = cronExpr.String
	t.Timezone = tz.String
	t.PauseReason = pauseReason.String
	t.ResultSessionID = domain.SessionID(sessionID.String)
	t.CreatedBy = createdBy.String
	t.IntervalMinutes = int(intervalMin.Int64)

	if varsJSON.String != "" {
		if err := json.Unmarshal([]byte(varsJSON.String), &t.PromptVariables); err != nil {
			return nil, fmt.Errorf("unmarshal prompt variables for %s: %w", t.ID, err)
		}
	}
	if sourcesJSON.String != "" {
		if err := json.Unmarshal([]byte(sourcesJSON.String), &t.ContextSources); err != nil {
			return nil, fmt.Errorf("unmarshal context sources for %s: %w", t.ID, err)
		}
	}
	if deliveryJSON.String != "" {
		if err := json.Unmarshal([]byte(deliveryJSON.String), &t.DeliveryConfig); err != nil {
			return nil, fmt.Errorf("unmarshal delivery config for %s: %w", t.ID, err)
		}
	}
	return &t, nil
}
