package duckdb

import (
	"context"
	"time"

	"agentcron/internal/core/domain"
)

// RecordSuccess increments the success counter linked to a task's skills.
func (r *Repository) RecordSuccess(ctx context.Context, taskID domain.TaskID) error {
	return r.bumpSkillUsage(ctx, taskID, 1, 0)
}

// RecordFailure increments the failure counter linked to a task's skills.
func (r *Repository) RecordFailure(ctx context.Context, taskID domain.TaskID) error {
	return r.bumpSkillUsage(ctx, taskID, 0, 1)
}

func (r *Repository) bumpSkillUsage(ctx context.Context, taskID domain.TaskID, success, failure int) error {
	query := `INSERT INTO skill_usage (task_id, success_count, failure_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			success_count = skill_usage.success_count + excluded.success_count,
			failure_count = skill_usage.failure_count + excluded.failure_count,
			updated_at = excluded.updated_at;`
	_, err := r.db.ExecContext(ctx, query, taskID, success, failure, time.Now().UTC())
	return err
}
