package duckdb

import (
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"agentcron/internal/core/ports"
)

// Repository is the DuckDB-backed persistent store for scheduled tasks, runs,
// sessions/messages, and skill usage counters. The store is the single source
// of truth; the scheduler's in-memory registry and queue are rebuilt from it
// on startup.
type Repository struct {
	db *sql.DB
}

var (
	_ ports.TaskRepository     = (*Repository)(nil)
	_ ports.RunRepository      = (*Repository)(nil)
	_ ports.SessionStore       = (*Repository)(nil)
	_ ports.SkillUsageRecorder = (*Repository)(nil)
)

// NewRepository opens (or creates) the database at path and ensures the schema.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %q: %w", path, err)
	}
	r := &Repository{db: db}
	if err := r.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) ensureSchema() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			schedule_type TEXT NOT NULL,
			cron_expression TEXT,
			interval_minutes INTEGER,
			scheduled_at TIMESTAMP,
			timezone TEXT,
			initial_prompt TEXT NOT NULL,
			prompt_variables TEXT,
			context_sources TEXT,
			enabled BOOLEAN NOT NULL,
			max_retries INTEGER NOT NULL,
			timeout_ms INTEGER NOT NULL,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			paused_at TIMESTAMP,
			paused_until TIMESTAMP,
			pause_reason TEXT,
			delivery_method TEXT NOT NULL,
			delivery_config TEXT,
			result_session_id TEXT,
			new_session_per_run BOOLEAN NOT NULL,
			last_run_at TIMESTAMP,
			next_run_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			created_by TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			external_run_id TEXT,
			session_id TEXT,
			status TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			scheduled_for TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			duration_ms BIGINT,
			result_summary TEXT,
			error TEXT,
			resolved_prompt TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			task_id TEXT,
			title TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			run_id TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS skill_usage (
			task_id TEXT PRIMARY KEY,
			success_count BIGINT NOT NULL DEFAULT 0,
			failure_count BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		);`,
	}
	for _, stmt := range ddl {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
