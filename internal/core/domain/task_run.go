package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RunID is the unique identifier for a single execution attempt group.
// Retries reuse the run id; a new run row is never created per retry.
type RunID string

// RunStatus is the execution state machine for a task run:
// pending -> queued -> running -> {succeeded | failed | cancelled | timeout}
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusTimeout   RunStatus = "timeout"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled, RunStatusTimeout:
		return true
	}
	return false
}

// MaxSummaryBytes caps the stored result summary
const MaxSummaryBytes = 4096

// TaskRun is one durable execution record of a scheduled task
type TaskRun struct {
	ID            RunID     `json:"id"`
	TaskID        TaskID    `json:"task_id"`
	ExternalRunID string    `json:"external_run_id,omitempty"` // id assigned by the execution service
	SessionID     SessionID `json:"session_id,omitempty"`

	Status        RunStatus `json:"status"`
	AttemptNumber int       `json:"attempt_number"` // 1-based, incremented per retry

	ScheduledFor time.Time  `json:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`

	ResultSummary  string `json:"result_summary,omitempty"`
	Error          string `json:"error,omitempty"`
	ResolvedPrompt string `json:"resolved_prompt,omitempty"` // fully expanded template, kept for audit

	CreatedAt time.Time `json:"created_at"`
}

var ErrRunNotFound = errors.New("task run not found")

// NewRunID generates a run identifier
func NewRunID() RunID {
	return RunID("run-" + uuid.NewString())
}

// TruncateSummary caps a result text for storage, marking the cut.
func TruncateSummary(s string) string {
	if len(s) <= MaxSummaryBytes {
		return s
	}
	return s[:MaxSummaryBytes] + "... (truncated)"
}
