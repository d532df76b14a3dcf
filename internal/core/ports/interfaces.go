package ports

import (
	"context"
	"time"

	"agentcron/internal/core/domain"
)

// TaskRepository abstracts persistence of scheduled task configuration.
type TaskRepository interface {
	// SaveTask inserts or updates a task row.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error

	// GetTask retrieves a task by ID. Returns domain.ErrTaskNotFound when absent.
	GetTask(ctx context.Context, id domain.TaskID) (*domain.ScheduledTask, error)

	// DeleteTask removes a task row.
	DeleteTask(ctx context.Context, id domain.TaskID) error

	// ListTriggerableTasks returns all tasks with enabled=true and status=active.
	ListTriggerableTasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// ListDuePausedTasks returns paused tasks whose paused_until <= now.
	ListDuePausedTasks(ctx context.Context, now time.Time) ([]domain.ScheduledTask, error)

	// UpdateTaskTimes updates the run bookkeeping fields. Nil leaves a field unchanged.
	UpdateTaskTimes(ctx context.Context, id domain.TaskID, lastRunAt, nextRunAt *time.Time) error
}

// RunRepository abstracts persistence of execution records.
type RunRepository interface {
	// InsertRun persists a new run row.
	InsertRun(ctx context.Context, run *domain.TaskRun) error

	// GetRun retrieves a run by ID. Returns domain.ErrRunNotFound when absent.
	GetRun(ctx context.Context, id domain.RunID) (*domain.TaskRun, error)

	// UpdateRun rewrites the mutable fields of an existing run row.
	UpdateRun(ctx context.Context, run *domain.TaskRun) error

	// ListTaskRuns returns the most recent runs of a task, newest first.
	ListTaskRuns(ctx context.Context, taskID domain.TaskID, limit int) ([]domain.TaskRun, error)

	// FailStaleRuns marks runs still queued/running that started before cutoff
	// as failed. Returns the number of rows reconciled.
	FailStaleRuns(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionStore abstracts the session/message store a run executes against.
type SessionStore interface {
	CreateSession(ctx context.Context, sess domain.Session) error
	GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error)

	// AppendMessage adds a message to a session.
	AppendMessage(ctx context.Context, msg domain.Message) error

	// HasRunMessage reports whether a message tagged with runID already exists
	// in the session. This is the idempotence check before prompt insertion.
	HasRunMessage(ctx context.Context, sessionID domain.SessionID, runID domain.RunID) (bool, error)

	// LastAssistantMessage returns the most recent assistant turn, or nil.
	LastAssistantMessage(ctx context.Context, sessionID domain.SessionID) (*domain.Message, error)
}

// ExecutionRequest is the input contract of the external chat/execution service.
type ExecutionRequest struct {
	Prompt    string
	SessionID domain.SessionID
	AgentID   domain.AgentID
	RunID     domain.RunID
}

// ExecutionResult is what the execution service reports back on success.
type ExecutionResult struct {
	ExternalRunID string
	Summary       string
	FullText      string
}

// ExecutionService produces an agent response for a resolved prompt. The call
// must honor ctx for both the per-run deadline and cooperative cancellation.
type ExecutionService interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ContextResolver fetches and renders context sources into prompt text.
type ContextResolver interface {
	// Resolve renders the given sources into a single context block.
	Resolve(ctx context.Context, sources []domain.ContextSource, user domain.UserID) (string, error)

	// Apply splices rendered context into a prompt.
	Apply(prompt, rendered string) string
}

// DeliveryPayload is what a delivery channel receives for a finished run.
type DeliveryPayload struct {
	TaskID      domain.TaskID    `json:"task_id"`
	TaskName    string           `json:"task_name"`
	RunID       domain.RunID     `json:"run_id"`
	Status      domain.RunStatus `json:"status"`
	Summary     string           `json:"summary,omitempty"`
	Error       string           `json:"error,omitempty"`
	SessionLink string           `json:"session_link,omitempty"`
}

// DeliveryRouter ships a run result to its configured destination.
// Delivery is best-effort; failures are logged by the caller and never alter
// the run's terminal status.
type DeliveryRouter interface {
	Deliver(ctx context.Context, method domain.DeliveryMethod, config map[string]string, payload DeliveryPayload) error
}

// AgentDirectory resolves agent display names for prompt templating.
type AgentDirectory interface {
	AgentName(ctx context.Context, id domain.AgentID) (string, error)
}

// SkillUsageRecorder tracks per-task linked-skill usage counters.
type SkillUsageRecorder interface {
	RecordSuccess(ctx context.Context, taskID domain.TaskID) error
	RecordFailure(ctx context.Context, taskID domain.TaskID) error
}
