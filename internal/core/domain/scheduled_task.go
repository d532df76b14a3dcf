package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskID is the unique identifier for a scheduled task
type TaskID string

// UserID identifies the tenant that owns a task
type UserID string

// AgentID identifies the agent/character a task runs as
type AgentID string

// ScheduleType selects which schedule field is meaningful
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"     // cron expression, evaluated in the task timezone
	ScheduleInterval ScheduleType = "interval" // every N minutes, driven by next_run_at
	ScheduleOnce     ScheduleType = "once"     // one-shot at scheduled_at
)

// TaskStatus is the lifecycle state of a scheduled task
type TaskStatus string

const (
	TaskStatusDraft    TaskStatus = "draft"
	TaskStatusActive   TaskStatus = "active"
	TaskStatusPaused   TaskStatus = "paused"
	TaskStatusArchived TaskStatus = "archived"
)

// Priority orders tasks within the execution queue
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the dispatch rank of a priority (lower dispatches first).
// Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// DeliveryMethod is the channel a run result is pushed to after completion
type DeliveryMethod string

const (
	DeliverySession DeliveryMethod = "session" // result stays in the session, no push
	DeliveryEmail   DeliveryMethod = "email"
	DeliverySlack   DeliveryMethod = "slack"
	DeliveryWebhook DeliveryMethod = "webhook"
	DeliveryChannel DeliveryMethod = "channel"
)

// ContextSourceType identifies what kind of external content a source references
type ContextSourceType string

const (
	ContextSourceFile   ContextSourceType = "file"
	ContextSourceWeb    ContextSourceType = "web"
	ContextSourceText   ContextSourceType = "text"
	ContextSourceFolder ContextSourceType = "folder"
)

// ContextSource references external content rendered into the prompt before execution
type ContextSource struct {
	Type    ContextSourceType `json:"type"`
	Value   string            `json:"value"`
	Options map[string]string `json:"options,omitempty"`
}

const (
	DefaultMaxRetries = 3
	DefaultTimeoutMs  = 300000
)

// ScheduledTask is the durable, tenant-owned schedule configuration
type ScheduledTask struct {
	ID      TaskID  `json:"id"`
	UserID  UserID  `json:"user_id"`
	AgentID AgentID `json:"agent_id"`
	Name    string  `json:"name"`

	ScheduleType    ScheduleType `json:"schedule_type"`
	CronExpression  string       `json:"cron_expression,omitempty"`
	IntervalMinutes int          `json:"interval_minutes,omitempty"`
	ScheduledAt     *time.Time   `json:"scheduled_at,omitempty"`
	Timezone        string       `json:"timezone,omitempty"` // IANA name or alias, default UTC

	InitialPrompt   string            `json:"initial_prompt"`
	PromptVariables map[string]string `json:"prompt_variables,omitempty"`
	ContextSources  []ContextSource   `json:"context_sources,omitempty"`

	Enabled    bool     `json:"enabled"`
	MaxRetries int      `json:"max_retries"`
	TimeoutMs  int      `json:"timeout_ms"`
	Priority   Priority `json:"priority"`

	Status      TaskStatus `json:"status"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	PausedUntil *time.Time `json:"paused_until,omitempty"`
	PauseReason string     `json:"pause_reason,omitempty"`

	DeliveryMethod DeliveryMethod    `json:"delivery_method"`
	DeliveryConfig map[string]string `json:"delivery_config,omitempty"`

	ResultSessionID        SessionID `json:"result_session_id,omitempty"`
	CreateNewSessionPerRun bool      `json:"create_new_session_per_run"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"` // "agent" or "user"
}

var ErrTaskNotFound = errors.New("scheduled task not found")

// NewTaskID generates a task identifier
func NewTaskID() TaskID {
	return TaskID("task-" + uuid.NewString())
}

// Triggerable reports whether the task may fire: enabled AND active.
func (t *ScheduledTask) Triggerable() bool {
	return t.Enabled && t.Status == TaskStatusActive
}

// Validate enforces the schedule invariant: exactly one of cron expression,
// interval, or scheduled time is meaningful, selected by ScheduleType.
func (t *ScheduledTask) Validate() error {
	switch t.ScheduleType {
	case ScheduleCron:
		if t.CronExpression == "" {
			return fmt.Errorf("task %s: cron schedule requires a cron expression", t.ID)
		}
	case ScheduleInterval:
		if t.IntervalMinutes <= 0 {
			return fmt.Errorf("task %s: interval schedule requires interval_minutes > 0", t.ID)
		}
	case ScheduleOnce:
		if t.ScheduledAt == nil {
			return fmt.Errorf("task %s: one-shot schedule requires scheduled_at", t.ID)
		}
	default:
		return fmt.Errorf("task %s: unknown schedule type %q", t.ID, t.ScheduleType)
	}
	return nil
}

// EffectiveMaxRetries returns the retry budget with the default applied.
func (t *ScheduledTask) EffectiveMaxRetries() int {
	if t.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return t.MaxRetries
}

// EffectiveTimeout returns the per-execution deadline with the default applied.
func (t *ScheduledTask) EffectiveTimeout() time.Duration {
	ms := t.TimeoutMs
	if ms <= 0 {
		ms = DefaultTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// ClearPause resets the pause fields; called on resume.
func (t *ScheduledTask) ClearPause() {
	t.Status = TaskStatusActive
	t.PausedAt = nil
	t.PausedUntil = nil
	t.PauseReason = ""
}
