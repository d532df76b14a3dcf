package domain

import "time"

// QueuedTask is the in-memory unit of work handed to the execution queue.
// It carries everything needed to execute a run without re-reading the task
// row mid-flight. The queue owns the value exclusively; each retry produces a
// new, independent QueuedTask.
type QueuedTask struct {
	RunID   RunID
	TaskID  TaskID
	UserID  UserID
	AgentID AgentID

	AgentName string
	TaskName  string

	Prompt         string
	ContextSources []ContextSource

	Timeout    time.Duration
	MaxRetries int
	Priority   Priority

	DeliveryMethod DeliveryMethod
	DeliveryConfig map[string]string

	// SessionID is an existing session to reuse ("" means none).
	SessionID        SessionID
	NewSessionPerRun bool

	Attempt    int // 1-based
	EnqueuedAt time.Time
}

// QueuedTask derives the queue unit for a freshly created run.
func (t *ScheduledTask) QueuedTask(run *TaskRun, agentName string) *QueuedTask {
	return &QueuedTask{
		RunID:            run.ID,
		TaskID:           t.ID,
		UserID:           t.UserID,
		AgentID:          t.AgentID,
		AgentName:        agentName,
		TaskName:         t.Name,
		Prompt:           run.ResolvedPrompt,
		ContextSources:   t.ContextSources,
		Timeout:          t.EffectiveTimeout(),
		MaxRetries:       t.EffectiveMaxRetries(),
		Priority:         t.Priority,
		DeliveryMethod:   t.DeliveryMethod,
		DeliveryConfig:   t.DeliveryConfig,
		SessionID:        t.ResultSessionID,
		NewSessionPerRun: t.CreateNewSessionPerRun,
		Attempt:          run.AttemptNumber,
	}
}

// Retry returns an independent copy for the next attempt.
func (q *QueuedTask) Retry() *QueuedTask {
	next := *q
	next.Attempt = q.Attempt + 1
	next.EnqueuedAt = time.Time{}
	return &next
}
