package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"agentcron/internal/core/domain"
	"agentcron/internal/core/ports"
)

// QueueConfig controls the execution queue.
type QueueConfig struct {
	MaxConcurrent    int64         // concurrent executions bound (default 5)
	DispatchInterval time.Duration // dispatch loop period (default 1s)
	RetryDelay       time.Duration // base backoff delay (default 5s)
	DrainPoll        time.Duration // Stop() poll period (default 100ms)
	SessionLinkBase  string        // base URL for session deep-links in delivery payloads
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = 100 * time.Millisecond
	}
	return c
}

// QueueSnapshot is a point-in-time view for status reporting.
type QueueSnapshot struct {
	Running    bool
	QueueSize  int
	Processing int
}

// TaskQueue is a priority-ordered, concurrency-bounded executor. It pulls
// ready tasks on a fixed-period dispatch tick, executes them against the
// external execution service, retries transient failures with exponential
// backoff, persists terminal state, and triggers delivery.
//
// The queue slice, processing set, and cancel map are only ever mutated under
// mu; executions themselves run concurrently up to MaxConcurrent.
type TaskQueue struct {
	logger *slog.Logger
	cfg    QueueConfig

	runs     ports.RunRepository
	sessions ports.SessionStore
	exec     ports.ExecutionService
	contexts ports.ContextResolver
	delivery ports.DeliveryRouter
	skills   ports.SkillUsageRecorder

	mu          sync.Mutex
	queue       []*domain.QueuedTask
	processing  map[domain.RunID]*domain.QueuedTask
	cancels     map[domain.RunID]context.CancelFunc
	retryTimers map[domain.RunID]*time.Timer
	running     bool
	sem         *semaphore.Weighted
	tickCancel  context.CancelFunc

	now func() time.Time
}

func NewTaskQueue(
	logger *slog.Logger,
	cfg QueueConfig,
	runs ports.RunRepository,
	sessions ports.SessionStore,
	exec ports.ExecutionService,
	contexts ports.ContextResolver,
	delivery ports.DeliveryRouter,
	skills ports.SkillUsageRecorder,
) *TaskQueue {
	cfg = cfg.withDefaults()
	return &TaskQueue{
		logger:      logger,
		cfg:         cfg,
		runs:        runs,
		sessions:    sessions,
		exec:        exec,
		contexts:    contexts,
		delivery:    delivery,
		skills:      skills,
		processing:  make(map[domain.RunID]*domain.QueuedTask),
		cancels:     make(map[domain.RunID]context.CancelFunc),
		retryTimers: make(map[domain.RunID]*time.Timer),
		sem:         semaphore.NewWeighted(cfg.MaxConcurrent),
		now:         time.Now,
	}
}

// Start begins the dispatch loop. Idempotent while running.
func (q *TaskQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	tickCtx, cancel := context.WithCancel(ctx)
	q.tickCancel = cancel
	q.mu.Unlock()

	go q.dispatchLoop(tickCtx)
	q.logger.Info("task queue started",
		"max_concurrent", q.cfg.MaxConcurrent,
		"dispatch_interval", q.cfg.DispatchInterval)
}

// Stop flips the running flag, cancels pending retry timers, and blocks until
// in-flight executions drain (graceful drain, not hard kill). The passed
// context bounds how long the drain may take.
func (q *TaskQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	cancelTick := q.tickCancel
	q.tickCancel = nil
	for id, t := range q.retryTimers {
		t.Stop()
		delete(q.retryTimers, id)
	}
	q.mu.Unlock()

	if cancelTick != nil {
		cancelTick()
	}

	for {
		q.mu.Lock()
		inFlight := len(q.processing)
		q.mu.Unlock()
		if inFlight == 0 {
			q.logger.Info("task queue stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("task queue drain interrupted with %d in flight: %w", inFlight, ctx.Err())
		case <-time.After(q.cfg.DrainPoll):
		}
	}
}

// Enqueue persists the run as queued and inserts the task by priority:
// before the first element with a strictly lower priority rank, so equal
// priorities keep arrival order.
func (q *TaskQueue) Enqueue(ctx context.Context, qt *domain.QueuedTask) error {
	run, err := q.runs.GetRun(ctx, qt.RunID)
	if err != nil {
		return fmt.Errorf("enqueue run %s: %w", qt.RunID, err)
	}
	run.Status = domain.RunStatusQueued
	run.AttemptNumber = qt.Attempt
	if err := q.runs.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("enqueue run %s: %w", qt.RunID, err)
	}

	qt.EnqueuedAt = q.now()

	q.mu.Lock()
	idx := len(q.queue)
	for i, cur := range q.queue {
		if cur.Priority.Rank() > qt.Priority.Rank() {
			idx = i
			break
		}
	}
	q.queue = append(q.queue, nil)
	copy(q.queue[idx+1:], q.queue[idx:])
	q.queue[idx] = qt
	depth := len(q.queue)
	q.mu.Unlock()

	q.logger.Debug("task enqueued",
		"run_id", qt.RunID, "task_id", qt.TaskID,
		"priority", qt.Priority, "attempt", qt.Attempt, "queue_len", depth)
	return nil
}

// Cancel aborts a run. Queued work is removed outright; a pending retry timer
// is stopped; running work gets its cancellation signalled cooperatively.
// Returns false when the run is not known to the queue.
func (q *TaskQueue) Cancel(ctx context.Context, runID domain.RunID) bool {
	q.mu.Lock()
	for i, cur := range q.queue {
		if cur.RunID == runID {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			q.mu.Unlock()
			q.finalizeCancelled(ctx, runID)
			q.logger.Info("cancelled queued run", "run_id", runID)
			return true
		}
	}
	if t, ok := q.retryTimers[runID]; ok {
		t.Stop()
		delete(q.retryTimers, runID)
		q.mu.Unlock()
		q.finalizeCancelled(ctx, runID)
		q.logger.Info("cancelled run awaiting retry", "run_id", runID)
		return true
	}
	if cancel, ok := q.cancels[runID]; ok {
		cancel()
		q.mu.Unlock()
		q.finalizeCancelled(ctx, runID)
		q.logger.Info("cancellation signalled for running run", "run_id", runID)
		return true
	}
	q.mu.Unlock()
	return false
}

// Snapshot reports current queue state.
func (q *TaskQueue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueSnapshot{
		Running:    q.running,
		QueueSize:  len(q.queue),
		Processing: len(q.processing),
	}
}

func (q *TaskQueue) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.dispatch()
		}
	}
}

// dispatch pops ready work while capacity remains. It never waits for an
// execution to finish; up to MaxConcurrent executions proceed concurrently.
func (q *TaskQueue) dispatch() {
	for {
		q.mu.Lock()
		if !q.running || len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		if !q.sem.TryAcquire(1) {
			q.mu.Unlock()
			return
		}
		qt := q.queue[0]
		q.queue = q.queue[1:]
		q.processing[qt.RunID] = qt
		runCtx, cancel := context.WithCancel(context.Background())
		q.cancels[qt.RunID] = cancel
		q.mu.Unlock()

		go q.execute(runCtx, qt)
	}
}

// execute runs one dispatched task to a terminal state or a retry.
func (q *TaskQueue) execute(ctx context.Context, qt *domain.QueuedTask) {
	defer func() {
		q.mu.Lock()
		if cancel, ok := q.cancels[qt.RunID]; ok {
			cancel()
			delete(q.cancels, qt.RunID)
		}
		delete(q.processing, qt.RunID)
		q.mu.Unlock()
		q.sem.Release(1)
	}()

	// store operations use their own context so a cancelled run can still be
	// persisted as cancelled
	opCtx := context.Background()

	run, err := q.runs.GetRun(opCtx, qt.RunID)
	if err != nil {
		q.logger.Error("dropping run with unreadable record", "run_id", qt.RunID, "error", err)
		return
	}

	started := q.now()
	run.Status = domain.RunStatusRunning
	run.StartedAt = &started
	run.AttemptNumber = qt.Attempt
	if err := q.runs.UpdateRun(opCtx, run); err != nil {
		q.logger.Error("failed to mark run running", "run_id", run.ID, "error", err)
	}
	q.logger.Info("run started",
		"run_id", run.ID, "task_id", qt.TaskID, "attempt", qt.Attempt)

	prompt := qt.Prompt
	var execErr error
	if q.contexts != nil && len(qt.ContextSources) > 0 {
		rendered, cerr := q.contexts.Resolve(ctx, qt.ContextSources, qt.UserID)
		if cerr != nil {
			execErr = fmt.Errorf("resolve context sources: %w", cerr)
		} else if rendered != "" {
			prompt = q.contexts.Apply(prompt, rendered)
		}
	}

	var res *ports.ExecutionResult
	var timedOut bool
	if execErr == nil {
		sessionID, serr := q.prepareSession(ctx, qt, run, prompt)
		if serr != nil {
			execErr = serr
		} else {
			if run.SessionID != sessionID {
				run.SessionID = sessionID
				if uerr := q.runs.UpdateRun(opCtx, run); uerr != nil {
					q.logger.Error("failed to record run session", "run_id", run.ID, "error", uerr)
				}
			}
			execCtx, cancelTimeout := context.WithTimeout(ctx, qt.Timeout)
			res, execErr = q.exec.Execute(execCtx, ports.ExecutionRequest{
				Prompt:    prompt,
				SessionID: sessionID,
				AgentID:   qt.AgentID,
				RunID:     qt.RunID,
			})
			timedOut = execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
			cancelTimeout()
		}
	}

	// cancellation observed mid-flight: terminal, no retry, no delivery
	if ctx.Err() == context.Canceled {
		q.finalizeCancelled(opCtx, qt.RunID)
		q.logger.Info("run cancelled mid-flight", "run_id", run.ID, "task_id", qt.TaskID)
		return
	}

	completed := q.now()
	run.CompletedAt = &completed
	run.DurationMs = completed.Sub(started).Milliseconds()

	if execErr == nil && res != nil {
		full := res.FullText
		if full == "" {
			full = res.Summary
		}
		run.Status = domain.RunStatusSucceeded
		run.Error = ""
		run.ResultSummary = domain.TruncateSummary(full)
		run.ExternalRunID = res.ExternalRunID
		if err := q.runs.UpdateRun(opCtx, run); err != nil {
			q.logger.Error("failed to persist succeeded run", "run_id", run.ID, "error", err)
		}
		q.logger.Info("run succeeded",
			"run_id", run.ID, "task_id", qt.TaskID, "duration_ms", run.DurationMs)
		q.deliverResult(opCtx, qt, run)
		if q.skills != nil {
			if err := q.skills.RecordSuccess(opCtx, qt.TaskID); err != nil {
				q.logger.Warn("skill usage update failed", "task_id", qt.TaskID, "error", err)
			}
		}
		return
	}

	// transient failure path; a blown deadline consumes a retry attempt like
	// any other failure but keeps its own terminal label
	if qt.Attempt < qt.MaxRetries {
		q.scheduleRetry(opCtx, qt, run, execErr)
		return
	}

	run.Status = domain.RunStatusFailed
	if timedOut {
		run.Status = domain.RunStatusTimeout
	}
	run.Error = errString(execErr)
	if err := q.runs.UpdateRun(opCtx, run); err != nil {
		q.logger.Error("failed to persist failed run", "run_id", run.ID, "error", err)
	}
	q.logger.Warn("run failed, retries exhausted",
		"run_id", run.ID, "task_id", qt.TaskID,
		"status", run.Status, "attempts", qt.Attempt, "error", run.Error)
	q.deliverResult(opCtx, qt, run)
	if q.skills != nil {
		if err := q.skills.RecordFailure(opCtx, qt.TaskID); err != nil {
			q.logger.Warn("skill usage update failed", "task_id", qt.TaskID, "error", err)
		}
	}
}

// scheduleRetry reverts the run to pending and arms a timer that re-enqueues
// a fresh QueuedTask under the same run id with the attempt incremented.
// Delay grows as RetryDelay * 2^(attempt-1).
func (q *TaskQueue) scheduleRetry(ctx context.Context, qt *domain.QueuedTask, run *domain.TaskRun, execErr error) {
	delay := backoffDelay(q.cfg.RetryDelay, qt.Attempt)

	run.Status = domain.RunStatusPending
	run.Error = errString(execErr)
	run.CompletedAt = nil
	run.AttemptNumber = qt.Attempt + 1
	if err := q.runs.UpdateRun(ctx, run); err != nil {
		q.logger.Error("failed to persist run for retry", "run_id", run.ID, "error", err)
	}

	next := qt.Retry()

	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		q.logger.Warn("queue stopped, retry not scheduled", "run_id", run.ID)
		return
	}
	q.retryTimers[next.RunID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.retryTimers, next.RunID)
		q.mu.Unlock()
		if err := q.Enqueue(context.Background(), next); err != nil {
			q.logger.Error("retry enqueue failed", "run_id", next.RunID, "error", err)
		}
	})
	q.mu.Unlock()

	q.logger.Info("retry scheduled",
		"run_id", run.ID, "task_id", qt.TaskID,
		"next_attempt", next.Attempt, "delay", delay, "error", errString(execErr))
}

// prepareSession picks or creates the session for this run and inserts the
// user-turn message exactly once. A session recorded on the run from an
// earlier attempt is always reused so retries never spawn duplicates.
func (q *TaskQueue) prepareSession(ctx context.Context, qt *domain.QueuedTask, run *domain.TaskRun, prompt string) (domain.SessionID, error) {
	sid := run.SessionID
	if sid == "" && !qt.NewSessionPerRun {
		sid = qt.SessionID
	}
	if sid == "" {
		now := q.now()
		sess := domain.Session{
			ID:        domain.NewSessionID(),
			UserID:    qt.UserID,
			AgentID:   qt.AgentID,
			TaskID:    qt.TaskID,
			Title:     qt.TaskName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := q.sessions.CreateSession(ctx, sess); err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		sid = sess.ID
	}

	exists, err := q.sessions.HasRunMessage(ctx, sid, qt.RunID)
	if err != nil {
		return "", fmt.Errorf("check run message: %w", err)
	}
	if !exists {
		msg := domain.Message{
			ID:        domain.NewMessageID(),
			SessionID: sid,
			Role:      domain.RoleUser,
			Content:   prompt,
			RunID:     qt.RunID,
			CreatedAt: q.now(),
		}
		if err := q.sessions.AppendMessage(ctx, msg); err != nil {
			return "", fmt.Errorf("append run message: %w", err)
		}
	}
	return sid, nil
}

// finalizeCancelled persists the cancelled terminal state unless the run
// already reached another terminal state.
func (q *TaskQueue) finalizeCancelled(ctx context.Context, runID domain.RunID) {
	run, err := q.runs.GetRun(ctx, runID)
	if err != nil {
		q.logger.Error("failed to load run for cancellation", "run_id", runID, "error", err)
		return
	}
	if run.Status.Terminal() {
		return
	}
	now := q.now()
	run.Status = domain.RunStatusCancelled
	run.CompletedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	if err := q.runs.UpdateRun(ctx, run); err != nil {
		q.logger.Error("failed to persist cancelled run", "run_id", runID, "error", err)
	}
}

// deliverResult ships the outcome through the configured channel. Session
// delivery is a no-op: the result already lives in the session. Failures are
// logged and never alter the run's terminal status.
func (q *TaskQueue) deliverResult(ctx context.Context, qt *domain.QueuedTask, run *domain.TaskRun) {
	if q.delivery == nil || qt.DeliveryMethod == domain.DeliverySession {
		return
	}
	payload := ports.DeliveryPayload{
		TaskID:      qt.TaskID,
		TaskName:    qt.TaskName,
		RunID:       run.ID,
		Status:      run.Status,
		Summary:     run.ResultSummary,
		Error:       run.Error,
		SessionLink: q.sessionLink(run.SessionID),
	}
	if err := q.delivery.Deliver(ctx, qt.DeliveryMethod, qt.DeliveryConfig, payload); err != nil {
		q.logger.Error("delivery failed",
			"run_id", run.ID, "method", qt.DeliveryMethod, "error", err)
	}
}

func (q *TaskQueue) sessionLink(sid domain.SessionID) string {
	if sid == "" || q.cfg.SessionLinkBase == "" {
		return ""
	}
	return q.cfg.SessionLinkBase + "/" + string(sid)
}

// backoffDelay is the retry delay after the given failed attempt (1-based):
// base * 2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

func errString(err error) string {
	if err == nil {
		return "execution returned no result"
	}
	return err.Error()
}
