package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"agentcron/internal/core/domain"
	"agentcron/internal/core/ports"
)

// SchedulerConfig controls the scheduler service.
type SchedulerConfig struct {
	Disabled     bool          // global kill switch; Start becomes a no-op
	TickInterval time.Duration // due-task check period (default 60s)
	StaleRunAge  time.Duration // runs stuck running/queued older than this are failed at startup (default 1h)
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.StaleRunAge <= 0 {
		c.StaleRunAge = time.Hour
	}
	return c
}

// SchedulerStatus is the exposed status surface.
type SchedulerStatus struct {
	IsRunning  bool `json:"is_running"`
	ActiveJobs int  `json:"active_jobs"`
	QueueSize  int  `json:"queue_size"`
}

// jobHandle owns the live timer behind one registered task. Registration
// replaces the handle wholesale so timers never leak.
type jobHandle struct {
	cron  *cron.Cron  // cron tasks
	timer *time.Timer // one-shot tasks
}

func (h *jobHandle) stop() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
	if h.timer != nil {
		h.timer.Stop()
	}
}

// Scheduler owns the set of active cron/interval/once jobs: it evaluates
// due-ness, resolves prompt templates, creates run records, and hands runs to
// the task queue. Interval tasks carry no timer; the periodic tick drives
// them from next_run_at.
type Scheduler struct {
	logger    *slog.Logger
	cfg       SchedulerConfig
	tasks     ports.TaskRepository
	runs      ports.RunRepository
	queue     *TaskQueue
	templates *TemplateResolver
	agents    ports.AgentDirectory

	parser cron.Parser

	mu         sync.Mutex
	jobs       map[domain.TaskID]*jobHandle
	running    bool
	tickCancel context.CancelFunc

	now func() time.Time
}

func NewScheduler(
	logger *slog.Logger,
	cfg SchedulerConfig,
	tasks ports.TaskRepository,
	runs ports.RunRepository,
	queue *TaskQueue,
	agents ports.AgentDirectory,
) *Scheduler {
	return &Scheduler{
		logger:    logger,
		cfg:       cfg.withDefaults(),
		tasks:     tasks,
		runs:      runs,
		queue:     queue,
		templates: NewTemplateResolver(),
		agents:    agents,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:      make(map[domain.TaskID]*jobHandle),
		now:       time.Now,
	}
}

// Start reconciles stale runs, registers every triggerable task, begins the
// periodic due-task tick, and starts the task queue. Idempotent; a no-op when
// globally disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Disabled {
		s.logger.Info("scheduler globally disabled, not starting")
		return nil
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	tickCtx, cancel := context.WithCancel(ctx)
	s.tickCancel = cancel
	s.mu.Unlock()

	// runs left queued/running by a prior crash are an expected inconsistency
	cutoff := s.now().Add(-s.cfg.StaleRunAge)
	if n, err := s.runs.FailStaleRuns(ctx, cutoff); err != nil {
		s.logger.Error("stale run reconciliation failed", "error", err)
	} else if n > 0 {
		s.logger.Warn("reconciled stale runs from previous process", "count", n)
	}

	tasks, err := s.tasks.ListTriggerableTasks(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.tickCancel = nil
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("load triggerable tasks: %w", err)
	}
	for i := range tasks {
		s.RegisterSchedule(ctx, &tasks[i])
	}

	s.queue.Start(ctx)
	go s.tickLoop(tickCtx)

	s.mu.Lock()
	active := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("scheduler started",
		"registered_jobs", active, "tick_interval", s.cfg.TickInterval)
	return nil
}

// Stop halts the tick, destroys every timer, clears the registry, and drains
// the task queue. Idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancelTick := s.tickCancel
	s.tickCancel = nil
	handles := make([]*jobHandle, 0, len(s.jobs))
	for id, h := range s.jobs {
		handles = append(handles, h)
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if cancelTick != nil {
		cancelTick()
	}
	for _, h := range handles {
		h.stop()
	}

	err := s.queue.Stop(ctx)
	s.logger.Info("scheduler stopped")
	return err
}

// Status reports the exposed scheduler/queue state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	running := s.running
	active := len(s.jobs)
	s.mu.Unlock()
	snap := s.queue.Snapshot()
	return SchedulerStatus{
		IsRunning:  running,
		ActiveJobs: active,
		QueueSize:  snap.QueueSize,
	}
}

// RegisterSchedule replaces any existing timer for the task, then arms a new
// one according to the schedule type. Not-triggerable tasks are only
// unregistered. An invalid cron expression is a configuration error: logged,
// the task stays enabled but inert until corrected and reloaded.
func (s *Scheduler) RegisterSchedule(ctx context.Context, task *domain.ScheduledTask) {
	s.unregister(task.ID)

	if !task.Triggerable() {
		return
	}
	if err := task.Validate(); err != nil {
		s.logger.Error("task has invalid schedule, not registering",
			"task_id", task.ID, "error", err)
		return
	}

	switch task.ScheduleType {
	case domain.ScheduleCron:
		s.registerCron(ctx, task)
	case domain.ScheduleOnce:
		s.registerOnce(task)
	case domain.ScheduleInterval:
		// driven by the periodic tick via next_run_at, no timer
	}
}

func (s *Scheduler) registerCron(ctx context.Context, task *domain.ScheduledTask) {
	loc := LoadLocation(task.Timezone)
	sched, err := s.parser.Parse(task.CronExpression)
	if err != nil {
		s.logger.Error("invalid cron expression, task left unregistered",
			"task_id", task.ID, "expr", task.CronExpression, "error", err)
		return
	}

	taskID := task.ID
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(task.CronExpression, func() { s.fire(taskID) }); err != nil {
		s.logger.Error("cron registration failed", "task_id", taskID, "error", err)
		return
	}
	c.Start()

	s.mu.Lock()
	s.jobs[taskID] = &jobHandle{cron: c}
	s.mu.Unlock()

	next := sched.Next(s.now().In(loc))
	if err := s.tasks.UpdateTaskTimes(ctx, taskID, nil, &next); err != nil {
		s.logger.Warn("failed to record advisory next run", "task_id", taskID, "error", err)
	}
	s.logger.Info("cron task registered",
		"task_id", taskID, "expr", task.CronExpression,
		"tz", loc.String(), "next_run", next)
}

func (s *Scheduler) registerOnce(task *domain.ScheduledTask) {
	at := *task.ScheduledAt
	delay := at.Sub(s.now())
	if delay <= 0 {
		// past-due one-shots are skipped, not fired retroactively
		s.logger.Debug("skipping past-due one-shot task",
			"task_id", task.ID, "scheduled_at", at)
		return
	}

	taskID := task.ID
	timer := time.AfterFunc(delay, func() { s.fire(taskID) })

	s.mu.Lock()
	s.jobs[taskID] = &jobHandle{timer: timer}
	s.mu.Unlock()

	s.logger.Info("one-shot task registered",
		"task_id", taskID, "fires_in", delay.Round(time.Second))
}

// ReloadSchedule re-reads the task and re-registers it, or unregisters it
// when the task no longer exists. Called after external edits.
func (s *Scheduler) ReloadSchedule(ctx context.Context, id domain.TaskID) error {
	task, err := s.tasks.GetTask(ctx, id)
	if errors.Is(err, domain.ErrTaskNotFound) {
		s.unregister(id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload task %s: %w", id, err)
	}
	s.RegisterSchedule(ctx, task)
	return nil
}

// TriggerTask fires one execution of a task: it re-validates triggerability
// (a task may have been disabled between timer arming and firing), resolves
// the prompt template, persists a pending run carrying the resolved prompt,
// enqueues the work, and records last_run_at.
func (s *Scheduler) TriggerTask(ctx context.Context, id domain.TaskID) error {
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("trigger task %s: %w", id, err)
	}
	if !task.Triggerable() {
		s.logger.Debug("task no longer triggerable, skipping", "task_id", id)
		return nil
	}

	agentName := string(task.AgentID)
	if s.agents != nil {
		if name, err := s.agents.AgentName(ctx, task.AgentID); err == nil && name != "" {
			agentName = name
		}
	}

	now := s.now()
	prompt := s.templates.Resolve(task.InitialPrompt, TemplateInput{
		AgentName: agentName,
		LastRunAt: task.LastRunAt,
		Location:  LoadLocation(task.Timezone),
		Variables: task.PromptVariables,
	})

	run := &domain.TaskRun{
		ID:             domain.NewRunID(),
		TaskID:         task.ID,
		Status:         domain.RunStatusPending,
		AttemptNumber:  1,
		ScheduledFor:   now,
		ResolvedPrompt: prompt,
		CreatedAt:      now,
	}
	if err := s.runs.InsertRun(ctx, run); err != nil {
		return fmt.Errorf("trigger task %s: insert run: %w", id, err)
	}

	if err := s.queue.Enqueue(ctx, task.QueuedTask(run, agentName)); err != nil {
		return fmt.Errorf("trigger task %s: %w", id, err)
	}

	if err := s.tasks.UpdateTaskTimes(ctx, task.ID, &now, nil); err != nil {
		s.logger.Warn("failed to record last run time", "task_id", task.ID, "error", err)
	}
	s.logger.Info("task triggered", "task_id", task.ID, "run_id", run.ID)
	return nil
}

// RunNow fires a task immediately, bypassing its schedule. The usual
// triggerability re-validation still applies.
func (s *Scheduler) RunNow(ctx context.Context, id domain.TaskID) error {
	return s.TriggerTask(ctx, id)
}

// CancelRun aborts a queued, retrying, or running execution. Returns false
// when the run is not known to the queue.
func (s *Scheduler) CancelRun(ctx context.Context, runID domain.RunID) bool {
	return s.queue.Cancel(ctx, runID)
}

// NextCronFire computes the next fire instant of a cron expression in the
// task's resolved timezone, from the given instant.
func (s *Scheduler) NextCronFire(expr, timezone string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched.Next(from.In(LoadLocation(timezone))), nil
}

// fire is the timer/cron callback entry point.
func (s *Scheduler) fire(id domain.TaskID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.TriggerTask(ctx, id); err != nil {
		s.logger.Error("scheduled trigger failed", "task_id", id, "error", err)
	}
}

func (s *Scheduler) unregister(id domain.TaskID) {
	s.mu.Lock()
	h, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if ok {
		h.stop()
	}
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkDueTasks(ctx)
		}
	}
}

// checkDueTasks is the periodic due-task check: auto-resume of expired
// pauses, then interval due-ness. Store errors skip the tick; the next tick
// retries naturally.
func (s *Scheduler) checkDueTasks(ctx context.Context) {
	now := s.now()
	s.resumeDuePaused(ctx, now)
	s.triggerDueIntervals(ctx, now)
}

func (s *Scheduler) resumeDuePaused(ctx context.Context, now time.Time) {
	paused, err := s.tasks.ListDuePausedTasks(ctx, now)
	if err != nil {
		s.logger.Error("due-paused scan failed, skipping tick", "error", err)
		return
	}
	for i := range paused {
		task := &paused[i]
		task.ClearPause()
		task.UpdatedAt = now
		if err := s.tasks.SaveTask(ctx, task); err != nil {
			s.logger.Error("failed to resume paused task", "task_id", task.ID, "error", err)
			continue
		}
		s.RegisterSchedule(ctx, task)
		s.logger.Info("task auto-resumed", "task_id", task.ID)
	}
}

func (s *Scheduler) triggerDueIntervals(ctx context.Context, now time.Time) {
	tasks, err := s.tasks.ListTriggerableTasks(ctx)
	if err != nil {
		s.logger.Error("triggerable scan failed, skipping tick", "error", err)
		return
	}
	for i := range tasks {
		task := &tasks[i]
		if task.ScheduleType != domain.ScheduleInterval || task.IntervalMinutes <= 0 {
			continue
		}
		if task.NextRunAt != nil && task.NextRunAt.After(now) {
			continue
		}
		next := now.Add(time.Duration(task.IntervalMinutes) * time.Minute)
		if err := s.tasks.UpdateTaskTimes(ctx, task.ID, nil, &next); err != nil {
			s.logger.Error("failed to advance interval", "task_id", task.ID, "error", err)
			continue
		}
		if err := s.TriggerTask(ctx, task.ID); err != nil {
			s.logger.Error("interval trigger failed", "task_id", task.ID, "error", err)
		}
	}
}
