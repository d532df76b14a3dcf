package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"agentcron/internal/core/domain"
	"agentcron/internal/core/ports"
)

// In-memory fakes implementing the ports, shared by the scheduler and queue tests.

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[domain.TaskID]*domain.ScheduledTask
}

func newFakeTaskRepo(tasks ...*domain.ScheduledTask) *fakeTaskRepo {
	r := &fakeTaskRepo{tasks: make(map[domain.TaskID]*domain.ScheduledTask)}
	for _, t := range tasks {
		cp := *t
		r.tasks[t.ID] = &cp
	}
	return r
}

func (r *fakeTaskRepo) SaveTask(_ context.Context, task *domain.ScheduledTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

func (r *fakeTaskRepo) GetTask(_ context.Context, id domain.TaskID) (*domain.ScheduledTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTaskRepo) DeleteTask(_ context.Context, id domain.TaskID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
	return nil
}

func (r *fakeTaskRepo) ListTriggerableTasks(_ context.Context) ([]domain.ScheduledTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ScheduledTask
	for _, t := range r.tasks {
		if t.Triggerable() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) ListDuePausedTasks(_ context.Context, now time.Time) ([]domain.ScheduledTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ScheduledTask
	for _, t := range r.tasks {
		if t.Status == domain.TaskStatusPaused && t.PausedUntil != nil && !t.PausedUntil.After(now) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) UpdateTaskTimes(_ context.Context, id domain.TaskID, lastRunAt, nextRunAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if lastRunAt != nil {
		v := *lastRunAt
		t.LastRunAt = &v
	}
	if nextRunAt != nil {
		v := *nextRunAt
		t.NextRunAt = &v
	}
	return nil
}

type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[domain.RunID]*domain.TaskRun
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[domain.RunID]*domain.TaskRun)}
}

func (r *fakeRunRepo) InsertRun(_ context.Context, run *domain.TaskRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *fakeRunRepo) GetRun(_ context.Context, id domain.RunID) (*domain.TaskRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *fakeRunRepo) UpdateRun(_ context.Context, run *domain.TaskRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return domain.ErrRunNotFound
	}
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *fakeRunRepo) ListTaskRuns(_ context.Context, taskID domain.TaskID, _ int) ([]domain.TaskRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TaskRun
	for _, run := range r.runs {
		if run.TaskID == taskID {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (r *fakeRunRepo) FailStaleRuns(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, run := range r.runs {
		if !run.Status.Terminal() && run.CreatedAt.Before(cutoff) {
			run.Status = domain.RunStatusFailed
			run.Error = "stale run reconciled at startup"
			n++
		}
	}
	return n, nil
}

// status returns the stored status of a run, or "" when absent.
func (r *fakeRunRepo) status(id domain.RunID) domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return ""
	}
	return run.Status
}

func (r *fakeRunRepo) countForTask(taskID domain.TaskID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, run := range r.runs {
		if run.TaskID == taskID {
			n++
		}
	}
	return n
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]domain.Session
	messages []domain.Message
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[domain.SessionID]domain.Session)}
}

func (s *fakeSessionStore) CreateSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *fakeSessionStore) GetSession(_ context.Context, id domain.SessionID) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (s *fakeSessionStore) AppendMessage(_ context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeSessionStore) HasRunMessage(_ context.Context, sessionID domain.SessionID, runID domain.RunID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.SessionID == sessionID && m.RunID == runID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeSessionStore) LastAssistantMessage(_ context.Context, sessionID domain.SessionID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].SessionID == sessionID && s.messages[i].Role == domain.RoleAssistant {
			m := s.messages[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (s *fakeSessionStore) runMessages(runID domain.RunID) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.RunID == runID {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSessionStore) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// fakeExec scripts the external execution service.
type fakeExec struct {
	calls int32
	fn    func(ctx context.Context, req ports.ExecutionRequest) (*ports.ExecutionResult, error)
}

func (e *fakeExec) Execute(ctx context.Context, req ports.ExecutionRequest) (*ports.ExecutionResult, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.fn != nil {
		return e.fn(ctx, req)
	}
	return &ports.ExecutionResult{Summary: "ok", FullText: "ok"}, nil
}

func (e *fakeExec) callCount() int32 {
	return atomic.LoadInt32(&e.calls)
}

type fakeDelivery struct {
	mu       sync.Mutex
	payloads []ports.DeliveryPayload
	err      error
}

func (d *fakeDelivery) Deliver(_ context.Context, _ domain.DeliveryMethod, _ map[string]string, payload ports.DeliveryPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, payload)
	return d.err
}

func (d *fakeDelivery) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.payloads)
}

type fakeSkills struct {
	successes int32
	failures  int32
}

func (s *fakeSkills) RecordSuccess(context.Context, domain.TaskID) error {
	atomic.AddInt32(&s.successes, 1)
	return nil
}

func (s *fakeSkills) RecordFailure(context.Context, domain.TaskID) error {
	atomic.AddInt32(&s.failures, 1)
	return nil
}
