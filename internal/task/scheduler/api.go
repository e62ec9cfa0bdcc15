package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"tickbot/internal/cron"
	logx "tickbot/pkg/logx"
)

// Schedule registers a job under a cron expression and returns its id.
// The expression is parsed immediately; malformed input fails here, at
// registration time. Registration is legal whether or not the scheduler
// is running.
func (s *Service) Schedule(name, expr string, job Job) (string, error) {
	return s.ScheduleOpt(name, expr, job, TaskOptions{})
}

// ScheduleFunc is Schedule for a bare function.
func (s *Service) ScheduleFunc(name, expr string, fn func(ctx context.Context) error) (string, error) {
	return s.ScheduleOpt(name, expr, JobFunc(fn), TaskOptions{})
}

// ScheduleOpt is Schedule with per-task options.
func (s *Service) ScheduleOpt(name, expr string, job Job, opt TaskOptions) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	if opt.RateKey != "" && s.gate == nil {
		return "", errors.New("task sets a rate key but the scheduler has no gate")
	}

	sched, err := cron.Parse(expr)
	if err != nil {
		return "", err
	}

	t := &task{
		id:      uuid.NewString(),
		name:    name,
		expr:    strings.TrimSpace(expr),
		sched:   sched,
		job:     job,
		opt:     opt,
		enabled: !opt.Disabled,
	}

	s.mu.Lock()
	if t.enabled {
		t.nextRun = sched.Next(s.clk.Now())
	}
	s.tasks[t.id] = t
	s.mu.Unlock()

	args := []logx.Field{
		logx.String("task", name),
		logx.String("id", t.id),
		logx.String("spec", t.expr),
	}
	if t.enabled {
		args = append(args, logx.Time("next", t.nextRun))
	}
	s.log.Debug("task registered", args...)
	return t.id, nil
}

// Unschedule removes the task and reports whether it existed. Safe to call
// while the task is mid-execution: the running invocation finishes, but the
// task never dispatches again.
func (s *Service) Unschedule(id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if ok {
		s.log.Debug("task removed", logx.String("task", t.name), logx.String("id", id))
	}
	return ok
}

// Enable arms a disabled task, recomputing its next fire time from now.
// It reports whether the task exists.
func (s *Service) Enable(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	if !t.enabled {
		t.enabled = true
		t.nextRun = t.sched.Next(s.clk.Now())
	}
	return true
}

// Disable keeps the task registered but skipped by the dispatch loop.
func (s *Service) Disable(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	t.enabled = false
	return true
}

// Task returns a copy of one task's state.
func (s *Service) Task(id string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return t.info(), true
}

// Tasks returns copies of every task, sorted by name then id. Callers can
// not reach scheduler-owned state through the result.
func (s *Service) Tasks() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.info())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// info copies the record. Call with Service.mu held.
func (t *task) info() TaskInfo {
	return TaskInfo{
		ID:           t.id,
		Name:         t.name,
		Schedule:     t.expr,
		Enabled:      t.enabled,
		Running:      t.running,
		LastRun:      t.lastRun,
		NextRun:      t.nextRun,
		LastDuration: t.lastDuration,
		LastError:    t.lastError,
		RunCount:     t.runCount,
		ErrorCount:   t.errorCount,
		SkipCount:    t.skipCount,
		RateLimited:  t.rateLimited,
	}
}
