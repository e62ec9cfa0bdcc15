package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"tickbot/internal/eventbus"
	"tickbot/internal/retry"
	logx "tickbot/pkg/logx"
)

// launch carries everything an invocation needs, copied out of the task
// record so the goroutine never touches scheduler-owned state.
type launch struct {
	id      string
	name    string
	job     Job
	opt     TaskOptions
	started time.Time
}

func (s *Service) dispatch(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.dispatchDue()
		}
	}
}

// dispatchDue fires every enabled task whose nextRun has passed. Due tasks
// launch as independent goroutines; the loop never waits on one task's work
// before considering the next.
func (s *Service) dispatchDue() {
	now := s.clk.Now()

	var launches []launch
	var skipped, limited []TaskEvent

	s.mu.Lock()
	sup := s.sup
	if sup == nil {
		s.mu.Unlock()
		return
	}
	for _, t := range s.tasks {
		if !t.enabled || t.nextRun.IsZero() || t.nextRun.After(now) {
			continue
		}

		// A task is never invoked concurrently with itself: if the
		// previous invocation is still running, this firing is skipped
		// (coalesced), never queued.
		if t.running {
			t.skipCount++
			t.nextRun = t.sched.Next(now)
			skipped = append(skipped, TaskEvent{ID: t.id, Name: t.name, Started: now, Reason: "overlap"})
			continue
		}

		// Quota-bound tasks pass the admission gate first. A denial is
		// a skipped firing, communicated in counters, not an error.
		if t.opt.RateKey != "" && s.gate != nil {
			res := s.gate.Allow(t.opt.RateKey)
			if !res.Allowed {
				t.rateLimited++
				t.nextRun = t.sched.Next(now)
				limited = append(limited, TaskEvent{ID: t.id, Name: t.name, Started: now, Reason: "rate_limited"})
				continue
			}
		}

		t.running = true
		t.lastRun = now
		// Advance ahead of the run so a due-again-while-running firing
		// is detected (and skipped) exactly once per missed occurrence.
		t.nextRun = t.sched.Next(now)

		launches = append(launches, launch{id: t.id, name: t.name, job: t.job, opt: t.opt, started: now})
	}
	s.mu.Unlock()

	for _, ev := range skipped {
		s.log.Debug("task.skipped: previous run still in flight", logx.String("task", ev.Name))
		s.publish(eventbus.TopicTaskSkipped, ev)
	}
	for _, ev := range limited {
		s.log.Debug("task.skipped: rate limited", logx.String("task", ev.Name))
		s.publish(eventbus.TopicTaskRateLimited, ev)
	}

	for _, l := range launches {
		l := l
		sup.Go0("task."+l.name, func(c context.Context) {
			s.invoke(c, l)
		})
	}
}

func (s *Service) invoke(ctx context.Context, l launch) {
	wallStart := time.Now()

	s.log.Debug("task.started", logx.String("task", l.name))
	s.publish(eventbus.TopicTaskStarted, TaskEvent{ID: l.id, Name: l.name, Started: l.started})

	runCtx := ctx
	if l.opt.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.opt.Timeout)
		defer cancel()
	}

	attempts := 1
	var err error
	if l.opt.Retry != nil {
		res := retry.DoWithResult(runCtx, *l.opt.Retry, func(c context.Context) (struct{}, error) {
			return struct{}{}, s.runJob(c, l.name, l.job)
		})
		attempts, err = res.Attempts, res.Err
	} else {
		err = s.runJob(runCtx, l.name, l.job)
	}

	s.finish(l, err, attempts, time.Since(wallStart))
}

// runJob guards against job panics, converting them to errors so one bad
// task can't crash the bot or corrupt the scheduler's counters.
func (s *Service) runJob(ctx context.Context, name string, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return job.Run(ctx)
}

func (s *Service) finish(l launch, err error, attempts int, dur time.Duration) {
	now := s.clk.Now()

	s.mu.Lock()
	if t, ok := s.tasks[l.id]; ok {
		t.running = false
		t.runCount++
		t.lastDuration = dur
		if err != nil {
			t.errorCount++
			t.lastError = err.Error()
		} else {
			t.lastError = ""
		}
		// Coalesced catch-up: the next occurrence comes from the current
		// time, not from the fire time we may have fallen behind on.
		t.nextRun = t.sched.Next(now)
	}
	s.mu.Unlock()

	item := HistoryItem{ID: l.id, Name: l.name, Started: l.started, Duration: dur, Attempts: attempts}
	ev := TaskEvent{ID: l.id, Name: l.name, Started: l.started, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		ev.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", l.name), logx.Any("err", err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(eventbus.TopicTaskFailed, ev)
	} else {
		s.log.Debug("task.completed", logx.String("task", l.name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(eventbus.TopicTaskCompleted, ev)
	}
	s.appendHistory(item)
}

func (s *Service) publish(topic string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: ev})
}
