package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tickbot/internal/config"
	"tickbot/internal/retry"
	"tickbot/internal/storage"
	"tickbot/internal/task/scheduler"
	logx "tickbot/pkg/logx"
)

// registerJobs schedules the config-declared jobs plus the built-in
// maintenance jobs. Registration is fail-fast: a bad job declaration
// aborts startup.
func (a *App) registerJobs(cfg *config.Config) error {
	for _, jc := range cfg.Jobs {
		job, err := a.buildJob(jc)
		if err != nil {
			return fmt.Errorf("job %q: %w", jc.Name, err)
		}
		opt, err := mapTaskOptions(jc)
		if err != nil {
			return fmt.Errorf("job %q: %w", jc.Name, err)
		}
		if _, err := a.sched.ScheduleOpt(jc.Name, jc.Cron, job, opt); err != nil {
			return err
		}
	}

	if a.store != nil {
		if _, err := a.sched.ScheduleFunc("history_flush", "* * * * *", a.flushHistory); err != nil {
			return err
		}
		retention, err := config.ParseDurationField("storage.retention", cfg.Storage.Retention)
		if err != nil {
			return err
		}
		if retention > 0 {
			prune := a.pruneJob(retention)
			if _, err := a.sched.ScheduleFunc("history_prune", "10 3 * * *", prune); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *App) buildJob(jc config.JobConfig) (scheduler.Job, error) {
	switch strings.ToLower(strings.TrimSpace(jc.Kind)) {
	case "heartbeat":
		return scheduler.JobFunc(a.heartbeat), nil
	case "webhook":
		return a.webhookJob(jc.Payload)
	case "notify":
		return a.notifyJob(jc.Payload)
	default:
		return nil, fmt.Errorf("unknown job kind %q", jc.Kind)
	}
}

func mapTaskOptions(jc config.JobConfig) (scheduler.TaskOptions, error) {
	timeout, err := config.ParseDurationField("timeout", jc.Timeout)
	if err != nil {
		return scheduler.TaskOptions{}, err
	}
	opt := scheduler.TaskOptions{
		Timeout:  timeout,
		RateKey:  jc.RateClass,
		Disabled: jc.Disabled,
	}
	if rc := jc.Retry; rc != nil {
		delay, err := config.ParseDurationField("retry.delay", rc.Delay)
		if err != nil {
			return scheduler.TaskOptions{}, err
		}
		maxDelay, err := config.ParseDurationField("retry.max_delay", rc.MaxDelay)
		if err != nil {
			return scheduler.TaskOptions{}, err
		}
		opt.Retry = &retry.Options{
			MaxAttempts:       rc.MaxAttempts,
			Delay:             delay,
			BackoffMultiplier: rc.BackoffMultiplier,
			MaxDelay:          maxDelay,
		}
	}
	return opt, nil
}

// heartbeat logs a one-line runtime summary.
func (a *App) heartbeat(ctx context.Context) error {
	snap := a.sched.Snapshot()
	var running, errored int
	for _, t := range snap.Tasks {
		if t.Running {
			running++
		}
		if t.ErrorCount > 0 {
			errored++
		}
	}
	a.log.Info("heartbeat",
		logx.Int("tasks", len(snap.Tasks)),
		logx.Int("running", running),
		logx.Int("with_errors", errored),
		logx.String("tz", snap.Timezone),
	)
	return nil
}

type webhookPayload struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	Body   string `json:"body,omitempty"`
}

// webhookJob POSTs an opaque body to the configured URL.
func (a *App) webhookJob(raw json.RawMessage) (scheduler.Job, error) {
	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("webhook payload: %w", err)
	}
	if strings.TrimSpace(p.URL) == "" {
		return nil, fmt.Errorf("webhook payload: url is required")
	}
	method := strings.ToUpper(strings.TrimSpace(p.Method))
	if method == "" {
		method = http.MethodPost
	}
	client := &http.Client{Timeout: 30 * time.Second}

	return scheduler.JobFunc(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, p.URL, bytes.NewReader([]byte(p.Body)))
		if err != nil {
			return err
		}
		if p.Body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook %s: status %d", p.URL, resp.StatusCode)
		}
		return nil
	}), nil
}

type notifyPayload struct {
	Text string `json:"text"`
}

// notifyJob pushes a fixed message through the alert pipeline.
func (a *App) notifyJob(raw json.RawMessage) (scheduler.Job, error) {
	if a.notif == nil {
		return nil, fmt.Errorf("notify job requires the notifier to be enabled")
	}
	var p notifyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("notify payload: %w", err)
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil, fmt.Errorf("notify payload: text is required")
	}
	return scheduler.JobFunc(func(ctx context.Context) error {
		return a.notif.Notify(ctx, p.Text)
	}), nil
}

// flushHistory appends scheduler history items newer than the watermark
// to storage.
func (a *App) flushHistory(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	items := a.sched.History()
	recs := make([]storage.RunRecord, 0, len(items))
	mark := a.flushMark
	for _, it := range items {
		if !it.Started.After(a.flushMark) {
			continue
		}
		recs = append(recs, storage.RunRecord{
			TaskID:   it.ID,
			Name:     it.Name,
			Started:  it.Started,
			Duration: it.Duration,
			Attempts: it.Attempts,
			Error:    it.Error,
		})
		if it.Started.After(mark) {
			mark = it.Started
		}
	}
	if len(recs) == 0 {
		return nil
	}
	if err := a.store.AppendRuns(ctx, recs); err != nil {
		return err
	}
	a.flushMark = mark
	a.log.Debug("history.flushed", logx.Int("runs", len(recs)))
	return nil
}

func (a *App) pruneJob(retention time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cutoff := a.clk.Now().Add(-retention)
		n, err := a.store.PruneBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("history.pruned", logx.Int64("rows", n), logx.Time("cutoff", cutoff))
		}
		return nil
	}
}
