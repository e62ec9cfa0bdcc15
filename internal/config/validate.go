package config

import (
	"fmt"
	"strings"
	"time"

	"tickbot/internal/cron"
)

// Validate checks the parts of the config that would otherwise fail deep
// inside the runtime: duration strings, timezone, rate classes, and job
// declarations. It reports the first problem it finds.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("scheduler.poll_interval", c.Scheduler.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.stop_grace", c.Scheduler.StopGrace); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	for name, rc := range c.RateLimit {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("rate_limit: class name must not be empty")
		}
		if rc.Limit <= 0 {
			return fmt.Errorf("rate_limit.%s: limit must be > 0", name)
		}
		d, err := ParseDurationField("rate_limit."+name+".window", rc.Window)
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("rate_limit.%s: window must be > 0", name)
		}
	}

	if n := c.Notifier; n != nil {
		for _, f := range []struct{ path, raw string }{
			{"notifier.retry_base", n.RetryBase},
			{"notifier.retry_max_delay", n.RetryMaxDelay},
			{"notifier.dedup_window", n.DedupWindow},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}

	if s := c.Storage; s != nil {
		switch strings.TrimSpace(s.Driver) {
		case "", "none":
		case "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("storage.path: required for the sqlite driver")
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("storage.retention", s.Retention); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(c.Jobs))
	for i, j := range c.Jobs {
		where := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("%s: name is required", where)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%s: duplicate job name %q", where, name)
		}
		seen[name] = struct{}{}
		if err := cron.Validate(j.Cron); err != nil {
			return fmt.Errorf("%s (%s): %w", where, name, err)
		}
		if strings.TrimSpace(j.Kind) == "" {
			return fmt.Errorf("%s (%s): kind is required", where, name)
		}
		if j.RateClass != "" {
			if _, ok := c.RateLimit[j.RateClass]; !ok {
				return fmt.Errorf("%s (%s): unknown rate_class %q", where, name, j.RateClass)
			}
		}
		if _, err := ParseDurationField(where+".timeout", j.Timeout); err != nil {
			return err
		}
		if r := j.Retry; r != nil {
			if r.MaxAttempts < 0 {
				return fmt.Errorf("%s (%s): retry.max_attempts must be >= 0", where, name)
			}
			if r.BackoffMultiplier < 0 {
				return fmt.Errorf("%s (%s): retry.backoff_multiplier must be >= 0", where, name)
			}
			if _, err := ParseDurationField(where+".retry.delay", r.Delay); err != nil {
				return err
			}
			if _, err := ParseDurationField(where+".retry.max_delay", r.MaxDelay); err != nil {
				return err
			}
		}
	}
	return nil
}
