package config

import "encoding/json"

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Scheduler controls the task dispatch loop.
	Scheduler SchedulerConfig `json:"scheduler"`

	// RateLimit declares named fixed-window classes that jobs can attach to
	// via their rate_class field. The map key is the class name.
	RateLimit map[string]RateClassConfig `json:"rate_limit,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`

	// Jobs declares scheduled jobs. Kind selects a built-in handler; the
	// payload is passed to it opaquely.
	Jobs []JobConfig `json:"jobs,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// ThreadID targets a forum topic inside the chat. 0 means the main thread.
	ThreadID int `json:"thread_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the dispatch loop.
//
// All durations are Go duration strings (e.g. "250ms", "10s").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// PollInterval is how often the dispatch loop checks for due tasks.
	PollInterval string `json:"poll_interval,omitempty"`

	// StopGrace bounds how long Stop waits for in-flight tasks.
	StopGrace string `json:"stop_grace,omitempty"`

	HistorySize int `json:"history_size,omitempty"`

	// Timezone is the IANA zone cron expressions are evaluated in.
	// Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
}

// RateClassConfig is one named fixed-window budget.
type RateClassConfig struct {
	Limit  int    `json:"limit"`
	Window string `json:"window"` // Go duration string
}

// NotifierConfig controls the async failure-alert pipeline.
//
// All durations are Go duration strings.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// StorageConfig controls run-history persistence.
//
// Driver is "none" (default) or "sqlite".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
	// Retention bounds how far back run history is kept; the prune job
	// deletes older rows. "0s" disables pruning.
	Retention string `json:"retention,omitempty"`
}

// JobConfig declares one scheduled job.
type JobConfig struct {
	Name string `json:"name"`
	Cron string `json:"cron"`

	// Kind names the built-in handler ("heartbeat", "webhook", "notify", ...).
	Kind string `json:"kind"`

	// Payload is handler-specific and passed through uninterpreted.
	Payload json.RawMessage `json:"payload,omitempty"`

	Timeout   string       `json:"timeout,omitempty"` // Go duration string
	RateClass string       `json:"rate_class,omitempty"`
	Disabled  bool         `json:"disabled,omitempty"`
	Retry     *RetryConfig `json:"retry,omitempty"`
}

// RetryConfig mirrors the retry executor's options.
type RetryConfig struct {
	MaxAttempts       int     `json:"max_attempts,omitempty"`
	Delay             string  `json:"delay,omitempty"` // Go duration string
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
	MaxDelay          string  `json:"max_delay,omitempty"` // Go duration string
}
