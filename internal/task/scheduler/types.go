package scheduler

import (
	"context"
	"sync"
	"time"

	"tickbot/internal/clock"
	"tickbot/internal/cron"
	"tickbot/internal/eventbus"
	"tickbot/internal/ratelimit"
	"tickbot/internal/retry"
	"tickbot/internal/runtime/supervisor"
	logx "tickbot/pkg/logx"
)

// Config controls one scheduler instance.
type Config struct {
	// PollInterval is the dispatch loop's tick. Defaults to 250ms.
	PollInterval time.Duration

	// StopGrace bounds how long Stop waits for in-flight invocations.
	// Defaults to 10s.
	StopGrace time.Duration

	// HistorySize bounds the run-history ring. Defaults to 200.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Job is an opaque unit of work. The scheduler never inspects what it does
// beyond capturing success/failure and elapsed time.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a bare function to Job.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Gate is the admission check used for quota-bound tasks. It is a fast,
// synchronous query; the dispatch loop calls it inline.
type Gate interface {
	Allow(key string) ratelimit.Result
}

// TaskOptions tune one task's execution.
type TaskOptions struct {
	// Timeout bounds one invocation (0 = no limit).
	Timeout time.Duration

	// Retry, when set, wraps the invocation in the retry executor.
	// Backoff waits are canceled when the scheduler stops.
	Retry *retry.Options

	// RateKey gates each firing through the scheduler's Gate under this
	// key. A denied admission skips the firing; it is not an error.
	RateKey string

	// Disabled registers the task without arming it.
	Disabled bool
}

// task is the scheduler-owned record. Mutated only under Service.mu by the
// dispatch loop, Enable/Disable and Unschedule; callers only ever see copies.
type task struct {
	id   string
	name string
	expr string

	sched cron.Schedule
	job   Job
	opt   TaskOptions

	enabled bool
	running bool

	lastRun      time.Time
	nextRun      time.Time
	lastDuration time.Duration
	lastError    string

	runCount    uint64
	errorCount  uint64
	skipCount   uint64
	rateLimited uint64
}

// TaskInfo is a point-in-time copy of a task's state.
type TaskInfo struct {
	ID       string
	Name     string
	Schedule string
	Enabled  bool
	Running  bool

	LastRun      time.Time // zero if never run
	NextRun      time.Time
	LastDuration time.Duration
	LastError    string

	RunCount    uint64
	ErrorCount  uint64
	SkipCount   uint64
	RateLimited uint64
}

// HistoryItem is one completed (or skipped) firing, kept in a bounded ring.
type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Attempts int
	Error    string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Service is the scheduling runtime. Zero value is not usable; call New.
type Service struct {
	mu  sync.Mutex
	cfg Config

	clk  clock.Clock
	log  logx.Logger
	bus  eventbus.Bus
	gate Gate

	tasks map[string]*task

	running bool
	stopCh  chan struct{}
	sup     *supervisor.Supervisor

	hmu     sync.Mutex
	history []HistoryItem
}

// Snapshot is a diagnostics view of the whole scheduler.
type Snapshot struct {
	Running      bool
	Timezone     string
	PollInterval time.Duration
	Tasks        []TaskInfo
	History      []HistoryItem
}
