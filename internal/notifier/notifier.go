// Package notifier turns task failures into Telegram alerts.
//
// It subscribes to the event bus, suppresses repeats per task within a
// window, rate-limits outbound sends, and retries transient send errors.
// Alert delivery is best-effort: a failed alert never affects the tasks
// that produced it.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tickbot/internal/clock"
	"tickbot/internal/eventbus"
	"tickbot/internal/retry"
	"tickbot/internal/runtime/supervisor"
	"tickbot/internal/task/scheduler"
	logx "tickbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Sink delivers one alert message.
type Sink interface {
	SendText(ctx context.Context, text string) error
}

type Config struct {
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

// Stats counts pipeline outcomes since start.
type Stats struct {
	Sent    uint64
	Failed  uint64
	Deduped uint64
	Dropped uint64
}

type alert struct {
	key  string
	text string
}

type Service struct {
	cfg  Config
	log  logx.Logger
	clk  clock.Clock
	sink Sink
	bus  eventbus.Bus

	limiter *rate.Limiter

	mu    sync.Mutex
	queue chan alert
	sup   *supervisor.Supervisor
	unsub func()

	// dedup maps alert key -> suppress-until.
	dmu   sync.Mutex
	dedup map[string]time.Time

	sent    atomic.Uint64
	failed  atomic.Uint64
	deduped atomic.Uint64
	dropped atomic.Uint64
}

func New(cfg Config, sink Sink, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if clk == nil {
		panic("notifier: nil clock")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:   cfg,
		log:   log,
		clk:   clk,
		sink:  sink,
		bus:   bus,
		dedup: map[string]time.Time{},
		// Burst = rate per sec so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan alert, s.cfg.QueueSize)
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		supervisor.WithCancelOnError(false),
	)

	if s.bus != nil {
		events, unsub := s.bus.Subscribe(s.cfg.QueueSize)
		s.unsub = unsub
		s.sup.Go0("events", func(c context.Context) {
			s.eventLoop(c, events)
		})
	}
	q := s.queue
	s.sup.Go0("worker", func(c context.Context) {
		s.workerLoop(c, q)
	})
}

// Stop cancels the pipeline. Queued alerts that have not been sent yet
// are dropped.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	unsub := s.unsub
	s.sup = nil
	s.unsub = nil
	s.queue = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
}

// Notify queues an ad-hoc alert through the same dedup/rate/retry pipeline.
func (s *Service) Notify(ctx context.Context, text string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.enqueue(alert{key: "notify:" + text, text: text})
}

func (s *Service) Stats() Stats {
	return Stats{
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
		Deduped: s.deduped.Load(),
		Dropped: s.dropped.Load(),
	}
}

func (s *Service) eventLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != eventbus.TopicTaskFailed {
				continue
			}
			te, ok := e.Data.(scheduler.TaskEvent)
			if !ok {
				continue
			}
			_ = s.enqueue(alert{
				key:  "task:" + te.Name,
				text: formatFailure(te),
			})
		}
	}
}

func (s *Service) enqueue(a alert) error {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return ErrStopped
	}

	if s.cfg.DedupWindow > 0 && !s.dedupAllow(a.key) {
		s.deduped.Add(1)
		return nil
	}

	select {
	case q <- a:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// dedupAllow reports whether key is outside its suppression window and, if
// so, opens a new one.
func (s *Service) dedupAllow(key string) bool {
	now := s.clk.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)

	// Prune expired entries, then cap by evicting earliest expiries.
	for k, until := range s.dedup {
		if !now.Before(until) && k != key {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > s.cfg.DedupMaxEntries {
		var minKey string
		var minT time.Time
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

func (s *Service) workerLoop(ctx context.Context, q <-chan alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, a)
		}
	}
}

func (s *Service) deliver(ctx context.Context, a alert) {
	if s.sink == nil {
		return
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	err := retry.Do(ctx, retry.Options{
		MaxAttempts:       1 + s.cfg.RetryMax,
		Delay:             s.cfg.RetryBase,
		BackoffMultiplier: 2,
		MaxDelay:          s.cfg.RetryMaxDelay,
	}, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return s.sink.SendText(cctx, a.text)
	})
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("alert.failed", logx.Err(err), logx.String("key", a.key))
		return
	}
	s.sent.Add(1)
	s.log.Debug("alert.sent", logx.String("key", a.key))
}

func formatFailure(e scheduler.TaskEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "task failed: %s\n", e.Name)
	fmt.Fprintf(&b, "error: %s\n", e.Error)
	fmt.Fprintf(&b, "attempts: %d, took %s", e.Attempts, e.Duration.Round(time.Millisecond))
	return b.String()
}
