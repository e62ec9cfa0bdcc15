package scheduler

import (
	"context"

	"tickbot/internal/clock"
	"tickbot/internal/eventbus"
	"tickbot/internal/runtime/supervisor"
	logx "tickbot/pkg/logx"
)

// Option configures optional collaborators.
type Option func(*Service)

// WithBus publishes task lifecycle events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithGate installs the rate-limit admission gate used by tasks that set
// TaskOptions.RateKey.
func WithGate(g Gate) Option {
	return func(s *Service) { s.gate = g }
}

// New builds a stopped scheduler. Tasks can be registered before Start.
func New(cfg Config, clk clock.Clock, log logx.Logger, opts ...Option) *Service {
	if clk == nil {
		// A scheduler without a clock cannot make any decision; this is
		// a programming error, not a runtime condition.
		panic("scheduler: clock is required")
	}
	s := &Service{
		cfg:   cfg.withDefaults(),
		clk:   clk,
		log:   log,
		tasks: make(map[string]*task),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IsRunning reports whether the dispatch loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start arms the dispatch loop. Idempotent while running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh

	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "scheduler"))),
		// One task's failure must never take down the loop or its peers.
		supervisor.WithCancelOnError(false),
	)
	sup := s.sup

	// Fresh start: re-arm every enabled task from now so a long stop does
	// not produce a backlog of stale fire times.
	now := s.clk.Now()
	armed := 0
	for _, t := range s.tasks {
		if t.enabled {
			t.nextRun = t.sched.Next(now)
			armed++
		}
	}
	poll := s.cfg.PollInterval
	s.mu.Unlock()

	sup.Go0("dispatch", func(c context.Context) {
		s.dispatch(c, stopCh)
	})

	s.log.Info("scheduler started",
		logx.String("tz", s.clk.Timezone()),
		logx.Duration("poll", poll),
		logx.Int("tasks", armed),
	)
}

// Stop signals the dispatch loop to stop scheduling new invocations,
// cancels in-flight retry backoffs, and waits for running invocations to
// finish, bounded by the configured grace period (and by ctx).
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	sup := s.sup
	s.sup = nil
	grace := s.cfg.StopGrace
	s.mu.Unlock()

	// Cancel the supervisor context: retry backoff waits abandon their
	// remaining attempts; task bodies that honor ctx wind down.
	sup.Cancel()

	waitCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(waitCtx); err != nil && waitCtx.Err() != nil {
		s.log.Warn("scheduler stop grace expired", logx.Duration("grace", grace), logx.Int64("in_flight", sup.Active()))
		return
	}
	s.log.Info("scheduler stopped")
}
