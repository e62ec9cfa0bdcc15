// Package app wires the runtime together: config, logging, storage, the
// scheduler, and the failure-alert pipeline.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tickbot/internal/clock"
	"tickbot/internal/config"
	"tickbot/internal/eventbus"
	"tickbot/internal/notifier"
	"tickbot/internal/ratelimit"
	"tickbot/internal/runtime/supervisor"
	"tickbot/internal/storage"
	"tickbot/internal/task/scheduler"
	"tickbot/internal/transport/telegram"
	logx "tickbot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	clk  clock.Clock
	bus  eventbus.Bus

	store storage.Store
	gate  *classGate

	sched *scheduler.Service
	notif *notifier.Service

	// flushMark is the Started time of the newest history item already
	// flushed to storage.
	flushMark time.Time
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	clk, err := clock.NewSystem(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	gate, err := buildGates(cfg.RateLimit, clk)
	if err != nil {
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, clk, log.With(logx.String("comp", "scheduler")),
		scheduler.WithBus(bus),
		scheduler.WithGate(gate),
	)

	var notif *notifier.Service
	if nc := cfg.Notifier; nc != nil && nc.Enabled {
		sink, err := telegram.New(telegram.Config{
			Token:    cfg.Telegram.Token,
			ChatID:   cfg.Telegram.ChatID,
			ThreadID: cfg.Telegram.ThreadID,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		ncfg, err := mapNotifierConfig(nc)
		if err != nil {
			return nil, err
		}
		notif = notifier.New(ncfg, sink, clk, log.With(logx.String("comp", "notifier")), bus)
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		clk:     clk,
		bus:     bus,
		store:   store,
		gate:    gate,
		sched:   sched,
		notif:   notif,
	}

	if err := a.registerJobs(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Scheduler exposes the task runtime for diagnostics.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the app run context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if a.notif != nil {
		a.notif.Start(a.sup.Context())
	}
	if a.cfgm.Get().Scheduler.Enabled {
		a.sched.Start(a.sup.Context())
	}

	// Hot reload: only logging applies live; everything else needs a restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded", logx.String("level", newCfg.Logging.Level))
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("tz", a.clk.Timezone()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	// Cancel the run context first so background loops unwind immediately.
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error {
		if a.notif != nil {
			a.notif.Stop(c)
		}
		return nil
	})
	step("history.flush", 2*time.Second, func(c context.Context) error { return a.flushHistory(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, 250*time.Millisecond)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("scheduler.stop_grace", cfg.Scheduler.StopGrace, 10*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	hist := cfg.Scheduler.HistorySize
	if hist <= 0 {
		hist = 200
	}
	return scheduler.Config{
		PollInterval: poll,
		StopGrace:    grace,
		HistorySize:  hist,
	}, nil
}

func mapNotifierConfig(nc *config.NotifierConfig) (notifier.Config, error) {
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     dedup,
		DedupMaxEntries: nc.DedupMaxEntries,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	if driver != "sqlite" && driver != "sqlite3" {
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

// buildGates turns the rate_limit config section into the scheduler's
// admission gate. Keys without a declared class are allowed through.
func buildGates(classes map[string]config.RateClassConfig, clk clock.Clock) (*classGate, error) {
	g := &classGate{limiters: map[string]*ratelimit.FixedWindow{}}
	for name, rc := range classes {
		window, err := config.ParseDurationField("rate_limit."+name+".window", rc.Window)
		if err != nil {
			return nil, err
		}
		lim, err := ratelimit.NewFixedWindow(ratelimit.Config{Limit: rc.Limit, Window: window}, clk)
		if err != nil {
			return nil, fmt.Errorf("rate_limit.%s: %w", name, err)
		}
		g.limiters[name] = lim
	}
	return g, nil
}

// classGate routes scheduler admission checks to the named limiter.
type classGate struct {
	limiters map[string]*ratelimit.FixedWindow
}

func (g *classGate) Allow(key string) ratelimit.Result {
	lim, ok := g.limiters[key]
	if !ok {
		return ratelimit.Result{Allowed: true}
	}
	return lim.Allow(key)
}
