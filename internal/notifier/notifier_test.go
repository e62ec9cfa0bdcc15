package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tickbot/internal/clock"
	"tickbot/internal/eventbus"
	"tickbot/internal/task/scheduler"
	logx "tickbot/pkg/logx"
)

type captureSink struct {
	mu    sync.Mutex
	texts []string
	fail  int // fail this many sends before succeeding
}

func (c *captureSink) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return errors.New("telegram: 502")
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *captureSink) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestNotifier(t *testing.T, cfg Config, bus eventbus.Bus) (*Service, *captureSink, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2025, 4, 7, 12, 0, 0, 0, time.UTC))
	sink := &captureSink{}
	// High send rate so tests don't wait on the limiter.
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	svc := New(cfg, sink, fake, logx.Nop(), bus)
	svc.Start(context.Background())
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc, sink, fake
}

func failureEvent(name, errMsg string) eventbus.Event {
	return eventbus.Event{
		Type: eventbus.TopicTaskFailed,
		Time: time.Now(),
		Data: scheduler.TaskEvent{
			Name:     name,
			Error:    errMsg,
			Attempts: 2,
			Duration: 150 * time.Millisecond,
		},
	}
}

func TestFailureEventBecomesAlert(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	_, sink, _ := newTestNotifier(t, Config{}, bus)

	bus.Publish(failureEvent("ohlcv_sync", "exchange timeout"))
	waitFor(t, "alert", func() bool { return len(sink.sent()) == 1 })

	text := sink.sent()[0]
	for _, want := range []string{"ohlcv_sync", "exchange timeout", "attempts: 2"} {
		if !strings.Contains(text, want) {
			t.Fatalf("alert %q missing %q", text, want)
		}
	}
}

func TestNonFailureEventsAreIgnored(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	_, sink, _ := newTestNotifier(t, Config{}, bus)

	bus.Publish(eventbus.Event{Type: eventbus.TopicTaskCompleted, Data: scheduler.TaskEvent{Name: "x"}})
	bus.Publish(eventbus.Event{Type: eventbus.TopicTaskSkipped, Data: scheduler.TaskEvent{Name: "x"}})

	time.Sleep(20 * time.Millisecond)
	if n := len(sink.sent()); n != 0 {
		t.Fatalf("sent %d alerts for non-failure events", n)
	}
}

func TestRepeatFailuresAreDeduped(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	svc, sink, fake := newTestNotifier(t, Config{DedupWindow: 5 * time.Minute}, bus)

	bus.Publish(failureEvent("flappy", "down"))
	waitFor(t, "first alert", func() bool { return len(sink.sent()) == 1 })

	// Same task failing again inside the window is suppressed.
	bus.Publish(failureEvent("flappy", "down"))
	bus.Publish(failureEvent("flappy", "still down"))
	waitFor(t, "dedup counter", func() bool { return svc.Stats().Deduped == 2 })
	if len(sink.sent()) != 1 {
		t.Fatalf("deduped failure was sent: %v", sink.sent())
	}

	// A different task is not suppressed.
	bus.Publish(failureEvent("other", "down"))
	waitFor(t, "other task alert", func() bool { return len(sink.sent()) == 2 })

	// After the window, the task alerts again.
	fake.Advance(6 * time.Minute)
	bus.Publish(failureEvent("flappy", "down again"))
	waitFor(t, "post-window alert", func() bool { return len(sink.sent()) == 3 })
}

func TestSendRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	svc, sink, _ := newTestNotifier(t, Config{
		RetryMax:  3,
		RetryBase: time.Millisecond,
	}, bus)

	sink.mu.Lock()
	sink.fail = 2
	sink.mu.Unlock()

	bus.Publish(failureEvent("retryme", "boom"))
	waitFor(t, "alert after retries", func() bool { return len(sink.sent()) == 1 })
	if svc.Stats().Failed != 0 {
		t.Fatal("send that eventually succeeded counted as failed")
	}
}

func TestSendFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	svc, sink, _ := newTestNotifier(t, Config{
		RetryMax:  1,
		RetryBase: time.Millisecond,
	}, bus)

	sink.mu.Lock()
	sink.fail = 10
	sink.mu.Unlock()

	bus.Publish(failureEvent("dead", "boom"))
	waitFor(t, "failure counter", func() bool { return svc.Stats().Failed == 1 })
}

func TestNotifyDirect(t *testing.T) {
	t.Parallel()
	svc, sink, _ := newTestNotifier(t, Config{}, nil)

	if err := svc.Notify(context.Background(), "  "); err != nil {
		t.Fatalf("blank notify: %v", err)
	}
	if err := svc.Notify(context.Background(), "deploy finished"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, "direct alert", func() bool { return len(sink.sent()) == 1 })
	if sink.sent()[0] != "deploy finished" {
		t.Fatalf("unexpected alert: %q", sink.sent()[0])
	}
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()
	fake := clock.NewFake(time.Now())
	svc := New(Config{}, &captureSink{}, fake, logx.Nop(), nil)
	svc.Start(context.Background())
	svc.Stop(context.Background())

	if err := svc.Notify(context.Background(), "late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
}
