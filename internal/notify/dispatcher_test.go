package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"websentry/internal/event"
	"websentry/internal/rules"
)

// mockChannel records sends and can be told to fail.
type mockChannel struct {
	name string
	fail bool

	mu    sync.Mutex
	sends []*rules.Alert
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Send(_ context.Context, alert *rules.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("send failed")
	}
	m.sends = append(m.sends, alert)
	return nil
}

func (m *mockChannel) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDispatcherDelivers(t *testing.T) {
	ch := &mockChannel{name: "webhook"}
	d := NewDispatcher(DefaultDispatcherConfig(), ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Notify(testAlert(event.SeverityHigh))
	waitFor(t, 2*time.Second, func() bool { return ch.sent() == 1 })

	stats := d.Stats()
	if stats["delivered"].(uint64) != 1 {
		t.Errorf("delivered = %v, want 1", stats["delivered"])
	}
}

func TestDispatcherChatCriticalOnly(t *testing.T) {
	webhook := &mockChannel{name: "webhook"}
	chat := &mockChannel{name: "chat"}
	d := NewDispatcher(DefaultDispatcherConfig(), webhook, chat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Notify(testAlert(event.SeverityHigh))
	d.Notify(testAlert(event.SeverityCritical))

	// Webhook gets both, chat only the critical one.
	waitFor(t, 2*time.Second, func() bool { return webhook.sent() == 2 })
	waitFor(t, 2*time.Second, func() bool { return chat.sent() == 1 })

	chat.mu.Lock()
	sev := chat.sends[0].Severity
	chat.mu.Unlock()
	if sev != event.SeverityCritical {
		t.Errorf("chat received %v alert, want critical only", sev)
	}
}

func TestDispatcherFullQueueDrops(t *testing.T) {
	// No worker started, so the queue never drains.
	d := NewDispatcher(DispatcherConfig{QueueSize: 2}, &mockChannel{name: "webhook"})

	for i := 0; i < 5; i++ {
		d.Notify(testAlert(event.SeverityHigh))
	}

	stats := d.Stats()
	if stats["queue_depth"].(int) != 2 {
		t.Errorf("queue_depth = %v, want 2", stats["queue_depth"])
	}
	if stats["dropped"].(uint64) != 3 {
		t.Errorf("dropped = %v, want 3", stats["dropped"])
	}
}

func TestDispatcherRetryThenDrop(t *testing.T) {
	ch := &mockChannel{name: "webhook", fail: true}
	cfg := DefaultDispatcherConfig()
	cfg.MaxAttempts = 2
	d := NewDispatcher(cfg, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Notify(testAlert(event.SeverityHigh))
	waitFor(t, 2*time.Second, func() bool {
		return d.Stats()["failed"].(uint64) == 1
	})
}

func TestDispatcherStopIdempotent(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig(), &mockChannel{name: "webhook"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Stop()
	d.Stop()
}

func TestDispatcherNoChannels(t *testing.T) {
	d := NewDispatcher(DefaultDispatcherConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	// Nothing to deliver to; must not panic or block.
	d.Notify(testAlert(event.SeverityCritical))
	time.Sleep(20 * time.Millisecond)
}
