package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"websentry/internal/event"
	"websentry/internal/rules"
)

// DispatcherConfig tunes the outbound delivery queue.
type DispatcherConfig struct {
	QueueSize      int           // Pending alerts before drops begin
	SendTimeout    time.Duration // Per-attempt timeout
	MaxAttempts    int           // Attempts before the alert is dropped
	RatePerSecond  float64       // Outbound send rate limit
	RateBurst      int           // Rate limiter burst
	BreakerTimeout time.Duration // Open-state duration per channel
}

// DefaultDispatcherConfig returns sensible dispatcher defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      1000,
		SendTimeout:    3 * time.Second,
		MaxAttempts:    2,
		RatePerSecond:  20,
		RateBurst:      40,
		BreakerTimeout: 30 * time.Second,
	}
}

type chanState struct {
	channel Channel
	breaker *gobreaker.CircuitBreaker[any]
}

// Dispatcher delivers alerts asynchronously: a bounded queue feeds a
// worker that fans out to channels with a per-attempt timeout, a
// bounded retry-or-drop policy, a send rate limit and a per-channel
// circuit breaker. It implements rules.Notifier.
type Dispatcher struct {
	config   DispatcherConfig
	channels []*chanState
	limiter  *rate.Limiter
	queue    chan *rules.Alert
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	delivered uint64
	dropped   uint64
	failed    uint64
}

// NewDispatcher creates a dispatcher over the given channels. The chat
// channel only receives critical alerts; every other channel receives
// all of them.
func NewDispatcher(config DispatcherConfig, channels ...Channel) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 3 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 2
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 20
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 40
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.RateBurst),
		queue:   make(chan *rules.Alert, config.QueueSize),
		stopCh:  make(chan struct{}),
	}

	for _, ch := range channels {
		d.channels = append(d.channels, &chanState{
			channel: ch,
			breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
				Name:    ch.Name(),
				Timeout: config.BreakerTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 5
				},
			}),
		})
	}

	return d
}

// Notify queues an alert for delivery. Never blocks: a full queue
// drops the alert with a logged warning.
func (d *Dispatcher) Notify(alert *rules.Alert) {
	select {
	case d.queue <- alert:
	default:
		atomic.AddUint64(&d.dropped, 1)
		slog.Warn("alert delivery queue full, dropping alert",
			"alert_id", alert.ID,
			"rule_id", alert.RuleID)
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.worker(ctx)
}

// Stop drains the worker. Pending queued alerts are abandoned.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case alert := <-d.queue:
			d.deliver(ctx, alert)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, alert *rules.Alert) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	for _, state := range d.channels {
		// Critical-only routing for the chat channel.
		if state.channel.Name() == "chat" && alert.Severity != event.SeverityCritical {
			continue
		}
		d.sendWithRetry(ctx, state, alert)
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, state *chanState, alert *rules.Alert) {
	var lastErr error
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		_, err := state.breaker.Execute(func() (any, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
			defer cancel()
			return nil, state.channel.Send(attemptCtx, alert)
		})
		if err == nil {
			atomic.AddUint64(&d.delivered, 1)
			slog.Debug("alert delivered",
				"channel", state.channel.Name(),
				"alert_id", alert.ID,
				"attempts", attempt)
			return
		}
		lastErr = err
	}

	// Out of attempts: drop, never block ingestion.
	atomic.AddUint64(&d.failed, 1)
	slog.Warn("alert delivery failed, dropping",
		"channel", state.channel.Name(),
		"alert_id", alert.ID,
		"error", lastErr)
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() map[string]any {
	return map[string]any{
		"queue_depth": len(d.queue),
		"delivered":   atomic.LoadUint64(&d.delivered),
		"dropped":     atomic.LoadUint64(&d.dropped),
		"failed":      atomic.LoadUint64(&d.failed),
		"channels":    len(d.channels),
	}
}
