// Package monitor wires the event store, rule engine, threat analyzer
// and alert dispatch together behind a single service object. It owns
// lifecycle and orchestration only; detection logic lives in the
// packages it composes.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"websentry/internal/config"
	"websentry/internal/event"
	"websentry/internal/logging"
	"websentry/internal/notify"
	"websentry/internal/rules"
	"websentry/internal/store"
	"websentry/internal/threat"
)

// alertRetention is how long resolved and stale alerts stay queryable.
const alertRetention = 7 * 24 * time.Hour

// Monitor is the security monitoring service.
type Monitor struct {
	cfg *config.Config

	validator  *event.Validator
	store      *store.Store
	registry   *rules.Registry
	engine     *rules.Engine
	alerts     *rules.AlertManager
	analyzer   *threat.Analyzer
	dispatcher *notify.Dispatcher
	blocks     notify.BlockStore

	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped sync.Once

	mu      sync.Mutex
	running bool
}

// New builds a monitor from configuration. Redis is optional: when
// disabled, or when the connection fails, blocks stay in-memory only.
func New(cfg *config.Config) (*Monitor, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st := store.New(store.Config{
		MaxEvents:      cfg.Monitoring.MaxEvents,
		EventRetention: cfg.Monitoring.EventRetention,
		LockDuration:   cfg.Monitoring.LockDuration,
		LockThreshold:  cfg.Monitoring.FailedLoginThreshold,
		ShardCount:     cfg.Monitoring.ShardCount,
	})

	registry := rules.NewRegistry()
	thresholds := rules.DefaultThresholds()
	thresholds.FailedLogins = cfg.Monitoring.FailedLoginThreshold
	thresholds.RateLimitCount = cfg.Monitoring.RateLimitCount
	thresholds.RateLimitWindow = cfg.Monitoring.RateLimitWindow
	rules.RegisterBuiltins(registry, thresholds)

	alerts := rules.NewAlertManager(alertRetention)
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		QueueSize:     cfg.Notify.QueueSize,
		SendTimeout:   cfg.Notify.SendTimeout,
		MaxAttempts:   cfg.Notify.MaxAttempts,
		RatePerSecond: cfg.Notify.RatePerSecond,
		RateBurst:     cfg.Notify.RateBurst,
	}, buildChannels(cfg.Notify)...)

	var blocks notify.BlockStore = notify.NoopBlockStore{}
	if cfg.Redis.Enabled {
		rbs, err := notify.NewRedisBlockStore(notify.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		})
		if err != nil {
			slog.Warn("redis unavailable, ip blocks will not survive restarts", "error", err)
		} else {
			blocks = rbs
		}
	}

	engine := rules.NewEngine(registry, st, alerts, dispatcher, blocks, cfg.Monitoring.BlockDuration)
	for _, rule := range rules.DefaultRules(cfg.Monitoring.BlockDuration) {
		if err := engine.AddRule(rule); err != nil {
			return nil, fmt.Errorf("failed to install default rule %q: %w", rule.ID, err)
		}
	}

	var geo threat.GeoClassifier = threat.NoopGeoClassifier{}
	if len(cfg.Monitoring.HighRiskCountries) > 0 || len(cfg.Monitoring.MediumRiskCountries) > 0 {
		geo = threat.NewStaticGeoClassifier(cfg.Monitoring.HighRiskCountries, cfg.Monitoring.MediumRiskCountries)
	}

	return &Monitor{
		cfg:        cfg,
		validator:  event.NewValidator(),
		store:      st,
		registry:   registry,
		engine:     engine,
		alerts:     alerts,
		analyzer:   threat.NewAnalyzer(geo, cfg.Monitoring.AlertScoreThresholds),
		dispatcher: dispatcher,
		blocks:     blocks,
		stopCh:     make(chan struct{}),
	}, nil
}

func buildChannels(cfg config.NotifyConfig) []notify.Channel {
	var channels []notify.Channel
	if cfg.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.WebhookURL, cfg.WebhookHeaders))
	}
	if cfg.ChatWebhookURL != "" {
		channels = append(channels, notify.NewChatChannel(cfg.ChatWebhookURL, cfg.ChatChannel, cfg.ChatUsername))
	}
	return channels
}

// Start restores persisted blocks, starts alert dispatch and the
// maintenance loop. Safe to call once.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.restoreBlocks(ctx)
	m.dispatcher.Start(ctx)

	m.wg.Add(1)
	go m.maintenanceLoop()

	slog.Info("security monitor started",
		"enabled", m.cfg.Monitoring.Enabled,
		"max_events", m.cfg.Monitoring.MaxEvents,
		"cleanup_interval", m.cfg.Monitoring.CleanupInterval,
		"rules", len(m.engine.ListRules()))
}

// Stop shuts down the maintenance loop and the dispatcher, then closes
// the block store. Idempotent.
func (m *Monitor) Stop() {
	m.stopped.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		m.dispatcher.Stop()
		if err := m.blocks.Close(); err != nil {
			slog.Warn("failed to close block store", "error", err)
		}
		slog.Info("security monitor stopped")
	})
}

// restoreBlocks reloads previously persisted IP blocks so they survive
// a restart. Best-effort.
func (m *Monitor) restoreBlocks(ctx context.Context) {
	records, err := m.blocks.LoadBlocks(ctx)
	if err != nil {
		slog.Warn("failed to restore persisted ip blocks", "error", err)
		return
	}

	now := time.Now().UTC()
	restored := 0
	for _, rec := range records {
		if !rec.BlockedUntil.After(now) {
			continue
		}
		m.store.BlockIP(rec.IPAddress, rec.BlockedUntil, rec.Reason)
		restored++
	}
	if restored > 0 {
		slog.Info("restored persisted ip blocks", "count", restored)
	}
}

// RecordEvent validates and records a security event, then runs rule
// evaluation against the updated aggregate state. Evaluation failures
// never undo or prevent the recording; the pipeline fails open.
//
// The returned event is nil when monitoring is disabled or the input
// was rejected.
func (m *Monitor) RecordEvent(in event.Input) (*event.SecurityEvent, error) {
	if !m.cfg.Monitoring.Enabled {
		return nil, nil
	}

	if err := m.validator.Validate(&in); err != nil {
		slog.Warn("rejected malformed security event",
			"event_type", in.Type,
			"ip", in.IPAddress,
			"error", err)
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	// Mask credentials and tokens before the event is retained or
	// forwarded anywhere.
	in.Metadata = logging.SanitizeMetadata(in.Metadata)

	e := event.New(in)
	m.store.Record(e)
	m.evaluate(e)
	return e, nil
}

// evaluate builds the evaluation context and runs the rule engine.
// The context is built after the event is recorded, so counters and
// flags already include the current event.
func (m *Monitor) evaluate(e *event.SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("rule evaluation aborted",
				"event_id", e.ID,
				"panic", fmt.Sprintf("%v", r))
		}
	}()

	ctx := m.store.Context(m.cfg.Monitoring.ContextEventLimit)
	m.engine.Evaluate(e, ctx)
}

// IsIPBlocked reports whether the address is currently blocked.
func (m *Monitor) IsIPBlocked(addr string) bool {
	return m.store.IsIPBlocked(addr, time.Now().UTC())
}

// IsUserLocked reports whether the account is currently locked.
func (m *Monitor) IsUserLocked(id string) bool {
	return m.store.IsUserLocked(id, time.Now().UTC())
}

// BlockIP applies a manual IP block and persists it. The persistence
// write runs on its own goroutine so the caller never waits on it.
func (m *Monitor) BlockIP(addr string, duration time.Duration, reason string) {
	until := time.Now().UTC().Add(duration)
	m.store.BlockIP(addr, until, reason)
	go m.blocks.PersistBlock(addr, until, reason)
}

// UnblockIP lifts an IP block.
func (m *Monitor) UnblockIP(addr string) {
	m.store.UnblockIP(addr)
}

// LockUser applies a manual account lock.
func (m *Monitor) LockUser(id string, duration time.Duration) {
	m.store.LockUser(id, time.Now().UTC().Add(duration))
}

// SetUserMFA records whether the account has MFA enabled. Feeds user
// risk assessment.
func (m *Monitor) SetUserMFA(id string, enabled bool) {
	m.store.SetUserMFA(id, enabled)
}

// SetIPGeo attaches geolocation to an IP aggregate. Feeds IP risk
// assessment.
func (m *Monitor) SetIPGeo(addr, country, city string) {
	m.store.SetIPGeo(addr, country, city)
}

// Store exposes the event store for queries.
func (m *Monitor) Store() *store.Store {
	return m.store
}

// Search returns retained events matching the criteria, oldest first.
func (m *Monitor) Search(c store.Criteria) []*event.SecurityEvent {
	return m.store.Search(c)
}

// AnalyzeIP produces a risk assessment for the address. Returns false
// when the address has never been seen.
func (m *Monitor) AnalyzeIP(addr string) (*threat.Assessment, bool) {
	info, ok := m.store.IP(addr)
	if !ok {
		return nil, false
	}
	window := m.store.Search(store.Criteria{
		IPAddress: addr,
		Since:     time.Now().UTC().Add(-24 * time.Hour),
	})
	return m.analyzer.AnalyzeIP(info, window), true
}

// AnalyzeUser produces a risk assessment for the account. Returns
// false when the account has never been seen.
func (m *Monitor) AnalyzeUser(id string) (*threat.Assessment, bool) {
	profile, ok := m.store.User(id)
	if !ok {
		return nil, false
	}
	window := m.store.Search(store.Criteria{
		UserID: id,
		Since:  time.Now().UTC().Add(-24 * time.Hour),
	})
	return m.analyzer.AnalyzeUser(profile, window), true
}

// ThreatReport generates a system-wide threat report from the current
// aggregate state and recent events.
func (m *Monitor) ThreatReport() *threat.Report {
	recent := m.store.Recent(m.cfg.Monitoring.ContextEventLimit)
	return m.analyzer.GenerateReport(m.store.AllIPs(), m.store.AllUsers(), recent)
}

// Alerts returns alerts matching the filter, newest first.
func (m *Monitor) Alerts(filter rules.AlertFilter) []*rules.Alert {
	return m.alerts.List(filter)
}

// AcknowledgeAlert marks an alert acknowledged. False when unknown.
func (m *Monitor) AcknowledgeAlert(id uuid.UUID, actor string) bool {
	return m.alerts.Acknowledge(id, actor)
}

// ResolveAlert marks an alert resolved. False when unknown.
func (m *Monitor) ResolveAlert(id uuid.UUID, actor string) bool {
	return m.alerts.Resolve(id, actor)
}

// AddRule installs or replaces a detection rule.
func (m *Monitor) AddRule(rule *rules.Rule) error {
	return m.engine.AddRule(rule)
}

// RemoveRule removes a detection rule. False when unknown.
func (m *Monitor) RemoveRule(id string) bool {
	return m.engine.RemoveRule(id)
}

// SetRuleEnabled flips a rule's enabled flag. False when unknown.
func (m *Monitor) SetRuleEnabled(id string, enabled bool) bool {
	return m.engine.SetEnabled(id, enabled)
}

// Rules returns the rule catalog sorted by evaluation order.
func (m *Monitor) Rules() []*rules.Rule {
	return m.engine.ListRules()
}

// LoadRules installs rules parsed from YAML or JSON, replacing the
// catalog. The built-in rules are replaced too; include them in the
// document if they should stay active.
func (m *Monitor) LoadRules(data []byte) error {
	parsed, err := rules.ParseRules(data, m.registry)
	if err != nil {
		return err
	}
	return m.engine.ReplaceRules(parsed)
}

// Stats summarizes the engine's current state.
type Stats struct {
	Store      store.Statistics `json:"store"`
	Alerts     int              `json:"alerts"`
	Rules      int              `json:"rules"`
	Dispatcher map[string]any   `json:"dispatcher"`
}

// Stats returns a point-in-time summary of the monitor.
func (m *Monitor) Stats() Stats {
	return Stats{
		Store:      m.store.Stats(),
		Alerts:     m.alerts.Count(),
		Rules:      len(m.engine.ListRules()),
		Dispatcher: m.dispatcher.Stats(),
	}
}

// RunMaintenance purges expired events, lifts expired locks and
// blocks, and drops stale alerts. Runs periodically from the
// maintenance loop; callable directly for tests and admin tooling.
// Idempotent.
func (m *Monitor) RunMaintenance(now time.Time) {
	purged := m.store.PurgeExpiredEvents(now)
	unlocked := m.store.ExpireLocks(now)
	unblocked := m.store.ExpireBlocks(now)
	dropped := m.alerts.Cleanup(now)

	if purged > 0 || unlocked > 0 || unblocked > 0 || dropped > 0 {
		slog.Info("maintenance pass complete",
			"purged_events", purged,
			"expired_locks", unlocked,
			"expired_blocks", unblocked,
			"dropped_alerts", dropped)
	}
}

func (m *Monitor) maintenanceLoop() {
	defer m.wg.Done()

	interval := m.cfg.Monitoring.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunMaintenance(time.Now().UTC())
		}
	}
}
