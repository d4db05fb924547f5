package rules

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"websentry/internal/event"
	"websentry/internal/store"
)

// recordingBlocker captures block calls for assertions.
type recordingBlocker struct {
	calls []blockCall
}

type blockCall struct {
	addr   string
	until  time.Time
	reason string
}

func (b *recordingBlocker) BlockIP(addr string, until time.Time, reason string) {
	b.calls = append(b.calls, blockCall{addr, until, reason})
}

// recordingNotifier captures notified alerts.
type recordingNotifier struct {
	alerts []*Alert
}

func (n *recordingNotifier) Notify(alert *Alert) {
	n.alerts = append(n.alerts, alert)
}

// recordingPersister captures persisted blocks. The engine calls it
// from a separate goroutine, so access is mutex-guarded and an
// optional delay simulates a slow outbound destination.
type recordingPersister struct {
	delay time.Duration

	mu    sync.Mutex
	calls []blockCall
}

func (p *recordingPersister) PersistBlock(addr string, until time.Time, reason string) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	p.calls = append(p.calls, blockCall{addr, until, reason})
	p.mu.Unlock()
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// waitPersisted polls until n blocks have been persisted.
func waitPersisted(t *testing.T, p *recordingPersister, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("persisted %d blocks, want %d", p.count(), n)
}

func emptyContext() *store.SecurityContext {
	return &store.SecurityContext{
		IPs:         make(map[string]*store.IPTracking),
		Users:       make(map[string]*store.UserProfile),
		BlockedIPs:  make(map[string]time.Time),
		LockedUsers: make(map[string]time.Time),
		Now:         time.Now().UTC(),
	}
}

func newTestEngine(t *testing.T) (*Engine, *recordingBlocker, *recordingNotifier, *recordingPersister) {
	t.Helper()
	reg := NewRegistry()
	RegisterBuiltins(reg, DefaultThresholds())

	blocker := &recordingBlocker{}
	notifier := &recordingNotifier{}
	persister := &recordingPersister{}
	engine := NewEngine(reg, blocker, NewAlertManager(0), notifier, persister, time.Hour)

	for _, rule := range DefaultRules(time.Hour) {
		if err := engine.AddRule(rule); err != nil {
			t.Fatalf("AddRule(%s) error = %v", rule.ID, err)
		}
	}
	return engine, blocker, notifier, persister
}

func injectionEvent(payload string) *event.SecurityEvent {
	return &event.SecurityEvent{
		ID:        uuid.New(),
		Type:      event.TypeInjectionAttempt,
		Severity:  event.SeverityHigh,
		IPAddress: "203.0.113.7",
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSQLInjectionBlocksAndAlerts(t *testing.T) {
	engine, blocker, notifier, persister := newTestEngine(t)
	ctx := emptyContext()

	engine.Evaluate(injectionEvent("username=admin' OR 1=1--"), ctx)

	if len(blocker.calls) != 1 {
		t.Fatalf("got %d block calls, want 1", len(blocker.calls))
	}
	call := blocker.calls[0]
	if call.addr != "203.0.113.7" {
		t.Errorf("blocked %q, want the event source", call.addr)
	}
	if got := call.until.Sub(ctx.Now); got != 2*time.Hour {
		t.Errorf("block duration = %v, want 2h for SQL injection", got)
	}
	if call.reason != "rule:sql_injection_attempt" {
		t.Errorf("block reason = %q, want rule id reference", call.reason)
	}

	waitPersisted(t, persister, 1)

	if len(notifier.alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(notifier.alerts))
	}
	alert := notifier.alerts[0]
	if alert.Severity != event.SeverityCritical {
		t.Errorf("alert severity = %v, want critical", alert.Severity)
	}
	if alert.RuleID != "sql_injection_attempt" {
		t.Errorf("alert rule = %q, want sql_injection_attempt", alert.RuleID)
	}
}

func TestEvaluateDoesNotAwaitBlockPersistence(t *testing.T) {
	engine, blocker, _, persister := newTestEngine(t)
	persister.delay = 300 * time.Millisecond

	start := time.Now()
	engine.Evaluate(injectionEvent("username=admin' OR 1=1--"), emptyContext())
	elapsed := time.Since(start)

	if len(blocker.calls) != 1 {
		t.Fatalf("got %d block calls, want 1", len(blocker.calls))
	}
	if elapsed >= persister.delay {
		t.Errorf("Evaluate took %v waiting on block persistence", elapsed)
	}
	waitPersisted(t, persister, 1)
}

func TestBenignPayloadDoesNotFire(t *testing.T) {
	engine, blocker, notifier, _ := newTestEngine(t)

	engine.Evaluate(injectionEvent("username=alice&password=hunter2"), emptyContext())

	if len(blocker.calls) != 0 {
		t.Errorf("got %d block calls, want 0", len(blocker.calls))
	}
	if len(notifier.alerts) != 0 {
		t.Errorf("got %d alerts, want 0", len(notifier.alerts))
	}
}

func TestXSSDetection(t *testing.T) {
	engine, blocker, notifier, _ := newTestEngine(t)

	e := &event.SecurityEvent{
		ID:        uuid.New(),
		Type:      event.TypeXSSAttempt,
		Severity:  event.SeverityHigh,
		IPAddress: "203.0.113.7",
		Payload:   `comment=<script>document.location='//evil.example'</script>`,
		CreatedAt: time.Now().UTC(),
	}
	ctx := emptyContext()
	engine.Evaluate(e, ctx)

	if len(blocker.calls) != 1 {
		t.Fatalf("got %d block calls, want 1", len(blocker.calls))
	}
	if got := blocker.calls[0].until.Sub(ctx.Now); got != time.Hour {
		t.Errorf("block duration = %v, want 1h for XSS", got)
	}
	if len(notifier.alerts) != 1 || notifier.alerts[0].Severity != event.SeverityHigh {
		t.Error("XSS should raise one high-severity alert")
	}
}

func TestBruteForceUsesContextCounter(t *testing.T) {
	engine, blocker, _, _ := newTestEngine(t)

	e := &event.SecurityEvent{
		ID:        uuid.New(),
		Type:      event.TypeLoginFailure,
		Severity:  event.SeverityMedium,
		IPAddress: "203.0.113.7",
		UserID:    "alice",
		CreatedAt: time.Now().UTC(),
	}

	ctx := emptyContext()
	ctx.IPs["203.0.113.7"] = &store.IPTracking{IPAddress: "203.0.113.7", FailedLogins: 4}
	engine.Evaluate(e, ctx)
	if len(blocker.calls) != 0 {
		t.Fatal("four failures should not trigger the brute force rule")
	}

	ctx.IPs["203.0.113.7"].FailedLogins = 5
	engine.Evaluate(e, ctx)
	if len(blocker.calls) != 1 {
		t.Fatal("five failures should trigger the brute force rule")
	}
}

func TestBlockAppliedOncePerPass(t *testing.T) {
	engine, blocker, notifier, _ := newTestEngine(t)

	// Both brute_force_ip and account_enumeration match this event.
	now := time.Now().UTC()
	ctx := emptyContext()
	ctx.IPs["203.0.113.7"] = &store.IPTracking{IPAddress: "203.0.113.7", FailedLogins: 20}
	for i := 0; i < 12; i++ {
		ctx.RecentEvents = append(ctx.RecentEvents, &event.SecurityEvent{
			ID:        uuid.New(),
			Type:      event.TypeLoginFailure,
			IPAddress: "203.0.113.7",
			UserID:    uuid.NewString(),
			CreatedAt: now.Add(-time.Minute),
		})
	}

	e := &event.SecurityEvent{
		ID:        uuid.New(),
		Type:      event.TypeLoginFailure,
		Severity:  event.SeverityMedium,
		IPAddress: "203.0.113.7",
		UserID:    "victim",
		CreatedAt: now,
	}
	engine.Evaluate(e, ctx)

	if len(blocker.calls) != 1 {
		t.Errorf("got %d block calls, want exactly 1 per evaluation pass", len(blocker.calls))
	}
	if len(notifier.alerts) != 2 {
		t.Errorf("got %d alerts, want 2 (both rules still alert)", len(notifier.alerts))
	}
}

func TestAlreadyBlockedIPNotReblocked(t *testing.T) {
	engine, blocker, notifier, _ := newTestEngine(t)

	ctx := emptyContext()
	ctx.BlockedIPs["203.0.113.7"] = ctx.Now.Add(time.Hour)
	engine.Evaluate(injectionEvent("' or 1=1"), ctx)

	if len(blocker.calls) != 0 {
		t.Errorf("got %d block calls, want 0 for an already-blocked IP", len(blocker.calls))
	}
	if len(notifier.alerts) != 1 {
		t.Errorf("got %d alerts, want 1 (alerting still happens)", len(notifier.alerts))
	}
}

func TestAccountEnumeration(t *testing.T) {
	engine, blocker, _, _ := newTestEngine(t)
	now := time.Now().UTC()

	makeCtx := func(users int) *store.SecurityContext {
		ctx := emptyContext()
		for i := 0; i < users; i++ {
			ctx.RecentEvents = append(ctx.RecentEvents, &event.SecurityEvent{
				ID:        uuid.New(),
				Type:      event.TypeLoginFailure,
				IPAddress: "203.0.113.7",
				UserID:    uuid.NewString(),
				CreatedAt: now.Add(-time.Minute),
			})
		}
		return ctx
	}

	e := &event.SecurityEvent{
		ID:        uuid.New(),
		Type:      event.TypeLoginFailure,
		Severity:  event.SeverityMedium,
		IPAddress: "203.0.113.7",
		UserID:    "u",
		CreatedAt: now,
	}

	engine.Evaluate(e, makeCtx(9))
	if len(blocker.calls) != 0 {
		t.Fatal("nine distinct users should not trigger enumeration")
	}

	engine.Evaluate(e, makeCtx(10))
	if len(blocker.calls) != 1 {
		t.Fatal("ten distinct users should trigger enumeration")
	}
}

func TestAPIFlood(t *testing.T) {
	engine, blocker, _, _ := newTestEngine(t)
	now := time.Now().UTC()

	ctx := emptyContext()
	for i := 0; i < 101; i++ {
		ctx.RecentEvents = append(ctx.RecentEvents, &event.SecurityEvent{
			ID:        uuid.New(),
			Type:      event.TypeDataAccess,
			IPAddress: "203.0.113.7",
			CreatedAt: now.Add(-30 * time.Second),
		})
	}

	e := &event.SecurityEvent{
		ID:        uuid.New(),
		Type:      event.TypeAPIAbuse,
		Severity:  event.SeverityMedium,
		IPAddress: "203.0.113.7",
		CreatedAt: now,
	}
	engine.Evaluate(e, ctx)

	if len(blocker.calls) != 1 {
		t.Fatalf("got %d block calls, want 1 for a flood", len(blocker.calls))
	}
	if got := blocker.calls[0].until.Sub(ctx.Now); got != 30*time.Minute {
		t.Errorf("flood block duration = %v, want 30m", got)
	}
}

func TestPrivilegeEscalationAlertsWithoutBlocking(t *testing.T) {
	engine, blocker, notifier, _ := newTestEngine(t)

	e := &event.SecurityEvent{
		ID:        uuid.New(),
		Type:      event.TypePrivilegeEscalation,
		Severity:  event.SeverityMedium,
		IPAddress: "203.0.113.7",
		UserID:    "mallory",
		Endpoint:  "/admin/users",
		Metadata:  map[string]any{"role": "viewer"},
		CreatedAt: time.Now().UTC(),
	}
	engine.Evaluate(e, emptyContext())

	if len(blocker.calls) != 0 {
		t.Error("privilege escalation rule should not block")
	}
	if len(notifier.alerts) != 1 {
		t.Fatal("privilege escalation should raise one alert")
	}

	// Admins touching admin endpoints are fine.
	e.Metadata["role"] = "admin"
	engine.Evaluate(e, emptyContext())
	if len(notifier.alerts) != 1 {
		t.Error("admin callers should not trigger the rule")
	}
}

func TestDisabledRuleSkipped(t *testing.T) {
	engine, blocker, _, _ := newTestEngine(t)

	if !engine.SetEnabled("sql_injection_attempt", false) {
		t.Fatal("SetEnabled should find the rule")
	}
	engine.Evaluate(injectionEvent("' or 1=1"), emptyContext())
	if len(blocker.calls) != 0 {
		t.Error("disabled rule should not fire")
	}
}

func TestRuleFailureIsolated(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, DefaultThresholds())
	reg.Register("always_panics", func(*event.SecurityEvent, *store.SecurityContext) bool {
		panic("boom")
	})
	reg.Register("always_true", func(*event.SecurityEvent, *store.SecurityContext) bool {
		return true
	})

	notifier := &recordingNotifier{}
	engine := NewEngine(reg, &recordingBlocker{}, NewAlertManager(0), notifier, nil, time.Hour)

	mustAdd := func(r *Rule) {
		if err := engine.AddRule(r); err != nil {
			t.Fatalf("AddRule(%s) error = %v", r.ID, err)
		}
	}
	mustAdd(&Rule{
		ID: "broken", Name: "Broken", EventType: event.TypeDataAccess,
		Severity: event.SeverityLow, Priority: 0, Enabled: true, Condition: "always_panics",
	})
	mustAdd(&Rule{
		ID: "working", Name: "Working", EventType: event.TypeDataAccess,
		Severity: event.SeverityLow, Priority: 1, Enabled: true, Condition: "always_true",
	})

	e := &event.SecurityEvent{
		ID:        uuid.New(),
		Type:      event.TypeDataAccess,
		Severity:  event.SeverityLow,
		IPAddress: "203.0.113.7",
		CreatedAt: time.Now().UTC(),
	}
	engine.Evaluate(e, emptyContext())

	if len(notifier.alerts) != 1 || notifier.alerts[0].RuleID != "working" {
		t.Error("a panicking rule should not stop later rules from evaluating")
	}
}

func TestAddRuleRejectsUnknownCondition(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	err := engine.AddRule(&Rule{
		ID: "bad", Name: "Bad", EventType: event.TypeDataAccess,
		Severity: event.SeverityLow, Enabled: true, Condition: "no_such_condition",
	})
	if err == nil {
		t.Error("AddRule should reject rules referencing unknown conditions")
	}
}

func TestListRulesOrdered(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	listed := engine.ListRules()
	if len(listed) != 7 {
		t.Fatalf("ListRules returned %d rules, want 7 defaults", len(listed))
	}
	for i := 1; i < len(listed); i++ {
		if listed[i-1].Priority > listed[i].Priority {
			t.Fatal("rules should be sorted by ascending priority")
		}
	}
	if listed[0].ID != "sql_injection_attempt" {
		t.Errorf("first rule = %q, want sql_injection_attempt (priority 0)", listed[0].ID)
	}
}

func TestRemoveRule(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	if !engine.RemoveRule("xss_attempt") {
		t.Error("RemoveRule should report true for a known rule")
	}
	if engine.RemoveRule("xss_attempt") {
		t.Error("RemoveRule should report false for a removed rule")
	}
	if _, ok := engine.GetRule("xss_attempt"); ok {
		t.Error("removed rule should not be retrievable")
	}
}

func TestReplaceRules(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	err := engine.ReplaceRules([]*Rule{{
		ID: "only", Name: "Only", EventType: event.TypeDataAccess,
		Severity: event.SeverityLow, Enabled: true, Condition: "payload_xss",
	}})
	if err != nil {
		t.Fatalf("ReplaceRules() error = %v", err)
	}
	if got := len(engine.ListRules()); got != 1 {
		t.Errorf("catalog size after replace = %d, want 1", got)
	}

	// A bad set leaves the catalog untouched.
	err = engine.ReplaceRules([]*Rule{{ID: "bad"}})
	if err == nil {
		t.Fatal("ReplaceRules should reject invalid rules")
	}
	if got := len(engine.ListRules()); got != 1 {
		t.Errorf("catalog size after failed replace = %d, want 1", got)
	}
}

func TestParseRulesYAML(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, DefaultThresholds())

	doc := []byte(`
- id: custom_xss
  name: Custom XSS
  event_type: xss_attempt
  severity: high
  priority: 3
  enabled: true
  condition: payload_xss
  response:
    block_ip: true
    block_duration: 1h
    alert_severity: high
    message: XSS detected
`)
	parsed, err := ParseRules(doc, reg)
	if err != nil {
		t.Fatalf("ParseRules() error = %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("parsed %d rules, want 1", len(parsed))
	}
	rule := parsed[0]
	if rule.ID != "custom_xss" || rule.Condition != "payload_xss" {
		t.Errorf("unexpected rule: %+v", rule)
	}
	if !rule.Response.BlockIP || rule.Response.BlockDuration != time.Hour {
		t.Errorf("unexpected response: %+v", rule.Response)
	}

	if _, err := ParseRules([]byte("- id: bad"), reg); err == nil {
		t.Error("ParseRules should reject invalid rule documents")
	}
}
