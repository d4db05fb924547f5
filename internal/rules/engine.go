package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"websentry/internal/event"
	"websentry/internal/store"
)

// Blocker applies an IP block to the aggregate state.
type Blocker interface {
	BlockIP(addr string, until time.Time, reason string)
}

// Notifier delivers an alert outward. Must never block; delivery is
// best-effort and failures stay inside the notifier.
type Notifier interface {
	Notify(alert *Alert)
}

// BlockPersister records an applied block outside the process so it
// survives restarts. Best-effort; the engine invokes it on its own
// goroutine, so implementations carry their own timeout and absorb
// failures.
type BlockPersister interface {
	PersistBlock(addr string, until time.Time, reason string)
}

// Engine holds the rule catalog and evaluates incoming events.
type Engine struct {
	mu       sync.RWMutex
	rules    map[string]*Rule
	registry *Registry

	blocker   Blocker
	alerts    *AlertManager
	notifier  Notifier
	persister BlockPersister

	defaultBlock time.Duration
}

// NewEngine creates a rule engine. Notifier and persister may be nil,
// in which case the corresponding side effects are skipped.
func NewEngine(registry *Registry, blocker Blocker, alerts *AlertManager, notifier Notifier, persister BlockPersister, defaultBlock time.Duration) *Engine {
	if defaultBlock <= 0 {
		defaultBlock = time.Hour
	}
	return &Engine{
		rules:        make(map[string]*Rule),
		registry:     registry,
		blocker:      blocker,
		alerts:       alerts,
		notifier:     notifier,
		persister:    persister,
		defaultBlock: defaultBlock,
	}
}

// AddRule adds or replaces a rule by id.
func (e *Engine) AddRule(rule *Rule) error {
	if err := rule.Validate(e.registry); err != nil {
		return err
	}

	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.mu.Unlock()

	slog.Info("added detection rule", "rule_id", rule.ID, "event_type", rule.EventType, "priority", rule.Priority)
	return nil
}

// RemoveRule removes a rule by id. Returns false when unknown.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return false
	}
	delete(e.rules, id)
	return true
}

// SetEnabled flips a rule's enabled flag. Returns false when unknown.
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return false
	}
	rule.Enabled = enabled
	return true
}

// ReplaceRules swaps the whole catalog for the given set. Every rule
// must validate; on any failure the existing catalog is left untouched.
func (e *Engine) ReplaceRules(rules []*Rule) error {
	next := make(map[string]*Rule, len(rules))
	for _, rule := range rules {
		if err := rule.Validate(e.registry); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
		next[rule.ID] = rule
	}

	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()

	slog.Info("replaced rule catalog", "rules", len(next))
	return nil
}

// GetRule returns a rule by id.
func (e *Engine) GetRule(id string) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[id]
	return rule, ok
}

// ListRules returns all rules sorted by ascending priority, then id.
func (e *Engine) ListRules() []*Rule {
	e.mu.RLock()
	out := make([]*Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, rule)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Alerts exposes the alert manager.
func (e *Engine) Alerts() *AlertManager {
	return e.alerts
}

// Evaluate runs all enabled rules bound to the event's type in
// ascending priority order. A failing rule is logged and skipped;
// evaluation always continues to the next rule.
func (e *Engine) Evaluate(ev *event.SecurityEvent, ctx *store.SecurityContext) {
	e.mu.RLock()
	matching := make([]*Rule, 0, 4)
	for _, rule := range e.rules {
		if rule.Enabled && rule.EventType == ev.Type {
			matching = append(matching, rule)
		}
	}
	e.mu.RUnlock()

	sort.Slice(matching, func(i, j int) bool {
		if matching[i].Priority != matching[j].Priority {
			return matching[i].Priority < matching[j].Priority
		}
		return matching[i].ID < matching[j].ID
	})

	for _, rule := range matching {
		e.evaluateRule(rule, ev, ctx)
	}
}

// evaluateRule runs one rule with panic isolation.
func (e *Engine) evaluateRule(rule *Rule, ev *event.SecurityEvent, ctx *store.SecurityContext) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("rule evaluation failed",
				"rule_id", rule.ID,
				"event_id", ev.ID,
				"panic", fmt.Sprintf("%v", r))
		}
	}()

	cond, ok := e.registry.Get(rule.Condition)
	if !ok {
		slog.Error("rule references unknown condition", "rule_id", rule.ID, "condition", rule.Condition)
		return
	}

	if !cond(ev, ctx) {
		return
	}

	slog.Info("detection rule fired",
		"rule_id", rule.ID,
		"event_id", ev.ID,
		"event_type", ev.Type,
		"ip", ev.IPAddress)

	e.respond(rule, ev, ctx)
}

// respond executes the rule's side effects: the block (at most once
// per evaluation pass for a given IP) and the alert.
func (e *Engine) respond(rule *Rule, ev *event.SecurityEvent, ctx *store.SecurityContext) {
	if rule.Response.BlockIP && e.blocker != nil {
		if _, alreadyBlocked := ctx.BlockedIPs[ev.IPAddress]; !alreadyBlocked {
			duration := rule.Response.BlockDuration
			if duration <= 0 {
				duration = e.defaultBlock
			}
			until := ctx.Now.Add(duration)
			reason := fmt.Sprintf("rule:%s", rule.ID)

			e.blocker.BlockIP(ev.IPAddress, until, reason)
			ctx.BlockedIPs[ev.IPAddress] = until

			if e.persister != nil {
				// Outbound write; the evaluation pass never waits on it.
				go e.persister.PersistBlock(ev.IPAddress, until, reason)
			}

			slog.Warn("ip blocked",
				"ip", ev.IPAddress,
				"until", until,
				"rule_id", rule.ID)
		}
	}

	if e.alerts != nil {
		message := rule.Response.Message
		if message == "" {
			message = rule.Name
		}
		alert := e.alerts.Create(rule, ev, fmt.Sprintf("%s (ip=%s)", message, ev.IPAddress))
		if e.notifier != nil {
			e.notifier.Notify(alert)
		}
	}
}
