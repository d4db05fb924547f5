package rules

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"websentry/internal/event"
)

// Alert records a triggered rule.
type Alert struct {
	ID             uuid.UUID            `json:"id"`
	RuleID         string               `json:"rule_id"`
	RuleName       string               `json:"rule_name"`
	Severity       event.Severity       `json:"severity"`
	Message        string               `json:"message"`
	Event          *event.SecurityEvent `json:"event"`
	CreatedAt      time.Time            `json:"created_at"`
	Acknowledged   bool                 `json:"acknowledged"`
	AcknowledgedBy string               `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time           `json:"acknowledged_at,omitempty"`
	Resolved       bool                 `json:"resolved"`
	ResolvedBy     string               `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time           `json:"resolved_at,omitempty"`
}

// AlertFilter selects alerts in List. Nil pointer fields match everything.
type AlertFilter struct {
	Severity     event.Severity
	RuleID       string
	Acknowledged *bool
	Resolved     *bool
	Since        time.Time
	Limit        int
}

func (f *AlertFilter) matches(a *Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.RuleID != "" && a.RuleID != f.RuleID {
		return false
	}
	if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
		return false
	}
	if f.Resolved != nil && a.Resolved != *f.Resolved {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// AlertManager stores alerts in memory with bounded retention.
type AlertManager struct {
	mu        sync.RWMutex
	alerts    map[uuid.UUID]*Alert
	retention time.Duration
}

// NewAlertManager creates an alert manager with the given retention.
func NewAlertManager(retention time.Duration) *AlertManager {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &AlertManager{
		alerts:    make(map[uuid.UUID]*Alert),
		retention: retention,
	}
}

// Create assigns an id and stores a new alert for a triggered rule.
func (m *AlertManager) Create(rule *Rule, e *event.SecurityEvent, message string) *Alert {
	severity := rule.Response.AlertSeverity
	if severity == "" {
		severity = rule.Severity
	}

	alert := &Alert{
		ID:        uuid.New(),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Severity:  severity,
		Message:   message,
		Event:     e,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.alerts[alert.ID] = alert
	m.mu.Unlock()

	return alert
}

// Get returns an alert by id.
func (m *AlertManager) Get(id uuid.UUID) (*Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	return alert, ok
}

// List returns matching alerts sorted newest first.
func (m *AlertManager) List(filter AlertFilter) []*Alert {
	m.mu.RLock()
	var out []*Alert
	for _, alert := range m.alerts {
		if filter.matches(alert) {
			out = append(out, alert)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Acknowledge marks an alert acknowledged with actor attribution.
// Idempotent: acknowledging twice keeps the first attribution. Returns
// false when the id is unknown.
func (m *AlertManager) Acknowledge(id uuid.UUID, actor string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok {
		return false
	}
	if alert.Acknowledged {
		return true
	}
	now := time.Now().UTC()
	alert.Acknowledged = true
	alert.AcknowledgedBy = actor
	alert.AcknowledgedAt = &now
	return true
}

// Resolve marks an alert resolved with actor attribution. Idempotent;
// false when the id is unknown.
func (m *AlertManager) Resolve(id uuid.UUID, actor string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok {
		return false
	}
	if alert.Resolved {
		return true
	}
	now := time.Now().UTC()
	alert.Resolved = true
	alert.ResolvedBy = actor
	alert.ResolvedAt = &now
	return true
}

// Cleanup removes alerts past the retention window. Idempotent.
func (m *AlertManager) Cleanup(now time.Time) int {
	cutoff := now.Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, alert := range m.alerts {
		if alert.CreatedAt.Before(cutoff) {
			delete(m.alerts, id)
			removed++
		}
	}
	return removed
}

// Export returns every retained alert for snapshotting.
func (m *AlertManager) Export() []*Alert {
	return m.List(AlertFilter{})
}

// Restore replaces the retained alerts with the given set.
func (m *AlertManager) Restore(alerts []*Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts = make(map[uuid.UUID]*Alert, len(alerts))
	for _, alert := range alerts {
		m.alerts[alert.ID] = alert
	}
}

// Count returns the number of retained alerts.
func (m *AlertManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerts)
}
