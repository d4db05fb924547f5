package monitor

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"websentry/internal/rules"
	"websentry/internal/store"
)

// snapshot is the full serialized state of the monitor: the event log
// with its aggregates, plus the alert history and the rule catalog.
type snapshot struct {
	ExportedAt time.Time       `json:"exportedAt"`
	Store      *store.Snapshot `json:"store"`
	Alerts     []*rules.Alert  `json:"alerts"`
	Rules      []*rules.Rule   `json:"rules"`
}

// Export serializes the monitor's complete state to JSON. Importing
// the result into a fresh monitor reproduces the same aggregates,
// alerts and rules.
func (m *Monitor) Export() ([]byte, error) {
	snap := snapshot{
		ExportedAt: time.Now().UTC(),
		Store:      m.store.Snapshot(),
		Alerts:     m.alerts.Export(),
		Rules:      m.engine.ListRules(),
	}

	data, err := json.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("failed to export monitor state: %w", err)
	}
	return data, nil
}

// Import replaces the monitor's state with a previously exported
// snapshot. Rules are validated against the condition registry before
// anything is replaced; a snapshot referencing unknown conditions is
// rejected whole.
func (m *Monitor) Import(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse monitor snapshot: %w", err)
	}
	if snap.Store == nil {
		return fmt.Errorf("monitor snapshot has no store state")
	}

	if err := m.engine.ReplaceRules(snap.Rules); err != nil {
		return fmt.Errorf("failed to restore rules: %w", err)
	}
	m.store.Restore(snap.Store)
	m.alerts.Restore(snap.Alerts)
	return nil
}
