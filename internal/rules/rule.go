// Package rules provides the detection rule engine: an ordered catalog
// of per-event-type rules with named conditions and bounded responses.
package rules

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"websentry/internal/event"
)

// Rule is a plain, serializable rule definition. The condition is a
// reference to a named evaluator in the registry, so rules can be
// loaded from configuration and tested in isolation from the engine.
type Rule struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	EventType   event.Type     `yaml:"event_type" json:"event_type"`
	Severity    event.Severity `yaml:"severity" json:"severity"`
	Priority    int            `yaml:"priority" json:"priority"` // Lower evaluates first
	Enabled     bool           `yaml:"enabled" json:"enabled"`
	Condition   string         `yaml:"condition" json:"condition"` // Registered evaluator name
	Response    Response       `yaml:"response" json:"response"`
}

// Response describes the side effects taken when a rule fires.
type Response struct {
	BlockIP       bool           `yaml:"block_ip" json:"block_ip"`
	BlockDuration time.Duration  `yaml:"block_duration,omitempty" json:"block_duration,omitempty"`
	AlertSeverity event.Severity `yaml:"alert_severity" json:"alert_severity"`
	Message       string         `yaml:"message" json:"message"`
}

// Validate checks the rule definition against the registry.
func (r *Rule) Validate(reg *Registry) error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !r.EventType.IsValid() {
		return fmt.Errorf("unknown event type: %s", r.EventType)
	}
	if r.Severity != "" && !r.Severity.IsValid() {
		return fmt.Errorf("unknown severity: %s", r.Severity)
	}
	if r.Condition == "" {
		return fmt.Errorf("rule condition is required")
	}
	if reg != nil && !reg.Has(r.Condition) {
		return fmt.Errorf("unknown condition: %s", r.Condition)
	}
	if r.Response.AlertSeverity != "" && !r.Response.AlertSeverity.IsValid() {
		return fmt.Errorf("unknown alert severity: %s", r.Response.AlertSeverity)
	}
	return nil
}

// ParseRules parses rule definitions from YAML bytes.
func ParseRules(data []byte, reg *Registry) ([]*Rule, error) {
	var rules []*Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	for i, rule := range rules {
		if err := rule.Validate(reg); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return rules, nil
}
