// Package event defines the canonical security event schema for websentry.
// All recorded events are normalized to this structure before aggregation.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a security-relevant event.
type Type string

const (
	TypeLoginAttempt        Type = "login_attempt"
	TypeLoginFailure        Type = "login_failure"
	TypeLoginSuccess        Type = "login_success"
	TypePasswordReset       Type = "password_reset"
	TypeAccountLockout      Type = "account_lockout"
	TypeSuspiciousActivity  Type = "suspicious_activity"
	TypeDataAccess          Type = "data_access"
	TypePrivilegeEscalation Type = "privilege_escalation"
	TypeAPIAbuse            Type = "api_abuse"
	TypeInjectionAttempt    Type = "injection_attempt"
	TypeXSSAttempt          Type = "xss_attempt"
	TypeCSRFAttempt         Type = "csrf_attempt"
	TypeRateLimitExceeded   Type = "rate_limit_exceeded"
	TypeUnauthorizedAccess  Type = "unauthorized_access"
)

// IsValid checks if the type is a known event type.
func (t Type) IsValid() bool {
	switch t {
	case TypeLoginAttempt, TypeLoginFailure, TypeLoginSuccess,
		TypePasswordReset, TypeAccountLockout, TypeSuspiciousActivity,
		TypeDataAccess, TypePrivilegeEscalation, TypeAPIAbuse,
		TypeInjectionAttempt, TypeXSSAttempt, TypeCSRFAttempt,
		TypeRateLimitExceeded, TypeUnauthorizedAccess:
		return true
	}
	return false
}

// Severity indicates how dangerous an event is on its own.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Weight returns a numeric weight for severity comparisons.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// SeverityFromScore maps a risk score to an alert severity using the
// configured thresholds (20/40/60/80 by default).
func SeverityFromScore(score int, thresholds [4]int) Severity {
	switch {
	case score >= thresholds[3]:
		return SeverityCritical
	case score >= thresholds[2]:
		return SeverityHigh
	case score >= thresholds[1]:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SecurityEvent is an immutable security fact. It is created once at
// ingestion and never mutated; retention is bounded (see store).
type SecurityEvent struct {
	ID          uuid.UUID      `json:"id"`
	Type        Type           `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description,omitempty"`
	IPAddress   string         `json:"ip_address"`
	UserID      string         `json:"user_id,omitempty"`
	Endpoint    string         `json:"endpoint,omitempty"`
	Method      string         `json:"method,omitempty"`
	Payload     string         `json:"payload,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Input is an event as submitted by the surrounding application,
// before an ID and timestamp have been assigned.
type Input struct {
	Type        Type           `json:"type" validate:"required,event_type"`
	Severity    Severity       `json:"severity" validate:"required,oneof=low medium high critical"`
	Description string         `json:"description,omitempty" validate:"max=1024"`
	IPAddress   string         `json:"ip_address" validate:"required,ip"`
	UserID      string         `json:"user_id,omitempty" validate:"max=256"`
	Endpoint    string         `json:"endpoint,omitempty" validate:"max=1024"`
	Method      string         `json:"method,omitempty" validate:"max=16"`
	Payload     string         `json:"payload,omitempty" validate:"max=65536"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// New materializes an input as an immutable event, assigning the ID
// and creation timestamp.
func New(in Input) *SecurityEvent {
	return &SecurityEvent{
		ID:          uuid.New(),
		Type:        in.Type,
		Severity:    in.Severity,
		Description: in.Description,
		IPAddress:   in.IPAddress,
		UserID:      in.UserID,
		Endpoint:    in.Endpoint,
		Method:      in.Method,
		Payload:     in.Payload,
		Metadata:    in.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
}

// MetaString returns a string metadata value, or empty if absent.
func (e *SecurityEvent) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
