package rules

import (
	"time"

	"websentry/internal/event"
)

// DefaultRules returns the starter rule set. Priorities are evaluated
// ascending; conditions reference the built-in registry.
func DefaultRules(defaultBlock time.Duration) []*Rule {
	if defaultBlock <= 0 {
		defaultBlock = time.Hour
	}

	return []*Rule{
		{
			ID:          "sql_injection_attempt",
			Name:        "SQL Injection Attempt",
			Description: "Request payload carries a SQL injection marker",
			EventType:   event.TypeInjectionAttempt,
			Severity:    event.SeverityCritical,
			Priority:    0,
			Enabled:     true,
			Condition:   "payload_sql_injection",
			Response: Response{
				BlockIP:       true,
				BlockDuration: 2 * time.Hour,
				AlertSeverity: event.SeverityCritical,
				Message:       "SQL injection attempt detected",
			},
		},
		{
			ID:          "xss_attempt",
			Name:        "Cross-Site Scripting Attempt",
			Description: "Request payload carries an XSS marker",
			EventType:   event.TypeXSSAttempt,
			Severity:    event.SeverityHigh,
			Priority:    1,
			Enabled:     true,
			Condition:   "payload_xss",
			Response: Response{
				BlockIP:       true,
				BlockDuration: time.Hour,
				AlertSeverity: event.SeverityHigh,
				Message:       "XSS attempt detected",
			},
		},
		{
			ID:          "brute_force_ip",
			Name:        "Brute Force from IP",
			Description: "Too many failed logins from one address",
			EventType:   event.TypeLoginFailure,
			Severity:    event.SeverityHigh,
			Priority:    1,
			Enabled:     true,
			Condition:   "ip_failed_logins",
			Response: Response{
				BlockIP:       true,
				BlockDuration: defaultBlock,
				AlertSeverity: event.SeverityHigh,
				Message:       "Brute force login attack detected",
			},
		},
		{
			ID:          "account_enumeration",
			Name:        "Account Enumeration",
			Description: "Many distinct user ids attempted from one address",
			EventType:   event.TypeLoginFailure,
			Severity:    event.SeverityHigh,
			Priority:    1,
			Enabled:     true,
			Condition:   "account_enumeration",
			Response: Response{
				BlockIP:       true,
				BlockDuration: time.Hour,
				AlertSeverity: event.SeverityHigh,
				Message:       "Account enumeration detected",
			},
		},
		{
			ID:          "api_abuse_flood",
			Name:        "API Abuse Flood",
			Description: "Request flood from one address",
			EventType:   event.TypeAPIAbuse,
			Severity:    event.SeverityHigh,
			Priority:    1,
			Enabled:     true,
			Condition:   "api_flood",
			Response: Response{
				BlockIP:       true,
				BlockDuration: 30 * time.Minute,
				AlertSeverity: event.SeverityHigh,
				Message:       "API rate abuse detected",
			},
		},
		{
			ID:          "privilege_escalation_attempt",
			Name:        "Privilege Escalation Attempt",
			Description: "Admin endpoint touched by a non-admin caller",
			EventType:   event.TypePrivilegeEscalation,
			Severity:    event.SeverityMedium,
			Priority:    1,
			Enabled:     true,
			Condition:   "admin_endpoint_non_admin",
			Response: Response{
				AlertSeverity: event.SeverityMedium,
				Message:       "Privilege escalation attempt on admin endpoint",
			},
		},
		{
			ID:          "new_location_login",
			Name:        "New Location Login",
			Description: "Successful login from an address the user has not used before",
			EventType:   event.TypeLoginSuccess,
			Severity:    event.SeverityMedium,
			Priority:    2,
			Enabled:     true,
			Condition:   "unknown_login_location",
			Response: Response{
				AlertSeverity: event.SeverityMedium,
				Message:       "Login from new location",
			},
		},
	}
}
