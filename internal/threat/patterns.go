// Package threat computes point-in-time risk assessments for tracked
// IPs and users from their aggregates and a recent-event window. All
// functions are pure: nothing here mutates store state.
package threat

import (
	"websentry/internal/event"
)

// AttackPattern is a static catalog entry describing a known attack
// technique. Used to explain detections, not to perform them.
type AttackPattern struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Severity   event.Severity `json:"severity"`
	Indicators []string       `json:"indicators"`
	Mitigation string         `json:"mitigation"`
}

// Catalog is the built-in attack pattern reference data.
var Catalog = map[string]AttackPattern{
	"brute_force": {
		ID:         "brute_force",
		Name:       "Brute Force Attack",
		Severity:   event.SeverityHigh,
		Indicators: []string{"repeated login failures", "single source address", "short intervals"},
		Mitigation: "Block the source address and enforce progressive login delays",
	},
	"sql_injection": {
		ID:         "sql_injection",
		Name:       "SQL Injection",
		Severity:   event.SeverityCritical,
		Indicators: []string{"SQL keywords in payloads", "quote and comment sequences", "schema probing"},
		Mitigation: "Block the source address and audit parameterized query coverage",
	},
	"xss": {
		ID:         "xss",
		Name:       "Cross-Site Scripting",
		Severity:   event.SeverityHigh,
		Indicators: []string{"script tags in payloads", "event handler attributes", "javascript URIs"},
		Mitigation: "Block the source address and verify output encoding",
	},
	"ddos": {
		ID:         "ddos",
		Name:       "Denial of Service",
		Severity:   event.SeverityCritical,
		Indicators: []string{"abnormal request volume", "many sources or one flooding source"},
		Mitigation: "Enable emergency rate limits and upstream filtering",
	},
	"account_takeover": {
		ID:         "account_takeover",
		Name:       "Account Takeover",
		Severity:   event.SeverityCritical,
		Indicators: []string{"login from new locations", "credential stuffing", "post-login privilege probing"},
		Mitigation: "Force password reset, require MFA, review account activity",
	},
}

// PatternMatch is a detected attack pattern in an event window.
type PatternMatch struct {
	Pattern AttackPattern `json:"pattern"`
	Count   int           `json:"count"`
}

// Window size beyond which the event volume itself is treated as a
// denial-of-service indicator.
const ddosEventThreshold = 1000

// DetectPatterns inspects a recent-event window for known patterns.
func DetectPatterns(window []*event.SecurityEvent) []PatternMatch {
	var matches []PatternMatch

	loginFailures := 0
	injections := 0
	xssProbes := 0
	for _, e := range window {
		switch e.Type {
		case event.TypeLoginFailure:
			loginFailures++
		case event.TypeInjectionAttempt:
			injections++
		case event.TypeXSSAttempt:
			xssProbes++
		}
	}

	if loginFailures > 10 {
		matches = append(matches, PatternMatch{Pattern: Catalog["brute_force"], Count: loginFailures})
	}
	if injections > 0 {
		matches = append(matches, PatternMatch{Pattern: Catalog["sql_injection"], Count: injections})
	}
	if xssProbes > 0 {
		matches = append(matches, PatternMatch{Pattern: Catalog["xss"], Count: xssProbes})
	}
	if len(window) > ddosEventThreshold {
		matches = append(matches, PatternMatch{Pattern: Catalog["ddos"], Count: len(window)})
	}

	return matches
}

// patternRiskWeight maps a detected pattern's severity to the risk it
// contributes to an assessment.
func patternRiskWeight(sev event.Severity) int {
	switch sev {
	case event.SeverityCritical:
		return 40
	case event.SeverityHigh:
		return 25
	case event.SeverityMedium:
		return 15
	default:
		return 5
	}
}
