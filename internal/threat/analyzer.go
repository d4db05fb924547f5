package threat

import (
	"fmt"
	"strings"
	"time"

	"websentry/internal/event"
	"websentry/internal/store"
)

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// LevelFromScore derives the risk level from score thresholds 80/60/30.
func LevelFromScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Assessment is a computed, point-in-time threat picture for one
// entity. Never stored.
type Assessment struct {
	Subject          string         `json:"subject"`
	Kind             string         `json:"kind"` // "ip" or "user"
	Level            RiskLevel      `json:"level"`
	Severity         event.Severity `json:"severity"`
	Score            int            `json:"score"`
	Factors          []string       `json:"factors,omitempty"`
	Recommendations  []string       `json:"recommendations,omitempty"`
	ImmediateActions []string       `json:"immediate_actions,omitempty"`
	Patterns         []PatternMatch `json:"patterns,omitempty"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// Analyzer scores IPs and users. Stateless apart from the injected
// geolocation policy and the alert-severity score thresholds.
type Analyzer struct {
	geo         GeoClassifier
	alertScores [4]int
}

// NewAnalyzer creates an analyzer with the given geolocation policy
// and alert-severity score thresholds. A nil classifier disables
// geolocation scoring; zero thresholds fall back to 20/40/60/80.
func NewAnalyzer(geo GeoClassifier, alertScores [4]int) *Analyzer {
	if geo == nil {
		geo = NoopGeoClassifier{}
	}
	if alertScores == ([4]int{}) {
		alertScores = [4]int{20, 40, 60, 80}
	}
	return &Analyzer{geo: geo, alertScores: alertScores}
}

// AnalyzeIP computes a threat assessment for an IP aggregate given a
// recent-event window for that address.
func (a *Analyzer) AnalyzeIP(info *store.IPTracking, window []*event.SecurityEvent) *Assessment {
	now := time.Now().UTC()
	as := &Assessment{
		Subject:     info.IPAddress,
		Kind:        "ip",
		GeneratedAt: now,
	}

	score := info.RiskScore
	as.Factors = append(as.Factors, fmt.Sprintf("stored risk score %d", info.RiskScore))

	if info.FailedLogins > 10 {
		score += 20
		as.Factors = append(as.Factors, fmt.Sprintf("%d failed logins", info.FailedLogins))
		as.Recommendations = append(as.Recommendations, "Enforce progressive delays on login attempts from this address")
		if info.FailedLogins > 20 {
			as.ImmediateActions = append(as.ImmediateActions, "Block this address now")
		}
	}

	if info.SuspiciousCount > 5 {
		score += 25
		as.Factors = append(as.Factors, fmt.Sprintf("%d suspicious activities", info.SuspiciousCount))
		if info.SuspiciousCount > 10 {
			as.ImmediateActions = append(as.ImmediateActions, "Add this address to the active monitoring list")
		}
	}

	if rate := requestsPerMinute(window, now); rate > 100 {
		score += 15
		as.Factors = append(as.Factors, fmt.Sprintf("request rate %d/min", rate))
		if rate > 500 {
			as.ImmediateActions = append(as.ImmediateActions, "Apply emergency rate limiting")
		}
	}

	switch a.geo.Classify(info.Country) {
	case GeoRiskHigh:
		score += 20
		as.Factors = append(as.Factors, fmt.Sprintf("high-risk geolocation %s", info.Country))
	case GeoRiskMedium:
		score += 10
		as.Factors = append(as.Factors, fmt.Sprintf("medium-risk geolocation %s", info.Country))
	}

	as.Patterns = DetectPatterns(window)
	for _, match := range as.Patterns {
		score += patternRiskWeight(match.Pattern.Severity)
		as.Factors = append(as.Factors, fmt.Sprintf("attack pattern: %s", match.Pattern.Name))
	}

	as.Score = clamp(score)
	as.Level = LevelFromScore(as.Score)
	as.Severity = event.SeverityFromScore(as.Score, a.alertScores)
	return as
}

// AnalyzeUser computes a threat assessment for a user profile given a
// recent-event window for that user.
func (a *Analyzer) AnalyzeUser(profile *store.UserProfile, window []*event.SecurityEvent) *Assessment {
	now := time.Now().UTC()
	as := &Assessment{
		Subject:     profile.UserID,
		Kind:        "user",
		GeneratedAt: now,
	}

	score := profile.RiskScore
	as.Factors = append(as.Factors, fmt.Sprintf("stored risk score %d", profile.RiskScore))

	if profile.FailedAttempts > 3 {
		score += 15
		as.Factors = append(as.Factors, fmt.Sprintf("%d failed login attempts", profile.FailedAttempts))
		if profile.FailedAttempts > 10 {
			as.Recommendations = append(as.Recommendations, "Lock this account pending review")
		}
	}

	if profile.SuspiciousCount > 3 {
		score += 20
		as.Factors = append(as.Factors, fmt.Sprintf("%d suspicious activities", profile.SuspiciousCount))
		if profile.SuspiciousCount > 8 {
			as.Recommendations = append(as.Recommendations, "Queue this account for manual review")
		}
	}

	dayAgo := now.Add(-24 * time.Hour)
	if newLocations := countFlags(profile.SecurityFlags, "new_location:", dayAgo); newLocations > 0 {
		score += 10 * newLocations
		as.Factors = append(as.Factors, fmt.Sprintf("%d new login locations", newLocations))
		if newLocations > 3 {
			as.Recommendations = append(as.Recommendations, "Require MFA on next login")
		}
	}

	if flags := countFlags(profile.SecurityFlags, "", dayAgo); flags > 5 {
		score += 25
		as.Factors = append(as.Factors, fmt.Sprintf("%d security flags in 24h", flags))
		as.ImmediateActions = append(as.ImmediateActions, "Escalate to the security team")
	}

	for _, indicator := range compromiseIndicators(window) {
		score += 30
		as.Factors = append(as.Factors, indicator)
		as.Recommendations = append(as.Recommendations, "Force a password reset and suspend the account")
	}

	if !profile.MFAEnabled {
		score += 10
		as.Factors = append(as.Factors, "MFA disabled")
		as.Recommendations = append(as.Recommendations, "Enable MFA for this account")
	}

	as.Patterns = DetectPatterns(window)
	as.Score = clamp(score)
	as.Level = LevelFromScore(as.Score)
	as.Severity = event.SeverityFromScore(as.Score, a.alertScores)
	return as
}

// compromiseIndicators finds signs an account may already be under an
// attacker's control.
func compromiseIndicators(window []*event.SecurityEvent) []string {
	var indicators []string
	dataAccess := 0
	privEsc := 0
	apiAbuse := 0

	for _, e := range window {
		switch e.Type {
		case event.TypeDataAccess:
			dataAccess++
		case event.TypePrivilegeEscalation:
			privEsc++
		case event.TypeAPIAbuse:
			apiAbuse++
		}
	}

	if privEsc > 0 {
		indicators = append(indicators, fmt.Sprintf("%d privilege escalation events", privEsc))
	}
	if dataAccess > 50 {
		indicators = append(indicators, fmt.Sprintf("%d data access events", dataAccess))
	}
	if apiAbuse > 0 {
		indicators = append(indicators, fmt.Sprintf("%d api abuse events", apiAbuse))
	}
	return indicators
}

// countFlags counts security flags with the given prefix whose
// embedded timestamp falls after the cutoff. Flags without a parseable
// timestamp are counted regardless, so malformed entries are never
// silently ignored.
func countFlags(flags []string, prefix string, cutoff time.Time) int {
	count := 0
	for _, flag := range flags {
		if prefix != "" && !strings.HasPrefix(flag, prefix) {
			continue
		}
		ts, ok := flagTimestamp(flag)
		if !ok || ts.After(cutoff) {
			count++
		}
	}
	return count
}

// flagTimestamp extracts the RFC3339 timestamp a flag ends with. Flags
// look like "name:timestamp" or "new_location:ip:timestamp", and both
// the timestamp and an IPv6 address can contain colons, so each colon
// boundary is tried in turn.
func flagTimestamp(flag string) (time.Time, bool) {
	for i := strings.IndexByte(flag, ':'); i >= 0; {
		if ts, err := time.Parse(time.RFC3339, flag[i+1:]); err == nil {
			return ts, true
		}
		next := strings.IndexByte(flag[i+1:], ':')
		if next < 0 {
			break
		}
		i += 1 + next
	}
	return time.Time{}, false
}

func requestsPerMinute(window []*event.SecurityEvent, now time.Time) int {
	cutoff := now.Add(-time.Minute)
	count := 0
	for _, e := range window {
		if e.CreatedAt.After(cutoff) {
			count++
		}
	}
	return count
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
