package threat

import (
	"sort"
	"time"

	"websentry/internal/event"
	"websentry/internal/store"
)

// Report is a global threat picture across all tracked entities.
type Report struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	IPAssessments   []*Assessment  `json:"ip_assessments"`
	UserAssessments []*Assessment  `json:"user_assessments"`
	CriticalCount   int            `json:"critical_count"`
	HighRiskCount   int            `json:"high_risk_count"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Patterns        []PatternMatch `json:"patterns,omitempty"`
}

// Deduplicated recommendations are capped so the report stays readable.
const maxReportRecommendations = 20

// GenerateReport assesses every tracked IP and user against the
// recent-event window and ranks both lists by descending score.
func (a *Analyzer) GenerateReport(ips []*store.IPTracking, users []*store.UserProfile, recent []*event.SecurityEvent) *Report {
	report := &Report{GeneratedAt: time.Now().UTC()}

	byIP := make(map[string][]*event.SecurityEvent)
	byUser := make(map[string][]*event.SecurityEvent)
	for _, e := range recent {
		byIP[e.IPAddress] = append(byIP[e.IPAddress], e)
		if e.UserID != "" {
			byUser[e.UserID] = append(byUser[e.UserID], e)
		}
	}

	seen := make(map[string]struct{})
	addRecommendations := func(recs []string) {
		for _, rec := range recs {
			if _, ok := seen[rec]; ok {
				continue
			}
			seen[rec] = struct{}{}
			if len(report.Recommendations) < maxReportRecommendations {
				report.Recommendations = append(report.Recommendations, rec)
			}
		}
	}

	countLevel := func(level RiskLevel) {
		switch level {
		case RiskCritical:
			report.CriticalCount++
		case RiskHigh:
			report.HighRiskCount++
		}
	}

	for _, info := range ips {
		as := a.AnalyzeIP(info, byIP[info.IPAddress])
		report.IPAssessments = append(report.IPAssessments, as)
		addRecommendations(as.Recommendations)
		countLevel(as.Level)
	}
	for _, profile := range users {
		as := a.AnalyzeUser(profile, byUser[profile.UserID])
		report.UserAssessments = append(report.UserAssessments, as)
		addRecommendations(as.Recommendations)
		countLevel(as.Level)
	}

	sort.Slice(report.IPAssessments, func(i, j int) bool {
		return report.IPAssessments[i].Score > report.IPAssessments[j].Score
	})
	sort.Slice(report.UserAssessments, func(i, j int) bool {
		return report.UserAssessments[i].Score > report.UserAssessments[j].Score
	})

	report.Patterns = DetectPatterns(recent)
	return report
}
