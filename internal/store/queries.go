package store

import (
	"sort"
	"time"

	"websentry/internal/event"
)

// Criteria filters events in Search. Zero-valued fields match everything.
type Criteria struct {
	Type      event.Type
	Severity  event.Severity
	IPAddress string
	UserID    string
	Endpoint  string
	Since     time.Time
	Until     time.Time
	Limit     int
}

func (c *Criteria) matches(e *event.SecurityEvent) bool {
	if c.Type != "" && e.Type != c.Type {
		return false
	}
	if c.Severity != "" && e.Severity != c.Severity {
		return false
	}
	if c.IPAddress != "" && e.IPAddress != c.IPAddress {
		return false
	}
	if c.UserID != "" && e.UserID != c.UserID {
		return false
	}
	if c.Endpoint != "" && e.Endpoint != c.Endpoint {
		return false
	}
	if !c.Since.IsZero() && e.CreatedAt.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && e.CreatedAt.After(c.Until) {
		return false
	}
	return true
}

// Search returns events matching all set criteria, oldest first.
func (s *Store) Search(c Criteria) []*event.SecurityEvent {
	s.logMu.RLock()
	defer s.logMu.RUnlock()

	var out []*event.SecurityEvent
	for _, e := range s.events {
		if c.matches(e) {
			out = append(out, e)
		}
	}
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[len(out)-c.Limit:]
	}
	return out
}

// ByType returns events of one type.
func (s *Store) ByType(t event.Type) []*event.SecurityEvent {
	return s.Search(Criteria{Type: t})
}

// ByIP returns events originating from an address.
func (s *Store) ByIP(addr string) []*event.SecurityEvent {
	return s.Search(Criteria{IPAddress: addr})
}

// ByUser returns events referencing a user id.
func (s *Store) ByUser(id string) []*event.SecurityEvent {
	return s.Search(Criteria{UserID: id})
}

// ByTimeRange returns events inside [since, until].
func (s *Store) ByTimeRange(since, until time.Time) []*event.SecurityEvent {
	return s.Search(Criteria{Since: since, Until: until})
}

// BySeverity returns events of one severity.
func (s *Store) BySeverity(sev event.Severity) []*event.SecurityEvent {
	return s.Search(Criteria{Severity: sev})
}

// Recent returns the last n events, oldest first.
func (s *Store) Recent(n int) []*event.SecurityEvent {
	s.logMu.RLock()
	defer s.logMu.RUnlock()

	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	out := make([]*event.SecurityEvent, n)
	copy(out, s.events[len(s.events)-n:])
	return out
}

// EventCount returns the current size of the retained log.
func (s *Store) EventCount() int {
	s.logMu.RLock()
	defer s.logMu.RUnlock()
	return len(s.events)
}

// HighRiskIPs returns IP aggregates with risk at or above the
// threshold, sorted by score descending.
func (s *Store) HighRiskIPs(minScore int) []*IPTracking {
	var out []*IPTracking
	s.forEachIP(func(info *IPTracking) {
		if info.RiskScore >= minScore {
			out = append(out, info.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RiskScore > out[j].RiskScore })
	return out
}

// HighRiskUsers returns user profiles with risk at or above the
// threshold, sorted by score descending.
func (s *Store) HighRiskUsers(minScore int) []*UserProfile {
	var out []*UserProfile
	s.forEachUser(func(profile *UserProfile) {
		if profile.RiskScore >= minScore {
			out = append(out, profile.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RiskScore > out[j].RiskScore })
	return out
}

// AllIPs returns copies of every tracked IP aggregate.
func (s *Store) AllIPs() []*IPTracking {
	var out []*IPTracking
	s.forEachIP(func(info *IPTracking) { out = append(out, info.Clone()) })
	return out
}

// AllUsers returns copies of every tracked user profile.
func (s *Store) AllUsers() []*UserProfile {
	var out []*UserProfile
	s.forEachUser(func(profile *UserProfile) { out = append(out, profile.Clone()) })
	return out
}
