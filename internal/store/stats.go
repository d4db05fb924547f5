package store

import (
	"sync/atomic"
	"time"
)

// Statistics summarizes the current store state. Computed on demand,
// never cached.
type Statistics struct {
	TotalEvents   int            `json:"total_events"`
	ByType        map[string]int `json:"by_type"`
	BySeverity    map[string]int `json:"by_severity"`
	Last24h       int            `json:"last_24h"`
	LastHour      int            `json:"last_hour"`
	UniqueIPs     int            `json:"unique_ips"`
	UniqueUsers   int            `json:"unique_users"`
	BlockedIPs    int            `json:"blocked_ips"`
	LockedUsers   int            `json:"locked_users"`
	EvictedEvents uint64         `json:"evicted_events"`
	PurgedEvents  uint64         `json:"purged_events"`
}

// Stats computes aggregate counts across the log and both tables.
func (s *Store) Stats() Statistics {
	now := time.Now().UTC()
	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	stats := Statistics{
		ByType:        make(map[string]int),
		BySeverity:    make(map[string]int),
		EvictedEvents: atomic.LoadUint64(&s.evictedEvents),
		PurgedEvents:  atomic.LoadUint64(&s.purgedEvents),
	}

	s.logMu.RLock()
	stats.TotalEvents = len(s.events)
	for _, e := range s.events {
		stats.ByType[string(e.Type)]++
		stats.BySeverity[string(e.Severity)]++
		if e.CreatedAt.After(dayAgo) {
			stats.Last24h++
		}
		if e.CreatedAt.After(hourAgo) {
			stats.LastHour++
		}
	}
	s.logMu.RUnlock()

	s.forEachIP(func(info *IPTracking) {
		stats.UniqueIPs++
		if info.BlockActive(now) {
			stats.BlockedIPs++
		}
	})
	s.forEachUser(func(profile *UserProfile) {
		stats.UniqueUsers++
		if profile.LockActive(now) {
			stats.LockedUsers++
		}
	})

	return stats
}
