package store

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// PurgeExpiredEvents removes events older than the retention window
// from the log. Idempotent and safe to run concurrently with ingestion.
// Returns the number of events removed.
func (s *Store) PurgeExpiredEvents(now time.Time) int {
	cutoff := now.Add(-s.config.EventRetention)

	s.logMu.Lock()
	defer s.logMu.Unlock()

	// Log is append-ordered, so find the first retained index.
	keep := 0
	for keep < len(s.events) && !s.events[keep].CreatedAt.After(cutoff) {
		keep++
	}
	if keep == 0 {
		return 0
	}

	s.events = append(s.events[:0], s.events[keep:]...)
	atomic.AddUint64(&s.purgedEvents, uint64(keep))
	slog.Debug("purged expired events", "removed", keep, "remaining", len(s.events))
	return keep
}

// ExpireLocks unlocks users whose lock expiry has passed, resetting
// the failed counter and reducing risk by 20. Idempotent; each shard
// is held only long enough to update its own keys.
func (s *Store) ExpireLocks(now time.Time) int {
	unlocked := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, profile := range sh.users {
			if profile.Locked && !now.Before(profile.LockedUntil) {
				unlockProfile(profile)
				unlocked++
			}
		}
		sh.mu.Unlock()
	}
	if unlocked > 0 {
		slog.Info("expired user locks", "count", unlocked)
	}
	return unlocked
}

// ExpireBlocks clears IP blocks whose expiry has passed. Idempotent.
func (s *Store) ExpireBlocks(now time.Time) int {
	cleared := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, info := range sh.ips {
			if info.Blocked && !now.Before(info.BlockedUntil) {
				info.Blocked = false
				info.BlockedUntil = time.Time{}
				info.BlockReason = ""
				cleared++
			}
		}
		sh.mu.Unlock()
	}
	if cleared > 0 {
		slog.Info("expired ip blocks", "count", cleared)
	}
	return cleared
}
