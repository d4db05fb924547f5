package store

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"websentry/internal/event"
)

func TestPurgeExpiredEvents(t *testing.T) {
	s := New(Config{EventRetention: 24 * time.Hour})
	now := time.Now().UTC()

	ages := []time.Duration{48 * time.Hour, 25 * time.Hour, 12 * time.Hour, time.Hour}
	for _, age := range ages {
		s.Record(&event.SecurityEvent{
			ID:        uuid.New(),
			Type:      event.TypeDataAccess,
			Severity:  event.SeverityLow,
			IPAddress: "203.0.113.7",
			CreatedAt: now.Add(-age),
		})
	}

	if removed := s.PurgeExpiredEvents(now); removed != 2 {
		t.Errorf("PurgeExpiredEvents removed %d, want 2", removed)
	}
	if got := s.EventCount(); got != 2 {
		t.Errorf("EventCount after purge = %d, want 2", got)
	}

	// Second pass is a no-op.
	if removed := s.PurgeExpiredEvents(now); removed != 0 {
		t.Errorf("second PurgeExpiredEvents removed %d, want 0", removed)
	}
	if got := s.Stats().PurgedEvents; got != 2 {
		t.Errorf("PurgedEvents counter = %d, want 2", got)
	}
}

func TestExpireLocks(t *testing.T) {
	s := New(Config{LockThreshold: 5, LockDuration: 30 * time.Minute})
	now := time.Now().UTC()

	s.LockUser("alice", now.Add(-time.Minute))
	s.LockUser("bob", now.Add(time.Hour))

	if unlocked := s.ExpireLocks(now); unlocked != 1 {
		t.Errorf("ExpireLocks unlocked %d, want 1", unlocked)
	}
	if s.IsUserLocked("alice", now) {
		t.Error("alice's expired lock should be lifted")
	}
	if !s.IsUserLocked("bob", now) {
		t.Error("bob's lock should still hold")
	}

	// Idempotent.
	if unlocked := s.ExpireLocks(now); unlocked != 0 {
		t.Errorf("second ExpireLocks unlocked %d, want 0", unlocked)
	}
}

func TestExpireBlocks(t *testing.T) {
	s := New(DefaultConfig())
	now := time.Now().UTC()

	s.BlockIP("203.0.113.7", now.Add(-time.Minute), "stale")
	s.BlockIP("198.51.100.9", now.Add(time.Hour), "fresh")

	if cleared := s.ExpireBlocks(now); cleared != 1 {
		t.Errorf("ExpireBlocks cleared %d, want 1", cleared)
	}
	if s.IsIPBlocked("203.0.113.7", now) {
		t.Error("expired block should be lifted")
	}
	if !s.IsIPBlocked("198.51.100.9", now) {
		t.Error("active block should still hold")
	}

	if cleared := s.ExpireBlocks(now); cleared != 0 {
		t.Errorf("second ExpireBlocks cleared %d, want 0", cleared)
	}
}
