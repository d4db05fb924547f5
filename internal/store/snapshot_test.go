package store

import (
	"testing"
	"time"

	"websentry/internal/event"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := New(Config{LockThreshold: 5, LockDuration: 30 * time.Minute})

	for i := 0; i < 5; i++ {
		src.Record(testEvent(event.TypeLoginFailure, "203.0.113.7", "alice"))
	}
	src.Record(testEvent(event.TypeInjectionAttempt, "198.51.100.9", ""))
	src.SetUserMFA("alice", true)
	src.BlockIP("198.51.100.9", time.Now().UTC().Add(time.Hour), "manual")

	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	dst := New(Config{LockThreshold: 5, LockDuration: 30 * time.Minute})
	if err := dst.Import(data); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if got, want := dst.EventCount(), src.EventCount(); got != want {
		t.Errorf("EventCount = %d, want %d", got, want)
	}

	srcIP, _ := src.IP("203.0.113.7")
	dstIP, ok := dst.IP("203.0.113.7")
	if !ok {
		t.Fatal("imported store missing IP aggregate")
	}
	if dstIP.FailedLogins != srcIP.FailedLogins || dstIP.RiskScore != srcIP.RiskScore {
		t.Errorf("IP aggregate mismatch after import: got %+v, want %+v", dstIP, srcIP)
	}

	srcUser, _ := src.User("alice")
	dstUser, ok := dst.User("alice")
	if !ok {
		t.Fatal("imported store missing user profile")
	}
	if dstUser.FailedAttempts != srcUser.FailedAttempts ||
		dstUser.Locked != srcUser.Locked ||
		dstUser.MFAEnabled != srcUser.MFAEnabled {
		t.Errorf("user profile mismatch after import: got %+v, want %+v", dstUser, srcUser)
	}

	if !dst.IsIPBlocked("198.51.100.9", time.Now().UTC()) {
		t.Error("block state should survive the round trip")
	}
	if !dst.IsUserLocked("alice", time.Now().UTC()) {
		t.Error("lock state should survive the round trip")
	}
}

func TestImportCapsEvents(t *testing.T) {
	src := New(Config{MaxEvents: 100})
	for i := 0; i < 50; i++ {
		src.Record(testEvent(event.TypeDataAccess, "203.0.113.7", ""))
	}
	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	dst := New(Config{MaxEvents: 10})
	if err := dst.Import(data); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if got := dst.EventCount(); got != 10 {
		t.Errorf("EventCount = %d, want cap 10", got)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	s := New(DefaultConfig())
	if err := s.Import([]byte("not json")); err == nil {
		t.Error("Import should reject malformed data")
	}
}

func TestImportReplacesExistingState(t *testing.T) {
	src := New(DefaultConfig())
	src.Record(testEvent(event.TypeLoginFailure, "203.0.113.7", "alice"))
	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	dst := New(DefaultConfig())
	dst.Record(testEvent(event.TypeLoginFailure, "192.0.2.1", "bob"))
	if err := dst.Import(data); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if _, ok := dst.IP("192.0.2.1"); ok {
		t.Error("pre-import aggregates should be replaced")
	}
	if _, ok := dst.User("bob"); ok {
		t.Error("pre-import profiles should be replaced")
	}
	if _, ok := dst.User("alice"); !ok {
		t.Error("imported profiles should be present")
	}
}
