package store

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"websentry/internal/event"
)

// Snapshot is a full copy of the store state for persistence or
// hand-off. Import replaces the receiving store's state in place.
type Snapshot struct {
	ExportedAt time.Time               `json:"exported_at"`
	Events     []*event.SecurityEvent  `json:"events"`
	IPs        map[string]*IPTracking  `json:"ips"`
	Users      map[string]*UserProfile `json:"users"`
}

// Snapshot captures the current state.
func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{
		ExportedAt: time.Now().UTC(),
		Events:     s.Recent(0),
		IPs:        make(map[string]*IPTracking),
		Users:      make(map[string]*UserProfile),
	}
	s.forEachIP(func(info *IPTracking) {
		snap.IPs[info.IPAddress] = info.Clone()
	})
	s.forEachUser(func(profile *UserProfile) {
		snap.Users[profile.UserID] = profile.Clone()
	})
	return snap
}

// Restore replaces the store state with the snapshot contents.
func (s *Store) Restore(snap *Snapshot) {
	s.logMu.Lock()
	s.events = make([]*event.SecurityEvent, 0, len(snap.Events))
	n := len(snap.Events)
	if n > s.config.MaxEvents {
		// Keep the newest events when the snapshot exceeds the cap.
		snap.Events = snap.Events[n-s.config.MaxEvents:]
	}
	s.events = append(s.events, snap.Events...)
	s.logMu.Unlock()

	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.ips = make(map[string]*IPTracking)
		sh.users = make(map[string]*UserProfile)
		sh.mu.Unlock()
	}

	for addr, info := range snap.IPs {
		sh := s.shardFor(addr)
		sh.mu.Lock()
		sh.ips[addr] = info.Clone()
		sh.mu.Unlock()
	}
	for id, profile := range snap.Users {
		sh := s.shardFor("user:" + id)
		sh.mu.Lock()
		sh.users[id] = profile.Clone()
		sh.mu.Unlock()
	}
}

// Export serializes the full store state.
func (s *Store) Export() ([]byte, error) {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// Import replaces the store state from serialized snapshot data.
func (s *Store) Import(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.IPs == nil {
		snap.IPs = make(map[string]*IPTracking)
	}
	if snap.Users == nil {
		snap.Users = make(map[string]*UserProfile)
	}
	s.Restore(&snap)
	return nil
}
