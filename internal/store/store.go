package store

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"websentry/internal/event"
)

// Config holds store tuning parameters.
type Config struct {
	MaxEvents      int           // Cap on the retained event log
	EventRetention time.Duration // How long events are kept before purge
	LockDuration   time.Duration // Auto-lock duration after repeated failures
	LockThreshold  int           // Failed attempts before auto-lock
	ShardCount     int           // Aggregate map shards
}

// DefaultConfig returns default store configuration.
func DefaultConfig() Config {
	return Config{
		MaxEvents:      10000,
		EventRetention: 7 * 24 * time.Hour,
		LockDuration:   30 * time.Minute,
		LockThreshold:  5,
		ShardCount:     16,
	}
}

// shard holds a slice of the aggregate tables. Updates for a given key
// always land on the same shard, so per-key mutations are linearized
// while distinct IPs and users proceed in parallel.
type shard struct {
	mu    sync.Mutex
	ips   map[string]*IPTracking
	users map[string]*UserProfile
}

// Store is the append-only event log plus the derived aggregates.
type Store struct {
	config Config
	shards []*shard

	logMu  sync.RWMutex
	events []*event.SecurityEvent

	evictedEvents uint64
	purgedEvents  uint64
}

// New creates a new Store.
func New(config Config) *Store {
	if config.MaxEvents <= 0 {
		config.MaxEvents = 10000
	}
	if config.ShardCount <= 0 {
		config.ShardCount = 16
	}
	if config.LockThreshold <= 0 {
		config.LockThreshold = 5
	}
	if config.LockDuration <= 0 {
		config.LockDuration = 30 * time.Minute
	}
	if config.EventRetention <= 0 {
		config.EventRetention = 7 * 24 * time.Hour
	}

	s := &Store{
		config: config,
		shards: make([]*shard, config.ShardCount),
		events: make([]*event.SecurityEvent, 0, 1024),
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			ips:   make(map[string]*IPTracking),
			users: make(map[string]*UserProfile),
		}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[int(h.Sum32())%len(s.shards)]
}

// Record appends an event and updates the IP and user aggregates. It
// never fails: aggregate updates are applied even if the log is at
// capacity (the oldest event is evicted to make room).
func (s *Store) Record(e *event.SecurityEvent) {
	s.appendEvent(e)
	s.applyIP(e)
	if e.UserID != "" {
		s.applyUser(e)
	}
}

func (s *Store) appendEvent(e *event.SecurityEvent) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	if len(s.events) >= s.config.MaxEvents {
		// Explicit eviction, oldest first.
		drop := len(s.events) - s.config.MaxEvents + 1
		s.events = append(s.events[:0], s.events[drop:]...)
		atomic.AddUint64(&s.evictedEvents, uint64(drop))
	}
	s.events = append(s.events, e)
}

func (s *Store) applyIP(e *event.SecurityEvent) {
	sh := s.shardFor(e.IPAddress)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	info, ok := sh.ips[e.IPAddress]
	if !ok {
		info = &IPTracking{
			IPAddress: e.IPAddress,
			FirstSeen: e.CreatedAt,
		}
		sh.ips[e.IPAddress] = info
	}

	info.LastSeen = e.CreatedAt
	info.RequestCount++

	switch e.Type {
	case event.TypeLoginFailure:
		info.FailedLogins++
		info.RiskScore += 10
	case event.TypeLoginSuccess:
		info.SuccessfulLogins++
		if info.FailedLogins > 0 {
			info.FailedLogins--
		}
		info.RiskScore -= 5
	case event.TypeSuspiciousActivity, event.TypeInjectionAttempt,
		event.TypeXSSAttempt, event.TypeAPIAbuse:
		info.SuspiciousCount++
		info.RiskScore += 25
	case event.TypeUnauthorizedAccess:
		info.RiskScore += 15
	case event.TypeRateLimitExceeded:
		info.RiskScore += 5
	}

	info.RiskScore = clampRisk(info.RiskScore)
}

func (s *Store) applyUser(e *event.SecurityEvent) {
	sh := s.shardFor("user:" + e.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	profile, ok := sh.users[e.UserID]
	if !ok {
		profile = &UserProfile{UserID: e.UserID}
		sh.users[e.UserID] = profile
	}

	switch e.Type {
	case event.TypeLoginSuccess:
		profile.FailedAttempts = 0
		profile.LastLogin = e.CreatedAt
		profile.RiskScore -= 10
		if profile.addKnownIP(e.IPAddress) {
			// Nanosecond precision so the flag identifies this exact login.
			profile.addFlag(fmt.Sprintf("new_location:%s:%s", e.IPAddress, e.CreatedAt.Format(time.RFC3339Nano)))
		}
	case event.TypeLoginFailure:
		profile.FailedAttempts++
		profile.LastFailedLogin = e.CreatedAt
		profile.RiskScore += 15
		if profile.FailedAttempts >= s.config.LockThreshold && !profile.Locked {
			profile.Locked = true
			profile.LockedUntil = e.CreatedAt.Add(s.config.LockDuration)
			profile.addFlag(fmt.Sprintf("auto_locked:%s", e.CreatedAt.Format(time.RFC3339)))
			slog.Warn("user auto-locked after repeated login failures",
				"user_id", e.UserID,
				"failed_attempts", profile.FailedAttempts,
				"locked_until", profile.LockedUntil)
		}
	case event.TypeSuspiciousActivity, event.TypeInjectionAttempt, event.TypeXSSAttempt:
		profile.SuspiciousCount++
		profile.RiskScore += 20
		profile.addFlag(fmt.Sprintf("%s:%s", e.Type, e.CreatedAt.Format(time.RFC3339)))
	case event.TypePrivilegeEscalation:
		profile.RiskScore += 30
		profile.addFlag(fmt.Sprintf("privilege_escalation:%s", e.CreatedAt.Format(time.RFC3339)))
	}

	profile.RiskScore = clampRisk(profile.RiskScore)
}

// IP returns a copy of the aggregate for an address.
func (s *Store) IP(addr string) (*IPTracking, bool) {
	sh := s.shardFor(addr)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	info, ok := sh.ips[addr]
	if !ok {
		return nil, false
	}
	return info.Clone(), true
}

// User returns a copy of the profile for a user id.
func (s *Store) User(id string) (*UserProfile, bool) {
	sh := s.shardFor("user:" + id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	profile, ok := sh.users[id]
	if !ok {
		return nil, false
	}
	return profile.Clone(), true
}

// SetUserMFA records whether the user has MFA enabled.
func (s *Store) SetUserMFA(id string, enabled bool) {
	sh := s.shardFor("user:" + id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	profile, ok := sh.users[id]
	if !ok {
		profile = &UserProfile{UserID: id}
		sh.users[id] = profile
	}
	profile.MFAEnabled = enabled
}

// SetIPGeo records geolocation fields on the IP aggregate.
func (s *Store) SetIPGeo(addr, country, city string) {
	sh := s.shardFor(addr)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	info, ok := sh.ips[addr]
	if !ok {
		info = &IPTracking{IPAddress: addr, FirstSeen: time.Now().UTC()}
		sh.ips[addr] = info
	}
	info.Country = country
	info.City = city
}

// BlockIP marks an IP blocked until the given time. The aggregate is
// created if the IP has never been seen.
func (s *Store) BlockIP(addr string, until time.Time, reason string) {
	sh := s.shardFor(addr)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	info, ok := sh.ips[addr]
	if !ok {
		info = &IPTracking{IPAddress: addr, FirstSeen: time.Now().UTC()}
		sh.ips[addr] = info
	}
	info.Blocked = true
	info.BlockedUntil = until
	info.BlockReason = reason
}

// UnblockIP clears the block flag on an IP.
func (s *Store) UnblockIP(addr string) {
	sh := s.shardFor(addr)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if info, ok := sh.ips[addr]; ok {
		info.Blocked = false
		info.BlockedUntil = time.Time{}
		info.BlockReason = ""
	}
}

// IsIPBlocked reports whether a block is authoritative now. An expired
// block is lazily cleared on the way out.
func (s *Store) IsIPBlocked(addr string, now time.Time) bool {
	sh := s.shardFor(addr)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	info, ok := sh.ips[addr]
	if !ok || !info.Blocked {
		return false
	}
	if now.Before(info.BlockedUntil) {
		return true
	}
	info.Blocked = false
	info.BlockedUntil = time.Time{}
	info.BlockReason = ""
	return false
}

// IsUserLocked reports whether a lock is authoritative now. An expired
// lock is lazily cleared: the failed counter resets and risk drops by 20.
func (s *Store) IsUserLocked(id string, now time.Time) bool {
	sh := s.shardFor("user:" + id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	profile, ok := sh.users[id]
	if !ok || !profile.Locked {
		return false
	}
	if now.Before(profile.LockedUntil) {
		return true
	}
	unlockProfile(profile)
	return false
}

// LockUser locks a user account until the given time.
func (s *Store) LockUser(id string, until time.Time) {
	sh := s.shardFor("user:" + id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	profile, ok := sh.users[id]
	if !ok {
		profile = &UserProfile{UserID: id}
		sh.users[id] = profile
	}
	profile.Locked = true
	profile.LockedUntil = until
}

func unlockProfile(profile *UserProfile) {
	profile.Locked = false
	profile.LockedUntil = time.Time{}
	profile.FailedAttempts = 0
	profile.RiskScore = clampRisk(profile.RiskScore - 20)
}

// forEachIP walks all IP aggregates under shard locks.
func (s *Store) forEachIP(fn func(*IPTracking)) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, info := range sh.ips {
			fn(info)
		}
		sh.mu.Unlock()
	}
}

// forEachUser walks all user profiles under shard locks.
func (s *Store) forEachUser(fn func(*UserProfile)) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, profile := range sh.users {
			fn(profile)
		}
		sh.mu.Unlock()
	}
}

// Context builds the read-only snapshot handed to rule evaluation.
// Aggregates are copied so rules cannot mutate store state.
func (s *Store) Context(recentLimit int) *SecurityContext {
	if recentLimit <= 0 || recentLimit > 1000 {
		recentLimit = 1000
	}
	now := time.Now().UTC()

	ctx := &SecurityContext{
		IPs:         make(map[string]*IPTracking),
		Users:       make(map[string]*UserProfile),
		BlockedIPs:  make(map[string]time.Time),
		LockedUsers: make(map[string]time.Time),
		Now:         now,
	}

	s.forEachIP(func(info *IPTracking) {
		ctx.IPs[info.IPAddress] = info.Clone()
		if info.BlockActive(now) {
			ctx.BlockedIPs[info.IPAddress] = info.BlockedUntil
		}
	})
	s.forEachUser(func(profile *UserProfile) {
		ctx.Users[profile.UserID] = profile.Clone()
		if profile.LockActive(now) {
			ctx.LockedUsers[profile.UserID] = profile.LockedUntil
		}
	})

	ctx.RecentEvents = s.Recent(recentLimit)
	return ctx
}
