// Package store maintains the security event log and the per-IP and
// per-user aggregates derived from it.
package store

import (
	"time"

	"websentry/internal/event"
)

// IPTracking is the mutable aggregate kept for every IP address that
// has produced at least one event. Risk is always clamped to [0,100].
type IPTracking struct {
	IPAddress        string    `json:"ip_address"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	RequestCount     int       `json:"request_count"`
	FailedLogins     int       `json:"failed_logins"`
	SuccessfulLogins int       `json:"successful_logins"`
	SuspiciousCount  int       `json:"suspicious_count"`
	RiskScore        int       `json:"risk_score"`
	Blocked          bool      `json:"blocked"`
	BlockedUntil     time.Time `json:"blocked_until,omitempty"`
	BlockReason      string    `json:"block_reason,omitempty"`
	Country          string    `json:"country,omitempty"`
	City             string    `json:"city,omitempty"`
}

// BlockActive reports whether a block is authoritative at the given time.
func (ip *IPTracking) BlockActive(now time.Time) bool {
	return ip.Blocked && now.Before(ip.BlockedUntil)
}

// Clone returns a deep copy safe to hand out of the store.
func (ip *IPTracking) Clone() *IPTracking {
	c := *ip
	return &c
}

// Caps on the bounded lists kept per user. Eviction is explicit:
// oldest entries are removed when the cap is reached.
const (
	MaxKnownIPs      = 10
	MaxSecurityFlags = 50
)

// UserProfile is the mutable aggregate kept for every user id that has
// appeared on an event.
type UserProfile struct {
	UserID          string    `json:"user_id"`
	LastLogin       time.Time `json:"last_login,omitempty"`
	LastFailedLogin time.Time `json:"last_failed_login,omitempty"`
	FailedAttempts  int       `json:"failed_attempts"`
	Locked          bool      `json:"locked"`
	LockedUntil     time.Time `json:"locked_until,omitempty"`
	SuspiciousCount int       `json:"suspicious_count"`
	RiskScore       int       `json:"risk_score"`
	KnownIPs        []string  `json:"known_ips,omitempty"`
	SecurityFlags   []string  `json:"security_flags,omitempty"`
	MFAEnabled      bool      `json:"mfa_enabled"`
}

// LockActive reports whether a lock is authoritative at the given time.
func (u *UserProfile) LockActive(now time.Time) bool {
	return u.Locked && now.Before(u.LockedUntil)
}

// KnowsIP reports whether the IP is in the user's known-IP list.
func (u *UserProfile) KnowsIP(ip string) bool {
	for _, known := range u.KnownIPs {
		if known == ip {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of the store.
func (u *UserProfile) Clone() *UserProfile {
	c := *u
	c.KnownIPs = append([]string(nil), u.KnownIPs...)
	c.SecurityFlags = append([]string(nil), u.SecurityFlags...)
	return &c
}

// addKnownIP appends a new IP, evicting the oldest entry when the cap
// is reached. Returns true if the IP was not previously known.
func (u *UserProfile) addKnownIP(ip string) bool {
	if u.KnowsIP(ip) {
		return false
	}
	if len(u.KnownIPs) >= MaxKnownIPs {
		u.KnownIPs = u.KnownIPs[1:]
	}
	u.KnownIPs = append(u.KnownIPs, ip)
	return true
}

// addFlag appends a security flag, evicting FIFO past the cap.
func (u *UserProfile) addFlag(flag string) {
	if len(u.SecurityFlags) >= MaxSecurityFlags {
		u.SecurityFlags = u.SecurityFlags[1:]
	}
	u.SecurityFlags = append(u.SecurityFlags, flag)
}

// SecurityContext is the read-only consistency snapshot handed to every
// rule evaluation. It is built fresh from the store so a rule never
// observes state older than the event it evaluates.
type SecurityContext struct {
	IPs          map[string]*IPTracking
	Users        map[string]*UserProfile
	RecentEvents []*event.SecurityEvent
	BlockedIPs   map[string]time.Time
	LockedUsers  map[string]time.Time
	Now          time.Time
}

// IP returns the snapshot aggregate for an address, or nil.
func (c *SecurityContext) IP(addr string) *IPTracking {
	return c.IPs[addr]
}

// User returns the snapshot profile for a user id, or nil.
func (c *SecurityContext) User(id string) *UserProfile {
	return c.Users[id]
}

// EventsFromIP returns snapshot events originating from the address,
// newest last, bounded by the window.
func (c *SecurityContext) EventsFromIP(addr string, window time.Duration) []*event.SecurityEvent {
	cutoff := c.Now.Add(-window)
	var out []*event.SecurityEvent
	for _, e := range c.RecentEvents {
		if e.IPAddress == addr && e.CreatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

func clampRisk(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
