package rules

import (
	"fmt"
	"strings"
	"time"

	"websentry/internal/event"
	"websentry/internal/store"
)

// Condition evaluates an event against the read-only security context.
type Condition func(e *event.SecurityEvent, ctx *store.SecurityContext) bool

// Registry maps condition names to evaluators. Rules reference
// conditions by name so they stay serializable.
type Registry struct {
	conditions map[string]Condition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conditions: make(map[string]Condition)}
}

// Register adds a named condition, replacing any existing entry.
func (r *Registry) Register(name string, cond Condition) {
	r.conditions[name] = cond
}

// Has reports whether a condition name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.conditions[name]
	return ok
}

// Get returns a registered condition.
func (r *Registry) Get(name string) (Condition, bool) {
	cond, ok := r.conditions[name]
	return cond, ok
}

// Names returns all registered condition names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.conditions))
	for name := range r.conditions {
		names = append(names, name)
	}
	return names
}

// Thresholds parameterize the built-in conditions.
type Thresholds struct {
	FailedLogins     int           // IP failed-login count before blocking
	EnumerationUsers int           // Distinct users from one IP before blocking
	EnumerationSpan  time.Duration // Window for enumeration detection
	RateLimitCount   int           // Events from one IP before flood detection
	RateLimitWindow  time.Duration // Window for flood detection
	AdminPathPrefix  string        // Endpoint prefix treated as admin surface
}

// DefaultThresholds returns the default condition thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FailedLogins:     5,
		EnumerationUsers: 10,
		EnumerationSpan:  5 * time.Minute,
		RateLimitCount:   100,
		RateLimitWindow:  60 * time.Second,
		AdminPathPrefix:  "/admin",
	}
}

// sqlInjectionMarkers are case-insensitive payload substrings that
// indicate a SQL injection probe.
var sqlInjectionMarkers = []string{
	"union select",
	"union all select",
	"drop table",
	"drop database",
	"' or 1=1",
	"\" or 1=1",
	"or 1=1--",
	"'; exec",
	"xp_cmdshell",
	"information_schema",
	"sleep(",
	"benchmark(",
	"waitfor delay",
}

// xssMarkers are case-insensitive payload substrings that indicate a
// cross-site scripting probe.
var xssMarkers = []string{
	"<script",
	"</script",
	"javascript:",
	"onerror=",
	"onload=",
	"onmouseover=",
	"onfocus=",
	"<iframe",
	"<svg",
	"document.cookie",
	"eval(",
	"alert(",
}

func payloadContainsAny(payload string, markers []string) bool {
	if payload == "" {
		return false
	}
	lower := strings.ToLower(payload)
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RegisterBuiltins registers the standard condition set using the
// given thresholds.
func RegisterBuiltins(reg *Registry, t Thresholds) {
	reg.Register("payload_sql_injection", func(e *event.SecurityEvent, _ *store.SecurityContext) bool {
		return payloadContainsAny(e.Payload, sqlInjectionMarkers)
	})

	reg.Register("payload_xss", func(e *event.SecurityEvent, _ *store.SecurityContext) bool {
		return payloadContainsAny(e.Payload, xssMarkers)
	})

	reg.Register("ip_failed_logins", func(e *event.SecurityEvent, ctx *store.SecurityContext) bool {
		info := ctx.IP(e.IPAddress)
		return info != nil && info.FailedLogins >= t.FailedLogins
	})

	reg.Register("account_enumeration", func(e *event.SecurityEvent, ctx *store.SecurityContext) bool {
		cutoff := ctx.Now.Add(-t.EnumerationSpan)
		users := make(map[string]struct{})
		for _, recent := range ctx.RecentEvents {
			if recent.Type != event.TypeLoginFailure || recent.IPAddress != e.IPAddress {
				continue
			}
			if recent.UserID == "" || recent.CreatedAt.Before(cutoff) {
				continue
			}
			users[recent.UserID] = struct{}{}
		}
		return len(users) >= t.EnumerationUsers
	})

	reg.Register("api_flood", func(e *event.SecurityEvent, ctx *store.SecurityContext) bool {
		return len(ctx.EventsFromIP(e.IPAddress, t.RateLimitWindow)) > t.RateLimitCount
	})

	reg.Register("admin_endpoint_non_admin", func(e *event.SecurityEvent, _ *store.SecurityContext) bool {
		if !strings.HasPrefix(e.Endpoint, t.AdminPathPrefix) {
			return false
		}
		return e.MetaString("role") != "admin"
	})

	// Fires only when the store flagged this exact login as coming from
	// a location the user had not used before.
	reg.Register("unknown_login_location", func(e *event.SecurityEvent, ctx *store.SecurityContext) bool {
		profile := ctx.User(e.UserID)
		if profile == nil {
			return false
		}
		flag := fmt.Sprintf("new_location:%s:%s", e.IPAddress, e.CreatedAt.Format(time.RFC3339Nano))
		for _, f := range profile.SecurityFlags {
			if f == flag {
				return true
			}
		}
		return false
	})
}
