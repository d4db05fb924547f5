// Package logging configures structured logging and masks sensitive
// values before event data leaves the process.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default slog handler from config values.
func Setup(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// sensitiveFields are metadata keys whose values must never appear in
// logs or outbound alerts.
var sensitiveFields = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
	"authorization": true,
	"cookie":        true,
	"session_id":    true,
	"credentials":   true,
}

// MaskedValue replaces sensitive values.
const MaskedValue = "[REDACTED]"

// IsSensitiveField reports whether a metadata key is sensitive.
func IsSensitiveField(name string) bool {
	return sensitiveFields[strings.ToLower(name)]
}

// SanitizeMetadata returns a copy of the metadata with sensitive
// values masked. A nil map stays nil.
func SanitizeMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if IsSensitiveField(k) {
			out[k] = MaskedValue
			continue
		}
		out[k] = v
	}
	return out
}
