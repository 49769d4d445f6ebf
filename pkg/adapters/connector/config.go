package connector

import (
	"strconv"
	"strings"
	"time"
)

// The helpers below read loosely typed connection configuration decoded from
// JSON, where numbers arrive as float64 and booleans are sometimes strings.

// String returns the trimmed string value of key, or "".
func String(cfg map[string]any, key string) string {
	switch v := cfg[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// Secret returns the string value of key exactly as given, since surrounding
// spaces can be part of a password or token. Blank values read as "".
func Secret(cfg map[string]any, key string) string {
	v, _ := cfg[key].(string)
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return v
}

// Int returns the integer value of key and whether it was present and numeric.
func Int(cfg map[string]any, key string) (int, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// Bool returns the boolean value of key, accepting "true"/"false" strings.
func Bool(cfg map[string]any, key string) (bool, bool) {
	switch v := cfg[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			return b, true
		}
	}
	return false, false
}

// ConnectTimeout returns the per-connection "connectionTimeout" (milliseconds)
// when set, and the fallback otherwise.
func ConnectTimeout(cfg map[string]any, fallback time.Duration) time.Duration {
	if ms, ok := Int(cfg, "connectionTimeout"); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
