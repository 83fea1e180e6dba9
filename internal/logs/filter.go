package logs

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Filter selects log lines. Zero-value fields match everything.
type Filter struct {
	ContentUID string
	EventType  string
	Component  string
	MinLevel   slog.Level
	HasLevel   bool
}

// Empty reports whether the filter passes every line.
func (f Filter) Empty() bool {
	return f.ContentUID == "" && f.EventType == "" && f.Component == "" && !f.HasLevel
}

// ParseLevel maps a level name to a Filter level.
func ParseLevel(name string) (slog.Level, bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, false
	}
	return level, true
}

// Match reports whether line passes the filter. JSON lines are decoded;
// console lines are matched on their level label and key=value pairs.
func (f Filter) Match(line string) bool {
	if f.Empty() {
		return true
	}
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]any
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			return f.matchFields(fields)
		}
	}
	return f.matchConsole(trimmed)
}

func (f Filter) matchFields(fields map[string]any) bool {
	get := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}
	if f.HasLevel {
		level, ok := ParseLevel(get("level"))
		if !ok || level < f.MinLevel {
			return false
		}
	}
	return matchValue(f.ContentUID, get("content_uid")) &&
		matchValue(f.EventType, get("event_type")) &&
		matchValue(f.Component, get("component"))
}

// Console format: "<ts> <LEVEL> <component>: <msg> key=value ...".
func (f Filter) matchConsole(line string) bool {
	parts := strings.Fields(line)
	if f.HasLevel {
		if len(parts) < 2 {
			return false
		}
		level, ok := ParseLevel(parts[1])
		if !ok || level < f.MinLevel {
			return false
		}
	}
	if f.Component != "" && (len(parts) < 3 || parts[2] != f.Component+":") {
		return false
	}
	return hasPair(parts, "content_uid", f.ContentUID) && hasPair(parts, "event_type", f.EventType)
}

func hasPair(parts []string, key, want string) bool {
	if want == "" {
		return true
	}
	prefix := key + "="
	for _, p := range parts {
		if v, ok := strings.CutPrefix(p, prefix); ok && strings.Trim(v, `"`) == want {
			return true
		}
	}
	return false
}

func matchValue(want, got string) bool {
	return want == "" || want == got
}
