package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"atlas/internal/services"
)

// timeLayout is fixed-width so lexical order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// FormatTime renders t the way the catalog stores timestamps, for callers
// building range filters.
func FormatTime(t time.Time) string {
	return formatTime(t)
}

func parseTimeString(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, errors.New("empty time value")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullableTime(value string, valid bool) *time.Time {
	if !valid {
		return nil
	}
	parsed, err := parseTimeString(value)
	if err != nil {
		return nil
	}
	return &parsed
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return formatTime(*value)
}

func nullableFloat(value float64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableID(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

func decodeJSON[T any](raw string) ([]T, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// mapConstraintError folds SQLite constraint failures into the service error
// kinds callers branch on.
func mapConstraintError(operation string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return services.Wrap(services.ErrAlreadyExists, "catalog", operation, "duplicate row", err)
	case strings.Contains(msg, "constraint failed"):
		return services.Wrap(services.ErrIntegrity, "catalog", operation, "constraint violated", err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
