package jobs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"atlas/internal/services"
)

var intervalPattern = regexp.MustCompile(`^(\d+)\s*([smhdw])$`)

var intervalUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// ParseSchedule accepts an interval ("30m", "6h", "1d", "2w"), a standard
// five-field cron expression, or a descriptor such as "@daily". An empty
// expression means the job only runs when triggered and yields nil.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	if m := intervalPattern.FindStringSubmatch(strings.ToLower(expr)); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, services.Wrap(services.ErrInvalidInput, "jobs", "parse schedule",
				fmt.Sprintf("interval %q must be positive", expr), err)
		}
		return cron.Every(time.Duration(n) * intervalUnits[m[2]]), nil
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "jobs", "parse schedule", expr, err)
	}
	return schedule, nil
}

// NextRun returns the next activation after now, or nil for on-demand jobs.
func NextRun(expr string, now time.Time) (*time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil || schedule == nil {
		return nil, err
	}
	next := schedule.Next(now).UTC()
	return &next, nil
}
