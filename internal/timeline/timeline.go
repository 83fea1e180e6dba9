// Package timeline implements interval algebra on audio time spans measured in
// seconds: clamping, complements, totals, and ordering checks.
package timeline

import (
	"fmt"
	"sort"
)

// Span is a half-open time interval [Start, End) in seconds.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End-Start, or 0 for inverted spans.
func (s Span) Duration() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Clamp restricts s to [lo, hi]. The boolean is false when nothing of positive
// length remains.
func Clamp(s Span, lo, hi float64) (Span, bool) {
	if s.Start < lo {
		s.Start = lo
	}
	if hi > 0 && s.End > hi {
		s.End = hi
	}
	return s, s.End > s.Start
}

// Sort orders spans by start, then end.
func Sort(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
}

// Union sorts spans and coalesces any that overlap or touch.
func Union(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := append([]Span(nil), spans...)
	Sort(sorted)
	out := []Span{sorted[0]}
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Complement returns the ordered parts of [0, duration] not covered by spans.
// Zero-length gaps are omitted.
func Complement(spans []Span, duration float64) []Span {
	if duration <= 0 {
		return nil
	}
	var keep []Span
	cursor := 0.0
	for _, s := range Union(spans) {
		clamped, ok := Clamp(s, 0, duration)
		if !ok {
			continue
		}
		if clamped.Start > cursor {
			keep = append(keep, Span{Start: cursor, End: clamped.Start})
		}
		if clamped.End > cursor {
			cursor = clamped.End
		}
	}
	if cursor < duration {
		keep = append(keep, Span{Start: cursor, End: duration})
	}
	return keep
}

// Total sums the durations of spans.
func Total(spans []Span) float64 {
	var total float64
	for _, s := range spans {
		total += s.Duration()
	}
	return total
}

// Validate checks that spans are sorted by start, non-overlapping, each with
// Start < End, and within [0, duration]. A non-positive duration skips the
// upper-bound check.
func Validate(spans []Span, duration float64) error {
	for i, s := range spans {
		if !(s.Start < s.End) {
			return fmt.Errorf("span %d: start %.3f not before end %.3f", i, s.Start, s.End)
		}
		if s.Start < 0 {
			return fmt.Errorf("span %d: negative start %.3f", i, s.Start)
		}
		if duration > 0 && s.End > duration {
			return fmt.Errorf("span %d: end %.3f beyond duration %.3f", i, s.End, duration)
		}
		if i > 0 && s.Start < spans[i-1].End {
			return fmt.Errorf("span %d: overlaps or precedes span %d", i, i-1)
		}
	}
	return nil
}
