// Package adfusion combines ad evidence from chapters, transcript text and
// audio matching into one ordered, non-overlapping list of ad segments.
package adfusion

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sort"

	"atlas/internal/catalog"
	"atlas/internal/config"
	"atlas/internal/logging"
	"atlas/internal/timeline"
)

// Options are the fusion thresholds, in seconds and confidence units.
type Options struct {
	MaxGapMerge      float64
	MinSegmentLength float64
	MinConfidence    float64
	PaddingSeconds   float64
}

// SignalFailure records a signal that errored.
type SignalFailure struct {
	Method string `json:"method"`
	Error  string `json:"error"`
}

// Report describes one detection run.
type Report struct {
	MethodsUsed    []string        `json:"methods_used"`
	MethodsSkipped []string        `json:"methods_skipped,omitempty"`
	Failures       []SignalFailure `json:"failures,omitempty"`
	Candidates     int             `json:"candidates"`
	AfterMerge     int             `json:"after_merge"`
	AfterFilter    int             `json:"after_filter"`
	Segments       int             `json:"segments"`
	TotalAdSeconds float64         `json:"total_ad_seconds"`
}

// Detector runs signals and fuses their candidates.
type Detector struct {
	signals []Signal
	opts    Options
	logger  *slog.Logger
}

// New builds a detector from explicit signals.
func New(opts Options, logger *slog.Logger, signals ...Signal) *Detector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Detector{
		signals: signals,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "adfusion"),
	}
}

// NewFromConfig builds a detector with the signals enabled in cfg. The audio
// signal is only active when matcher is non-nil.
func NewFromConfig(cfg *config.Config, matcher AudioMatcher, logger *slog.Logger) *Detector {
	ad := cfg.AdDetection
	var signals []Signal
	for _, name := range ad.Signals {
		switch name {
		case config.SignalChapter:
			signals = append(signals, ChapterSignal{Markers: ad.ChapterMarkers, Confidence: ad.ChapterConfidence})
		case config.SignalText:
			signals = append(signals, TextSignal{Phrases: ad.AdPhrases, Confidence: ad.TextConfidence})
		case config.SignalAudio:
			signals = append(signals, AudioSignal{Matcher: matcher})
		}
	}
	return New(Options{
		MaxGapMerge:      ad.MaxGapMerge,
		MinSegmentLength: ad.MinSegmentLength,
		MinConfidence:    ad.MinConfidence,
		PaddingSeconds:   ad.PaddingSeconds,
	}, logger, signals...)
}

// Detect runs every signal and returns the fused segments. A failing or
// input-less signal is recorded in the report and skipped; only context
// cancellation aborts the run.
func (d *Detector) Detect(ctx context.Context, in Input) ([]catalog.AdSegment, Report, error) {
	var (
		report     Report
		candidates []Candidate
	)
	for _, signal := range d.signals {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		found, err := signal.Detect(ctx, in)
		switch {
		case errors.Is(err, ErrNoInput):
			report.MethodsSkipped = append(report.MethodsSkipped, signal.Name())
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil, report, ctx.Err()
			}
			report.Failures = append(report.Failures, SignalFailure{Method: signal.Name(), Error: err.Error()})
			d.logger.Warn("ad signal failed",
				logging.String("method", signal.Name()),
				logging.Error(err),
				logging.Event("ad_signal_failed"),
				logging.String(logging.FieldErrorHint, "detection continues with remaining signals"),
				logging.String(logging.FieldImpact, "fewer ad segments may be found"),
			)
			continue
		}
		report.MethodsUsed = append(report.MethodsUsed, signal.Name())
		candidates = append(candidates, found...)
	}
	report.Candidates = len(candidates)

	segments, stats := fuse(candidates, in.Duration, d.opts)
	report.AfterMerge = stats.afterMerge
	report.AfterFilter = stats.afterFilter
	report.Segments = len(segments)
	report.TotalAdSeconds = timeline.Total(catalog.AdSpans(segments))

	d.logger.Debug("ad detection complete",
		logging.Int("candidates", report.Candidates),
		logging.Int("segments", report.Segments),
		logging.Float64("total_ad_seconds", report.TotalAdSeconds),
		logging.Any("methods", report.MethodsUsed),
	)
	return segments, report, nil
}

type fuseStats struct {
	afterMerge  int
	afterFilter int
}

type interval struct {
	start, end float64
	confidence float64
	types      []string
	triggers   []string
}

// Fuse applies clamp, sort, gap merge, filter, pad and re-merge to raw
// candidates. Output is sorted, non-overlapping and within [0, duration];
// identical inputs give identical output.
func Fuse(candidates []Candidate, duration float64, opts Options) []catalog.AdSegment {
	segments, _ := fuse(candidates, duration, opts)
	return segments
}

func fuse(candidates []Candidate, duration float64, opts Options) ([]catalog.AdSegment, fuseStats) {
	var intervals []interval
	for _, c := range candidates {
		if !(c.End > c.Start) || math.IsNaN(c.Confidence) {
			continue
		}
		iv := interval{start: c.Start, end: c.End, confidence: c.Confidence}
		if c.Type != "" {
			iv.types = []string{c.Type}
		}
		if c.Trigger != "" {
			iv.triggers = []string{c.Trigger}
		}
		intervals = append(intervals, iv)
	}
	sort.SliceStable(intervals, func(i, j int) bool {
		a, b := intervals[i], intervals[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.end != b.end {
			return a.end < b.end
		}
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		return firstOrEmpty(a.types)+firstOrEmpty(a.triggers) < firstOrEmpty(b.types)+firstOrEmpty(b.triggers)
	})

	merged := mergeWithin(intervals, opts.MaxGapMerge, true)
	stats := fuseStats{afterMerge: len(merged)}

	kept := merged[:0]
	for _, iv := range merged {
		if iv.end-iv.start < opts.MinSegmentLength || iv.confidence < opts.MinConfidence {
			continue
		}
		kept = append(kept, iv)
	}
	stats.afterFilter = len(kept)

	// Lengths are judged on the declared spans; clamping to the audio
	// happens only after padding.
	padded := kept[:0]
	for _, iv := range kept {
		span, ok := timeline.Clamp(timeline.Span{
			Start: iv.start - opts.PaddingSeconds,
			End:   iv.end + opts.PaddingSeconds,
		}, 0, duration)
		if !ok {
			continue
		}
		iv.start, iv.end = span.Start, span.End
		padded = append(padded, iv)
	}
	kept = mergeWithin(padded, 0, false)

	var out []catalog.AdSegment
	for _, iv := range kept {
		out = append(out, catalog.AdSegment{
			Start:      iv.start,
			End:        iv.end,
			Confidence: iv.confidence,
			Types:      iv.types,
			Triggers:   iv.triggers,
		})
	}
	return out, stats
}

// mergeWithin coalesces sorted intervals whose gap is at most maxGap. With
// inclusive false only strictly overlapping intervals merge.
func mergeWithin(sorted []interval, maxGap float64, inclusive bool) []interval {
	if len(sorted) == 0 {
		return nil
	}
	out := []interval{sorted[0]}
	for _, next := range sorted[1:] {
		last := &out[len(out)-1]
		gap := next.start - last.end
		if gap < maxGap || (inclusive && gap == maxGap) || gap < 0 {
			last.end = math.Max(last.end, next.end)
			last.confidence = math.Max(last.confidence, next.confidence)
			last.types = unionSorted(last.types, next.types)
			last.triggers = unionOrdered(last.triggers, next.triggers)
			continue
		}
		out = append(out, next)
	}
	return out
}

func unionSorted(a, b []string) []string {
	out := unionOrdered(a, b)
	slices.Sort(out)
	return out
}

func unionOrdered(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
