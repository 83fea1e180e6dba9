package adfusion_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"atlas/internal/adfusion"
	"atlas/internal/catalog"
	"atlas/internal/timeline"
)

var defaultOpts = adfusion.Options{
	MaxGapMerge:      5,
	MinSegmentLength: 10,
	MinConfidence:    0.5,
	PaddingSeconds:   1,
}

func TestFuseMergesWithinGapTakingMaxConfidenceAndTypeUnion(t *testing.T) {
	got := adfusion.Fuse([]adfusion.Candidate{
		{Start: 300, End: 330, Confidence: 0.7, Type: adfusion.TypeText, Trigger: "phrase"},
		{Start: 100, End: 160, Confidence: 0.99, Type: adfusion.TypeChapter},
		{Start: 334, End: 360, Confidence: 0.99, Type: adfusion.TypeChapter},
	}, 3600, defaultOpts)

	want := []catalog.AdSegment{
		{Start: 99, End: 161, Confidence: 0.99, Types: []string{"chapter"}},
		{Start: 299, End: 361, Confidence: 0.99, Types: []string{"chapter", "text"}, Triggers: []string{"phrase"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Fuse = %#v\nwant %#v", got, want)
	}
}

func TestFuseFiltersShortAndLowConfidence(t *testing.T) {
	got := adfusion.Fuse([]adfusion.Candidate{
		{Start: 0, End: 5, Confidence: 0.99, Type: adfusion.TypeChapter},
		{Start: 100, End: 200, Confidence: 0.4, Type: adfusion.TypeText},
		{Start: 500, End: 520, Confidence: 0.6, Type: adfusion.TypeText},
	}, 1000, defaultOpts)
	if len(got) != 1 || got[0].Start != 499 || got[0].End != 521 {
		t.Fatalf("unexpected segments: %#v", got)
	}
}

func TestFuseClampsAndRemergesAfterPadding(t *testing.T) {
	opts := defaultOpts
	opts.MaxGapMerge = 0
	opts.PaddingSeconds = 3
	got := adfusion.Fuse([]adfusion.Candidate{
		{Start: -10, End: 20, Confidence: 0.9, Type: adfusion.TypeText},
		{Start: 24, End: 40, Confidence: 0.8, Type: adfusion.TypeText},
		{Start: 595, End: 700, Confidence: 0.9, Type: adfusion.TypeChapter},
		{Start: 650, End: 700, Confidence: 0.9, Type: adfusion.TypeChapter},
	}, 600, opts)

	want := []timeline.Span{{Start: 0, End: 43}, {Start: 592, End: 600}}
	if len(got) != 2 {
		t.Fatalf("expected re-merged head and clamped tail, got %#v", got)
	}
	if got[0].Span() != want[0] || got[0].Confidence != 0.9 {
		t.Fatalf("unexpected merged head: %#v", got[0])
	}
	if got[1].Span() != want[1] {
		t.Fatalf("tail should be clamped to the duration after padding, got %#v", got[1])
	}
	if err := timeline.Validate(catalog.AdSpans(got), 600); err != nil {
		t.Fatalf("output violates ordering: %v", err)
	}
}

func TestFuseJudgesLengthBeforeClamping(t *testing.T) {
	opts := defaultOpts
	opts.PaddingSeconds = 0
	got := adfusion.Fuse([]adfusion.Candidate{
		{Start: 1795, End: 1830, Confidence: 0.99, Type: adfusion.TypeChapter},
		{Start: 1850, End: 1900, Confidence: 0.99, Type: adfusion.TypeChapter},
	}, 1800, opts)
	if len(got) != 1 || got[0].Span() != (timeline.Span{Start: 1795, End: 1800}) {
		t.Fatalf("expected tail ad kept and clamped, got %#v", got)
	}
}

func TestFuseIsDeterministic(t *testing.T) {
	candidates := []adfusion.Candidate{
		{Start: 50, End: 80, Confidence: 0.7, Type: adfusion.TypeText, Trigger: "b"},
		{Start: 50, End: 80, Confidence: 0.7, Type: adfusion.TypeText, Trigger: "a"},
		{Start: 10, End: 30, Confidence: 0.99, Type: adfusion.TypeChapter, Trigger: "c"},
	}
	reversed := []adfusion.Candidate{candidates[2], candidates[1], candidates[0]}

	first, _ := json.Marshal(adfusion.Fuse(candidates, 120, defaultOpts))
	second, _ := json.Marshal(adfusion.Fuse(reversed, 120, defaultOpts))
	if string(first) != string(second) {
		t.Fatalf("expected identical output regardless of input order:\n%s\n%s", first, second)
	}
}

type failingSignal struct{}

func (failingSignal) Name() string { return "audio" }
func (failingSignal) Detect(context.Context, adfusion.Input) ([]adfusion.Candidate, error) {
	return nil, errors.New("matcher offline")
}

func TestDetectSkipsMissingAndFailingSignals(t *testing.T) {
	detector := adfusion.New(defaultOpts, nil,
		adfusion.ChapterSignal{Markers: []string{"sponsor", "ad break"}, Confidence: 0.99},
		adfusion.TextSignal{Phrases: []string{"brought to you by"}, Confidence: 0.7},
		failingSignal{},
	)
	in := adfusion.Input{
		Duration: 3600,
		Chapters: []catalog.Chapter{
			{Start: 0, Title: "Intro"},
			{Start: 300, Title: "Sponsor: Acme"},
			{Start: 360, Title: "Main topic"},
			{Start: 1800, End: 1920, Title: "Ad Break"},
		},
	}
	segments, report, err := detector.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !reflect.DeepEqual(report.MethodsUsed, []string{"chapter"}) {
		t.Fatalf("unexpected methods used: %v", report.MethodsUsed)
	}
	if !reflect.DeepEqual(report.MethodsSkipped, []string{"text"}) {
		t.Fatalf("unexpected methods skipped: %v", report.MethodsSkipped)
	}
	if len(report.Failures) != 1 || report.Failures[0].Method != "audio" {
		t.Fatalf("unexpected failures: %#v", report.Failures)
	}
	if len(segments) != 2 || segments[0].Start != 299 || segments[1].End != 1921 {
		t.Fatalf("unexpected segments: %#v", segments)
	}
	if report.TotalAdSeconds != 62+122 {
		t.Fatalf("unexpected total: %v", report.TotalAdSeconds)
	}
}

func TestTextSignalMatchesPhrases(t *testing.T) {
	signal := adfusion.TextSignal{Phrases: []string{"brought to you by", "promo code"}, Confidence: 0.7}
	found, err := signal.Detect(context.Background(), adfusion.Input{
		Transcript: []catalog.TranscriptSegment{
			{Start: 0, End: 10, Text: "Welcome back to the show."},
			{Start: 10, End: 40, Text: "This episode is Brought To You By Acme."},
			{Start: 40, End: 60, Text: "Use PROMO-code ACME for 10% off."},
		},
	})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(found) != 2 || found[0].Start != 10 || found[1].Start != 40 {
		t.Fatalf("unexpected candidates: %#v", found)
	}
}

func TestDetectHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	detector := adfusion.New(defaultOpts, nil, adfusion.TextSignal{})
	if _, _, err := detector.Detect(ctx, adfusion.Input{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
