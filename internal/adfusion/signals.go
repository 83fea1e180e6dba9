package adfusion

import (
	"context"
	"errors"
	"fmt"

	"atlas/internal/catalog"
	"atlas/internal/textutil"
)

// Signal type names recorded on detected segments.
const (
	TypeChapter = "chapter"
	TypeText    = "text"
	TypeAudio   = "audio"
)

// ErrNoInput marks a signal that had nothing to inspect, such as a missing
// transcript. The detector skips the signal without failing.
var ErrNoInput = errors.New("signal input unavailable")

// Candidate is one interval proposed by a signal.
type Candidate struct {
	Start      float64
	End        float64
	Confidence float64
	Type       string
	Trigger    string
}

// Input carries everything a signal may look at.
type Input struct {
	AudioPath  string
	Duration   float64
	Chapters   []catalog.Chapter
	Transcript []catalog.TranscriptSegment
}

// Signal proposes ad intervals from one source of evidence.
type Signal interface {
	Name() string
	Detect(ctx context.Context, in Input) ([]Candidate, error)
}

// ChapterSignal flags chapters whose titles contain an ad marker.
type ChapterSignal struct {
	Markers    []string
	Confidence float64
}

// Name implements Signal.
func (ChapterSignal) Name() string { return TypeChapter }

// Detect implements Signal. A chapter without an explicit end runs to the next
// chapter's start, or to the end of the audio.
func (c ChapterSignal) Detect(_ context.Context, in Input) ([]Candidate, error) {
	if len(in.Chapters) == 0 {
		return nil, ErrNoInput
	}
	var out []Candidate
	for i, ch := range in.Chapters {
		marker, ok := textutil.MatchPhrase(ch.Title, c.Markers)
		if !ok {
			continue
		}
		end := ch.End
		if end <= ch.Start {
			switch {
			case i+1 < len(in.Chapters):
				end = in.Chapters[i+1].Start
			default:
				end = in.Duration
			}
		}
		out = append(out, Candidate{
			Start:      ch.Start,
			End:        end,
			Confidence: c.Confidence,
			Type:       TypeChapter,
			Trigger:    fmt.Sprintf("chapter %q matched %q", ch.Title, marker),
		})
	}
	return out, nil
}

// TextSignal flags transcript segments containing an ad phrase.
type TextSignal struct {
	Phrases    []string
	Confidence float64
}

// Name implements Signal.
func (TextSignal) Name() string { return TypeText }

// Detect implements Signal.
func (t TextSignal) Detect(_ context.Context, in Input) ([]Candidate, error) {
	if len(in.Transcript) == 0 {
		return nil, ErrNoInput
	}
	var out []Candidate
	for _, seg := range in.Transcript {
		phrase, ok := textutil.MatchPhrase(seg.Text, t.Phrases)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Start:      seg.Start,
			End:        seg.End,
			Confidence: t.Confidence,
			Type:       TypeText,
			Trigger:    fmt.Sprintf("phrase %q", phrase),
		})
	}
	return out, nil
}

// AudioMatcher finds jingles or known ad reads in an audio file.
type AudioMatcher interface {
	Match(ctx context.Context, audioPath string) ([]Candidate, error)
}

// AudioSignal adapts an AudioMatcher. Without a matcher it reports no input.
type AudioSignal struct {
	Matcher AudioMatcher
}

// Name implements Signal.
func (AudioSignal) Name() string { return TypeAudio }

// Detect implements Signal.
func (a AudioSignal) Detect(ctx context.Context, in Input) ([]Candidate, error) {
	if a.Matcher == nil || in.AudioPath == "" {
		return nil, ErrNoInput
	}
	candidates, err := a.Matcher.Match(ctx, in.AudioPath)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].Type = TypeAudio
	}
	return candidates, nil
}
