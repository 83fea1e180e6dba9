package textutil_test

import (
	"math"
	"reflect"
	"testing"

	"atlas/internal/textutil"
)

func TestNormalizeTagsFoldsAndDeduplicates(t *testing.T) {
	got := textutil.NormalizeTags([]string{"Machine  Learning", "machine learning", " ", "Go", "GO"})
	want := []string{"machine learning", "go"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeTags = %q, want %q", got, want)
	}
}

func TestSentences(t *testing.T) {
	got := textutil.Sentences("First point here. Second one? Version 1.5 ships! trailing fragment")
	want := []string{"First point here.", "Second one?", "Version 1.5 ships!", "trailing fragment"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Sentences = %q, want %q", got, want)
	}
	if len(textutil.Sentences("   ")) != 0 {
		t.Fatal("expected no sentences for blank input")
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"The Daily Show: Episode #12": "the-daily-show-episode-12",
		"":                            "unknown",
		"***":                         "unknown",
	}
	for in, want := range cases {
		if got := textutil.Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTitleSimilarity(t *testing.T) {
	if got := textutil.TitleSimilarity("Episode 42: The Answer", "episode 42 the answer"); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected identical titles to score 1, got %v", got)
	}
	if got := textutil.TitleSimilarity("cooking pasta", "quantum physics"); got != 0 {
		t.Fatalf("expected disjoint titles to score 0, got %v", got)
	}
	if got := textutil.TitleSimilarity("", "anything"); got != 0 {
		t.Fatalf("expected empty title to score 0, got %v", got)
	}
}

func TestContainsFold(t *testing.T) {
	if !textutil.ContainsFold("This episode is BROUGHT  to you by Acme", "brought to you by") {
		t.Fatal("expected folded match")
	}
	if textutil.ContainsFold("anything", "") {
		t.Fatal("empty needle must not match")
	}
}

func TestMatchPhraseRespectsWordBoundaries(t *testing.T) {
	markers := []string{"ads", "ad break", "sponsor"}
	if _, ok := textutil.MatchPhrase("Country Roads", markers); ok {
		t.Fatal("expected no match inside a word")
	}
	phrase, ok := textutil.MatchPhrase("-- AD Break! --", markers)
	if !ok || phrase != "ad break" {
		t.Fatalf("expected ad break, got %q %v", phrase, ok)
	}
	if _, ok := textutil.MatchPhrase("", markers); ok {
		t.Fatal("expected no match on empty text")
	}
}
