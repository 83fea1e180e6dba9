package cognitive_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/cognitive"
	"atlas/internal/identity"
	"atlas/internal/metadata"
	"atlas/internal/testsupport"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newManager(t *testing.T) (*metadata.Manager, *testsupport.Clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock(epoch)
	store := testsupport.MustOpenCatalog(t, cfg, catalog.WithClock(clock.Now))
	return metadata.New(store, metadata.WithClock(clock.Now), metadata.WithCache(0, 0)), clock
}

type seedOpts struct {
	ct      catalog.ContentType
	status  catalog.Status
	tags    []string
	notes   []string
	created time.Time
}

func seed(t *testing.T, meta *metadata.Manager, key string, o seedOpts) *catalog.ContentItem {
	t.Helper()
	if o.ct == "" {
		o.ct = catalog.TypeArticle
	}
	src := identity.Source{ContentType: o.ct, SourceURL: "https://example.com/" + key}
	if o.ct == catalog.TypePodcast {
		src.GUID = key
		src.AudioURL = "https://cdn.example.com/" + key + ".mp3"
	}
	item, err := meta.Create(src, "Item "+key)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if o.status != "" {
		item.Status = o.status
	}
	item.Tags = o.tags
	item.Notes = o.notes
	if !o.created.IsZero() {
		item.CreatedAt = o.created
		item.UpdatedAt = o.created
	}
	if err := meta.Save(context.Background(), item); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return item
}

func TestSurfaceForgottenRanksByRelevance(t *testing.T) {
	meta, _ := newManager(t)
	old := epoch.Add(-45 * 24 * time.Hour)
	article := seed(t, meta, "article", seedOpts{
		status:  catalog.StatusCompleted,
		tags:    []string{"go", "databases", "sqlite", "testing"},
		notes:   []string{"revisit the WAL section"},
		created: old,
	})
	podcast := seed(t, meta, "podcast", seedOpts{ct: catalog.TypePodcast, status: catalog.StatusError, created: old})
	seed(t, meta, "recent", seedOpts{})

	surfacer := cognitive.NewSurfacer(meta, time.Minute, nil)
	got, err := surfacer.SurfaceForgotten(context.Background(), 5, 30)
	if err != nil {
		t.Fatalf("SurfaceForgotten failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 forgotten items, got %d", len(got))
	}
	if got[0].Item.UID != article.UID || got[1].Item.UID != podcast.UID {
		t.Fatalf("unexpected order %s, %s", got[0].Item.UID, got[1].Item.UID)
	}
	if got[0].Score <= got[1].Score {
		t.Fatalf("expected article strictly above podcast, got %v vs %v", got[0].Score, got[1].Score)
	}
	if math.Abs(got[0].Score-2.1) > 1e-9 || math.Abs(got[1].Score-0.4) > 1e-9 {
		t.Fatalf("unexpected scores %v and %v", got[0].Score, got[1].Score)
	}

	if _, err := surfacer.MarkSurfaced(context.Background(), article.UID); err != nil {
		t.Fatalf("MarkSurfaced failed: %v", err)
	}
	after, err := surfacer.SurfaceForgotten(context.Background(), 5, 30)
	if err != nil {
		t.Fatalf("SurfaceForgotten failed: %v", err)
	}
	if len(after) != 1 || after[0].Item.UID != podcast.UID {
		t.Fatalf("surfaced item should leave the forgotten set, got %d items", len(after))
	}
}

func TestRelevanceScoreNeverNegative(t *testing.T) {
	item := &catalog.ContentItem{ContentType: "other", Status: catalog.StatusError, CreatedAt: epoch}
	if got := cognitive.RelevanceScore(item, epoch); got != 0 {
		t.Fatalf("expected clipped score 0, got %v", got)
	}
}

func intervalDays(item *catalog.ContentItem) int {
	return int(math.Round(item.Review.NextReviewAt.Sub(*item.Review.LastReviewedAt).Hours() / 24))
}

func TestMarkReviewedProgression(t *testing.T) {
	meta, clock := newManager(t)
	item := seed(t, meta, "fresh", seedOpts{})
	recall := cognitive.NewRecall(meta, nil, 0, nil)

	var (
		intervals []int
		rates     []float64
	)
	prior := 0.0
	for i := 0; i < 5; i++ {
		rates = append(rates, prior)
		updated, err := recall.MarkReviewed(context.Background(), item.UID, true, nil)
		if err != nil {
			t.Fatalf("MarkReviewed %d failed: %v", i+1, err)
		}
		want := 0.3 + 0.7*prior
		if math.Abs(updated.Review.SuccessRate-want) > 1e-9 {
			t.Fatalf("review %d: success rate %v, want %v", i+1, updated.Review.SuccessRate, want)
		}
		prior = updated.Review.SuccessRate
		intervals = append(intervals, intervalDays(updated))
		clock.Set(*updated.Review.NextReviewAt)
	}

	for i, want := range []int{1, 3, 7, 14} {
		if intervals[i] != want {
			t.Fatalf("interval %d = %d, want %d (all %v)", i+1, intervals[i], want, intervals)
		}
	}
	if want := int(math.Floor(30 * cognitive.SuccessMultiplier(rates[4]))); intervals[4] != want {
		t.Fatalf("fifth interval %d, want %d", intervals[4], want)
	}
}

func TestMarkReviewedFailureShrinksInterval(t *testing.T) {
	meta, _ := newManager(t)
	item := seed(t, meta, "hard", seedOpts{})
	recall := cognitive.NewRecall(meta, nil, 0, nil)
	for i := 0; i < 3; i++ {
		if _, err := recall.MarkReviewed(context.Background(), item.UID, true, nil); err != nil {
			t.Fatalf("MarkReviewed failed: %v", err)
		}
	}
	override := 4.5
	updated, err := recall.MarkReviewed(context.Background(), item.UID, false, &override)
	if err != nil {
		t.Fatalf("MarkReviewed failed: %v", err)
	}
	if got := intervalDays(updated); got != 4 {
		t.Fatalf("expected floor(14*0.3)=4 days, got %d", got)
	}
	if updated.Review.Difficulty != 4.5 {
		t.Fatalf("expected difficulty override, got %v", updated.Review.Difficulty)
	}
	bad := 9.0
	if _, err := recall.MarkReviewed(context.Background(), item.UID, true, &bad); err == nil {
		t.Fatal("expected out-of-range difficulty to be rejected")
	}
}

func TestItemsForReviewPrefersNeverReviewed(t *testing.T) {
	meta, clock := newManager(t)
	reviewed := seed(t, meta, "reviewed", seedOpts{})
	fresh := seed(t, meta, "fresh", seedOpts{})
	recall := cognitive.NewRecall(meta, nil, 0, nil)

	if _, err := recall.MarkReviewed(context.Background(), reviewed.UID, true, nil); err != nil {
		t.Fatalf("MarkReviewed failed: %v", err)
	}
	clock.Advance(24 * time.Hour)

	due, err := recall.ItemsForReview(context.Background(), 10)
	if err != nil {
		t.Fatalf("ItemsForReview failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due items, got %d", len(due))
	}
	if due[0].Item.UID != fresh.UID {
		t.Fatalf("never reviewed item should rank first, got %s", due[0].Item.UID)
	}
	if math.Abs(due[0].Urgency-4.16) > 1e-9 {
		t.Fatalf("unexpected never-reviewed urgency %v", due[0].Urgency)
	}
}

func TestDeriveDifficulty(t *testing.T) {
	item := &catalog.ContentItem{
		ContentType: catalog.TypeInstapaper,
		Tags:        []string{"a", "b", "c", "d", "e", "f"},
		Review:      catalog.ReviewState{UserRating: 5},
	}
	// (3 + 0.4 + 0.3) * 1.1 + 0.4
	if got := cognitive.DeriveDifficulty(item, 0.5); math.Abs(got-4.47) > 1e-9 {
		t.Fatalf("unexpected difficulty %v", got)
	}
}

func TestPatternRedundancyAlert(t *testing.T) {
	meta, _ := newManager(t)
	for i := 0; i < 9; i++ {
		seed(t, meta, fmt.Sprintf("both-%d", i), seedOpts{tags: []string{"a", "b"}})
	}
	seed(t, meta, "only-a", seedOpts{tags: []string{"a"}})
	seed(t, meta, "only-b", seedOpts{tags: []string{"b"}})

	report, err := cognitive.NewPatterns(meta, 0, nil).Analyze(context.Background(), 1)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if report.Frequencies["a"] != 10 || report.Cooccurrences["a"]["b"] != 9 {
		t.Fatalf("unexpected counts %v %v", report.Frequencies, report.Cooccurrences)
	}
	var found *cognitive.Alert
	for i := range report.Alerts {
		if report.Alerts[i].Type == cognitive.AlertPotentialRedundancy {
			found = &report.Alerts[i]
		}
	}
	if found == nil {
		t.Fatalf("expected redundancy alert, got %+v", report.Alerts)
	}
	if found.Severity != cognitive.SeverityWarning || strings.Join(found.Tags, ",") != "a,b" {
		t.Fatalf("unexpected alert %+v", found)
	}
	if math.Abs(found.CooccurrenceRate-0.9) > 1e-9 {
		t.Fatalf("expected rate 0.9, got %v", found.CooccurrenceRate)
	}
	if report.Trends["a"].Direction != cognitive.TrendUnknown {
		t.Fatalf("single bucket trend should be unknown, got %+v", report.Trends["a"])
	}
}

func TestPatternCacheReturnsIndependentReports(t *testing.T) {
	meta, _ := newManager(t)
	for i := 0; i < 3; i++ {
		seed(t, meta, fmt.Sprintf("pair-%d", i), seedOpts{tags: []string{"a", "b"}})
	}
	patterns := cognitive.NewPatterns(meta, time.Hour, nil)
	ctx := context.Background()

	first, err := patterns.Analyze(ctx, 1)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	first.Frequencies["a"] = 99
	first.Cooccurrences["a"]["b"] = 99
	delete(first.Trends, "a")
	first.Trending = append(first.Trending[:0], "mutated")

	second, err := patterns.Analyze(ctx, 1)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if second.Frequencies["a"] != 3 || second.Cooccurrences["a"]["b"] != 3 {
		t.Fatalf("cached report was mutated: %v %v", second.Frequencies, second.Cooccurrences)
	}
	if _, ok := second.Trends["a"]; !ok {
		t.Fatalf("cached trends were mutated: %v", second.Trends)
	}
	for _, tag := range second.Trending {
		if tag == "mutated" {
			t.Fatalf("cached trending list was mutated: %v", second.Trending)
		}
	}
	second.Frequencies["b"] = 42
	third, _ := patterns.Analyze(ctx, 1)
	if third.Frequencies["b"] != 3 {
		t.Fatalf("cache hits share maps: %v", third.Frequencies)
	}
}

func TestTrendForComparesRecentBuckets(t *testing.T) {
	temporal := metadata.TemporalReport{
		Buckets: []string{"2025-01", "2025-02", "2025-03", "2025-04"},
		TagDistribution: map[string]map[string]int{
			"2025-01": {"go": 1},
			"2025-02": {"go": 1},
			"2025-03": {"go": 3},
			"2025-04": {"go": 3},
		},
	}
	trend := cognitive.TrendFor("go", temporal)
	if trend.Direction != cognitive.TrendRising || trend.Recent != 6 || trend.Older != 2 || trend.Strength != 2 {
		t.Fatalf("unexpected trend %+v", trend)
	}
}

func TestHighCooccurrenceAlert(t *testing.T) {
	report := metadata.TagPatternReport{
		Frequencies: map[string]int{"hub": 6, "x": 2, "y": 2, "z": 2},
		Cooccurrences: map[string]map[string]int{
			"hub": {"x": 2, "y": 2, "z": 2},
		},
	}
	alerts := cognitive.Alerts(report)
	if len(alerts) != 1 || alerts[0].Type != cognitive.AlertHighCooccurrence || alerts[0].Count != 6 {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
}

func TestTemporalThematicContinuation(t *testing.T) {
	meta, _ := newManager(t)
	day := 24 * time.Hour
	start := epoch.Add(-10 * day)
	seed(t, meta, "p1", seedOpts{ct: catalog.TypePodcast, tags: []string{"ai", "ethics", "policy"}, created: start})
	seed(t, meta, "p2", seedOpts{ct: catalog.TypePodcast, tags: []string{"ai", "ethics"}, created: start.Add(day)})
	seed(t, meta, "p3", seedOpts{ct: catalog.TypePodcast, tags: []string{"ethics", "ai", "law"}, created: start.Add(2 * day)})

	rels, err := cognitive.NewTemporal(meta, nil).Relationships(context.Background(), 7)
	if err != nil {
		t.Fatalf("Relationships failed: %v", err)
	}
	if len(rels) != 2 {
		t.Fatalf("expected 2 relationships, got %d", len(rels))
	}
	for _, rel := range rels {
		if rel.Type != cognitive.RelThematicContinuation {
			t.Fatalf("expected thematic continuation, got %s", rel.Type)
		}
		if rel.Strength <= 1.0 {
			t.Fatalf("expected strength > 1, got %v", rel.Strength)
		}
	}
}

func TestRelateAdjacentClassifiesPairs(t *testing.T) {
	day := 24 * time.Hour
	item := func(uid string, ct catalog.ContentType, offset time.Duration, tags ...string) *catalog.ContentItem {
		return &catalog.ContentItem{UID: uid, ContentType: ct, Tags: tags, CreatedAt: epoch.Add(offset)}
	}
	article, podcast := catalog.TypeArticle, catalog.TypePodcast

	cases := []struct {
		name     string
		items    []*catalog.ContentItem
		wantType string
		strength float64
		shared   int
	}{
		{
			name: "thematic continuation on two shared tags",
			items: []*catalog.ContentItem{
				item("a", article, 0, "go", "db"),
				item("b", podcast, day, "db", "go", "ops"),
			},
			wantType: cognitive.RelThematicContinuation,
			strength: 1/1.5 + 0.4,
			shared:   2,
		},
		{
			name: "content type cluster",
			items: []*catalog.ContentItem{
				item("a", podcast, 0, "go"),
				item("b", podcast, day, "go", "ops"),
			},
			wantType: cognitive.RelContentTypeCluster,
			strength: 1/1.5 + 0.2 + 0.3,
			shared:   1,
		},
		{
			name: "temporal proximity",
			items: []*catalog.ContentItem{
				item("a", article, 0, "go"),
				item("b", podcast, 2*day, "cooking"),
			},
			wantType: cognitive.RelTemporalProximity,
			strength: 0.5,
		},
		{
			name: "inclusive upper bound",
			items: []*catalog.ContentItem{
				item("a", article, 0),
				item("b", podcast, 7*day),
			},
			wantType: cognitive.RelTemporalProximity,
			strength: 1 / 4.5,
		},
		{
			name: "strength capped",
			items: []*catalog.ContentItem{
				item("a", article, 0, "a", "b", "c", "d", "e", "f"),
				item("b", article, time.Hour, "a", "b", "c", "d", "e", "f"),
			},
			wantType: cognitive.RelThematicContinuation,
			strength: 2.0,
			shared:   6,
		},
		{
			name: "same instant excluded",
			items: []*catalog.ContentItem{
				item("a", article, 0, "go", "db"),
				item("b", article, 0, "go", "db"),
			},
		},
		{
			name: "beyond max delta excluded",
			items: []*catalog.ContentItem{
				item("a", article, 0, "go", "db"),
				item("b", article, 8*day, "go", "db"),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Reverse the input to check creation-order sorting.
			in := []*catalog.ContentItem{tc.items[1], tc.items[0]}
			rels := cognitive.RelateAdjacent(in, 7)
			if tc.wantType == "" {
				if len(rels) != 0 {
					t.Fatalf("expected no relationship, got %+v", rels)
				}
				return
			}
			if len(rels) != 1 {
				t.Fatalf("expected one relationship, got %d", len(rels))
			}
			rel := rels[0]
			if rel.FromUID != "a" || rel.ToUID != "b" {
				t.Fatalf("expected a -> b, got %s -> %s", rel.FromUID, rel.ToUID)
			}
			if rel.Type != tc.wantType {
				t.Fatalf("expected %s, got %s", tc.wantType, rel.Type)
			}
			if math.Abs(rel.Strength-tc.strength) > 1e-9 {
				t.Fatalf("expected strength %v, got %v", tc.strength, rel.Strength)
			}
			if len(rel.SharedTags) != tc.shared {
				t.Fatalf("expected %d shared tags, got %v", tc.shared, rel.SharedTags)
			}
		})
	}
}

func TestSeasonalAndVelocity(t *testing.T) {
	insights := cognitive.Seasonal([]string{"a", "b", "c", "d"}, map[string]int{"a": 10, "b": 2, "c": 4, "d": 4})
	if insights.Mean != 5 || strings.Join(insights.Peaks, ",") != "a" || strings.Join(insights.Lows, ",") != "b" {
		t.Fatalf("unexpected insights %+v", insights)
	}
	cases := map[float64]string{
		80:  cognitive.VelocityAccelerating,
		20:  cognitive.VelocityGrowing,
		0:   cognitive.VelocityStable,
		-30: cognitive.VelocityDeclining,
		-60: cognitive.VelocityRapidlyDeclining,
	}
	for rate, want := range cases {
		if got := cognitive.Velocity(rate); got != want {
			t.Fatalf("Velocity(%v) = %s, want %s", rate, got, want)
		}
	}
}

type fakeCompleter struct {
	reply string
	err   error
}

func (f fakeCompleter) Complete(context.Context, string) (string, error) { return f.reply, f.err }

const sampleContent = "SQLite handles concurrent readers well in WAL mode. " +
	"Writers still serialize on a single lock. Short. " +
	"Batching writes inside one transaction improves throughput considerably. " +
	"A fourth sentence that should not be used for templates."

func TestQuestionsGenerate(t *testing.T) {
	meta, _ := newManager(t)
	item := seed(t, meta, "q1", seedOpts{tags: []string{"sqlite", "performance"}, created: epoch.Add(-100 * 24 * time.Hour)})
	related := seed(t, meta, "q2", seedOpts{tags: []string{"sqlite"}})

	engine := cognitive.NewQuestions(meta, nil, cognitive.WithCompleter(fakeCompleter{
		reply: "1. What limits SQLite write concurrency?\nnot a question\n- What do you already know about sqlite?",
	}, time.Second))
	questions := engine.Generate(context.Background(), sampleContent, item)

	sentenceQuestions := 0
	for _, q := range questions {
		if strings.Contains(q, "SQLite handles") || strings.Contains(q, "Writers still") || strings.Contains(q, "Batching writes") {
			sentenceQuestions++
		}
		if strings.Contains(q, "fourth sentence") {
			t.Fatalf("only three sentences should be used: %q", q)
		}
	}
	if sentenceQuestions != 10 {
		t.Fatalf("expected 10 sentence questions, got %d", sentenceQuestions)
	}
	mustContain(t, questions, "What do you already know about sqlite?")
	mustContain(t, questions, "What is the author's main argument?")
	mustContain(t, questions, "Is this still relevant to what you are working on now?")
	mustContain(t, questions, fmt.Sprintf("How does this compare with %q?", related.Title))
	mustContain(t, questions, "What limits SQLite write concurrency?")

	seen := make(map[string]bool)
	for _, q := range questions {
		key := strings.ToLower(q)
		if seen[key] {
			t.Fatalf("duplicate question %q", q)
		}
		seen[key] = true
	}
}

func TestQuestionsIgnoreCompleterFailure(t *testing.T) {
	engine := cognitive.NewQuestions(nil, nil, cognitive.WithCompleter(fakeCompleter{err: errors.New("boom")}, time.Second))
	questions := engine.Generate(context.Background(), sampleContent, nil)
	if len(questions) != 10 {
		t.Fatalf("expected sentence questions only, got %d", len(questions))
	}
}

func TestQuestionsProgressive(t *testing.T) {
	engine := cognitive.NewQuestions(nil, nil)
	item := &catalog.ContentItem{ContentType: catalog.TypeArticle, Tags: []string{"sqlite"}, CreatedAt: epoch}
	got := engine.Progressive(context.Background(), sampleContent, item, 3)
	if len(got) == 0 || len(got) > 5 {
		t.Fatalf("expected up to five questions, got %d", len(got))
	}
	for _, q := range got {
		lower := strings.ToLower(q)
		if !strings.Contains(lower, "evidence") && !strings.Contains(lower, "compare") &&
			!strings.Contains(lower, "contrast") && !strings.Contains(lower, "patterns") {
			t.Fatalf("question %q does not belong to the analysis level", q)
		}
	}
}

func mustContain(t *testing.T, list []string, want string) {
	t.Helper()
	for _, got := range list {
		if got == want {
			return
		}
	}
	t.Fatalf("missing %q in %v", want, list)
}

func TestUrgencyGrowsWhenOverdue(t *testing.T) {
	recall := cognitive.NewRecall(nil, nil, 0, nil)
	reviewed := epoch.Add(-7 * 24 * time.Hour)
	item := &catalog.ContentItem{Review: catalog.ReviewState{
		Count: 2, LastReviewedAt: &reviewed, SuccessRate: 0.9, Difficulty: 3,
	}}
	// expected 3 days, 7 elapsed: overdue 4/3
	want := (1 + 4.0/3.0) * 1.6
	if got := recall.Urgency(item, epoch); math.Abs(got-want) > 1e-9 {
		t.Fatalf("Urgency = %v, want %v", got, want)
	}
}
