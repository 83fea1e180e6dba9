package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/services"
	"atlas/internal/testsupport"
)

func testUID(n int) string {
	return fmt.Sprintf("%032x", n)
}

func newPodcast(n int) *catalog.ContentItem {
	return &catalog.ContentItem{
		UID:         testUID(n),
		ContentType: catalog.TypePodcast,
		SourceURL:   fmt.Sprintf("https://example.com/ep%d.mp3", n),
		Title:       fmt.Sprintf("Episode %d", n),
		Status:      catalog.StatusPending,
		SourceGUID:  fmt.Sprintf("guid-%d", n),
		ShowName:    "Example Show",
		Tags:        []string{"science", "history"},
		Podcast: &catalog.PodcastEpisode{
			OriginalAudioURL: fmt.Sprintf("https://example.com/ep%d.mp3", n),
			OriginalDuration: 3600,
			Chapters:         []catalog.Chapter{{Start: 0, Title: "Intro"}},
		},
	}
}

func insert(t *testing.T, store *catalog.Store, item *catalog.ContentItem) {
	t.Helper()
	err := store.Update(context.Background(), func(s *catalog.Session) error {
		return s.InsertItem(context.Background(), item)
	})
	if err != nil {
		t.Fatalf("InsertItem failed: %v", err)
	}
}

func load(t *testing.T, store *catalog.Store, uid string) *catalog.ContentItem {
	t.Helper()
	var item *catalog.ContentItem
	err := store.View(context.Background(), func(s *catalog.Session) error {
		var err error
		item, err = s.ItemByUID(context.Background(), uid)
		return err
	})
	if err != nil {
		t.Fatalf("ItemByUID failed: %v", err)
	}
	return item
}

func TestOpenRecordsSchemaVersionAndIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	insert(t, store, newPodcast(1))
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenCatalog(t, cfg)
	stats, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.SchemaVersion != fmt.Sprint(catalog.SchemaVersion) {
		t.Fatalf("expected schema version %d, got %q", catalog.SchemaVersion, stats.SchemaVersion)
	}
	if stats.CreatedAt == "" {
		t.Fatal("expected created_at metadata")
	}
	if stats.Total != 1 || stats.Episodes != 1 {
		t.Fatalf("expected one item with one episode after reopen, got %+v", stats)
	}
}

func TestOpenRefusesDowngrade(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	err := store.Update(ctx, func(s *catalog.Session) error {
		return s.SetMetadata(ctx, catalog.MetaSchemaVersion, fmt.Sprint(catalog.SchemaVersion+1))
	})
	if err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	store.Close()

	_, err = catalog.Open(ctx, cfg.Paths.CatalogPath)
	if !errors.Is(err, catalog.ErrSchemaDowngrade) {
		t.Fatalf("expected ErrSchemaDowngrade, got %v", err)
	}
}

func TestInsertAndLookupPodcast(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	item := newPodcast(7)
	item.Podcast.AdSegments = []catalog.AdSegment{
		{Start: 300, End: 360, Confidence: 0.95, Types: []string{"chapter"}},
		{Start: 1800, End: 1920, Confidence: 0.95, Types: []string{"text"}},
	}
	insert(t, store, item)
	if item.ID == 0 || item.Version != 1 {
		t.Fatalf("expected id and version 1, got id=%d version=%d", item.ID, item.Version)
	}

	err := store.View(ctx, func(s *catalog.Session) error {
		byGUID, err := s.ItemByGUID(ctx, "guid-7")
		if err != nil {
			return err
		}
		if byGUID == nil || byGUID.UID != item.UID {
			t.Fatalf("lookup by guid returned %#v", byGUID)
		}
		byAudio, err := s.ItemByAudioURL(ctx, "https://example.com/ep7.mp3")
		if err != nil {
			return err
		}
		if byAudio == nil || byAudio.ID != item.ID {
			t.Fatalf("lookup by audio url returned %#v", byAudio)
		}
		missing, err := s.ItemByUID(ctx, testUID(99))
		if err != nil {
			return err
		}
		if missing != nil {
			t.Fatalf("expected nil for missing uid, got %#v", missing)
		}
		tags, err := s.TagsForItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if len(tags) != 2 || tags[0].Tag != "history" || tags[0].Type != catalog.TagManual {
			t.Fatalf("unexpected tag edges: %#v", tags)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}

	got := load(t, store, item.UID)
	if got.Podcast == nil {
		t.Fatal("expected podcast extension")
	}
	if len(got.Podcast.AdSegments) != 2 || got.Podcast.AdSegments[1].Start != 1800 {
		t.Fatalf("unexpected ad segments: %#v", got.Podcast.AdSegments)
	}
	if len(got.Podcast.Chapters) != 1 || got.Podcast.Chapters[0].Title != "Intro" {
		t.Fatalf("unexpected chapters: %#v", got.Podcast.Chapters)
	}
	if got.Review.Difficulty != 3 || got.Review.UserRating != 3 {
		t.Fatalf("expected default review state, got %+v", got.Review)
	}
}

func TestInsertPodcastWithoutEpisodeCreatesOne(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	item := newPodcast(2)
	item.Podcast = nil
	insert(t, store, item)

	got := load(t, store, item.UID)
	if got.Podcast == nil {
		t.Fatal("expected an episode row for every podcast")
	}
}

func TestInsertDuplicateUIDReturnsAlreadyExists(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	insert(t, store, newPodcast(3))
	dup := newPodcast(3)
	dup.SourceGUID = "other"
	err := store.Update(ctx, func(s *catalog.Session) error {
		return s.InsertItem(ctx, dup)
	})
	if !errors.Is(err, services.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpdateItemDetectsConcurrentWriter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	item := newPodcast(4)
	insert(t, store, item)

	first := load(t, store, item.UID)
	second := load(t, store, item.UID)

	first.Title = "Renamed"
	first.Tags = []string{"science", "physics"}
	if err := store.Update(ctx, func(s *catalog.Session) error { return s.UpdateItem(ctx, first) }); err != nil {
		t.Fatalf("first UpdateItem failed: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("expected version 2, got %d", first.Version)
	}

	second.Title = "Stale"
	err := store.Update(ctx, func(s *catalog.Session) error { return s.UpdateItem(ctx, second) })
	if !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for stale version, got %v", err)
	}

	got := load(t, store, item.UID)
	if got.Title != "Renamed" {
		t.Fatalf("stale write leaked: %q", got.Title)
	}
	err = store.View(ctx, func(s *catalog.Session) error {
		tags, err := s.TagsForItem(ctx, got.ID)
		if err != nil {
			return err
		}
		if len(tags) != 2 || tags[0].Tag != "physics" || tags[1].Tag != "science" {
			t.Fatalf("tag edges not synced: %#v", tags)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestInvalidAdSegmentsAreRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	item := newPodcast(5)
	item.Podcast.AdSegments = []catalog.AdSegment{
		{Start: 100, End: 200, Confidence: 0.9},
		{Start: 150, End: 250, Confidence: 0.9},
	}
	err := store.Update(ctx, func(s *catalog.Session) error { return s.InsertItem(ctx, item) })
	if !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for overlapping segments, got %v", err)
	}

	item.Podcast.AdSegments = []catalog.AdSegment{{Start: 3500, End: 3700, Confidence: 0.9}}
	err = store.Update(ctx, func(s *catalog.Session) error { return s.InsertItem(ctx, item) })
	if !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for segment past duration, got %v", err)
	}
}

func TestFailedSessionRollsBack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Update(ctx, func(s *catalog.Session) error {
		if err := s.InsertItem(ctx, newPodcast(6)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if got := load(t, store, testUID(6)); got != nil {
		t.Fatalf("expected rollback, found %#v", got)
	}
}

func TestDeleteCascadesToSatellites(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	item := newPodcast(8)
	insert(t, store, item)
	err := store.Update(ctx, func(s *catalog.Session) error {
		if err := s.AddAnalysis(ctx, &catalog.ContentAnalysis{
			ContentItemID: item.ID,
			AnalysisType:  "cognitive",
			Payload:       `{"k":1}`,
			Confidence:    0.8,
		}); err != nil {
			return err
		}
		return s.DeleteItem(ctx, item.UID)
	})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 0 || stats.Episodes != 0 || stats.TagEdges != 0 || stats.Analyses != 0 {
		t.Fatalf("expected cascade delete, got %+v", stats)
	}
}

func TestListItemsFiltersAndOrders(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store := testsupport.MustOpenCatalog(t, cfg, catalog.WithClock(clock.Now))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		item := newPodcast(10 + i)
		item.CreatedAt = clock.Now().AddDate(0, 0, -10*i)
		insert(t, store, item)
	}
	article := &catalog.ContentItem{
		UID:         testUID(20),
		ContentType: catalog.TypeArticle,
		SourceURL:   "https://example.com/a",
		Title:       "Article",
		Status:      catalog.StatusIngested,
		Tags:        []string{"physics"},
	}
	insert(t, store, article)

	cutoff := clock.Now().AddDate(0, 0, -15)
	err := store.View(ctx, func(s *catalog.Session) error {
		old, err := s.ListItems(ctx, catalog.ItemFilter{UpdatedBefore: &cutoff, Order: catalog.OrderByUpdated})
		if err != nil {
			return err
		}
		if len(old) != 2 || old[0].UID != testUID(13) || old[1].UID != testUID(12) {
			t.Fatalf("unexpected forgotten ordering: %d items", len(old))
		}
		if old[0].Podcast == nil {
			t.Fatal("expected episodes attached in list results")
		}

		tagged, err := s.ListItems(ctx, catalog.ItemFilter{AnyTags: []string{"physics"}})
		if err != nil {
			return err
		}
		if len(tagged) != 1 || tagged[0].UID != article.UID {
			t.Fatalf("unexpected tag filter result: %d items", len(tagged))
		}

		newest, err := s.ListItems(ctx, catalog.ItemFilter{
			ContentTypes: []catalog.ContentType{catalog.TypePodcast},
			Order:        catalog.OrderByCreated,
			Descending:   true,
			Limit:        1,
		})
		if err != nil {
			return err
		}
		if len(newest) != 1 || newest[0].UID != testUID(11) {
			t.Fatalf("unexpected newest podcast")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestJobsEnforceCountersAndDueSelection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	err := store.Update(ctx, func(s *catalog.Session) error {
		for _, job := range []*catalog.Job{
			{Name: "due", JobType: "ingest", Command: "ingest podcasts", Schedule: "1h", Status: catalog.JobScheduled, Enabled: true, NextRunAt: &past},
			{Name: "later", JobType: "ingest", Command: "ingest youtube", Schedule: "1d", Status: catalog.JobScheduled, Enabled: true, NextRunAt: &future},
			{Name: "off", JobType: "backup", Command: "backup", Schedule: "1w", Status: catalog.JobPaused, Enabled: false},
		} {
			if err := s.InsertJob(ctx, job); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}

	err = store.View(ctx, func(s *catalog.Session) error {
		due, err := s.DueJobs(ctx, now)
		if err != nil {
			return err
		}
		if len(due) != 1 || due[0].Name != "due" {
			t.Fatalf("unexpected due jobs: %d", len(due))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("DueJobs failed: %v", err)
	}

	bad := &catalog.Job{Name: "bad", JobType: "x", Command: "x", Status: catalog.JobScheduled, Enabled: true, FailureCount: 1}
	err = store.Update(ctx, func(s *catalog.Session) error { return s.InsertJob(ctx, bad) })
	if !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for failure_count > run_count, got %v", err)
	}

	disabled := &catalog.Job{Name: "disabled", JobType: "x", Command: "x", Status: catalog.JobPaused, NextRunAt: &future}
	err = store.Update(ctx, func(s *catalog.Session) error { return s.InsertJob(ctx, disabled) })
	if !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for disabled job with next run, got %v", err)
	}
}

func TestCheckHealthReportsMissingArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	present := filepath.Join(cfg.Paths.DataDir, "articles", "html", testUID(30)+".html")
	testsupport.WriteFile(t, present, 16)
	insert(t, store, &catalog.ContentItem{
		UID:          testUID(30),
		ContentType:  catalog.TypeArticle,
		Title:        "Present",
		Status:       catalog.StatusCompleted,
		HTMLPath:     present,
		MarkdownPath: "articles/markdown/" + testUID(30) + ".md",
	})

	report, err := store.CheckHealth(ctx, cfg.Paths.DataDir)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !report.Healthy() {
		t.Fatalf("expected healthy catalog, got %+v", report)
	}
	if len(report.MissingArtifacts) != 1 || report.MissingArtifacts[0].Field != "markdown_path" {
		t.Fatalf("unexpected missing artifacts: %#v", report.MissingArtifacts)
	}

	if err := store.Optimize(ctx); err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if _, err := os.Stat(cfg.Paths.CatalogPath); err != nil {
		t.Fatalf("catalog file missing after optimize: %v", err)
	}
}
