package articles_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"atlas/internal/articles"
	"atlas/internal/catalog"
	"atlas/internal/discovery"
	"atlas/internal/identity"
	"atlas/internal/ingest"
	"atlas/internal/metadata"
	"atlas/internal/services"
	"atlas/internal/testsupport"
)

const paragraph = "Storage engines trade write amplification, read amplification, and space amplification against each other, " +
	"and every design picks a point in that space. Log structured merge trees favour writes, while B-trees favour reads, " +
	"and the right choice depends on the workload, the hardware, and how much tuning the operators are willing to do."

func articlePage() string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><title>Site | Storage Engines</title>`)
	b.WriteString(`<meta property="og:title" content="Storage Engines Explained"></head><body>`)
	b.WriteString(`<nav><a href="/">Home</a> <a href="/about">About</a></nav><article><h1>Storage Engines Explained</h1>`)
	for range 5 {
		b.WriteString("<p>" + paragraph + "</p>")
	}
	b.WriteString(`<p>See the <a href="https://example.com/lsm">LSM paper</a> for details, and compare it with older designs.</p>`)
	b.WriteString(`</article><footer>Copyright</footer></body></html>`)
	return b.String()
}

func setup(t *testing.T) (*articles.Processor, *metadata.Manager, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/post":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(articlePage()))
		case "/empty":
			_, _ = w.Write([]byte("<html><body><p>Hi.</p></body></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock(time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))
	store := testsupport.MustOpenCatalog(t, cfg, catalog.WithClock(clock.Now))
	meta := metadata.New(store, metadata.WithClock(clock.Now), metadata.WithCache(0, 0))
	proc := articles.New(cfg, meta, articles.WithFetcher(ingest.NewFetcher(srv.Client(), "atlas-test", time.Second)))
	return proc, meta, srv
}

func seed(t *testing.T, meta *metadata.Manager, ct catalog.ContentType, url, title string) *catalog.ContentItem {
	t.Helper()
	item, err := meta.Create(identity.Source{ContentType: ct, SourceURL: url}, title)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	item.Status = catalog.StatusIngested
	item.Tags = []string{"databases"}
	if err := meta.Save(context.Background(), item); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return item
}

func TestProcessPendingRendersArticles(t *testing.T) {
	proc, meta, srv := setup(t)
	ctx := context.Background()
	good := seed(t, meta, catalog.TypeInstapaper, srv.URL+"/post", "")
	missing := seed(t, meta, catalog.TypeArticle, srv.URL+"/missing", "Gone")

	result, err := proc.ProcessPending(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if result.Attempted != 2 || result.Completed != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	done, err := meta.LoadByUID(ctx, good.UID)
	if err != nil {
		t.Fatalf("LoadByUID failed: %v", err)
	}
	if done.Status != catalog.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.Title != "Storage Engines Explained" {
		t.Fatalf("expected og:title to fill the empty title, got %q", done.Title)
	}
	for _, path := range []string{done.HTMLPath, done.MarkdownPath, done.MetadataPath} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected artifact %s: %v", path, err)
		}
	}
	if !strings.HasSuffix(done.HTMLPath, good.UID+".html") {
		t.Fatalf("unexpected html path %s", done.HTMLPath)
	}
	md, err := os.ReadFile(done.MarkdownPath)
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	if !strings.HasPrefix(string(md), "# Storage Engines Explained") || !strings.Contains(string(md), "write amplification") {
		t.Fatalf("unexpected markdown:\n%s", md)
	}
	if !strings.Contains(string(md), "[LSM paper](https://example.com/lsm)") {
		t.Fatalf("expected link preserved in markdown:\n%s", md)
	}

	failed, err := meta.LoadByUID(ctx, missing.UID)
	if err != nil {
		t.Fatalf("LoadByUID failed: %v", err)
	}
	if failed.Status != catalog.StatusError || failed.FailureStage != "fetch" || failed.RetryCount != 1 {
		t.Fatalf("unexpected failed row: status=%s stage=%s retries=%d", failed.Status, failed.FailureStage, failed.RetryCount)
	}

	again, err := proc.ProcessPending(ctx, 0, 0)
	if err != nil {
		t.Fatalf("second ProcessPending failed: %v", err)
	}
	if again.Attempted != 1 || again.Failed != 1 {
		t.Fatalf("expected only the failed row to be retried, got %+v", again)
	}
}

func TestRenderRejectsThinPages(t *testing.T) {
	proc, meta, srv := setup(t)
	item := seed(t, meta, catalog.TypeArticle, srv.URL+"/empty", "Thin")

	_, err := proc.Process(context.Background(), item.UID)
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent render failure, got %v", err)
	}
	row, _ := meta.LoadByUID(context.Background(), item.UID)
	if row.FailureStage != "render" {
		t.Fatalf("expected render stage recorded, got %q", row.FailureStage)
	}
}

func TestProcessRejectsPodcasts(t *testing.T) {
	proc, meta, _ := setup(t)
	item, err := meta.Create(identity.Source{ContentType: catalog.TypePodcast, GUID: "g", AudioURL: "https://a/1.mp3"}, "Ep")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := meta.Save(context.Background(), item); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := proc.Process(context.Background(), item.UID); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

type stubTranscripts struct {
	result  discovery.Result
	queries []discovery.Query
}

func (s *stubTranscripts) Enabled() bool { return true }

func (s *stubTranscripts) Discover(_ context.Context, q discovery.Query) (discovery.Result, error) {
	s.queries = append(s.queries, q)
	return s.result, nil
}

func TestProcessVideosWritesNotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Ignored - YouTube</title>` +
			`<meta property="og:title" content="Compaction Deep Dive">` +
			`<meta property="og:description" content="How LSM compaction schedules work.">` +
			`<meta name="keywords" content="databases, lsm, storage"></head><body></body></html>`))
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock(time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))
	store := testsupport.MustOpenCatalog(t, cfg, catalog.WithClock(clock.Now))
	meta := metadata.New(store, metadata.WithClock(clock.Now), metadata.WithCache(0, 0))
	transcripts := &stubTranscripts{result: discovery.Result{
		Success:    true,
		Method:     "search",
		SourceURL:  "https://transcripts.example.com/compaction",
		Transcript: "Welcome back. Today we talk about compaction.",
	}}
	proc := articles.New(cfg, meta,
		articles.WithFetcher(ingest.NewFetcher(srv.Client(), "atlas-test", time.Second)),
		articles.WithTranscripts(transcripts),
	)
	ctx := context.Background()
	video := seed(t, meta, catalog.TypeYouTube, srv.URL+"/watch?v=abc", "")

	result, err := proc.ProcessVideos(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ProcessVideos failed: %v", err)
	}
	if result.Attempted != 1 || result.Completed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(transcripts.queries) != 1 || transcripts.queries[0].UID != video.UID {
		t.Fatalf("expected one discovery query for the video, got %+v", transcripts.queries)
	}

	done, err := meta.LoadByUID(ctx, video.UID)
	if err != nil {
		t.Fatalf("LoadByUID failed: %v", err)
	}
	if done.Status != catalog.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.Title != "Compaction Deep Dive" || done.Description != "How LSM compaction schedules work." {
		t.Fatalf("page fields not filled: %q / %q", done.Title, done.Description)
	}
	note, err := os.ReadFile(done.MarkdownPath)
	if err != nil {
		t.Fatalf("read note: %v", err)
	}
	for _, want := range []string{"# Compaction Deep Dive", "## Description", "## Transcript", "Today we talk about compaction."} {
		if !strings.Contains(string(note), want) {
			t.Fatalf("note missing %q:\n%s", want, note)
		}
	}
	if _, err := os.Stat(done.MetadataPath); err != nil {
		t.Fatalf("metadata sidecar missing: %v", err)
	}

	again, err := proc.ProcessVideos(ctx, 0, 0)
	if err != nil {
		t.Fatalf("second ProcessVideos failed: %v", err)
	}
	if again.Attempted != 0 {
		t.Fatalf("completed video should not be attempted again: %+v", again)
	}
}

func TestParseVideoPageFallsBackToTitle(t *testing.T) {
	page, err := articles.ParseVideoPage([]byte(`<html><head><title>Plain Title</title></head></html>`))
	if err != nil {
		t.Fatalf("ParseVideoPage failed: %v", err)
	}
	if page.Title != "Plain Title" || page.Description != "" || len(page.Keywords) != 0 {
		t.Fatalf("unexpected page: %+v", page)
	}
}
