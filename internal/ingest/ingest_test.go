package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/identity"
	"atlas/internal/ingest"
	"atlas/internal/metadata"
	"atlas/internal/services"
	"atlas/internal/testsupport"
)

const podcastFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"
  xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd"
  xmlns:psc="http://podlove.org/simple-chapters"
  xmlns:podcast="https://podcastindex.org/namespace/1.0">
  <channel>
    <title>Example Show</title>
    <link>https://example.com/show</link>
    <itunes:author>Example Host</itunes:author>
    <item>
      <guid>g1</guid>
      <title>Episode One</title>
      <link>https://example.com/show</link>
      <description>First episode.</description>
      <pubDate>Mon, 02 Jun 2025 10:00:00 GMT</pubDate>
      <enclosure url="https://cdn.example.com/ep1.mp3" length="1000" type="audio/mpeg"/>
      <itunes:duration>1:00:00</itunes:duration>
      <psc:chapters version="1.2">
        <psc:chapter start="00:00:00" title="Intro"/>
        <psc:chapter start="00:05:00" title="Sponsor"/>
      </psc:chapters>
    </item>
    <item>
      <guid>g2</guid>
      <title>Episode Two</title>
      <link>https://example.com/show</link>
      <pubDate>Mon, 09 Jun 2025 10:00:00 GMT</pubDate>
      <enclosure url="https://cdn.example.com/ep2.mp3" length="2000" type="audio/mpeg"/>
      <podcast:chapters url="%s/chapters.json" type="application/json+chapters"/>
    </item>
    <item>
      <guid>g3</guid>
      <title>Episode Three</title>
      <link>https://example.com/show</link>
      <pubDate>Mon, 16 Jun 2025 10:00:00 GMT</pubDate>
      <enclosure url="https://cdn.example.com/ep3.mp3" length="3000" type="audio/mpeg"/>
    </item>
    <item>
      <guid>no-audio</guid>
      <title>Announcement</title>
    </item>
  </channel>
</rss>`

const chaptersJSON = `{"version":"1.2.0","chapters":[
  {"startTime":0,"title":"Cold open"},
  {"startTime":90,"title":"Hidden","toc":false},
  {"startTime":120,"title":"Interview"}
]}`

const youtubeFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"
  xmlns:yt="http://www.youtube.com/xml/schemas/2015"
  xmlns:media="http://search.yahoo.com/mrss/">
  <title>Example Channel</title>
  <author><name>Example Channel</name></author>
  <entry>
    <id>yt:video:abc123</id>
    <yt:videoId>abc123</yt:videoId>
    <title>Building Things</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=abc123"/>
    <published>2025-05-01T12:00:00+00:00</published>
    <media:group>
      <media:title>Building Things</media:title>
      <media:thumbnail url="https://i.ytimg.com/vi/abc123/hqdefault.jpg" width="480" height="360"/>
      <media:description>How things get built.</media:description>
    </media:group>
  </entry>
</feed>`

type env struct {
	meta     *metadata.Manager
	ingestor *ingest.Ingestor
	fetcher  *ingest.Fetcher
}

func newEnv(t *testing.T, client *http.Client) env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock(time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC))
	store := testsupport.MustOpenCatalog(t, cfg, catalog.WithClock(clock.Now))
	meta := metadata.New(store, metadata.WithClock(clock.Now), metadata.WithCache(0, 0))
	fetcher := ingest.NewFetcher(client, "atlas-test/1.0", 5*time.Second)
	return env{
		meta:     meta,
		ingestor: ingest.New(meta, ingest.WithChapterFetcher(fetcher)),
		fetcher:  fetcher,
	}
}

func feedServer(t *testing.T, userAgents *[]string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*userAgents = append(*userAgents, r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/feed.xml":
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprintf(w, podcastFeed, srv.URL)
		case "/chapters.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(chaptersJSON))
		case "/channel.xml":
			_, _ = w.Write([]byte(youtubeFeed))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func allItems(t *testing.T, meta *metadata.Manager) []*catalog.ContentItem {
	t.Helper()
	items, err := meta.List(context.Background(), catalog.ItemFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	return items
}

func TestFeedReingestIsIdempotent(t *testing.T) {
	var agents []string
	srv := feedServer(t, &agents)
	e := newEnv(t, srv.Client())
	ctx := context.Background()
	adapter := ingest.NewFeedAdapter(e.fetcher, ingest.Subscription{Name: "example", URL: srv.URL + "/feed.xml", Tags: []string{"science"}}, nil)

	first, err := e.ingestor.Run(ctx, adapter)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if first.Created != 3 || first.Failed != 0 {
		t.Fatalf("unexpected first summary: %+v", first)
	}

	uid := identity.UID("g1")
	if _, err := e.meta.Transition(ctx, uid, catalog.StatusProcessing, "", nil); err != nil {
		t.Fatalf("Transition to processing failed: %v", err)
	}
	if _, err := e.meta.Transition(ctx, uid, catalog.StatusCompleted, "", nil); err != nil {
		t.Fatalf("Transition to completed failed: %v", err)
	}

	second, err := e.ingestor.Run(ctx, adapter)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if second.Created != 0 || second.Unchanged != 3 {
		t.Fatalf("unexpected second summary: %+v", second)
	}

	items := allItems(t, e.meta)
	if len(items) != 3 {
		t.Fatalf("expected 3 items after two runs, got %d", len(items))
	}
	for _, item := range items {
		want := catalog.StatusPending
		if item.UID == uid {
			want = catalog.StatusCompleted
		}
		if item.Status != want {
			t.Fatalf("item %s: expected %s, got %s", item.Title, want, item.Status)
		}
	}
	for _, ua := range agents {
		if ua != "atlas-test/1.0" {
			t.Fatalf("expected User-Agent on every request, got %q", ua)
		}
	}
}

func TestFeedEpisodeFields(t *testing.T) {
	var agents []string
	srv := feedServer(t, &agents)
	e := newEnv(t, srv.Client())
	ctx := context.Background()
	adapter := ingest.NewFeedAdapter(e.fetcher, ingest.Subscription{URL: srv.URL + "/feed.xml", Tags: []string{"Science"}}, nil)

	if _, err := e.ingestor.Run(ctx, adapter); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	one, err := e.meta.LoadByUID(ctx, identity.UID("g1"))
	if err != nil || one == nil {
		t.Fatalf("LoadByUID g1: %v %v", one, err)
	}
	if one.ContentType != catalog.TypePodcast || one.ShowName != "Example Show" || one.SourceGUID != "g1" {
		t.Fatalf("unexpected episode row: %+v", one)
	}
	if one.Podcast.OriginalAudioURL != "https://cdn.example.com/ep1.mp3" || one.Podcast.OriginalDuration != 3600 {
		t.Fatalf("unexpected podcast fields: %+v", one.Podcast)
	}
	if one.Podcast.ShowAuthor != "Example Host" {
		t.Fatalf("expected show author, got %q", one.Podcast.ShowAuthor)
	}
	if len(one.Podcast.Chapters) != 2 || one.Podcast.Chapters[1].Title != "Sponsor" || one.Podcast.Chapters[0].End != 300 {
		t.Fatalf("unexpected inline chapters: %+v", one.Podcast.Chapters)
	}
	if len(one.Tags) != 1 || one.Tags[0] != "science" {
		t.Fatalf("expected subscription tag, got %v", one.Tags)
	}
	if one.PublishedAt == nil || !one.PublishedAt.Equal(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected published at: %v", one.PublishedAt)
	}

	two, err := e.meta.LoadByUID(ctx, identity.UID("g2"))
	if err != nil || two == nil {
		t.Fatalf("LoadByUID g2: %v %v", two, err)
	}
	if len(two.Podcast.Chapters) != 2 || two.Podcast.Chapters[1].Title != "Interview" {
		t.Fatalf("expected linked chapters without hidden entries, got %+v", two.Podcast.Chapters)
	}
}

func TestYouTubeChannelFeed(t *testing.T) {
	var agents []string
	srv := feedServer(t, &agents)
	e := newEnv(t, srv.Client())
	ctx := context.Background()
	adapter := ingest.NewFeedAdapter(e.fetcher, ingest.Subscription{URL: srv.URL + "/channel.xml", Kind: "youtube"}, nil)

	summary, err := e.ingestor.Run(ctx, adapter)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Created != 1 {
		t.Fatalf("expected one video, got %+v", summary)
	}
	items := allItems(t, e.meta)
	video := items[0]
	if video.ContentType != catalog.TypeYouTube || video.Status != catalog.StatusIngested {
		t.Fatalf("unexpected video row: %s %s", video.ContentType, video.Status)
	}
	if video.UID != identity.UID("https://www.youtube.com/watch?v=abc123") {
		t.Fatalf("expected uid from entry link, got %s", video.UID)
	}
	if video.Description != "How things get built." {
		t.Fatalf("expected media description, got %q", video.Description)
	}
	if video.Podcast != nil {
		t.Fatalf("video must not carry a podcast extension")
	}
}

func TestInstapaperExport(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "instapaper-export.csv")
	export := strings.Join([]string{
		"URL,Title,Selection,Folder,Timestamp,Tags",
		`https://example.com/a,Article A,"A quote, with a comma",Research,1700000000,"[go, databases]"`,
		"https://example.com/b,Article B,,Unread,2024-01-05 10:00:00,",
		"https://example.com/a,Article A,,Research,1700000000,",
		",Missing URL,,Unread,,",
	}, "\n")
	if err := os.WriteFile(path, []byte(export), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}

	summary, err := e.ingestor.Run(ctx, ingest.NewInstapaperAdapter(path))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Seen != 3 || summary.Created != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	a, err := e.meta.Load(ctx, catalog.TypeInstapaper, identity.UID("https://example.com/a"))
	if err != nil || a == nil {
		t.Fatalf("Load a: %v %v", a, err)
	}
	if a.Status != catalog.StatusIngested || a.Description != "A quote, with a comma" {
		t.Fatalf("unexpected row a: %+v", a)
	}
	wantTags := map[string]bool{"go": true, "databases": true, "research": true}
	if len(a.Tags) != len(wantTags) {
		t.Fatalf("unexpected tags: %v", a.Tags)
	}
	for _, tag := range a.Tags {
		if !wantTags[tag] {
			t.Fatalf("unexpected tag %q in %v", tag, a.Tags)
		}
	}
	if a.PublishedAt == nil || a.PublishedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected saved time: %v", a.PublishedAt)
	}

	b, err := e.meta.Load(ctx, catalog.TypeInstapaper, identity.UID("https://example.com/b"))
	if err != nil || b == nil {
		t.Fatalf("Load b: %v %v", b, err)
	}
	if len(b.Tags) != 0 {
		t.Fatalf("default folder must not become a tag, got %v", b.Tags)
	}
	if b.PublishedAt == nil || b.PublishedAt.Year() != 2024 {
		t.Fatalf("expected parsed date, got %v", b.PublishedAt)
	}
}

func TestSubscriptionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.yaml")
	content := `subscriptions:
  - name: Example Show
    url: https://example.com/feed.xml
    tags: [Science, History]
  - name: Channel
    url: https://www.youtube.com/feeds/videos.xml?channel_id=abc
    kind: youtube
  - name: Old Show
    url: https://example.com/old.xml
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write subscriptions: %v", err)
	}
	subs, err := ingest.LoadSubscriptions(path)
	if err != nil {
		t.Fatalf("LoadSubscriptions failed: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("expected 3 subscriptions, got %d", len(subs))
	}
	podcasts := ingest.FilterSubscriptions(subs, catalog.TypePodcast)
	if len(podcasts) != 1 || podcasts[0].Name != "Example Show" || podcasts[0].Tags[0] != "science" {
		t.Fatalf("unexpected podcast subscriptions: %+v", podcasts)
	}
	if videos := ingest.FilterSubscriptions(subs, catalog.TypeYouTube); len(videos) != 1 {
		t.Fatalf("expected one youtube subscription, got %d", len(videos))
	}

	missing, err := ingest.LoadSubscriptions(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || len(missing) != 0 {
		t.Fatalf("missing file should yield no subscriptions, got %v %v", missing, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("subscriptions:\n  - url: https://x\n    kind: radio\n"), 0o644); err != nil {
		t.Fatalf("write bad subscriptions: %v", err)
	}
	if _, err := ingest.LoadSubscriptions(bad); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown kind, got %v", err)
	}
}

func TestFetcherClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	fetcher := ingest.NewFetcher(srv.Client(), "", time.Second)

	if _, err := fetcher.Get(context.Background(), srv.URL+"/gone"); !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error for 404, got %v", err)
	}
	_, err := fetcher.Get(context.Background(), srv.URL+"/busy")
	if !errors.Is(err, services.ErrTransient) || !services.Retryable(err) {
		t.Fatalf("expected retryable transient error for 503, got %v", err)
	}
}

func TestRunReportsUnavailableSource(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	e := newEnv(t, srv.Client())
	adapter := ingest.NewFeedAdapter(e.fetcher, ingest.Subscription{URL: srv.URL + "/missing.xml"}, nil)

	summary, err := e.ingestor.Run(context.Background(), adapter)
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if summary.Seen != 0 {
		t.Fatalf("expected nothing seen, got %+v", summary)
	}
}

func TestArchiveMigration(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	root := t.TempDir()
	files := map[string]string{
		"articles/metadata/one.json": `{"uid":"x","url":"https://example.com/one","title":"One","content_type":"article",` +
			`"published_at":"2023-04-05T06:07:08Z","tags":["Go","go","Storage"]}`,
		"youtube/talk.json":   `{"type":"youtube","url":"https://www.youtube.com/watch?v=talk","title":"Talk","date":"March 3, 2024"}`,
		"notes/untyped.json":  `{"source_url":"https://example.com/two","title":"Two"}`,
		"broken/bad.json":     `not json`,
		"broken/no-url.json":  `{"title":"No identifier"}`,
		"broken/kind.json":    `{"type":"newsletter","url":"https://example.com/n"}`,
		"articles/readme.txt": "ignored",
	}
	for rel, body := range files {
		testsupport.WriteText(t, filepath.Join(root, rel), body)
	}

	adapter := ingest.NewArchiveAdapter(root, "")
	summary, err := e.ingestor.Run(ctx, adapter)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Seen != 3 || summary.Created != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(adapter.Skipped) != 3 {
		t.Fatalf("expected three skipped files, got %v", adapter.Skipped)
	}

	one, err := e.meta.Find(ctx, identity.Source{ContentType: catalog.TypeArticle, SourceURL: "https://example.com/one"})
	if err != nil || one == nil {
		t.Fatalf("Find one: %v %v", one, err)
	}
	if one.Status != catalog.StatusIngested || one.Title != "One" {
		t.Fatalf("unexpected row: %+v", one)
	}
	if len(one.Tags) != 2 || one.Tags[0] != "go" || one.Tags[1] != "storage" {
		t.Fatalf("tags not normalized: %v", one.Tags)
	}
	if one.PublishedAt == nil || one.PublishedAt.Year() != 2023 {
		t.Fatalf("unexpected published time: %v", one.PublishedAt)
	}

	talk, err := e.meta.Find(ctx, identity.Source{ContentType: catalog.TypeYouTube, SourceURL: "https://www.youtube.com/watch?v=talk"})
	if err != nil || talk == nil {
		t.Fatalf("Find talk: %v %v", talk, err)
	}
	if talk.PublishedAt == nil || talk.PublishedAt.Month() != time.March {
		t.Fatalf("expected free-form date to parse, got %v", talk.PublishedAt)
	}

	again, err := e.ingestor.Run(ctx, ingest.NewArchiveAdapter(root, ""))
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if again.Unchanged != 3 {
		t.Fatalf("migration should be idempotent, got %+v", again)
	}
}

func TestArchiveMissingRoot(t *testing.T) {
	_, err := ingest.NewArchiveAdapter(filepath.Join(t.TempDir(), "nope"), "").Descriptors(context.Background())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
