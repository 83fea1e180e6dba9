package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"atlas/internal/adfusion"
	"atlas/internal/catalog"
	"atlas/internal/cognitive"
	"atlas/internal/config"
	"atlas/internal/identity"
	"atlas/internal/metadata"
	"atlas/internal/pipeline"
	"atlas/internal/services"
	"atlas/internal/services/whisperx"
	"atlas/internal/testsupport"
	"atlas/internal/timeline"
)

type fakeDownloader struct {
	calls atomic.Int32
	fail  []error
	gate  chan struct{}
}

func (f *fakeDownloader) Download(ctx context.Context, _ string, dest string) (int64, error) {
	n := int(f.calls.Add(1))
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if n <= len(f.fail) && f.fail[n-1] != nil {
		return 0, f.fail[n-1]
	}
	data := []byte("ID3 fake audio")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

type fakeProber struct{ duration float64 }

func (f fakeProber) Duration(context.Context, string) (float64, error) { return f.duration, nil }

type fakeDetector struct {
	calls    int
	segments []catalog.AdSegment
	input    adfusion.Input
}

func (f *fakeDetector) Detect(_ context.Context, in adfusion.Input) ([]catalog.AdSegment, adfusion.Report, error) {
	f.calls++
	f.input = in
	return f.segments, adfusion.Report{MethodsUsed: []string{adfusion.TypeChapter}}, nil
}

type fakeCutter struct {
	calls int
	keep  []timeline.Span
}

func (f *fakeCutter) Cut(_ context.Context, _ string, keep []timeline.Span, dest string) error {
	f.calls++
	f.keep = keep
	return os.WriteFile(dest, []byte("cleaned"), 0o644)
}

type fakeTranscriber struct {
	calls  int
	err    error
	source string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, source, _ string) (whisperx.Result, error) {
	f.calls++
	f.source = source
	if f.err != nil {
		return whisperx.Result{}, f.err
	}
	return whisperx.Result{
		Segments: []catalog.TranscriptSegment{{Start: 0, End: 4, Text: "Welcome to the show."}},
		Text:     "Welcome to the show.",
		Language: "en",
	}, nil
}

type fixture struct {
	cfg  *config.Config
	meta *metadata.Manager
	dl   *fakeDownloader
	det  *fakeDetector
	cut  *fakeCutter
	tr   *fakeTranscriber
}

func newFixture(t *testing.T, segments []catalog.AdSegment) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	return &fixture{
		cfg:  cfg,
		meta: metadata.New(store),
		dl:   &fakeDownloader{},
		det:  &fakeDetector{segments: segments},
		cut:  &fakeCutter{},
		tr:   &fakeTranscriber{},
	}
}

func (f *fixture) orchestrator(opts ...pipeline.Option) *pipeline.Orchestrator {
	opts = append([]pipeline.Option{pipeline.WithSleeper(func(context.Context, time.Duration) error { return nil })}, opts...)
	return pipeline.New(f.cfg, f.meta, pipeline.Collaborators{
		Downloader:  f.dl,
		Prober:      fakeProber{duration: 3600},
		Detector:    f.det,
		Cutter:      f.cut,
		Transcriber: f.tr,
	}, opts...)
}

func (f *fixture) seedEpisode(t *testing.T, guid string) *catalog.ContentItem {
	t.Helper()
	item, err := f.meta.Create(identity.Source{
		ContentType: catalog.TypePodcast,
		GUID:        guid,
		AudioURL:    "https://cdn.example.com/" + guid + ".mp3",
		SourceURL:   "https://example.com/episodes/" + guid,
	}, "Episode "+guid)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	item.ShowName = "Example Show"
	if err := f.meta.Save(context.Background(), item); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return item
}

func twoAds() []catalog.AdSegment {
	return []catalog.AdSegment{
		{Start: 300, End: 360, Confidence: 0.95, Types: []string{adfusion.TypeChapter}},
		{Start: 1800, End: 1920, Confidence: 0.95, Types: []string{adfusion.TypeChapter}},
	}
}

func TestProcessCompletesEpisode(t *testing.T) {
	f := newFixture(t, twoAds())
	item := f.seedEpisode(t, "g1")

	outcome, err := f.orchestrator().Process(context.Background(), item.UID)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome.Status != catalog.StatusCompleted {
		t.Fatalf("expected completed, got %s", outcome.Status)
	}
	if len(outcome.Stages) != 5 {
		t.Fatalf("expected five stages, got %v", outcome.Stages)
	}

	stored, err := f.meta.LoadByUID(context.Background(), item.UID)
	if err != nil {
		t.Fatalf("LoadByUID failed: %v", err)
	}
	ep := stored.Podcast
	if stored.Status != catalog.StatusCompleted || stored.ProcessingCompletedAt == nil {
		t.Fatalf("expected completed row, got %s", stored.Status)
	}
	if ep.OriginalDuration != 3600 || ep.CleanedDuration != 3420 {
		t.Fatalf("unexpected durations original=%v cleaned=%v", ep.OriginalDuration, ep.CleanedDuration)
	}
	if len(ep.AdSegments) != 2 {
		t.Fatalf("expected 2 ad segments, got %d", len(ep.AdSegments))
	}
	if len(f.cut.keep) != 3 || f.cut.keep[1] != (timeline.Span{Start: 360, End: 1800}) {
		t.Fatalf("unexpected keep ranges %v", f.cut.keep)
	}
	if ep.CleanedFilePath != filepath.Join(f.cfg.PodcastDir("cleaned"), item.UID+".mp3") {
		t.Fatalf("unexpected cleaned path %q", ep.CleanedFilePath)
	}
	if f.tr.source != ep.CleanedFilePath {
		t.Fatalf("expected transcription of cleaned audio, got %q", f.tr.source)
	}
	if ep.TranscriptSource != catalog.TranscriptGenerated || ep.TranscriptFull != "Welcome to the show." {
		t.Fatalf("unexpected transcript %q from %q", ep.TranscriptFull, ep.TranscriptSource)
	}
	if _, err := os.Stat(ep.MarkdownTranscriptPath); err != nil {
		t.Fatalf("expected markdown transcript: %v", err)
	}

	due, err := cognitive.NewRecall(f.meta, nil, 0, nil).ItemsForReview(context.Background(), 10)
	if err != nil {
		t.Fatalf("ItemsForReview failed: %v", err)
	}
	if len(due) != 1 || due[0].Item.UID != item.UID || due[0].Item.Review.Count != 0 || due[0].Urgency < 2.0 {
		t.Fatalf("expected processed episode due for review, got %+v", due)
	}
}

func TestProcessWithoutAdsKeepsOriginal(t *testing.T) {
	f := newFixture(t, nil)
	item := f.seedEpisode(t, "g2")

	if _, err := f.orchestrator().Process(context.Background(), item.UID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	stored, _ := f.meta.LoadByUID(context.Background(), item.UID)
	ep := stored.Podcast
	if ep.CleanedFilePath != ep.OriginalFilePath || ep.CleanedDuration != ep.OriginalDuration {
		t.Fatalf("expected cleaned == original, got %q/%v vs %q/%v",
			ep.CleanedFilePath, ep.CleanedDuration, ep.OriginalFilePath, ep.OriginalDuration)
	}
	if f.cut.calls != 0 {
		t.Fatalf("cutter should not run without ads, ran %d times", f.cut.calls)
	}
}

func TestProcessResumesAfterFailure(t *testing.T) {
	f := newFixture(t, twoAds())
	item := f.seedEpisode(t, "g3")
	f.tr.err = services.Wrap(services.ErrPermanent, "transcribe", "whisperx", "model missing", nil)

	_, err := f.orchestrator().Process(context.Background(), item.UID)
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent failure, got %v", err)
	}
	failed, _ := f.meta.LoadByUID(context.Background(), item.UID)
	if failed.Status != catalog.StatusError || failed.FailureStage != "transcribe" || failed.RetryCount != 1 {
		t.Fatalf("unexpected failure row status=%s stage=%q retries=%d", failed.Status, failed.FailureStage, failed.RetryCount)
	}
	if failed.LastError == "" {
		t.Fatal("expected last_error to be recorded")
	}
	if failed.Podcast.CleanedFilePath == "" || failed.Podcast.AdsDetectedAt == nil {
		t.Fatal("expected partial artifacts on the failed row")
	}
	if f.tr.calls != 1 {
		t.Fatalf("permanent errors must not retry, got %d calls", f.tr.calls)
	}

	f.tr.err = nil
	outcome, err := f.orchestrator().Process(context.Background(), item.UID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if len(outcome.Stages) != 2 || outcome.Stages[0] != "transcribe" {
		t.Fatalf("expected resume at transcribe, got %v", outcome.Stages)
	}
	if f.dl.calls.Load() != 1 || f.det.calls != 1 || f.cut.calls != 1 {
		t.Fatalf("completed stages re-ran: download=%d detect=%d cut=%d", f.dl.calls.Load(), f.det.calls, f.cut.calls)
	}
	done, _ := f.meta.LoadByUID(context.Background(), item.UID)
	if done.Status != catalog.StatusCompleted || done.FailureStage != "" || done.LastError != "" {
		t.Fatalf("expected clean completed row, got %s %q %q", done.Status, done.FailureStage, done.LastError)
	}
}

func TestProcessRendersMissingMarkdownWithoutRetranscribing(t *testing.T) {
	f := newFixture(t, nil)
	item := f.seedEpisode(t, "g3b")
	ctx := context.Background()

	transcripts := f.cfg.PodcastDir("transcripts")
	if err := os.RemoveAll(transcripts); err != nil {
		t.Fatalf("remove transcripts dir: %v", err)
	}
	if err := os.WriteFile(transcripts, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("block transcripts dir: %v", err)
	}

	if _, err := f.orchestrator().Process(ctx, item.UID); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient markdown failure, got %v", err)
	}
	if f.tr.calls != 1 {
		t.Fatalf("markdown retries must not transcribe again, got %d calls", f.tr.calls)
	}
	failed, _ := f.meta.LoadByUID(ctx, item.UID)
	if failed.Status != catalog.StatusError || failed.FailureStage != "transcribe" {
		t.Fatalf("unexpected failure row status=%s stage=%q", failed.Status, failed.FailureStage)
	}
	if failed.Podcast.TranscriptFull == "" || failed.Podcast.MarkdownTranscriptPath != "" {
		t.Fatalf("expected kept transcript without markdown, got %q / %q",
			failed.Podcast.TranscriptFull, failed.Podcast.MarkdownTranscriptPath)
	}

	if err := os.Remove(transcripts); err != nil {
		t.Fatalf("unblock transcripts dir: %v", err)
	}
	outcome, err := f.orchestrator().Process(ctx, item.UID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if len(outcome.Stages) != 2 || outcome.Stages[0] != "transcribe" {
		t.Fatalf("expected resume at transcribe, got %v", outcome.Stages)
	}
	if f.tr.calls != 1 {
		t.Fatalf("resume must reuse the stored transcript, got %d transcriber calls", f.tr.calls)
	}
	done, _ := f.meta.LoadByUID(ctx, item.UID)
	if done.Status != catalog.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	want := filepath.Join(transcripts, item.UID+".md")
	if done.Podcast.MarkdownTranscriptPath != want {
		t.Fatalf("expected markdown path %q, got %q", want, done.Podcast.MarkdownTranscriptPath)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected markdown transcript on disk: %v", err)
	}
}

func TestProcessDetectsWithStoredTranscript(t *testing.T) {
	f := newFixture(t, nil)
	item := f.seedEpisode(t, "g3c")
	ctx := context.Background()

	item.Podcast.TranscriptSegments = []catalog.TranscriptSegment{{Start: 10, End: 40, Text: "This episode is brought to you by Acme."}}
	item.Podcast.TranscriptFull = "This episode is brought to you by Acme."
	item.Podcast.TranscriptSource = catalog.TranscriptDiscovered
	if err := f.meta.Save(ctx, item); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := f.orchestrator().Process(ctx, item.UID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(f.det.input.Transcript) != 1 || f.det.input.Transcript[0].Start != 10 {
		t.Fatalf("expected stored transcript passed to detection, got %#v", f.det.input.Transcript)
	}
	if f.tr.calls != 0 {
		t.Fatalf("stored transcript should only be rendered, transcriber ran %d times", f.tr.calls)
	}
	done, _ := f.meta.LoadByUID(ctx, item.UID)
	if done.Podcast.MarkdownTranscriptPath == "" || done.Podcast.TranscriptSource != catalog.TranscriptDiscovered {
		t.Fatalf("unexpected transcript fields %q / %q", done.Podcast.MarkdownTranscriptPath, done.Podcast.TranscriptSource)
	}
}

func TestProcessRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.dl.fail = []error{
		services.Wrap(services.ErrTransient, "download", "request", "503", nil),
		services.Wrap(services.ErrTransient, "download", "request", "503", nil),
	}
	item := f.seedEpisode(t, "g4")

	var waits []time.Duration
	orch := f.orchestrator(pipeline.WithSleeper(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}))
	if _, err := orch.Process(context.Background(), item.UID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if f.dl.calls.Load() != 3 {
		t.Fatalf("expected 3 download attempts, got %d", f.dl.calls.Load())
	}
	if len(waits) != 2 || waits[1] != 2*waits[0] {
		t.Fatalf("expected exponential backoff, got %v", waits)
	}
}

func TestProcessRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, nil)
	f.dl.gate = make(chan struct{})
	item := f.seedEpisode(t, "g5")
	orch := f.orchestrator()

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = orch.Process(context.Background(), item.UID)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for f.dl.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_, err := orch.Process(context.Background(), item.UID)
	if !errors.Is(err, services.ErrAlreadyInFlight) {
		t.Fatalf("expected ErrAlreadyInFlight, got %v", err)
	}
	close(f.dl.gate)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first run failed: %v", firstErr)
	}
}

func TestProcessCancelledRecordsCancelledStage(t *testing.T) {
	f := newFixture(t, nil)
	f.dl.gate = make(chan struct{})
	item := f.seedEpisode(t, "g6")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for f.dl.calls.Load() == 0 {
			time.Sleep(2 * time.Millisecond)
		}
		cancel()
	}()
	_, err := f.orchestrator().Process(ctx, item.UID)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	stored, _ := f.meta.LoadByUID(context.Background(), item.UID)
	if stored.Status != catalog.StatusError || stored.FailureStage != "cancelled" {
		t.Fatalf("expected error/cancelled, got %s/%q", stored.Status, stored.FailureStage)
	}
}

func TestProcessSkipsCompletedAndNonPodcast(t *testing.T) {
	f := newFixture(t, nil)
	item := f.seedEpisode(t, "g7")
	orch := f.orchestrator()
	if _, err := orch.Process(context.Background(), item.UID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	outcome, err := orch.Process(context.Background(), item.UID)
	if err != nil || !outcome.Skipped {
		t.Fatalf("expected skipped completed episode, got %+v, %v", outcome, err)
	}

	article, err := f.meta.Create(identity.Source{ContentType: catalog.TypeArticle, SourceURL: "https://example.com/a"}, "A")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := f.meta.Save(context.Background(), article); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := orch.Process(context.Background(), article.UID); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for article, got %v", err)
	}
}

func TestProcessPendingWalksQueue(t *testing.T) {
	f := newFixture(t, nil)
	f.seedEpisode(t, "b1")
	f.seedEpisode(t, "b2")

	result, err := f.orchestrator().ProcessPending(context.Background(), pipeline.BatchOptions{})
	if err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}
	if result.Attempted != 2 || result.Completed != 2 {
		t.Fatalf("unexpected batch result %+v", result)
	}
	again, err := f.orchestrator().ProcessPending(context.Background(), pipeline.BatchOptions{})
	if err != nil {
		t.Fatalf("second ProcessPending failed: %v", err)
	}
	if again.Attempted != 0 {
		t.Fatalf("completed rows should not be picked up again, got %+v", again)
	}
}

func TestHTTPDownloaderClassifiesStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") != "atlas-test" {
			t.Errorf("missing user agent, got %q", r.Header.Get("User-Agent"))
		}
		switch r.URL.Path {
		case "/missing.mp3":
			http.NotFound(w, r)
		case "/busy.mp3":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/limited.mp3":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte("audio-bytes"))
		}
	}))
	defer srv.Close()

	dl := pipeline.NewHTTPDownloader(srv.Client(), "atlas-test")
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := dl.Download(ctx, srv.URL+"/missing.mp3", filepath.Join(dir, "a.mp3")); !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent for 404, got %v", err)
	}
	if _, err := dl.Download(ctx, srv.URL+"/busy.mp3", filepath.Join(dir, "b.mp3")); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient for 503, got %v", err)
	}
	if _, err := dl.Download(ctx, srv.URL+"/limited.mp3", filepath.Join(dir, "c.mp3")); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient for 429, got %v", err)
	}
	dest := filepath.Join(dir, "ok.mp3")
	n, err := dl.Download(ctx, srv.URL+"/ok.mp3", dest)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, _ := os.ReadFile(dest)
	if n != int64(len("audio-bytes")) || string(data) != "audio-bytes" {
		t.Fatalf("unexpected download %d %q", n, data)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.mp3")); !os.IsNotExist(err) {
		t.Fatal("failed download must not leave a file")
	}
}
