package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"atlas/internal/adfusion"
	"atlas/internal/catalog"
	"atlas/internal/config"
	"atlas/internal/discovery"
	"atlas/internal/fileutil"
	"atlas/internal/logging"
	"atlas/internal/services"
	"atlas/internal/timeline"
)

const (
	stageDownload   = "download"
	stageDetect     = "detect"
	stageCut        = "cut"
	stageTranscribe = "transcribe"
	stageWriteBack  = "write_back"

	defaultAudioExt = ".mp3"
	fastPreviewLen  = 2000
)

var audioExts = map[string]struct{}{
	".mp3": {}, ".m4a": {}, ".aac": {}, ".ogg": {}, ".opus": {}, ".wav": {}, ".flac": {},
}

// stage is one step of the episode state machine. done reports whether the
// row already carries the stage's outputs.
type stage struct {
	name    string
	timeout time.Duration
	done    func(*catalog.ContentItem) bool
	run     func(context.Context, *catalog.ContentItem) error
}

func (o *Orchestrator) stages() []stage {
	t := o.cfg.Timeouts
	return []stage{
		{name: stageDownload, timeout: config.StageTimeout(t.Download), done: downloaded, run: o.download},
		{name: stageDetect, timeout: config.StageTimeout(t.Detect), done: detected, run: o.detect},
		{name: stageCut, timeout: config.StageTimeout(t.Cut), done: cleaned, run: o.cut},
		{name: stageTranscribe, timeout: config.StageTimeout(t.Transcribe), done: transcribed, run: o.transcribe},
		{name: stageWriteBack, timeout: o.writeBackTimeout(), done: func(*catalog.ContentItem) bool { return false }, run: o.writeBack},
	}
}

func downloaded(item *catalog.ContentItem) bool {
	ep := item.Podcast
	return ep.OriginalFilePath != "" && fileutil.Size(ep.OriginalFilePath) > 0 && ep.OriginalDuration > 0
}

func detected(item *catalog.ContentItem) bool {
	return item.Podcast.AdsDetectedAt != nil
}

func cleaned(item *catalog.ContentItem) bool {
	ep := item.Podcast
	return ep.CleanedFilePath != "" && fileutil.Exists(ep.CleanedFilePath) && ep.CleanedDuration > 0
}

// transcribed requires the Markdown rendering on disk as well as the
// transcript text, so a row that lost its rendering is rendered again.
func transcribed(item *catalog.ContentItem) bool {
	ep := item.Podcast
	return hasTranscript(ep) && ep.MarkdownTranscriptPath != "" && fileutil.Exists(ep.MarkdownTranscriptPath)
}

func hasTranscript(ep *catalog.PodcastEpisode) bool {
	return strings.TrimSpace(ep.TranscriptFull) != "" || len(ep.TranscriptSegments) > 0
}

// runStage executes st with its timeout, retrying transient failures with
// exponential backoff up to the configured retry count.
func (o *Orchestrator) runStage(ctx context.Context, st stage, item *catalog.ContentItem) error {
	ctx = services.WithStage(ctx, st.name)
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("stage started", logging.Event("stage_start"))

	maxAttempts := o.cfg.Download.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	base := time.Duration(o.cfg.Download.RetryBaseDelayMS) * time.Millisecond

	start := o.now()
	var err error
	for attempt := 1; ; attempt++ {
		err = o.attempt(ctx, st, item)
		if err == nil || !services.Retryable(err) || attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		delay := base << (attempt - 1)
		logging.WarnWithContext(logger, "stage attempt failed; retrying", "stage_retry",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", maxAttempts),
			logging.Duration("backoff", delay),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stage is delayed"),
		)
		if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
			err = services.Classify(sleepErr)
			break
		}
	}
	elapsed := o.now().Sub(start)
	o.metrics.ObserveStage(st.name, elapsed, err)

	if err != nil {
		logging.ErrorWithContext(logger, "stage failed", "stage_failed",
			logging.Duration("duration", elapsed),
			logging.String("error_kind", services.KindOf(err)),
			logging.Error(err),
		)
		return err
	}
	logger.Info("stage completed",
		logging.Event("stage_complete"),
		logging.Duration("duration", elapsed),
	)
	return nil
}

func (o *Orchestrator) attempt(ctx context.Context, st stage, item *catalog.ContentItem) error {
	if st.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.timeout)
		defer cancel()
	}
	return services.Classify(st.run(ctx, item))
}

func (o *Orchestrator) download(ctx context.Context, item *catalog.ContentItem) error {
	if o.collab.Downloader == nil || o.collab.Prober == nil {
		return services.Wrap(services.ErrPermanent, stageDownload, "setup", "downloader and prober required", nil)
	}
	ep := item.Podcast
	dest := ep.OriginalFilePath
	if dest == "" {
		dest = filepath.Join(o.cfg.PodcastDir("originals"), item.UID+audioExt(ep.OriginalAudioURL))
	}
	size := fileutil.Size(dest)
	if size <= 0 {
		n, err := o.collab.Downloader.Download(ctx, ep.OriginalAudioURL, dest)
		if err != nil {
			return err
		}
		size = n
	}
	duration, err := o.collab.Prober.Duration(ctx, dest)
	if err != nil {
		return err
	}
	ep.OriginalFilePath = dest
	ep.OriginalFileSize = size
	ep.OriginalDuration = duration
	return nil
}

func (o *Orchestrator) detect(ctx context.Context, item *catalog.ContentItem) error {
	if o.collab.Detector == nil {
		return services.Wrap(services.ErrPermanent, stageDetect, "setup", "detector required", nil)
	}
	ep := item.Podcast
	segments, report, err := o.collab.Detector.Detect(ctx, adfusion.Input{
		AudioPath:  ep.OriginalFilePath,
		Duration:   ep.OriginalDuration,
		Chapters:   ep.Chapters,
		Transcript: ep.TranscriptSegments,
	})
	if err != nil {
		return err
	}
	if err := timeline.Validate(catalog.AdSpans(segments), ep.OriginalDuration); err != nil {
		return services.Wrap(services.ErrIntegrity, stageDetect, "validate", "detector returned invalid segments", err)
	}
	now := o.now().UTC()
	ep.AdSegments = segments
	ep.AdsDetectedAt = &now
	ep.DetectionMethods = append([]string(nil), report.MethodsUsed...)
	logging.WithContext(ctx, o.logger).Info("ads detected",
		logging.Event("ads_detected"),
		logging.Int("segments", len(segments)),
		logging.Float64("total_ad_seconds", report.TotalAdSeconds),
		logging.Any("methods", report.MethodsUsed),
	)
	return nil
}

func (o *Orchestrator) cut(ctx context.Context, item *catalog.ContentItem) error {
	ep := item.Podcast
	now := o.now().UTC()
	if len(ep.AdSegments) == 0 {
		ep.CleanedFilePath = ep.OriginalFilePath
		ep.CleanedDuration = ep.OriginalDuration
		ep.CleanedFileSize = ep.OriginalFileSize
		ep.CleanedReadyAt = &now
		return nil
	}
	if o.collab.Cutter == nil {
		return services.Wrap(services.ErrPermanent, stageCut, "setup", "cutter required", nil)
	}
	keep := timeline.Complement(catalog.AdSpans(ep.AdSegments), ep.OriginalDuration)
	if len(keep) == 0 {
		return services.Wrap(services.ErrInvalidInput, stageCut, "plan", "ad segments cover the whole episode", nil)
	}
	dest := filepath.Join(o.cfg.PodcastDir("cleaned"), item.UID+filepath.Ext(ep.OriginalFilePath))
	if err := o.collab.Cutter.Cut(ctx, ep.OriginalFilePath, keep, dest); err != nil {
		return err
	}
	ep.CleanedFilePath = dest
	ep.CleanedDuration = timeline.Total(keep)
	ep.CleanedFileSize = fileutil.Size(dest)
	ep.CleanedReadyAt = &now
	return nil
}

// transcribe obtains a transcript once, then renders it to Markdown. A
// transcript kept from an earlier attempt is only rendered again.
func (o *Orchestrator) transcribe(ctx context.Context, item *catalog.ContentItem) error {
	if !hasTranscript(item.Podcast) {
		if err := o.obtainTranscript(ctx, item); err != nil {
			return err
		}
	}
	return o.renderTranscript(item)
}

func (o *Orchestrator) obtainTranscript(ctx context.Context, item *catalog.ContentItem) error {
	ep := item.Podcast
	found, err := o.discover(ctx, item)
	if err != nil || found {
		return err
	}
	if o.collab.Transcriber == nil {
		return services.Wrap(services.ErrPermanent, stageTranscribe, "setup", "no transcript discovered and no transcriber configured", nil)
	}
	source := ep.CleanedFilePath
	if source == "" {
		source = ep.OriginalFilePath
	}
	result, err := o.collab.Transcriber.Transcribe(ctx, source, o.cfg.PodcastDir("transcripts"))
	if err != nil {
		return err
	}
	ep.TranscriptSegments = result.Segments
	ep.TranscriptFull = strings.TrimSpace(result.Text)
	ep.TranscriptLanguage = result.Language
	ep.TranscriptSource = catalog.TranscriptGenerated
	ep.TranscriptPath = result.JSONPath
	return nil
}

func (o *Orchestrator) renderTranscript(item *catalog.ContentItem) error {
	ep := item.Podcast
	ep.TranscriptFast = fastPreview(ep.TranscriptFull)
	mdPath := filepath.Join(o.cfg.PodcastDir("transcripts"), item.UID+".md")
	if err := fileutil.WriteFileAtomic(mdPath, []byte(renderMarkdown(item)), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, stageTranscribe, "write markdown", mdPath, err)
	}
	ep.MarkdownTranscriptPath = mdPath
	return nil
}

// discover consults transcript discovery and records the sweep as an analysis
// on the item. It reports whether an acceptable transcript was applied.
func (o *Orchestrator) discover(ctx context.Context, item *catalog.ContentItem) (bool, error) {
	d := o.collab.Discoverer
	if d == nil || !d.Enabled() {
		return false, nil
	}
	result, err := d.Discover(ctx, discovery.QueryFor(item))
	if err != nil {
		return false, err
	}
	o.metrics.Discovery(result.Method, result.Success)
	if _, err := o.meta.AttachAnalysis(ctx, item.ID, discovery.AnalysisType, result, result.Confidence, result.Method); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "failed to record discovery analysis", "analysis_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "discovery attempts are not kept for this episode"),
		)
	}
	if !result.Success {
		return false, nil
	}
	ep := item.Podcast
	ep.TranscriptFull = strings.TrimSpace(result.Transcript)
	ep.TranscriptSegments = nil
	ep.TranscriptSource = catalog.TranscriptDiscovered
	ep.TranscriptPath = result.Path
	return true, nil
}

func (o *Orchestrator) writeBack(ctx context.Context, item *catalog.ContentItem) error {
	episode := item.Clone().Podcast
	row, err := o.meta.Transition(ctx, item.UID, catalog.StatusCompleted, "", func(stored *catalog.ContentItem) error {
		stored.Podcast = episode
		return nil
	})
	if err != nil {
		return err
	}
	*item = *row
	return nil
}

func audioExt(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return defaultAudioExt
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if _, ok := audioExts[ext]; ok {
		return ext
	}
	return defaultAudioExt
}

// fastPreview is the whitespace-collapsed head of the transcript.
func fastPreview(full string) string {
	collapsed := strings.Join(strings.Fields(full), " ")
	runes := []rune(collapsed)
	if len(runes) <= fastPreviewLen {
		return collapsed
	}
	return string(runes[:fastPreviewLen])
}

func renderMarkdown(item *catalog.ContentItem) string {
	ep := item.Podcast
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.Title)
	if item.ShowName != "" {
		fmt.Fprintf(&b, "**Show:** %s\n\n", item.ShowName)
	}
	if item.PublishedAt != nil {
		fmt.Fprintf(&b, "**Published:** %s\n\n", item.PublishedAt.UTC().Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "**Transcript source:** %s\n\n", ep.TranscriptSource)
	if len(ep.TranscriptSegments) == 0 {
		b.WriteString(ep.TranscriptFull)
		b.WriteString("\n")
		return b.String()
	}
	for _, seg := range ep.TranscriptSegments {
		fmt.Fprintf(&b, "[%s] %s\n\n", clock(seg.Start), strings.TrimSpace(seg.Text))
	}
	return b.String()
}

func clock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
