package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"atlas/internal/adfusion"
	"atlas/internal/catalog"
	"atlas/internal/config"
	"atlas/internal/discovery"
	"atlas/internal/logging"
	"atlas/internal/metadata"
	"atlas/internal/metrics"
	"atlas/internal/services"
	"atlas/internal/services/ffmpeg"
	"atlas/internal/services/whisperx"
	"atlas/internal/timeline"
)

// Downloader fetches an enclosure to a local path.
type Downloader interface {
	Download(ctx context.Context, rawURL, dest string) (int64, error)
}

// Prober reports the duration of an audio file in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Detector finds ad segments in an episode.
type Detector interface {
	Detect(ctx context.Context, in adfusion.Input) ([]catalog.AdSegment, adfusion.Report, error)
}

// Cutter writes the keep ranges of source to dest.
type Cutter interface {
	Cut(ctx context.Context, source string, keep []timeline.Span, dest string) error
}

// Discoverer looks for an existing transcript online.
type Discoverer interface {
	Enabled() bool
	Discover(ctx context.Context, q discovery.Query) (discovery.Result, error)
}

// Transcriber generates a transcript from audio.
type Transcriber interface {
	Transcribe(ctx context.Context, source, workDir string) (whisperx.Result, error)
}

// Collaborators groups the stage implementations.
type Collaborators struct {
	Downloader  Downloader
	Prober      Prober
	Detector    Detector
	Cutter      Cutter
	Discoverer  Discoverer
	Transcriber Transcriber
}

// Outcome summarizes one Process call.
type Outcome struct {
	UID     string
	Status  catalog.Status
	Skipped bool
	Stages  []string
	Item    *catalog.ContentItem
}

// Orchestrator runs podcast episodes through the stages.
type Orchestrator struct {
	cfg      *config.Config
	meta     *metadata.Manager
	collab   Collaborators
	metrics  *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	inflight *inflightSet
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records stage timings and outcomes on rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(o *Orchestrator) {
		o.metrics = rec
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSleeper overrides the retry backoff wait.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// New builds an orchestrator over meta with explicit collaborators.
func New(cfg *config.Config, meta *metadata.Manager, collab Collaborators, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		meta:     meta,
		collab:   collab,
		logger:   logging.NewNop(),
		now:      time.Now,
		sleep:    sleepContext,
		inflight: newInflightSet(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "pipeline")
	return o
}

// NewFromConfig wires the production collaborators: HTTP downloads, ffprobe,
// the configured ad signals, the ffmpeg cutter, transcript discovery and
// WhisperX.
func NewFromConfig(cfg *config.Config, meta *metadata.Manager, logger *slog.Logger, opts ...Option) *Orchestrator {
	collab := Collaborators{
		Downloader:  NewHTTPDownloader(&http.Client{}, cfg.Download.UserAgent),
		Prober:      ffmpeg.NewProber(cfg.FFprobeBinary()),
		Detector:    adfusion.NewFromConfig(cfg, nil, logger),
		Cutter:      ffmpeg.NewCutter(cfg.FFmpegBinary()),
		Discoverer:  discovery.New(cfg, discovery.WithLogger(logger)),
		Transcriber: whisperx.NewService(whisperx.ConfigFrom(cfg), cfg.FFmpegBinary()),
	}
	return New(cfg, meta, collab, append([]Option{WithLogger(logger)}, opts...)...)
}

// Process runs the episode identified by uid to completion, resuming from the
// earliest stage whose outputs are missing. A completed episode is returned
// untouched with Skipped set.
func (o *Orchestrator) Process(ctx context.Context, uid string) (Outcome, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Outcome{}, services.Wrap(services.ErrInvalidInput, "pipeline", "process", "content uid required", nil)
	}
	if !o.inflight.acquire(uid) {
		return Outcome{UID: uid}, services.Wrap(services.ErrAlreadyInFlight, "pipeline", "process", uid, nil)
	}
	defer o.inflight.release(uid)

	requestID := uuid.NewString()
	ctx = services.WithRequestID(services.WithContentUID(ctx, uid), requestID)
	logger := logging.WithContext(ctx, o.logger)

	item, err := o.meta.LoadByUID(ctx, uid)
	if err != nil {
		return Outcome{UID: uid}, err
	}
	if item == nil {
		return Outcome{UID: uid}, services.Wrap(services.ErrNotFound, "pipeline", "process", uid, nil)
	}
	if item.ContentType != catalog.TypePodcast || item.Podcast == nil || strings.TrimSpace(item.Podcast.OriginalAudioURL) == "" {
		return Outcome{UID: uid, Status: item.Status}, services.Wrap(services.ErrInvalidInput, "pipeline", "process",
			fmt.Sprintf("%s has no podcast enclosure", uid), nil)
	}
	if item.Status == catalog.StatusCompleted {
		logger.Debug("episode already completed", logging.Event("episode_skipped"))
		return Outcome{UID: uid, Status: item.Status, Skipped: true, Item: item}, nil
	}

	item, err = o.meta.Transition(ctx, uid, catalog.StatusProcessing, "", nil)
	if err != nil {
		return Outcome{UID: uid}, err
	}
	logger.Info("episode processing started",
		logging.Event("episode_start"),
		logging.String("title", item.Title),
		logging.Int("retry_count", item.RetryCount),
	)

	work := item.Clone()
	outcome := Outcome{UID: uid}
	for _, st := range o.stages() {
		if st.done(work) {
			logger.Debug("stage outputs present; skipping",
				logging.String(logging.FieldStage, st.name),
				logging.Event("stage_skipped"),
			)
			continue
		}
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, work, outcome, st.name, services.Classify(err))
		}
		if err := o.runStage(ctx, st, work); err != nil {
			return o.fail(ctx, work, outcome, st.name, err)
		}
		outcome.Stages = append(outcome.Stages, st.name)
	}

	ep := work.Podcast
	o.metrics.EpisodeFinished(string(catalog.StatusCompleted))
	o.metrics.AdsRemoved(timeline.Total(catalog.AdSpans(ep.AdSegments)))
	logger.Info("episode processing completed",
		logging.Event("episode_complete"),
		logging.Float64("original_duration", ep.OriginalDuration),
		logging.Float64("cleaned_duration", ep.CleanedDuration),
		logging.Int("ad_segments", len(ep.AdSegments)),
		logging.String("transcript_source", ep.TranscriptSource),
	)
	outcome.Status = work.Status
	outcome.Item = work
	return outcome, nil
}

// fail persists the failure and any partial results on the row. The write
// survives cancellation of ctx.
func (o *Orchestrator) fail(ctx context.Context, work *catalog.ContentItem, outcome Outcome, stage string, cause error) (Outcome, error) {
	failedStage := stage
	if errors.Is(cause, services.ErrCancelled) {
		failedStage = "cancelled"
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.writeBackTimeout())
	defer cancel()

	partial := work.Clone().Podcast
	row, err := o.meta.RecordFailure(writeCtx, work.UID, failedStage, cause, func(item *catalog.ContentItem) {
		item.Podcast = partial
	})
	o.metrics.EpisodeFinished(string(catalog.StatusError))

	logger := logging.WithContext(ctx, o.logger)
	logging.ErrorWithContext(logger, "episode processing failed", "episode_failed",
		logging.String(logging.FieldStage, stage),
		logging.String("failure_stage", failedStage),
		logging.String("error_kind", services.KindOf(cause)),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "re-run process podcasts to resume from this stage"),
	)
	if err != nil {
		logging.ErrorWithContext(logger, "failed to record episode failure", "failure_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check catalog health with atlas validate"),
		)
		return outcome, errors.Join(cause, err)
	}
	outcome.Status = row.Status
	outcome.Item = row
	return outcome, cause
}

func (o *Orchestrator) writeBackTimeout() time.Duration {
	if d := config.StageTimeout(o.cfg.Timeouts.WriteBack); d > 0 {
		return d
	}
	return 30 * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
