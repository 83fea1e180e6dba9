package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/identity"
	"atlas/internal/logging"
	"atlas/internal/metadata"
	"atlas/internal/metrics"
	"atlas/internal/services"
	"atlas/internal/textutil"
)

var errUnchanged = errors.New("item unchanged")

// Summary counts the outcomes of one adapter run.
type Summary struct {
	Source    string
	Seen      int
	Created   int
	Updated   int
	Unchanged int
	Failed    int
	Errors    []error
}

func (s *Summary) add(result Result, err error) {
	s.Seen++
	switch result {
	case ResultCreated:
		s.Created++
	case ResultUpdated:
		s.Updated++
	case ResultUnchanged:
		s.Unchanged++
	default:
		s.Failed++
		if err != nil {
			s.Errors = append(s.Errors, err)
		}
	}
}

// Ingestor materializes descriptors as catalog rows.
type Ingestor struct {
	meta     *metadata.Manager
	chapters *Fetcher
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// Option customizes an Ingestor.
type Option func(*Ingestor)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Ingestor) {
		if logger != nil {
			in.logger = logging.NewComponentLogger(logger, "ingest")
		}
	}
}

// WithMetrics records per-item outcomes.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(in *Ingestor) { in.metrics = rec }
}

// WithChapterFetcher resolves podcast:chapters links for episodes that have
// no chapters yet.
func WithChapterFetcher(f *Fetcher) Option {
	return func(in *Ingestor) { in.chapters = f }
}

// New builds an Ingestor writing through meta.
func New(meta *metadata.Manager, opts ...Option) *Ingestor {
	in := &Ingestor{meta: meta, logger: logging.NewComponentLogger(logging.NewNop(), "ingest")}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run ingests everything adapter yields. Failures of single items are
// counted and logged; the returned error is reserved for the adapter itself
// failing or the context ending.
func (in *Ingestor) Run(ctx context.Context, adapter Adapter) (Summary, error) {
	summary := Summary{Source: adapter.Name()}
	start := time.Now()
	descriptors, err := adapter.Descriptors(ctx)
	if err != nil {
		logging.WarnWithContext(in.logger, "source unavailable", "ingest_source_failed",
			logging.String("source", summary.Source),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the feed URL and network access"),
			logging.String(logging.FieldImpact, "no items ingested from this source"),
		)
		return summary, err
	}
	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			return summary, services.Classify(err)
		}
		result, err := in.Ingest(ctx, d)
		summary.add(result, err)
	}
	in.logger.Info("source ingested",
		logging.Event("ingest_summary"),
		logging.String("source", summary.Source),
		logging.Int("seen", summary.Seen),
		logging.Int("created", summary.Created),
		logging.Int("updated", summary.Updated),
		logging.Int("unchanged", summary.Unchanged),
		logging.Int("failed", summary.Failed),
		logging.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

// Ingest creates or refreshes the row for d. Existing rows keep their
// status; only descriptive fields are filled in or refreshed.
func (in *Ingestor) Ingest(ctx context.Context, d Descriptor) (Result, error) {
	result, err := in.ingest(ctx, d)
	in.metrics.Ingested(string(d.Source.ContentType), string(result))
	if err != nil {
		logging.WarnWithContext(in.logger, "item not ingested", "ingest_item_failed",
			logging.String("title", d.Title),
			logging.String("source_url", d.Source.SourceURL),
			logging.Error(err),
		)
	}
	return result, err
}

func (in *Ingestor) ingest(ctx context.Context, d Descriptor) (Result, error) {
	if identity.ForSource(d.Source) == "" {
		return ResultFailed, services.Wrap(services.ErrInvalidInput, "ingest", "ingest", "descriptor has no identifier", nil)
	}
	existing, err := in.meta.Find(ctx, d.Source)
	if err != nil {
		return ResultFailed, err
	}
	if existing == nil {
		return in.create(ctx, d)
	}
	if existing.ContentType != d.Source.ContentType {
		return ResultFailed, services.Wrap(services.ErrIntegrity, "ingest", "ingest",
			fmt.Sprintf("%s already stored as %s", existing.UID, existing.ContentType), nil)
	}
	in.resolveChapters(ctx, d, existing)
	_, err = in.meta.Mutate(ctx, existing.UID, func(item *catalog.ContentItem) error {
		if !merge(item, d) {
			return errUnchanged
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return ResultUnchanged, nil
	case err != nil:
		return ResultFailed, err
	}
	return ResultUpdated, nil
}

func (in *Ingestor) create(ctx context.Context, d Descriptor) (Result, error) {
	item, err := in.meta.Create(d.Source, d.Title)
	if err != nil {
		return ResultFailed, err
	}
	item.Status = initialStatus(item.ContentType)
	in.resolveChapters(ctx, d, nil)
	merge(item, d)
	if err := in.meta.Save(ctx, item); err != nil {
		return ResultFailed, err
	}
	in.logger.Debug("item created",
		logging.UID(item.UID),
		logging.String("content_type", string(item.ContentType)),
		logging.String("title", item.Title),
	)
	return ResultCreated, nil
}

// resolveChapters fetches linked chapters when the row has none. Failures
// leave the descriptor unchanged.
func (in *Ingestor) resolveChapters(ctx context.Context, d Descriptor, existing *catalog.ContentItem) {
	ep := d.Episode
	if in.chapters == nil || ep == nil || ep.ChaptersURL == "" || len(ep.Chapters) > 0 {
		return
	}
	if existing != nil && existing.Podcast != nil && len(existing.Podcast.Chapters) > 0 {
		return
	}
	chapters, err := in.chapters.FetchChapters(ctx, ep.ChaptersURL)
	if err != nil {
		in.logger.Debug("chapters unavailable",
			logging.String("chapters_url", ep.ChaptersURL),
			logging.Error(err),
		)
		return
	}
	ep.Chapters = chapters
}

// merge copies descriptor fields onto item and reports whether anything
// changed. Status is never touched.
func merge(item *catalog.ContentItem, d Descriptor) bool {
	changed := false
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&item.Title, d.Title)
	set(&item.Description, d.Description)
	set(&item.Author, d.Author)
	set(&item.ShowName, d.ShowName)
	set(&item.ImageURL, d.ImageURL)
	if item.SourceGUID == "" {
		set(&item.SourceGUID, d.Source.GUID)
	}
	if d.PublishedAt != nil && (item.PublishedAt == nil || !item.PublishedAt.Equal(*d.PublishedAt)) {
		t := *d.PublishedAt
		item.PublishedAt = &t
		changed = true
	}
	if tags := textutil.NormalizeTags(append(slices.Clone(item.Tags), d.Tags...)); !slices.Equal(tags, textutil.NormalizeTags(item.Tags)) {
		item.Tags = tags
		changed = true
	}
	if d.Episode != nil && item.Podcast != nil {
		if mergeEpisode(item.Podcast, d.Episode) {
			changed = true
		}
	}
	return changed
}

func mergeEpisode(p *catalog.PodcastEpisode, ep *Episode) bool {
	changed := false
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&p.ShowAuthor, ep.ShowAuthor)
	set(&p.ShowURL, ep.ShowURL)
	set(&p.ShowImageURL, ep.ShowImageURL)
	set(&p.ChaptersURL, ep.ChaptersURL)
	// Declared size and duration only seed an episode that has not been
	// downloaded; the probed values win afterwards.
	if p.OriginalFilePath == "" {
		if ep.FileSize > 0 && p.OriginalFileSize != ep.FileSize {
			p.OriginalFileSize = ep.FileSize
			changed = true
		}
		if ep.Duration > 0 && p.OriginalDuration != ep.Duration {
			p.OriginalDuration = ep.Duration
			changed = true
		}
	}
	// Chapters feed ad detection, so they are frozen once detection ran.
	if len(ep.Chapters) > 0 && p.AdsDetectedAt == nil && !slices.Equal(p.Chapters, ep.Chapters) {
		p.Chapters = slices.Clone(ep.Chapters)
		changed = true
	}
	return changed
}
