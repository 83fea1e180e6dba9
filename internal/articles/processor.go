package articles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"path/filepath"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/config"
	"atlas/internal/discovery"
	"atlas/internal/fileutil"
	"atlas/internal/ingest"
	"atlas/internal/logging"
	"atlas/internal/metadata"
	"atlas/internal/metrics"
	"atlas/internal/services"
)

const (
	stageFetch  = "fetch"
	stageRender = "render"
	stageWrite  = "write"

	defaultMaxRetries = 3
)

// Fetcher retrieves a page body.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Metadata is the JSON sidecar written next to each rendered article.
type Metadata struct {
	UID         string     `json:"uid"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	ContentType string     `json:"content_type"`
	WordCount   int        `json:"word_count"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
	Tags        []string   `json:"tags,omitempty"`
}

// Result tallies a batch run.
type Result struct {
	Attempted int
	Completed int
	Failed    int
	Failures  map[string]string
}

// Discoverer looks for a published transcript.
type Discoverer interface {
	Enabled() bool
	Discover(ctx context.Context, q discovery.Query) (discovery.Result, error)
}

// Processor renders pending articles and YouTube video notes.
type Processor struct {
	cfg         *config.Config
	meta        *metadata.Manager
	fetcher     Fetcher
	transcripts Discoverer
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// Option customizes a Processor.
type Option func(*Processor)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(p *Processor) {
		if f != nil {
			p.fetcher = f
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logging.NewComponentLogger(logger, "articles")
		}
	}
}

// WithTranscripts enables transcript discovery for YouTube videos.
func WithTranscripts(d Discoverer) Option {
	return func(p *Processor) { p.transcripts = d }
}

// WithMetrics records stage timings.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(p *Processor) { p.metrics = rec }
}

// New builds a Processor. Pages are fetched with the configured User-Agent
// and download timeout unless WithFetcher says otherwise.
func New(cfg *config.Config, meta *metadata.Manager, opts ...Option) *Processor {
	p := &Processor{
		cfg:     cfg,
		meta:    meta,
		fetcher: ingest.NewFetcher(nil, cfg.Download.UserAgent, config.StageTimeout(cfg.Timeouts.Download)),
		logger:  logging.NewComponentLogger(logging.NewNop(), "articles"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessPending renders ingested rows and retries failed ones below
// maxRetries. limit caps the number attempted; zero means no cap.
func (p *Processor) ProcessPending(ctx context.Context, limit, maxRetries int) (Result, error) {
	result := Result{Failures: make(map[string]string)}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	items, err := p.meta.List(ctx, catalog.ItemFilter{
		ContentTypes: []catalog.ContentType{catalog.TypeArticle, catalog.TypeInstapaper},
		Statuses:     []catalog.Status{catalog.StatusIngested, catalog.StatusError},
		MaxRetries:   maxRetries,
		Order:        catalog.OrderByCreated,
		Limit:        limit,
	})
	if err != nil {
		return result, err
	}
	for _, item := range items {
		if fileutil.Exists(item.HTMLPath) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, services.Classify(err)
		}
		result.Attempted++
		if _, err := p.Process(ctx, item.UID); err != nil {
			result.Failed++
			result.Failures[item.UID] = err.Error()
			if errors.Is(err, services.ErrCancelled) {
				return result, err
			}
			continue
		}
		result.Completed++
	}
	p.logger.Info("articles processed",
		logging.Event("articles_batch_complete"),
		logging.Int("attempted", result.Attempted),
		logging.Int("completed", result.Completed),
		logging.Int("failed", result.Failed),
	)
	return result, nil
}

// Process fetches, renders and stores one article.
func (p *Processor) Process(ctx context.Context, uid string) (*catalog.ContentItem, error) {
	ctx = services.WithContentUID(ctx, uid)
	logger := logging.WithContext(ctx, p.logger)

	item, err := p.meta.LoadByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "articles", "process", uid, nil)
	}
	if item.ContentType != catalog.TypeArticle && item.ContentType != catalog.TypeInstapaper {
		return nil, services.Wrap(services.ErrInvalidInput, "articles", "process",
			fmt.Sprintf("%s is a %s item", uid, item.ContentType), nil)
	}
	if item.Status == catalog.StatusCompleted {
		return item, nil
	}
	if _, err := p.meta.Transition(ctx, uid, catalog.StatusProcessing, "", nil); err != nil {
		return nil, err
	}

	started := time.Now()
	page, err := p.fetcher.Get(ctx, item.SourceURL)
	p.metrics.ObserveStage("article_"+stageFetch, time.Since(started), err)
	if err != nil {
		return nil, p.fail(ctx, logger, uid, stageFetch, err)
	}
	rendered, err := Render(page, item.SourceURL)
	if err != nil {
		return nil, p.fail(ctx, logger, uid, stageRender, err)
	}
	paths, err := p.write(item, rendered)
	if err != nil {
		return nil, p.fail(ctx, logger, uid, stageWrite, err)
	}

	done, err := p.meta.Transition(ctx, uid, catalog.StatusCompleted, "", func(row *catalog.ContentItem) error {
		if row.Title == "" {
			row.Title = rendered.Title
		}
		row.HTMLPath = paths.html
		row.MarkdownPath = paths.markdown
		row.MetadataPath = paths.metadata
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("article rendered",
		logging.Event("article_complete"),
		logging.Int("word_count", rendered.WordCount),
		logging.String("html_path", paths.html),
	)
	return done, nil
}

type artifactPaths struct {
	html, markdown, metadata string
}

func (p *Processor) write(item *catalog.ContentItem, r Rendered) (artifactPaths, error) {
	paths := artifactPaths{
		html:     filepath.Join(p.cfg.ArticleDir("html"), item.UID+".html"),
		markdown: filepath.Join(p.cfg.ArticleDir("markdown"), item.UID+".md"),
		metadata: filepath.Join(p.cfg.ArticleDir("metadata"), item.UID+".json"),
	}
	title := item.Title
	if title == "" {
		title = r.Title
	}
	doc := fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s\n</body>\n</html>\n",
		html.EscapeString(title), r.HTML)
	if err := fileutil.WriteFileAtomic(paths.html, []byte(doc), 0o644); err != nil {
		return paths, fmt.Errorf("write html: %w", err)
	}
	md := r.Markdown
	if title != "" {
		md = "# " + title + "\n\n" + md
	}
	if err := fileutil.WriteFileAtomic(paths.markdown, []byte(md), 0o644); err != nil {
		return paths, fmt.Errorf("write markdown: %w", err)
	}
	meta, err := json.MarshalIndent(Metadata{
		UID:         item.UID,
		URL:         item.SourceURL,
		Title:       title,
		ContentType: string(item.ContentType),
		WordCount:   r.WordCount,
		PublishedAt: item.PublishedAt,
		FetchedAt:   p.meta.Now(),
		Tags:        item.Tags,
	}, "", "  ")
	if err != nil {
		return paths, fmt.Errorf("encode metadata: %w", err)
	}
	if err := fileutil.WriteFileAtomic(paths.metadata, meta, 0o644); err != nil {
		return paths, fmt.Errorf("write metadata: %w", err)
	}
	return paths, nil
}

func (p *Processor) fail(ctx context.Context, logger *slog.Logger, uid, stage string, cause error) error {
	cause = services.Classify(cause)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	_, writeErr := p.meta.RecordFailure(writeCtx, uid, stage, cause, nil)
	logging.ErrorWithContext(logger, "article failed", "article_failed",
		logging.String(logging.FieldStage, stage),
		logging.Error(cause),
	)
	if writeErr != nil {
		return errors.Join(cause, writeErr)
	}
	return cause
}
