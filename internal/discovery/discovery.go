package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"atlas/internal/catalog"
	"atlas/internal/config"
	"atlas/internal/fileutil"
	"atlas/internal/logging"
	"atlas/internal/services"
	"atlas/internal/textutil"
)

// AnalysisType names the analysis record the pipeline attaches for a sweep.
const AnalysisType = "transcript_discovery"

// Source confidences.
const (
	ConfidenceService      = 0.80
	ConfidenceTranscripter = 0.70
	ConfidenceSearch       = 0.50
	ConfidencePublisherMin = 0.30
	ConfidencePublisherMax = 0.90
)

const maxPageBytes = 8 << 20

// Query identifies the episode to look for.
type Query struct {
	UID          string
	ShowName     string
	EpisodeTitle string
	ShowURL      string
	EpisodeURL   string
}

// QueryFor builds a Query from a podcast item.
func QueryFor(item *catalog.ContentItem) Query {
	q := Query{
		UID:          item.UID,
		ShowName:     item.ShowName,
		EpisodeTitle: item.Title,
		EpisodeURL:   item.SourceURL,
	}
	if item.Podcast != nil {
		q.ShowURL = item.Podcast.ShowURL
		if q.EpisodeURL == item.Podcast.OriginalAudioURL {
			q.EpisodeURL = ""
		}
	}
	return q
}

// Candidate is a page a finder believes holds the transcript.
type Candidate struct {
	URL        string  `json:"url"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// Attempt records one step of a sweep.
type Attempt struct {
	Method     string  `json:"method"`
	URL        string  `json:"url,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Result is the outcome of a sweep. Success is false with Error set when no
// source produced an acceptable transcript.
type Result struct {
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Method     string    `json:"method,omitempty"`
	Extractor  string    `json:"extractor,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Path       string    `json:"path,omitempty"`
	Length     int       `json:"length,omitempty"`
	Attempts   []Attempt `json:"attempts,omitempty"`
	Transcript string    `json:"-"`
}

// Finder proposes candidate transcript pages for a query.
type Finder interface {
	Method() string
	Find(ctx context.Context, q Query) ([]Candidate, error)
}

type fetchFunc func(ctx context.Context, rawURL string) ([]byte, error)

// Service runs discovery sweeps.
type Service struct {
	cfg        config.Discovery
	timeout    time.Duration
	userAgent  string
	client     *http.Client
	limiter    *rate.Limiter
	finders    []Finder
	extractors []Extractor
	outDir     string
	now        func() time.Time
	logger     *slog.Logger
}

// Option customizes the Service.
type Option func(*Service)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		if client != nil {
			s.client = client
		}
	}
}

// WithClock overrides the clock used to stamp transcript files.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithFinders replaces the configured finders.
func WithFinders(finders ...Finder) Option {
	return func(s *Service) {
		s.finders = finders
	}
}

// New builds a Service from configuration. Finders follow the configured
// method order.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg.Discovery,
		timeout:    config.StageTimeout(cfg.Timeouts.DiscoveryRequest),
		userAgent:  cfg.Download.UserAgent,
		client:     &http.Client{},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		extractors: DefaultExtractors(),
		outDir:     cfg.PodcastDir("transcripts"),
		now:        time.Now,
	}
	if cfg.Discovery.RequestDelayMS > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Duration(cfg.Discovery.RequestDelayMS)*time.Millisecond), 1)
	}
	for _, method := range cfg.Discovery.Methods {
		if f := s.finderFor(method); f != nil {
			s.finders = append(s.finders, f)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "discovery")
	return s
}

func (s *Service) finderFor(method string) Finder {
	switch method {
	case config.MethodServiceA:
		return &serviceFinder{method: method, template: s.cfg.ServiceAURL, fetch: s.fetch}
	case config.MethodServiceB:
		return &serviceFinder{method: method, template: s.cfg.ServiceBURL, fetch: s.fetch}
	case config.MethodPublisher:
		return &publisherFinder{fetch: s.fetch}
	case config.MethodSearch:
		return &searchFinder{template: s.cfg.SearchURL, fetch: s.fetch}
	}
	return nil
}

// Enabled reports whether discovery is switched on.
func (s *Service) Enabled() bool {
	return s.cfg.Enabled && len(s.finders) > 0
}

// Discover sweeps the finders for q. Only context cancellation is returned as
// an error; every other failure is folded into the result.
func (s *Service) Discover(ctx context.Context, q Query) (Result, error) {
	var result Result
	if !s.Enabled() {
		result.Error = "discovery disabled"
		return result, nil
	}
	if strings.TrimSpace(q.ShowName) == "" && strings.TrimSpace(q.EpisodeTitle) == "" {
		result.Error = "episode has neither show name nor title"
		return result, nil
	}
	logger := logging.WithContext(ctx, s.logger)

	for _, finder := range s.finders {
		method := finder.Method()
		candidates, err := finder.Find(ctx, q)
		if ctx.Err() != nil {
			return result, services.Classify(ctx.Err())
		}
		if err != nil {
			logger.Debug("discovery method failed", logging.String("method", method), logging.Error(err))
			result.Attempts = append(result.Attempts, Attempt{Method: method, Error: err.Error()})
			continue
		}
		if len(candidates) == 0 {
			logger.Debug("discovery method found nothing", logging.String("method", method))
			result.Attempts = append(result.Attempts, Attempt{Method: method, Error: "no candidates"})
			continue
		}
		for _, candidate := range candidates {
			attempt := Attempt{Method: method, URL: candidate.URL, Confidence: candidate.Confidence}
			if candidate.Confidence < s.cfg.MinConfidenceScore {
				attempt.Error = fmt.Sprintf("confidence %.2f below %.2f", candidate.Confidence, s.cfg.MinConfidenceScore)
				result.Attempts = append(result.Attempts, attempt)
				continue
			}
			text, extractor, err := s.extract(ctx, candidate.URL)
			if ctx.Err() != nil {
				return result, services.Classify(ctx.Err())
			}
			if err == nil && len(text) < s.cfg.MinTranscriptLength {
				err = fmt.Errorf("transcript too short (%d < %d)", len(text), s.cfg.MinTranscriptLength)
			}
			if err != nil {
				attempt.Error = err.Error()
				result.Attempts = append(result.Attempts, attempt)
				logger.Debug("discovery candidate rejected",
					logging.String("method", method),
					logging.String("url", candidate.URL),
					logging.Error(err),
				)
				continue
			}
			path, err := s.persist(q, text)
			if err != nil {
				return result, fmt.Errorf("persist transcript: %w", err)
			}
			result.Attempts = append(result.Attempts, attempt)
			result.Success = true
			result.Method = method
			result.Extractor = extractor
			result.SourceURL = candidate.URL
			result.Confidence = candidate.Confidence
			result.Transcript = text
			result.Length = len(text)
			result.Path = path
			logger.Info("transcript discovered",
				logging.Event("transcript_discovered"),
				logging.String("method", method),
				logging.String("url", candidate.URL),
				logging.Float64("confidence", candidate.Confidence),
				logging.Int("length", len(text)),
			)
			return result, nil
		}
	}
	result.Error = "no source produced an acceptable transcript"
	return result, nil
}

func (s *Service) extract(ctx context.Context, rawURL string) (string, string, error) {
	page, err := s.fetch(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	extractor := s.extractorFor(rawURL)
	text, err := extractor.Extract(page, rawURL)
	if err != nil {
		return "", extractor.Name(), err
	}
	return text, extractor.Name(), nil
}

func (s *Service) extractorFor(rawURL string) Extractor {
	host := hostOf(rawURL)
	for _, e := range s.extractors {
		if e.Match(host) {
			return e
		}
	}
	return genericExtractor{}
}

// fetch performs one rate-limited, time-bounded GET.
func (s *Service) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "discovery", "request", rawURL, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "discovery", "request", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, services.Wrap(services.ErrPermanent, "discovery", "request",
			fmt.Sprintf("%s returned %d", rawURL, resp.StatusCode), nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "discovery", "read body", rawURL, err)
	}
	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}
	return body, nil
}

// persist writes the transcript to a timestamped file.
func (s *Service) persist(q Query, text string) (string, error) {
	base := q.UID
	if base == "" {
		base = textutil.Slug(q.ShowName + " " + q.EpisodeTitle)
	}
	name := fmt.Sprintf("%s_%s.txt", base, s.now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.outDir, name)
	if err := fileutil.WriteFileAtomic(path, []byte(text+"\n"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
