package articles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"atlas/internal/catalog"
	"atlas/internal/discovery"
	"atlas/internal/fileutil"
	"atlas/internal/logging"
	"atlas/internal/services"
)

const stageDiscover = "discover"

// VideoMetadata is the JSON sidecar written for each processed video.
type VideoMetadata struct {
	UID              string     `json:"uid"`
	URL              string     `json:"url"`
	Title            string     `json:"title"`
	Channel          string     `json:"channel,omitempty"`
	Description      string     `json:"description,omitempty"`
	Keywords         []string   `json:"keywords,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	FetchedAt        time.Time  `json:"fetched_at"`
	TranscriptMethod string     `json:"transcript_method,omitempty"`
	TranscriptSource string     `json:"transcript_source,omitempty"`
}

// VideoPage is what the watch page says about a video.
type VideoPage struct {
	Title       string
	Description string
	Keywords    []string
}

// ParseVideoPage reads the Open Graph and keyword meta tags of a watch page.
func ParseVideoPage(page []byte) (VideoPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return VideoPage{}, services.Wrap(services.ErrPermanent, "articles", "parse video page", "", err)
	}
	meta := func(selectors ...string) string {
		for _, sel := range selectors {
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	out := VideoPage{
		Title:       meta(`meta[property="og:title"]`, `meta[name="title"]`),
		Description: meta(`meta[property="og:description"]`, `meta[name="description"]`),
	}
	if out.Title == "" {
		out.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	for _, kw := range strings.Split(meta(`meta[name="keywords"]`), ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out.Keywords = append(out.Keywords, kw)
		}
	}
	return out, nil
}

// ProcessVideos writes notes for ingested YouTube rows and retries failed
// ones below maxRetries.
func (p *Processor) ProcessVideos(ctx context.Context, limit, maxRetries int) (Result, error) {
	result := Result{Failures: make(map[string]string)}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	items, err := p.meta.List(ctx, catalog.ItemFilter{
		ContentTypes: []catalog.ContentType{catalog.TypeYouTube},
		Statuses:     []catalog.Status{catalog.StatusIngested, catalog.StatusError},
		MaxRetries:   maxRetries,
		Order:        catalog.OrderByCreated,
		Limit:        limit,
	})
	if err != nil {
		return result, err
	}
	for _, item := range items {
		if fileutil.Exists(item.MarkdownPath) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, services.Classify(err)
		}
		result.Attempted++
		if _, err := p.ProcessVideo(ctx, item.UID); err != nil {
			result.Failed++
			result.Failures[item.UID] = err.Error()
			if errors.Is(err, services.ErrCancelled) {
				return result, err
			}
			continue
		}
		result.Completed++
	}
	p.logger.Info("videos processed",
		logging.Event("videos_batch_complete"),
		logging.Int("attempted", result.Attempted),
		logging.Int("completed", result.Completed),
		logging.Int("failed", result.Failed),
	)
	return result, nil
}

// ProcessVideo fetches the watch page of one YouTube row, looks for a
// transcript when discovery is enabled, and writes a markdown note plus a
// metadata sidecar under the youtube artifact tree.
func (p *Processor) ProcessVideo(ctx context.Context, uid string) (*catalog.ContentItem, error) {
	ctx = services.WithContentUID(ctx, uid)
	logger := logging.WithContext(ctx, p.logger)

	item, err := p.meta.LoadByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "articles", "process video", uid, nil)
	}
	if item.ContentType != catalog.TypeYouTube {
		return nil, services.Wrap(services.ErrInvalidInput, "articles", "process video",
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
	p.metrics.ObserveStage("video_"+stageFetch, time.Since(started), err)
	if err != nil {
		return nil, p.fail(ctx, logger, uid, stageFetch, err)
	}
	info, err := ParseVideoPage(page)
	if err != nil {
		return nil, p.fail(ctx, logger, uid, stageRender, err)
	}

	transcript := p.discoverTranscript(ctx, item)
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, p.fail(ctx, logger, uid, stageDiscover, ctx.Err())
	}

	markdownPath, metadataPath, err := p.writeVideo(item, info, transcript)
	if err != nil {
		return nil, p.fail(ctx, logger, uid, stageWrite, err)
	}
	done, err := p.meta.Transition(ctx, uid, catalog.StatusCompleted, "", func(row *catalog.ContentItem) error {
		if row.Title == "" {
			row.Title = info.Title
		}
		if row.Description == "" {
			row.Description = info.Description
		}
		row.MarkdownPath = markdownPath
		row.MetadataPath = metadataPath
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("video processed",
		logging.Event("video_complete"),
		logging.Bool("transcript", transcript.Success),
		logging.String("markdown_path", markdownPath),
	)
	return done, nil
}

func (p *Processor) discoverTranscript(ctx context.Context, item *catalog.ContentItem) discovery.Result {
	if p.transcripts == nil || !p.transcripts.Enabled() {
		return discovery.Result{}
	}
	result, err := p.transcripts.Discover(ctx, discovery.QueryFor(item))
	if err != nil {
		p.logger.Debug("video transcript discovery failed",
			logging.UID(item.UID),
			logging.Error(err),
		)
		return discovery.Result{}
	}
	return result
}

func (p *Processor) writeVideo(item *catalog.ContentItem, info VideoPage, transcript discovery.Result) (string, string, error) {
	markdownPath := filepath.Join(p.cfg.YouTubeDir("transcripts"), item.UID+".md")
	metadataPath := filepath.Join(p.cfg.YouTubeDir("videos"), item.UID+".json")

	title := item.Title
	if title == "" {
		title = info.Title
	}
	description := item.Description
	if description == "" {
		description = info.Description
	}

	var md strings.Builder
	if title != "" {
		fmt.Fprintf(&md, "# %s\n\n", title)
	}
	if item.ShowName != "" {
		fmt.Fprintf(&md, "Channel: %s\n\n", item.ShowName)
	}
	fmt.Fprintf(&md, "Video: <%s>\n\n", item.SourceURL)
	if description != "" {
		fmt.Fprintf(&md, "## Description\n\n%s\n\n", description)
	}
	if transcript.Success && transcript.Transcript != "" {
		fmt.Fprintf(&md, "## Transcript\n\n%s\n", transcript.Transcript)
	}
	if err := fileutil.WriteFileAtomic(markdownPath, []byte(md.String()), 0o644); err != nil {
		return "", "", fmt.Errorf("write video note: %w", err)
	}

	meta := VideoMetadata{
		UID:         item.UID,
		URL:         item.SourceURL,
		Title:       title,
		Channel:     item.ShowName,
		Description: description,
		Keywords:    info.Keywords,
		PublishedAt: item.PublishedAt,
		FetchedAt:   p.meta.Now(),
	}
	if transcript.Success {
		meta.TranscriptMethod = transcript.Method
		meta.TranscriptSource = transcript.SourceURL
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode video metadata: %w", err)
	}
	if err := fileutil.WriteFileAtomic(metadataPath, encoded, 0o644); err != nil {
		return "", "", fmt.Errorf("write video metadata: %w", err)
	}
	return markdownPath, metadataPath, nil
}
