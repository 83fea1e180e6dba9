package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"atlas/internal/catalog"
	"atlas/internal/identity"
	"atlas/internal/logging"
	"atlas/internal/services"
)

// FeedAdapter reads a podcast RSS feed or a YouTube channel Atom feed.
type FeedAdapter struct {
	fetcher *Fetcher
	sub     Subscription
	parser  *gofeed.Parser
	logger  *slog.Logger
}

// NewFeedAdapter builds an adapter for one subscription.
func NewFeedAdapter(fetcher *Fetcher, sub Subscription, logger *slog.Logger) *FeedAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FeedAdapter{
		fetcher: fetcher,
		sub:     sub,
		parser:  gofeed.NewParser(),
		logger:  logger.With(logging.String("feed", sub.URL)),
	}
}

// Name returns the subscription name, or its URL when unnamed.
func (a *FeedAdapter) Name() string {
	if name := strings.TrimSpace(a.sub.Name); name != "" {
		return name
	}
	return a.sub.URL
}

// Descriptors fetches and parses the feed.
func (a *FeedAdapter) Descriptors(ctx context.Context) ([]Descriptor, error) {
	body, err := a.fetcher.Get(ctx, a.sub.URL)
	if err != nil {
		return nil, err
	}
	return a.Parse(body)
}

// Parse converts raw feed XML into descriptors.
func (a *FeedAdapter) Parse(body []byte) ([]Descriptor, error) {
	feed, err := a.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, "ingest", "parse feed", a.sub.URL, err)
	}
	kind := a.sub.ContentType()
	out := make([]Descriptor, 0, len(feed.Items))
	for _, item := range feed.Items {
		var (
			d  Descriptor
			ok bool
		)
		if kind == catalog.TypeYouTube {
			d, ok = a.video(feed, item)
		} else {
			d, ok = a.episode(feed, item)
		}
		if !ok {
			a.logger.Debug("feed entry skipped", logging.String("title", item.Title), logging.String("guid", item.GUID))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (a *FeedAdapter) episode(feed *gofeed.Feed, item *gofeed.Item) (Descriptor, bool) {
	audio, length := enclosure(item)
	if audio == "" {
		return Descriptor{}, false
	}
	ep := &Episode{
		FileSize:     length,
		ShowAuthor:   feedAuthor(feed),
		ShowURL:      feed.Link,
		ShowImageURL: feedImage(feed),
		ChaptersURL:  extAttr(item.Extensions, "podcast", "chapters", "url"),
		Chapters:     pscChapters(item.Extensions),
	}
	if item.ITunesExt != nil {
		if secs, ok := parseClock(item.ITunesExt.Duration); ok {
			ep.Duration = secs
		}
	}
	return Descriptor{
		Source: identity.Source{
			ContentType: catalog.TypePodcast,
			GUID:        strings.TrimSpace(item.GUID),
			AudioURL:    audio,
			// The item link often points at the show page, which many
			// episodes share; the enclosure is the per-episode URL.
			SourceURL: audio,
		},
		Title:       item.Title,
		Description: firstNonEmpty(item.Description, itunesSummary(item), item.Content),
		Author:      itemAuthor(item),
		ShowName:    firstNonEmpty(feed.Title, a.sub.Name),
		ImageURL:    itemImage(item),
		PublishedAt: published(item),
		Tags:        a.sub.Tags,
		Episode:     ep,
	}, true
}

func (a *FeedAdapter) video(feed *gofeed.Feed, item *gofeed.Item) (Descriptor, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return Descriptor{}, false
	}
	return Descriptor{
		Source: identity.Source{
			ContentType: catalog.TypeYouTube,
			GUID:        strings.TrimSpace(item.GUID),
			SourceURL:   link,
		},
		Title:       item.Title,
		Description: firstNonEmpty(mediaGroupValue(item.Extensions, "description"), item.Description),
		Author:      firstNonEmpty(itemAuthor(item), feedAuthor(feed)),
		ShowName:    firstNonEmpty(feed.Title, a.sub.Name),
		ImageURL:    firstNonEmpty(mediaGroupAttr(item.Extensions, "thumbnail", "url"), itemImage(item)),
		PublishedAt: published(item),
		Tags:        a.sub.Tags,
	}, true
}

func enclosure(item *gofeed.Item) (string, int64) {
	var fallback *gofeed.Enclosure
	for _, enc := range item.Enclosures {
		if enc == nil || strings.TrimSpace(enc.URL) == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(enc.Type), "audio/") {
			return strings.TrimSpace(enc.URL), parseLength(enc.Length)
		}
		if fallback == nil {
			fallback = enc
		}
	}
	if fallback == nil {
		return "", 0
	}
	return strings.TrimSpace(fallback.URL), parseLength(fallback.Length)
}

func parseLength(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func published(item *gofeed.Item) *time.Time {
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		return &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		return &t
	}
	return nil
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	if item.ITunesExt != nil {
		return strings.TrimSpace(item.ITunesExt.Author)
	}
	return ""
}

func feedAuthor(feed *gofeed.Feed) string {
	if feed.ITunesExt != nil && strings.TrimSpace(feed.ITunesExt.Author) != "" {
		return strings.TrimSpace(feed.ITunesExt.Author)
	}
	if feed.Author != nil {
		return strings.TrimSpace(feed.Author.Name)
	}
	return ""
}

func feedImage(feed *gofeed.Feed) string {
	if feed.Image != nil && feed.Image.URL != "" {
		return feed.Image.URL
	}
	if feed.ITunesExt != nil {
		return feed.ITunesExt.Image
	}
	return ""
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if item.ITunesExt != nil {
		return item.ITunesExt.Image
	}
	return ""
}

func itunesSummary(item *gofeed.Item) string {
	if item.ITunesExt == nil {
		return ""
	}
	return item.ITunesExt.Summary
}

func extAttr(exts ext.Extensions, ns, name, attr string) string {
	for _, e := range exts[ns][name] {
		if v := strings.TrimSpace(e.Attrs[attr]); v != "" {
			return v
		}
	}
	return ""
}

func mediaGroupValue(exts ext.Extensions, child string) string {
	for _, group := range exts["media"]["group"] {
		for _, c := range group.Children[child] {
			if v := strings.TrimSpace(c.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

func mediaGroupAttr(exts ext.Extensions, child, attr string) string {
	for _, group := range exts["media"]["group"] {
		for _, c := range group.Children[child] {
			if v := strings.TrimSpace(c.Attrs[attr]); v != "" {
				return v
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
