package ingest

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	ext "github.com/mmcdole/gofeed/extensions"

	"atlas/internal/catalog"
	"atlas/internal/services"
)

// jsonChapters is the Podcasting 2.0 chapters document.
type jsonChapters struct {
	Version  string `json:"version"`
	Chapters []struct {
		StartTime float64 `json:"startTime"`
		EndTime   float64 `json:"endTime"`
		Title     string  `json:"title"`
		URL       string  `json:"url"`
		TOC       *bool   `json:"toc"`
	} `json:"chapters"`
}

// FetchChapters downloads and decodes a podcast:chapters document.
func (f *Fetcher) FetchChapters(ctx context.Context, rawURL string) ([]catalog.Chapter, error) {
	body, err := f.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return ParseJSONChapters(body)
}

// ParseJSONChapters decodes a podcast:chapters document. Entries hidden from
// the table of contents are dropped.
func ParseJSONChapters(body []byte) ([]catalog.Chapter, error) {
	var doc jsonChapters
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, services.Wrap(services.ErrPermanent, "ingest", "parse chapters", "invalid chapters json", err)
	}
	chapters := make([]catalog.Chapter, 0, len(doc.Chapters))
	for _, c := range doc.Chapters {
		if c.TOC != nil && !*c.TOC {
			continue
		}
		chapters = append(chapters, catalog.Chapter{
			Start: c.StartTime,
			End:   c.EndTime,
			Title: strings.TrimSpace(c.Title),
			URL:   strings.TrimSpace(c.URL),
		})
	}
	return finishChapters(chapters), nil
}

// pscChapters reads Podlove Simple Chapters embedded in a feed item.
func pscChapters(exts ext.Extensions) []catalog.Chapter {
	var chapters []catalog.Chapter
	for _, group := range exts["psc"]["chapters"] {
		for _, c := range group.Children["chapter"] {
			start, ok := parseClock(c.Attrs["start"])
			if !ok {
				continue
			}
			chapters = append(chapters, catalog.Chapter{
				Start: start,
				Title: strings.TrimSpace(c.Attrs["title"]),
				URL:   strings.TrimSpace(c.Attrs["href"]),
			})
		}
	}
	return finishChapters(chapters)
}

// finishChapters orders chapters by start and closes each open chapter at
// the start of the next.
func finishChapters(chapters []catalog.Chapter) []catalog.Chapter {
	if len(chapters) == 0 {
		return nil
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Start < chapters[j].Start })
	for i := range chapters[:len(chapters)-1] {
		if chapters[i].End <= chapters[i].Start {
			chapters[i].End = chapters[i+1].Start
		}
	}
	return chapters
}

// parseClock accepts plain seconds or [[hh:]mm:]ss[.fff].
func parseClock(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0, false
	}
	total := 0.0
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}
