package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"atlas/internal/catalog"
	"atlas/internal/identity"
	"atlas/internal/services"
)

// Folders Instapaper assigns by default; they say nothing about the topic.
var defaultFolders = map[string]struct{}{
	"unread":  {},
	"archive": {},
	"starred": {},
}

// InstapaperAdapter reads an Instapaper CSV export with the columns
// URL,Title,Selection,Folder,Timestamp and an optional Tags column.
type InstapaperAdapter struct {
	path string
}

// NewInstapaperAdapter reads the export at path.
func NewInstapaperAdapter(path string) *InstapaperAdapter {
	return &InstapaperAdapter{path: path}
}

// Name returns the export file name.
func (a *InstapaperAdapter) Name() string {
	return filepath.Base(a.path)
}

// Descriptors parses every row of the export.
func (a *InstapaperAdapter) Descriptors(ctx context.Context) ([]Descriptor, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "ingest", "open export", a.path, err)
	}
	defer f.Close()
	return ParseInstapaper(ctx, f)
}

// ParseInstapaper converts CSV rows into instapaper descriptors. Rows
// without a URL are skipped.
func ParseInstapaper(ctx context.Context, r io.Reader) ([]Descriptor, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "ingest", "parse export", "missing header row", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	if _, ok := cols["url"]; !ok {
		return nil, services.Wrap(services.ErrInvalidInput, "ingest", "parse export", "no URL column", nil)
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []Descriptor
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, services.Classify(err)
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, services.Wrap(services.ErrInvalidInput, "ingest", "parse export", fmt.Sprintf("line %d", line), err)
		}
		url := field(row, "url")
		if url == "" {
			continue
		}
		d := Descriptor{
			Source:      identity.Source{ContentType: catalog.TypeInstapaper, SourceURL: url},
			Title:       field(row, "title"),
			Description: field(row, "selection"),
			PublishedAt: parseSavedAt(field(row, "timestamp")),
			Tags:        parseTagList(field(row, "tags")),
		}
		if folder := field(row, "folder"); folder != "" {
			if _, skip := defaultFolders[strings.ToLower(folder)]; !skip {
				d.Tags = append(d.Tags, folder)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// parseSavedAt accepts Unix seconds or any common date layout.
func parseSavedAt(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		t := time.Unix(secs, 0).UTC()
		return &t
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// parseTagList accepts "a, b" and the bracketed "[a, b]" export form.
func parseTagList(raw string) []string {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(raw), "["), "]"))
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		tag = strings.Trim(strings.TrimSpace(tag), `"'`)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
