package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"atlas/internal/catalog"
	"atlas/internal/identity"
	"atlas/internal/services"
	"atlas/internal/textutil"
)

// archiveRecord is the loose shape of a metadata sidecar written by earlier
// file-based tooling. Field names vary between generations of that tooling,
// so several aliases are accepted.
type archiveRecord struct {
	Type        string   `json:"type"`
	ContentType string   `json:"content_type"`
	URL         string   `json:"url"`
	SourceURL   string   `json:"source_url"`
	AudioURL    string   `json:"audio_url"`
	GUID        string   `json:"guid"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	ShowName    string   `json:"show_name"`
	ImageURL    string   `json:"image_url"`
	Published   string   `json:"published_at"`
	Date        string   `json:"date"`
	Tags        []string `json:"tags"`
}

// ArchiveAdapter migrates a directory tree of JSON metadata sidecars into
// the catalog. Files that are not JSON objects or carry no identifier are
// skipped and listed in Skipped after Descriptors returns.
type ArchiveAdapter struct {
	root        string
	defaultType catalog.ContentType

	Skipped []string
}

// NewArchiveAdapter walks root. Records without a type become defaultType,
// or articles when defaultType is empty.
func NewArchiveAdapter(root string, defaultType catalog.ContentType) *ArchiveAdapter {
	if defaultType == "" {
		defaultType = catalog.TypeArticle
	}
	return &ArchiveAdapter{root: root, defaultType: defaultType}
}

// Name returns the archive root.
func (a *ArchiveAdapter) Name() string { return "archive:" + filepath.Base(a.root) }

// Descriptors reads every *.json file below root in path order.
func (a *ArchiveAdapter) Descriptors(ctx context.Context) ([]Descriptor, error) {
	info, err := os.Stat(a.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, services.Wrap(services.ErrNotFound, "ingest", "archive", a.root, err)
		}
		return nil, services.Wrap(services.ErrPermanent, "ingest", "archive", a.root, err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrInvalidInput, "ingest", "archive", a.root+" is not a directory", nil)
	}

	var paths []string
	err = filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, services.Classify(err)
	}
	sort.Strings(paths)

	a.Skipped = nil
	out := make([]Descriptor, 0, len(paths))
	for _, path := range paths {
		d, ok := a.read(path)
		if !ok {
			a.Skipped = append(a.Skipped, path)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (a *ArchiveAdapter) read(path string) (Descriptor, bool) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, false
	}
	var rec archiveRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return Descriptor{}, false
	}
	d, err := rec.descriptor(a.defaultType)
	if err != nil {
		return Descriptor{}, false
	}
	return d, true
}

func (r archiveRecord) descriptor(defaultType catalog.ContentType) (Descriptor, error) {
	ct := defaultType
	if raw := firstNonEmpty(r.ContentType, r.Type); raw != "" {
		parsed, ok := catalog.ParseContentType(strings.ToLower(strings.TrimSpace(raw)))
		if !ok {
			return Descriptor{}, fmt.Errorf("unknown content type %q", raw)
		}
		ct = parsed
	}
	src := identity.Source{
		ContentType: ct,
		SourceURL:   strings.TrimSpace(firstNonEmpty(r.SourceURL, r.URL)),
		AudioURL:    strings.TrimSpace(r.AudioURL),
		GUID:        strings.TrimSpace(r.GUID),
	}
	if ct == catalog.TypePodcast && src.SourceURL == "" {
		src.SourceURL = src.AudioURL
	}
	if src.SourceURL == "" && src.AudioURL == "" && src.GUID == "" {
		return Descriptor{}, fmt.Errorf("record has no identifier")
	}
	d := Descriptor{
		Source:      src,
		Title:       strings.TrimSpace(r.Title),
		Description: strings.TrimSpace(r.Description),
		Author:      strings.TrimSpace(r.Author),
		ShowName:    strings.TrimSpace(r.ShowName),
		ImageURL:    strings.TrimSpace(r.ImageURL),
		Tags:        textutil.NormalizeTags(r.Tags),
	}
	if raw := strings.TrimSpace(firstNonEmpty(r.Published, r.Date)); raw != "" {
		if ts, err := dateparse.ParseAny(raw); err == nil {
			utc := ts.UTC().Truncate(time.Second)
			d.PublishedAt = &utc
		}
	}
	return d, nil
}
