package ingest

import (
	"context"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/identity"
)

// Descriptor is one raw item produced by an adapter.
type Descriptor struct {
	Source      identity.Source
	Title       string
	Description string
	Author      string
	ShowName    string
	ImageURL    string
	PublishedAt *time.Time
	Tags        []string
	Episode     *Episode
}

// Episode carries the podcast-only fields a feed declares.
type Episode struct {
	FileSize     int64
	Duration     float64
	ShowAuthor   string
	ShowURL      string
	ShowImageURL string
	ChaptersURL  string
	Chapters     []catalog.Chapter
}

// Adapter produces descriptors for one source.
type Adapter interface {
	Name() string
	Descriptors(ctx context.Context) ([]Descriptor, error)
}

// Result reports what ingesting one descriptor did.
type Result string

const (
	ResultCreated   Result = "created"
	ResultUpdated   Result = "updated"
	ResultUnchanged Result = "unchanged"
	ResultFailed    Result = "failed"
)

// initialStatus is the status a freshly ingested item starts in.
func initialStatus(ct catalog.ContentType) catalog.Status {
	if ct == catalog.TypePodcast {
		return catalog.StatusPending
	}
	return catalog.StatusIngested
}
