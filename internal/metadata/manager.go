// Package metadata is the only mutation path for catalog content items. It
// constructs, loads and saves items, enforces the status lifecycle, keeps the
// denormalized tag list in step with tag edges, and serves the aggregate reads
// the cognitive engines build on.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"atlas/internal/catalog"
	"atlas/internal/config"
	"atlas/internal/fileutil"
	"atlas/internal/identity"
	"atlas/internal/logging"
	"atlas/internal/services"
	"atlas/internal/textutil"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 5 * time.Minute
)

// Manager is the metadata façade over a catalog store.
type Manager struct {
	store  *catalog.Store
	cache  *expirable.LRU[string, *catalog.ContentItem]
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCache sizes the read cache. A non-positive size disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(m *Manager) {
		if size <= 0 || ttl <= 0 {
			m.cache = nil
			return
		}
		m.cache = expirable.NewLRU[string, *catalog.ContentItem](size, nil, ttl)
	}
}

// New builds a Manager over store.
func New(store *catalog.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		cache:  expirable.NewLRU[string, *catalog.ContentItem](defaultCacheSize, nil, defaultCacheTTL),
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "metadata")
	return m
}

// NewFromConfig builds a Manager with cache settings from cfg.
func NewFromConfig(store *catalog.Store, cfg *config.Config, logger *slog.Logger, opts ...Option) *Manager {
	base := []Option{
		WithLogger(logger),
		WithCache(cfg.Cache.MetadataMaxEntries, time.Duration(cfg.Cache.MetadataTTLSeconds)*time.Second),
	}
	return New(store, append(base, opts...)...)
}

// Store exposes the underlying catalog for read-only maintenance callers.
func (m *Manager) Store() *catalog.Store {
	return m.store
}

// Now returns the manager clock in UTC.
func (m *Manager) Now() time.Time {
	return m.now().UTC()
}

func cacheKey(ct catalog.ContentType, uid string) string {
	return string(ct) + "/" + uid
}

func (m *Manager) invalidate(item *catalog.ContentItem) {
	if m.cache == nil || item == nil {
		return
	}
	m.cache.Remove(cacheKey(item.ContentType, item.UID))
}

// Create returns a new unsaved item in pending with its UID derived from src.
func (m *Manager) Create(src identity.Source, title string) (*catalog.ContentItem, error) {
	if _, ok := catalog.ParseContentType(string(src.ContentType)); !ok {
		return nil, services.Wrap(services.ErrInvalidInput, "metadata", "create",
			fmt.Sprintf("unknown content type %q", src.ContentType), nil)
	}
	uid := identity.ForSource(src)
	if uid == "" {
		return nil, services.Wrap(services.ErrInvalidInput, "metadata", "create", "no canonical identifier", nil)
	}
	item := &catalog.ContentItem{
		UID:         uid,
		ContentType: src.ContentType,
		SourceURL:   strings.TrimSpace(src.SourceURL),
		SourceGUID:  strings.TrimSpace(src.GUID),
		Title:       strings.TrimSpace(title),
		Status:      catalog.StatusPending,
	}
	if src.ContentType == catalog.TypePodcast {
		item.Podcast = &catalog.PodcastEpisode{OriginalAudioURL: strings.TrimSpace(src.AudioURL)}
		if item.SourceURL == "" {
			item.SourceURL = item.Podcast.OriginalAudioURL
		}
	}
	return item, nil
}

// Save upserts item by UID. A new object whose UID already exists adopts the
// stored row when the status change is permitted; otherwise the row changed
// under an incompatible status and ErrIntegrity is returned. A stale version
// also yields ErrIntegrity. On success item carries the new version.
func (m *Manager) Save(ctx context.Context, item *catalog.ContentItem) error {
	if item == nil {
		return services.Wrap(services.ErrInvalidInput, "metadata", "save", "item is nil", nil)
	}
	item.Tags = textutil.NormalizeTags(item.Tags)
	err := m.store.Update(ctx, func(s *catalog.Session) error {
		return m.saveInSession(ctx, s, item)
	})
	m.invalidate(item)
	return err
}

func (m *Manager) saveInSession(ctx context.Context, s *catalog.Session, item *catalog.ContentItem) error {
	existing, err := s.ItemByUID(ctx, item.UID)
	if err != nil {
		return err
	}
	if existing == nil {
		if item.Version != 0 {
			return services.Wrap(services.ErrIntegrity, "metadata", "save",
				fmt.Sprintf("item %s was removed", item.UID), nil)
		}
		return s.InsertItem(ctx, item)
	}
	if existing.ContentType != item.ContentType {
		return services.Wrap(services.ErrIntegrity, "metadata", "save",
			fmt.Sprintf("item %s is %s, not %s", item.UID, existing.ContentType, item.ContentType), nil)
	}
	if item.Version == 0 {
		if !catalog.CanTransition(existing.Status, item.Status) {
			return services.Wrap(services.ErrIntegrity, "metadata", "save",
				fmt.Sprintf("item %s is %s; cannot overwrite with %s", item.UID, existing.Status, item.Status), nil)
		}
		item.ID = existing.ID
		item.Version = existing.Version
		item.CreatedAt = existing.CreatedAt
	} else if !catalog.CanTransition(existing.Status, item.Status) {
		return services.Wrap(services.ErrIllegalTransition, "metadata", "save",
			fmt.Sprintf("%s -> %s", existing.Status, item.Status), nil)
	}
	return s.UpdateItem(ctx, item)
}

// Load returns a copy of the item, from cache when fresh. It returns nil when
// no item of that type and UID exists.
func (m *Manager) Load(ctx context.Context, ct catalog.ContentType, uid string) (*catalog.ContentItem, error) {
	key := cacheKey(ct, uid)
	if m.cache != nil {
		if cached, ok := m.cache.Get(key); ok {
			return cached.Clone(), nil
		}
	}
	var item *catalog.ContentItem
	err := m.store.View(ctx, func(s *catalog.Session) error {
		var err error
		item, err = s.ItemByUID(ctx, uid)
		return err
	})
	if err != nil {
		return nil, err
	}
	if item == nil || item.ContentType != ct {
		return nil, nil
	}
	if m.cache != nil {
		m.cache.Add(key, item.Clone())
	}
	return item, nil
}

// LoadByUID returns the item with uid regardless of type.
func (m *Manager) LoadByUID(ctx context.Context, uid string) (*catalog.ContentItem, error) {
	var item *catalog.ContentItem
	err := m.store.View(ctx, func(s *catalog.Session) error {
		var err error
		item, err = s.ItemByUID(ctx, uid)
		return err
	})
	return item, err
}

// Find resolves an existing item for src by UID, then GUID where the type
// carries one, then source URL (and enclosure URL for podcasts).
func (m *Manager) Find(ctx context.Context, src identity.Source) (*catalog.ContentItem, error) {
	var found *catalog.ContentItem
	err := m.store.View(ctx, func(s *catalog.Session) error {
		var err error
		if uid := identity.ForSource(src); uid != "" {
			if found, err = s.ItemByUID(ctx, uid); err != nil || found != nil {
				return err
			}
		}
		if identity.SupportsGUID(src.ContentType) && src.GUID != "" {
			if found, err = s.ItemByGUID(ctx, strings.TrimSpace(src.GUID)); err != nil || found != nil {
				return err
			}
		}
		if src.ContentType == catalog.TypePodcast && src.AudioURL != "" {
			if found, err = s.ItemByAudioURL(ctx, strings.TrimSpace(src.AudioURL)); err != nil || found != nil {
				return err
			}
		}
		found, err = s.ItemBySourceURL(ctx, src.ContentType, strings.TrimSpace(src.SourceURL))
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Mutate loads the item by UID, applies fn and saves it inside one catalog
// transaction. The lifecycle is checked against the stored status.
func (m *Manager) Mutate(ctx context.Context, uid string, fn func(*catalog.ContentItem) error) (*catalog.ContentItem, error) {
	var out *catalog.ContentItem
	err := m.store.Update(ctx, func(s *catalog.Session) error {
		item, err := s.ItemByUID(ctx, uid)
		if err != nil {
			return err
		}
		if item == nil {
			return services.Wrap(services.ErrNotFound, "metadata", "mutate", uid, nil)
		}
		from := item.Status
		if err := fn(item); err != nil {
			return err
		}
		if !catalog.CanTransition(from, item.Status) {
			return services.Wrap(services.ErrIllegalTransition, "metadata", "mutate",
				fmt.Sprintf("%s -> %s", from, item.Status), nil)
		}
		item.Tags = textutil.NormalizeTags(item.Tags)
		if err := s.UpdateItem(ctx, item); err != nil {
			return err
		}
		out = item
		return nil
	})
	if out != nil {
		m.invalidate(out)
	}
	return out, err
}

// SetStatus moves item to status, stamping processing timestamps, and saves
// it. errMsg is recorded when entering error.
func (m *Manager) SetStatus(ctx context.Context, item *catalog.ContentItem, status catalog.Status, errMsg string) error {
	if _, ok := catalog.ParseStatus(string(status)); !ok {
		return services.Wrap(services.ErrInvalidInput, "metadata", "set status",
			fmt.Sprintf("unknown status %q", status), nil)
	}
	if !catalog.CanTransition(item.Status, status) {
		return services.Wrap(services.ErrIllegalTransition, "metadata", "set status",
			fmt.Sprintf("%s -> %s", item.Status, status), nil)
	}
	updated := item.Clone()
	applyStatus(updated, status, errMsg, m.Now())
	if err := m.Save(ctx, updated); err != nil {
		return err
	}
	*item = *updated
	return nil
}

func applyStatus(item *catalog.ContentItem, status catalog.Status, errMsg string, now time.Time) {
	switch status {
	case catalog.StatusProcessing:
		if item.Status != catalog.StatusProcessing {
			item.ProcessingStartedAt = &now
			item.ProcessingCompletedAt = nil
		}
	case catalog.StatusCompleted:
		item.ProcessingCompletedAt = &now
		item.LastError = ""
		item.FailureStage = ""
	case catalog.StatusError:
		item.LastError = errMsg
	}
	item.Status = status
}

// Transition applies fn, when non-nil, and moves the item to status in one
// transaction, stamping processing timestamps the way SetStatus does.
func (m *Manager) Transition(ctx context.Context, uid string, status catalog.Status, errMsg string, fn func(*catalog.ContentItem) error) (*catalog.ContentItem, error) {
	if _, ok := catalog.ParseStatus(string(status)); !ok {
		return nil, services.Wrap(services.ErrInvalidInput, "metadata", "transition",
			fmt.Sprintf("unknown status %q", status), nil)
	}
	return m.Mutate(ctx, uid, func(item *catalog.ContentItem) error {
		if fn != nil {
			if err := fn(item); err != nil {
				return err
			}
		}
		applyStatus(item, status, errMsg, m.Now())
		return nil
	})
}

// RecordFailure moves a processing item to error, recording the stage and
// message and incrementing its retry count. apply, when non-nil, copies any
// partial results onto the row in the same transaction.
func (m *Manager) RecordFailure(ctx context.Context, uid, stage string, cause error, apply func(*catalog.ContentItem)) (*catalog.ContentItem, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return m.Transition(ctx, uid, catalog.StatusError, msg, func(item *catalog.ContentItem) error {
		if apply != nil {
			apply(item)
		}
		item.FailureStage = stage
		item.RetryCount++
		return nil
	})
}

// UpdateCategorization replaces the tag set with the two tiers, records the
// source hash of the item's content file when it exists, and stamps the
// categorization version. Tier one tags are stored as auto edges at full
// confidence, tier two at reduced confidence.
func (m *Manager) UpdateCategorization(ctx context.Context, item *catalog.ContentItem, tier1, tier2 []string, version string) error {
	tier1 = textutil.NormalizeTags(tier1)
	tier2 = textutil.NormalizeTags(tier2)
	tags := textutil.NormalizeTags(append(append([]string(nil), tier1...), tier2...))

	hash := item.SourceHash
	if path := contentPath(item); path != "" {
		sum, err := fileutil.SHA256File(path)
		if err != nil {
			return fmt.Errorf("hash content: %w", err)
		}
		if sum != "" {
			hash = sum
		}
	}

	now := m.Now()
	updated := item.Clone()
	updated.Tags = tags
	updated.SourceHash = hash
	updated.CategoryVersion = strings.TrimSpace(version)
	updated.LastTaggedAt = &now

	err := m.store.Update(ctx, func(s *catalog.Session) error {
		if updated.ID != 0 {
			for i, tag := range tags {
				confidence := 1.0
				if i >= len(tier1) {
					confidence = 0.7
				}
				if err := s.PutTag(ctx, catalog.ContentTag{
					ContentItemID: updated.ID,
					Tag:           tag,
					Type:          catalog.TagAuto,
					Confidence:    confidence,
				}); err != nil {
					return err
				}
			}
		}
		return m.saveInSession(ctx, s, updated)
	})
	m.invalidate(updated)
	if err != nil {
		return err
	}
	*item = *updated
	return nil
}

func contentPath(item *catalog.ContentItem) string {
	for _, candidate := range []string{item.MarkdownPath, item.HTMLPath} {
		if fileutil.Exists(candidate) {
			return candidate
		}
	}
	if item.Podcast != nil && fileutil.Exists(item.Podcast.TranscriptPath) {
		return item.Podcast.TranscriptPath
	}
	return ""
}

// AddNote appends a free-text note to the item.
func (m *Manager) AddNote(ctx context.Context, uid, note string) (*catalog.ContentItem, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, services.Wrap(services.ErrInvalidInput, "metadata", "add note", "note is empty", nil)
	}
	return m.Mutate(ctx, uid, func(item *catalog.ContentItem) error {
		item.Notes = append(item.Notes, note)
		return nil
	})
}

// MarkSurfaced records that the item was shown to the user. Saving bumps
// updated_at, which takes it out of the forgotten set.
func (m *Manager) MarkSurfaced(ctx context.Context, uid string) (*catalog.ContentItem, error) {
	return m.Mutate(ctx, uid, func(item *catalog.ContentItem) error {
		now := m.Now()
		item.LastSurfacedAt = &now
		return nil
	})
}

// AttachAnalysis stores payload as a JSON analysis record on the item.
func (m *Manager) AttachAnalysis(ctx context.Context, itemID int64, analysisType string, payload any, confidence float64, modelVersion string) (*catalog.ContentAnalysis, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode analysis payload: %w", err)
	}
	analysis := &catalog.ContentAnalysis{
		ContentItemID: itemID,
		AnalysisType:  analysisType,
		Payload:       string(data),
		Confidence:    confidence,
		ModelVersion:  modelVersion,
		CreatedAt:     m.Now(),
	}
	err = m.store.Update(ctx, func(s *catalog.Session) error {
		return s.AddAnalysis(ctx, analysis)
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// Analyses lists analyses for an item, newest first.
func (m *Manager) Analyses(ctx context.Context, itemID int64, analysisType string) ([]catalog.ContentAnalysis, error) {
	var out []catalog.ContentAnalysis
	err := m.store.View(ctx, func(s *catalog.Session) error {
		var err error
		out, err = s.AnalysesForItem(ctx, itemID, analysisType)
		return err
	})
	return out, err
}

// List returns items matching filter.
func (m *Manager) List(ctx context.Context, filter catalog.ItemFilter) ([]*catalog.ContentItem, error) {
	var items []*catalog.ContentItem
	err := m.store.View(ctx, func(s *catalog.Session) error {
		var err error
		items, err = s.ListItems(ctx, filter)
		return err
	})
	return items, err
}
