package metadata

import (
	"context"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/services"
	"atlas/internal/textutil"
)

// GetForgotten returns items whose updated_at is older than now minus
// cutoffDays, least recently updated first.
func (m *Manager) GetForgotten(ctx context.Context, cutoffDays int) ([]*catalog.ContentItem, error) {
	if cutoffDays < 0 {
		return nil, services.Wrap(services.ErrInvalidInput, "metadata", "get forgotten", "cutoff must not be negative", nil)
	}
	cutoff := m.Now().Add(-time.Duration(cutoffDays) * 24 * time.Hour)
	return m.List(ctx, catalog.ItemFilter{UpdatedBefore: &cutoff, Order: catalog.OrderByUpdated})
}

// GetRecallItems returns items due for review now: never scheduled, or
// scheduled at or before now. Ranking is left to the recall engine; a
// positive limit caps the result in schedule order.
func (m *Manager) GetRecallItems(ctx context.Context, limit int) ([]*catalog.ContentItem, error) {
	now := m.Now()
	return m.List(ctx, catalog.ItemFilter{ReviewDueBy: &now, Order: catalog.OrderByNextReview, Limit: limit})
}

// RelatedByTags returns items sharing any of tags, excluding excludeID,
// newest first.
func (m *Manager) RelatedByTags(ctx context.Context, tags []string, excludeID int64, limit int) ([]*catalog.ContentItem, error) {
	tags = textutil.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil, nil
	}
	filter := catalog.ItemFilter{
		AnyTags:    tags,
		Order:      catalog.OrderByCreated,
		Descending: true,
		Limit:      limit,
	}
	if excludeID != 0 {
		filter.ExcludeIDs = []int64{excludeID}
	}
	return m.List(ctx, filter)
}

// RecordReview applies fn to the item's review state and saves it in one
// transaction.
func (m *Manager) RecordReview(ctx context.Context, uid string, fn func(*catalog.ContentItem) error) (*catalog.ContentItem, error) {
	return m.Mutate(ctx, uid, fn)
}
