package catalog

import (
	"context"
	"fmt"
	"strings"
)

// syncTags makes the content_tags edges of an item match its denormalized tag
// list. New tags become manual edges; edges of any type whose tag left the list
// are removed.
func (s *Session) syncTags(ctx context.Context, itemID int64, tags []string) error {
	wanted := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			wanted[tag] = struct{}{}
		}
	}

	existing, err := s.tagSet(ctx, itemID)
	if err != nil {
		return err
	}
	for tag := range existing {
		if _, keep := wanted[tag]; keep {
			continue
		}
		if _, err := s.exec(ctx, `DELETE FROM content_tags WHERE content_item_id = ? AND tag = ?`, itemID, tag); err != nil {
			return fmt.Errorf("remove tag %q: %w", tag, err)
		}
	}
	now := formatTime(s.Now())
	for tag := range wanted {
		if _, ok := existing[tag]; ok {
			continue
		}
		if _, err := s.exec(ctx,
			`INSERT OR IGNORE INTO content_tags (content_item_id, tag, tag_type, confidence, created_at)
            VALUES (?, ?, ?, 1.0, ?)`,
			itemID, tag, string(TagManual), now,
		); err != nil {
			return mapConstraintError("insert tag", err)
		}
	}
	return nil
}

func (s *Session) tagSet(ctx context.Context, itemID int64) (map[string]struct{}, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT tag FROM content_tags WHERE content_item_id = ?`, itemID)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()
	set := make(map[string]struct{})
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		set[tag] = struct{}{}
	}
	return set, rows.Err()
}

// PutTag upserts a typed tag edge. The item's denormalized list is not touched;
// callers saving the item afterwards keep both in step.
func (s *Session) PutTag(ctx context.Context, tag ContentTag) error {
	if tag.Confidence < 0 || tag.Confidence > 1 {
		tag.Confidence = clampUnit(tag.Confidence)
	}
	created := tag.CreatedAt
	if created.IsZero() {
		created = s.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO content_tags (content_item_id, tag, tag_type, confidence, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(content_item_id, tag, tag_type) DO UPDATE SET confidence = excluded.confidence`,
		tag.ContentItemID, tag.Tag, string(tag.Type), tag.Confidence, formatTime(created),
	)
	if err != nil {
		return mapConstraintError("put tag", err)
	}
	return nil
}

// TagsForItem returns the typed tag edges of one item ordered by tag.
func (s *Session) TagsForItem(ctx context.Context, itemID int64) ([]ContentTag, error) {
	rows, err := s.query(ctx,
		`SELECT content_item_id, tag, tag_type, confidence, created_at
        FROM content_tags WHERE content_item_id = ? ORDER BY tag, tag_type`, itemID)
	if err != nil {
		return nil, fmt.Errorf("tags for item: %w", err)
	}
	defer rows.Close()
	var tags []ContentTag
	for rows.Next() {
		var (
			tag        ContentTag
			tagType    string
			createdRaw string
		)
		if err := rows.Scan(&tag.ContentItemID, &tag.Tag, &tagType, &tag.Confidence, &createdRaw); err != nil {
			return nil, err
		}
		tag.Type = TagType(tagType)
		if created, err := parseTimeString(createdRaw); err == nil {
			tag.CreatedAt = created
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// TagEdges returns one edge per distinct (item, tag) pair joined with the
// item's type and creation time, ordered by creation.
func (s *Session) TagEdges(ctx context.Context) ([]TagEdge, error) {
	rows, err := s.query(ctx,
		`SELECT DISTINCT t.content_item_id, t.tag, c.content_type, c.created_at
        FROM content_tags t JOIN content_items c ON c.id = t.content_item_id
        ORDER BY c.created_at, t.content_item_id, t.tag`)
	if err != nil {
		return nil, fmt.Errorf("tag edges: %w", err)
	}
	defer rows.Close()
	var edges []TagEdge
	for rows.Next() {
		var (
			edge        TagEdge
			contentType string
			createdRaw  string
		)
		if err := rows.Scan(&edge.ContentItemID, &edge.Tag, &contentType, &createdRaw); err != nil {
			return nil, err
		}
		edge.ContentType = ContentType(contentType)
		if created, err := parseTimeString(createdRaw); err == nil {
			edge.CreatedAt = created
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
