package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"atlas/internal/services"
	"atlas/internal/timeline"
)

const itemColumns = "id, uid, content_type, source_url, title, status, html_path, markdown_path, metadata_path, " +
	"source_guid, show_name, published_at, description, author, image_url, tags_json, notes_json, " +
	"retry_count, last_error, failure_stage, category_version, last_tagged_at, source_hash, " +
	"review_count, last_reviewed_at, next_review_at, success_rate, difficulty, user_rating, last_surfaced_at, " +
	"created_at, updated_at, processing_started_at, processing_completed_at, version"

const episodeColumns = "content_item_id, original_audio_url, original_file_path, original_duration, original_file_size, " +
	"cleaned_file_path, cleaned_duration, cleaned_file_size, cleaned_ready_at, show_image_url, show_author, show_url, " +
	"chapters_url, chapters_json, ad_segments_json, ads_detected_at, detection_methods_json, transcript_full, " +
	"transcript_fast, transcript_segments_json, transcript_language, transcript_source, transcript_path, markdown_transcript_path"

// ItemOrder selects the sort column for ListItems.
type ItemOrder int

const (
	OrderByID ItemOrder = iota
	OrderByCreated
	OrderByUpdated
	OrderByNextReview
)

var orderClauses = map[ItemOrder]string{
	OrderByID:         "id",
	OrderByCreated:    "created_at, id",
	OrderByUpdated:    "updated_at, id",
	OrderByNextReview: "next_review_at, id",
}

// ItemFilter narrows ListItems. Zero values match everything.
type ItemFilter struct {
	ContentTypes  []ContentType
	Statuses      []Status
	UpdatedBefore *time.Time
	CreatedAfter  *time.Time
	// ReviewDueBy matches items never scheduled or scheduled at or before the time.
	ReviewDueBy *time.Time
	AnyTags     []string
	ExcludeIDs  []int64
	MaxRetries  int
	Order       ItemOrder
	Descending  bool
	Limit       int
}

// InsertItem persists a new content item and, for podcasts, its episode. The
// item's ID, Version, and timestamps are populated on success.
func (s *Session) InsertItem(ctx context.Context, item *ContentItem) error {
	if item == nil {
		return services.Wrap(services.ErrInvalidInput, "catalog", "insert item", "item is nil", nil)
	}
	if err := validateItem(item); err != nil {
		return err
	}
	now := s.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	if item.ContentType == TypePodcast && item.Podcast == nil {
		item.Podcast = &PodcastEpisode{}
	}
	if item.Review.Difficulty == 0 {
		item.Review.Difficulty = 3
	}
	if item.Review.UserRating == 0 {
		item.Review.UserRating = 3
	}

	tagsJSON, notesJSON, err := encodeItemLists(item)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx,
		`INSERT INTO content_items (`+strings.TrimPrefix(itemColumns, "id, ")+`)
        VALUES (`+makePlaceholders(34)+`)`,
		item.UID,
		string(item.ContentType),
		nullableString(item.SourceURL),
		item.Title,
		string(item.Status),
		nullableString(item.HTMLPath),
		nullableString(item.MarkdownPath),
		nullableString(item.MetadataPath),
		nullableString(item.SourceGUID),
		nullableString(item.ShowName),
		nullableTime(item.PublishedAt),
		nullableString(item.Description),
		nullableString(item.Author),
		nullableString(item.ImageURL),
		tagsJSON,
		notesJSON,
		item.RetryCount,
		nullableString(item.LastError),
		nullableString(item.FailureStage),
		nullableString(item.CategoryVersion),
		nullableTime(item.LastTaggedAt),
		nullableString(item.SourceHash),
		item.Review.Count,
		nullableTime(item.Review.LastReviewedAt),
		nullableTime(item.Review.NextReviewAt),
		item.Review.SuccessRate,
		item.Review.Difficulty,
		item.Review.UserRating,
		nullableTime(item.LastSurfacedAt),
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
		nullableTime(item.ProcessingStartedAt),
		nullableTime(item.ProcessingCompletedAt),
		1,
	)
	if err != nil {
		return mapConstraintError("insert item", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	item.ID = id
	item.Version = 1

	if item.Podcast != nil {
		if err := s.upsertEpisode(ctx, item.ID, item.Podcast); err != nil {
			return err
		}
	}
	return s.syncTags(ctx, item.ID, item.Tags)
}

// UpdateItem writes every column of an existing item guarded by its version.
// A row changed since it was read yields services.ErrIntegrity.
func (s *Session) UpdateItem(ctx context.Context, item *ContentItem) error {
	if item == nil || item.ID == 0 {
		return services.Wrap(services.ErrInvalidInput, "catalog", "update item", "item has no id", nil)
	}
	if err := validateItem(item); err != nil {
		return err
	}
	if item.ContentType == TypePodcast && item.Podcast == nil {
		item.Podcast = &PodcastEpisode{}
	}
	tagsJSON, notesJSON, err := encodeItemLists(item)
	if err != nil {
		return err
	}
	updatedAt := s.Now()
	res, err := s.exec(ctx,
		`UPDATE content_items SET
            content_type = ?, source_url = ?, title = ?, status = ?, html_path = ?, markdown_path = ?,
            metadata_path = ?, source_guid = ?, show_name = ?, published_at = ?, description = ?,
            author = ?, image_url = ?, tags_json = ?, notes_json = ?, retry_count = ?, last_error = ?,
            failure_stage = ?, category_version = ?, last_tagged_at = ?, source_hash = ?,
            review_count = ?, last_reviewed_at = ?, next_review_at = ?, success_rate = ?, difficulty = ?,
            user_rating = ?, last_surfaced_at = ?, updated_at = ?, processing_started_at = ?,
            processing_completed_at = ?, version = version + 1
        WHERE id = ? AND uid = ? AND version = ?`,
		string(item.ContentType),
		nullableString(item.SourceURL),
		item.Title,
		string(item.Status),
		nullableString(item.HTMLPath),
		nullableString(item.MarkdownPath),
		nullableString(item.MetadataPath),
		nullableString(item.SourceGUID),
		nullableString(item.ShowName),
		nullableTime(item.PublishedAt),
		nullableString(item.Description),
		nullableString(item.Author),
		nullableString(item.ImageURL),
		tagsJSON,
		notesJSON,
		item.RetryCount,
		nullableString(item.LastError),
		nullableString(item.FailureStage),
		nullableString(item.CategoryVersion),
		nullableTime(item.LastTaggedAt),
		nullableString(item.SourceHash),
		item.Review.Count,
		nullableTime(item.Review.LastReviewedAt),
		nullableTime(item.Review.NextReviewAt),
		item.Review.SuccessRate,
		item.Review.Difficulty,
		item.Review.UserRating,
		nullableTime(item.LastSurfacedAt),
		formatTime(updatedAt),
		nullableTime(item.ProcessingStartedAt),
		nullableTime(item.ProcessingCompletedAt),
		item.ID,
		item.UID,
		item.Version,
	)
	if err != nil {
		return mapConstraintError("update item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrIntegrity, "catalog", "update item",
			fmt.Sprintf("item %s changed or was removed since version %d", item.UID, item.Version), nil)
	}
	item.Version++
	item.UpdatedAt = updatedAt

	if item.Podcast != nil {
		if err := s.upsertEpisode(ctx, item.ID, item.Podcast); err != nil {
			return err
		}
	}
	return s.syncTags(ctx, item.ID, item.Tags)
}

// DeleteItem removes an item; episodes, tags and analyses cascade.
func (s *Session) DeleteItem(ctx context.Context, uid string) error {
	res, err := s.exec(ctx, `DELETE FROM content_items WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrNotFound, "catalog", "delete item", uid, nil)
	}
	return nil
}

// ItemByUID returns the item with uid, or nil when absent.
func (s *Session) ItemByUID(ctx context.Context, uid string) (*ContentItem, error) {
	return s.singleItem(ctx, "uid = ?", uid)
}

// ItemByID returns the item with the given row id, or nil when absent.
func (s *Session) ItemByID(ctx context.Context, id int64) (*ContentItem, error) {
	return s.singleItem(ctx, "id = ?", id)
}

// ItemByGUID returns the item carrying an RSS GUID, or nil when absent.
func (s *Session) ItemByGUID(ctx context.Context, guid string) (*ContentItem, error) {
	if strings.TrimSpace(guid) == "" {
		return nil, nil
	}
	return s.singleItem(ctx, "source_guid = ?", guid)
}

// ItemBySourceURL returns the oldest item of contentType with the given source URL.
func (s *Session) ItemBySourceURL(ctx context.Context, contentType ContentType, url string) (*ContentItem, error) {
	if strings.TrimSpace(url) == "" {
		return nil, nil
	}
	return s.singleItem(ctx, "content_type = ? AND source_url = ?", string(contentType), url)
}

// ItemByAudioURL returns the podcast whose enclosure URL matches.
func (s *Session) ItemByAudioURL(ctx context.Context, audioURL string) (*ContentItem, error) {
	if strings.TrimSpace(audioURL) == "" {
		return nil, nil
	}
	return s.singleItem(ctx,
		"id = (SELECT content_item_id FROM podcast_episodes WHERE original_audio_url = ? ORDER BY content_item_id LIMIT 1)",
		audioURL)
}

func (s *Session) singleItem(ctx context.Context, where string, args ...any) (*ContentItem, error) {
	row := s.queryRow(ctx, `SELECT `+itemColumns+` FROM content_items WHERE `+where+` ORDER BY id LIMIT 1`, args...)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	if err := s.attachEpisodes(ctx, []*ContentItem{item}); err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns items matching filter with podcast episodes attached.
func (s *Session) ListItems(ctx context.Context, filter ItemFilter) ([]*ContentItem, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.ContentTypes) > 0 {
		clauses = append(clauses, "content_type IN ("+makePlaceholders(len(filter.ContentTypes))+")")
		for _, ct := range filter.ContentTypes {
			args = append(args, string(ct))
		}
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.UpdatedBefore != nil {
		clauses = append(clauses, "updated_at < ?")
		args = append(args, formatTime(*filter.UpdatedBefore))
	}
	if filter.CreatedAfter != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(*filter.CreatedAfter))
	}
	if filter.ReviewDueBy != nil {
		clauses = append(clauses, "(next_review_at IS NULL OR next_review_at <= ?)")
		args = append(args, formatTime(*filter.ReviewDueBy))
	}
	if len(filter.AnyTags) > 0 {
		clauses = append(clauses, "id IN (SELECT content_item_id FROM content_tags WHERE tag IN ("+makePlaceholders(len(filter.AnyTags))+"))")
		for _, tag := range filter.AnyTags {
			args = append(args, tag)
		}
	}
	if len(filter.ExcludeIDs) > 0 {
		clauses = append(clauses, "id NOT IN ("+makePlaceholders(len(filter.ExcludeIDs))+")")
		for _, id := range filter.ExcludeIDs {
			args = append(args, id)
		}
	}
	if filter.MaxRetries > 0 {
		clauses = append(clauses, "retry_count < ?")
		args = append(args, filter.MaxRetries)
	}

	query := `SELECT ` + itemColumns + ` FROM content_items`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	order, ok := orderClauses[filter.Order]
	if !ok {
		order = orderClauses[OrderByID]
	}
	if filter.Descending {
		order = strings.ReplaceAll(order, ",", " DESC,") + " DESC"
	}
	query += " ORDER BY " + order
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := s.attachEpisodes(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// CountItems returns the total number of content items.
func (s *Session) CountItems(ctx context.Context) (int, error) {
	var count int
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM content_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

func validateItem(item *ContentItem) error {
	if len(item.UID) != 32 {
		return services.Wrap(services.ErrInvalidInput, "catalog", "validate item",
			fmt.Sprintf("uid %q must be 32 characters", item.UID), nil)
	}
	if _, ok := ParseContentType(string(item.ContentType)); !ok {
		return services.Wrap(services.ErrInvalidInput, "catalog", "validate item",
			fmt.Sprintf("unknown content type %q", item.ContentType), nil)
	}
	if _, ok := ParseStatus(string(item.Status)); !ok {
		return services.Wrap(services.ErrInvalidInput, "catalog", "validate item",
			fmt.Sprintf("unknown status %q", item.Status), nil)
	}
	if ep := item.Podcast; ep != nil {
		if ep.CleanedDuration > 0 && ep.OriginalDuration > 0 && ep.CleanedDuration > ep.OriginalDuration {
			return services.Wrap(services.ErrInvalidInput, "catalog", "validate item",
				fmt.Sprintf("cleaned duration %.2f exceeds original %.2f", ep.CleanedDuration, ep.OriginalDuration), nil)
		}
		if err := timeline.Validate(AdSpans(ep.AdSegments), ep.OriginalDuration); err != nil {
			return services.Wrap(services.ErrInvalidInput, "catalog", "validate item", "ad segments", err)
		}
	}
	return nil
}

func encodeItemLists(item *ContentItem) (string, string, error) {
	tagsJSON, err := encodeJSON(item.Tags)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	notesJSON, err := encodeJSON(item.Notes)
	if err != nil {
		return "", "", fmt.Errorf("encode notes: %w", err)
	}
	return tagsJSON, notesJSON, nil
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*ContentItem, error) {
	var (
		item                                     ContentItem
		contentType, status                      string
		sourceURL, htmlPath, markdownPath        sql.NullString
		metadataPath, guid, showName, published  sql.NullString
		description, author, imageURL            sql.NullString
		tagsJSON, notesJSON                      string
		lastError, failureStage, categoryVersion sql.NullString
		lastTagged, sourceHash                   sql.NullString
		lastReviewed, nextReview, lastSurfaced   sql.NullString
		createdRaw, updatedRaw                   string
		processingStarted, processingCompleted   sql.NullString
	)
	if err := scanner.Scan(
		&item.ID,
		&item.UID,
		&contentType,
		&sourceURL,
		&item.Title,
		&status,
		&htmlPath,
		&markdownPath,
		&metadataPath,
		&guid,
		&showName,
		&published,
		&description,
		&author,
		&imageURL,
		&tagsJSON,
		&notesJSON,
		&item.RetryCount,
		&lastError,
		&failureStage,
		&categoryVersion,
		&lastTagged,
		&sourceHash,
		&item.Review.Count,
		&lastReviewed,
		&nextReview,
		&item.Review.SuccessRate,
		&item.Review.Difficulty,
		&item.Review.UserRating,
		&lastSurfaced,
		&createdRaw,
		&updatedRaw,
		&processingStarted,
		&processingCompleted,
		&item.Version,
	); err != nil {
		return nil, err
	}

	item.ContentType = ContentType(contentType)
	item.Status = Status(status)
	item.SourceURL = sourceURL.String
	item.HTMLPath = htmlPath.String
	item.MarkdownPath = markdownPath.String
	item.MetadataPath = metadataPath.String
	item.SourceGUID = guid.String
	item.ShowName = showName.String
	item.PublishedAt = parseNullableTime(published.String, published.Valid)
	item.Description = description.String
	item.Author = author.String
	item.ImageURL = imageURL.String
	item.LastError = lastError.String
	item.FailureStage = failureStage.String
	item.CategoryVersion = categoryVersion.String
	item.LastTaggedAt = parseNullableTime(lastTagged.String, lastTagged.Valid)
	item.SourceHash = sourceHash.String
	item.Review.LastReviewedAt = parseNullableTime(lastReviewed.String, lastReviewed.Valid)
	item.Review.NextReviewAt = parseNullableTime(nextReview.String, nextReview.Valid)
	item.LastSurfacedAt = parseNullableTime(lastSurfaced.String, lastSurfaced.Valid)
	item.ProcessingStartedAt = parseNullableTime(processingStarted.String, processingStarted.Valid)
	item.ProcessingCompletedAt = parseNullableTime(processingCompleted.String, processingCompleted.Valid)
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}

	var err error
	if item.Tags, err = decodeJSON[string](tagsJSON); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", item.UID, err)
	}
	if item.Notes, err = decodeJSON[string](notesJSON); err != nil {
		return nil, fmt.Errorf("decode notes for %s: %w", item.UID, err)
	}
	return &item, nil
}
