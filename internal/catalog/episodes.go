package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *Session) upsertEpisode(ctx context.Context, itemID int64, ep *PodcastEpisode) error {
	chapters, err := encodeJSON(ep.Chapters)
	if err != nil {
		return fmt.Errorf("encode chapters: %w", err)
	}
	segments, err := encodeJSON(ep.AdSegments)
	if err != nil {
		return fmt.Errorf("encode ad segments: %w", err)
	}
	methods, err := encodeJSON(ep.DetectionMethods)
	if err != nil {
		return fmt.Errorf("encode detection methods: %w", err)
	}
	transcript, err := encodeJSON(ep.TranscriptSegments)
	if err != nil {
		return fmt.Errorf("encode transcript segments: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO podcast_episodes (`+episodeColumns+`)
        VALUES (`+makePlaceholders(24)+`)
        ON CONFLICT(content_item_id) DO UPDATE SET
            original_audio_url = excluded.original_audio_url,
            original_file_path = excluded.original_file_path,
            original_duration = excluded.original_duration,
            original_file_size = excluded.original_file_size,
            cleaned_file_path = excluded.cleaned_file_path,
            cleaned_duration = excluded.cleaned_duration,
            cleaned_file_size = excluded.cleaned_file_size,
            cleaned_ready_at = excluded.cleaned_ready_at,
            show_image_url = excluded.show_image_url,
            show_author = excluded.show_author,
            show_url = excluded.show_url,
            chapters_url = excluded.chapters_url,
            chapters_json = excluded.chapters_json,
            ad_segments_json = excluded.ad_segments_json,
            ads_detected_at = excluded.ads_detected_at,
            detection_methods_json = excluded.detection_methods_json,
            transcript_full = excluded.transcript_full,
            transcript_fast = excluded.transcript_fast,
            transcript_segments_json = excluded.transcript_segments_json,
            transcript_language = excluded.transcript_language,
            transcript_source = excluded.transcript_source,
            transcript_path = excluded.transcript_path,
            markdown_transcript_path = excluded.markdown_transcript_path`,
		itemID,
		nullableString(ep.OriginalAudioURL),
		nullableString(ep.OriginalFilePath),
		nullableFloat(ep.OriginalDuration),
		nullableInt(ep.OriginalFileSize),
		nullableString(ep.CleanedFilePath),
		nullableFloat(ep.CleanedDuration),
		nullableInt(ep.CleanedFileSize),
		nullableTime(ep.CleanedReadyAt),
		nullableString(ep.ShowImageURL),
		nullableString(ep.ShowAuthor),
		nullableString(ep.ShowURL),
		nullableString(ep.ChaptersURL),
		chapters,
		segments,
		nullableTime(ep.AdsDetectedAt),
		methods,
		nullableString(ep.TranscriptFull),
		nullableString(ep.TranscriptFast),
		transcript,
		nullableString(ep.TranscriptLanguage),
		nullableString(ep.TranscriptSource),
		nullableString(ep.TranscriptPath),
		nullableString(ep.MarkdownTranscriptPath),
	)
	if err != nil {
		return mapConstraintError("upsert episode", err)
	}
	return nil
}

// attachEpisodes loads podcast extensions for every podcast in items with a
// single query.
func (s *Session) attachEpisodes(ctx context.Context, items []*ContentItem) error {
	byID := make(map[int64]*ContentItem)
	var ids []any
	for _, item := range items {
		if item.ContentType != TypePodcast {
			continue
		}
		byID[item.ID] = item
		ids = append(ids, item.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := s.query(ctx,
		`SELECT `+episodeColumns+` FROM podcast_episodes WHERE content_item_id IN (`+makePlaceholders(len(ids))+`)`,
		ids...)
	if err != nil {
		return fmt.Errorf("load episodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		itemID, ep, err := scanEpisode(rows)
		if err != nil {
			return fmt.Errorf("scan episode: %w", err)
		}
		if item, ok := byID[itemID]; ok {
			item.Podcast = ep
		}
	}
	return rows.Err()
}

func scanEpisode(scanner interface{ Scan(dest ...any) error }) (int64, *PodcastEpisode, error) {
	var (
		itemID                                   int64
		ep                                       PodcastEpisode
		audioURL, originalPath, cleanedPath      sql.NullString
		originalDuration, cleanedDuration        sql.NullFloat64
		originalSize, cleanedSize                sql.NullInt64
		cleanedReady, showImage, showAuthor      sql.NullString
		showURL, chaptersURL, adsDetected        sql.NullString
		chaptersJSON, segmentsJSON, methodsJSON  string
		transcriptFull, transcriptFast           sql.NullString
		transcriptSegmentsJSON                   string
		language, source, transcriptPath, mdPath sql.NullString
	)
	if err := scanner.Scan(
		&itemID,
		&audioURL,
		&originalPath,
		&originalDuration,
		&originalSize,
		&cleanedPath,
		&cleanedDuration,
		&cleanedSize,
		&cleanedReady,
		&showImage,
		&showAuthor,
		&showURL,
		&chaptersURL,
		&chaptersJSON,
		&segmentsJSON,
		&adsDetected,
		&methodsJSON,
		&transcriptFull,
		&transcriptFast,
		&transcriptSegmentsJSON,
		&language,
		&source,
		&transcriptPath,
		&mdPath,
	); err != nil {
		return 0, nil, err
	}

	ep.OriginalAudioURL = audioURL.String
	ep.OriginalFilePath = originalPath.String
	ep.OriginalDuration = originalDuration.Float64
	ep.OriginalFileSize = originalSize.Int64
	ep.CleanedFilePath = cleanedPath.String
	ep.CleanedDuration = cleanedDuration.Float64
	ep.CleanedFileSize = cleanedSize.Int64
	ep.CleanedReadyAt = parseNullableTime(cleanedReady.String, cleanedReady.Valid)
	ep.ShowImageURL = showImage.String
	ep.ShowAuthor = showAuthor.String
	ep.ShowURL = showURL.String
	ep.ChaptersURL = chaptersURL.String
	ep.AdsDetectedAt = parseNullableTime(adsDetected.String, adsDetected.Valid)
	ep.TranscriptFull = transcriptFull.String
	ep.TranscriptFast = transcriptFast.String
	ep.TranscriptLanguage = language.String
	ep.TranscriptSource = source.String
	ep.TranscriptPath = transcriptPath.String
	ep.MarkdownTranscriptPath = mdPath.String

	var err error
	if ep.Chapters, err = decodeJSON[Chapter](chaptersJSON); err != nil {
		return 0, nil, fmt.Errorf("decode chapters: %w", err)
	}
	if ep.AdSegments, err = decodeJSON[AdSegment](segmentsJSON); err != nil {
		return 0, nil, fmt.Errorf("decode ad segments: %w", err)
	}
	if ep.DetectionMethods, err = decodeJSON[string](methodsJSON); err != nil {
		return 0, nil, fmt.Errorf("decode detection methods: %w", err)
	}
	if ep.TranscriptSegments, err = decodeJSON[TranscriptSegment](transcriptSegmentsJSON); err != nil {
		return 0, nil, fmt.Errorf("decode transcript segments: %w", err)
	}
	return itemID, &ep, nil
}
