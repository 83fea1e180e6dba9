package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Stats summarizes catalog contents.
type Stats struct {
	Total         int
	ByType        map[ContentType]int
	ByStatus      map[Status]int
	Episodes      int
	DistinctTags  int
	TagEdges      int
	Analyses      int
	Jobs          int
	EnabledJobs   int
	SchemaVersion string
	CreatedAt     string
	FileSize      int64
}

// MissingArtifact points at a file referenced by a completed item that is not
// on disk.
type MissingArtifact struct {
	UID   string
	Field string
	Path  string
}

// HealthReport is the result of CheckHealth. Missing artifacts are reported but
// do not make the catalog unhealthy.
type HealthReport struct {
	Path                   string
	DatabaseExists         bool
	DatabaseReadable       bool
	SchemaVersion          int
	IntegrityOK            bool
	IntegrityMessages      []string
	ForeignKeyViolations   int
	PodcastsWithoutEpisode int
	MissingArtifacts       []MissingArtifact
	Error                  string
}

// Healthy reports whether the structural checks passed.
func (h HealthReport) Healthy() bool {
	return h.DatabaseExists && h.DatabaseReadable && h.IntegrityOK &&
		h.ForeignKeyViolations == 0 && h.PodcastsWithoutEpisode == 0 && h.SchemaVersion == SchemaVersion
}

// Stats returns counts by type, status and satellite table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByType:   make(map[ContentType]int),
		ByStatus: make(map[Status]int),
	}
	err := s.View(ctx, func(sess *Session) error {
		rows, err := sess.query(ctx, `SELECT content_type, status, COUNT(1) FROM content_items GROUP BY content_type, status`)
		if err != nil {
			return fmt.Errorf("catalog stats: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				contentType, status string
				count               int
			)
			if err := rows.Scan(&contentType, &status, &count); err != nil {
				return err
			}
			stats.ByType[ContentType(contentType)] += count
			stats.ByStatus[Status(status)] += count
			stats.Total += count
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if err := rows.Close(); err != nil {
			return err
		}

		counts := []struct {
			query string
			dest  *int
		}{
			{`SELECT COUNT(1) FROM podcast_episodes`, &stats.Episodes},
			{`SELECT COUNT(DISTINCT tag) FROM content_tags`, &stats.DistinctTags},
			{`SELECT COUNT(1) FROM content_tags`, &stats.TagEdges},
			{`SELECT COUNT(1) FROM content_analyses`, &stats.Analyses},
			{`SELECT COUNT(1) FROM processing_jobs`, &stats.Jobs},
			{`SELECT COUNT(1) FROM processing_jobs WHERE enabled = 1`, &stats.EnabledJobs},
		}
		for _, c := range counts {
			if err := sess.queryRow(ctx, c.query).Scan(c.dest); err != nil {
				return fmt.Errorf("catalog stats: %w", err)
			}
		}
		meta, err := sess.AllMetadata(ctx)
		if err != nil {
			return err
		}
		stats.SchemaVersion = meta[MetaSchemaVersion]
		stats.CreatedAt = meta[MetaCreatedAt]
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	if info, err := os.Stat(s.path); err == nil {
		stats.FileSize = info.Size()
	}
	return stats, nil
}

// CheckHealth runs SQLite integrity and foreign-key checks, verifies the
// podcast extension invariant, and scans completed items for missing
// artifacts. Relative artifact paths resolve against baseDir.
func (s *Store) CheckHealth(ctx context.Context, baseDir string) (HealthReport, error) {
	report := HealthReport{Path: s.path}
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, nil
		}
		return report, fmt.Errorf("stat catalog: %w", err)
	}
	if info.IsDir() {
		return report, fmt.Errorf("catalog path %q is a directory", s.path)
	}
	report.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 30*time.Second)
	defer cancel()
	if err := s.db.PingContext(connCtx); err != nil {
		report.Error = err.Error()
		return report, fmt.Errorf("ping catalog: %w", err)
	}
	report.DatabaseReadable = true

	err = s.View(connCtx, func(sess *Session) error {
		raw, _, err := sess.Metadata(connCtx, MetaSchemaVersion)
		if err != nil {
			return err
		}
		report.SchemaVersion, _ = strconv.Atoi(raw)

		rows, err := sess.query(connCtx, `PRAGMA integrity_check`)
		if err != nil {
			return fmt.Errorf("integrity check: %w", err)
		}
		for rows.Next() {
			var msg string
			if err := rows.Scan(&msg); err != nil {
				rows.Close()
				return err
			}
			report.IntegrityMessages = append(report.IntegrityMessages, msg)
		}
		rows.Close()
		report.IntegrityOK = len(report.IntegrityMessages) == 1 && report.IntegrityMessages[0] == "ok"

		fkRows, err := sess.query(connCtx, `PRAGMA foreign_key_check`)
		if err != nil {
			return fmt.Errorf("foreign key check: %w", err)
		}
		for fkRows.Next() {
			report.ForeignKeyViolations++
		}
		fkRows.Close()

		if err := sess.queryRow(connCtx,
			`SELECT COUNT(1) FROM content_items c
            WHERE c.content_type = ? AND NOT EXISTS (SELECT 1 FROM podcast_episodes p WHERE p.content_item_id = c.id)`,
			string(TypePodcast),
		).Scan(&report.PodcastsWithoutEpisode); err != nil {
			return fmt.Errorf("episode check: %w", err)
		}

		items, err := sess.ListItems(connCtx, ItemFilter{Statuses: []Status{StatusCompleted}})
		if err != nil {
			return err
		}
		for _, item := range items {
			report.MissingArtifacts = append(report.MissingArtifacts, missingArtifacts(item, baseDir)...)
		}
		return nil
	})
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	return report, nil
}

func missingArtifacts(item *ContentItem, baseDir string) []MissingArtifact {
	fields := []struct{ name, path string }{
		{"html_path", item.HTMLPath},
		{"markdown_path", item.MarkdownPath},
		{"metadata_path", item.MetadataPath},
	}
	if ep := item.Podcast; ep != nil {
		fields = append(fields,
			struct{ name, path string }{"original_file_path", ep.OriginalFilePath},
			struct{ name, path string }{"cleaned_file_path", ep.CleanedFilePath},
			struct{ name, path string }{"transcript_path", ep.TranscriptPath},
		)
	}
	var missing []MissingArtifact
	for _, f := range fields {
		if f.path == "" {
			continue
		}
		path := f.path
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, MissingArtifact{UID: item.UID, Field: f.name, Path: f.path})
		}
	}
	return missing
}

// Optimize refreshes planner statistics and compacts the file. It never
// changes catalog contents.
func (s *Store) Optimize(ctx context.Context) error {
	ctx = ensureContext(ctx)
	for _, stmt := range []string{"ANALYZE", "PRAGMA optimize", "VACUUM"} {
		if err := retryOnBusy(ctx, func() error {
			_, err := s.db.ExecContext(ctx, stmt)
			return err
		}); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}
