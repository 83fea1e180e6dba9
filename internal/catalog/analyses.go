package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// AddAnalysis attaches an analysis record to an item and sets its ID.
func (s *Session) AddAnalysis(ctx context.Context, analysis *ContentAnalysis) error {
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = s.Now()
	}
	payload := analysis.Payload
	if payload == "" {
		payload = "{}"
	}
	res, err := s.exec(ctx,
		`INSERT INTO content_analyses (content_item_id, analysis_type, payload_json, confidence, model_version, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		analysis.ContentItemID,
		analysis.AnalysisType,
		payload,
		analysis.Confidence,
		nullableString(analysis.ModelVersion),
		formatTime(analysis.CreatedAt),
	)
	if err != nil {
		return mapConstraintError("add analysis", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	analysis.ID = id
	analysis.Payload = payload
	return nil
}

// AnalysesForItem lists analyses for an item, newest first. An empty
// analysisType matches every type.
func (s *Session) AnalysesForItem(ctx context.Context, itemID int64, analysisType string) ([]ContentAnalysis, error) {
	query := `SELECT id, content_item_id, analysis_type, payload_json, confidence, model_version, created_at
        FROM content_analyses WHERE content_item_id = ?`
	args := []any{itemID}
	if analysisType != "" {
		query += ` AND analysis_type = ?`
		args = append(args, analysisType)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()
	var out []ContentAnalysis
	for rows.Next() {
		var (
			a          ContentAnalysis
			confidence sql.NullFloat64
			model      sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&a.ID, &a.ContentItemID, &a.AnalysisType, &a.Payload, &confidence, &model, &createdRaw); err != nil {
			return nil, err
		}
		a.Confidence = confidence.Float64
		a.ModelVersion = model.String
		if created, err := parseTimeString(createdRaw); err == nil {
			a.CreatedAt = created
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
