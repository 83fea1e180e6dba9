package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"atlas/internal/services"
)

const jobColumns = "id, name, job_type, content_item_id, command, schedule, status, last_run_at, next_run_at, " +
	"run_count, failure_count, last_error, enabled, priority, timeout_seconds, created_at, updated_at"

// InsertJob persists a new job and sets its ID and timestamps.
func (s *Session) InsertJob(ctx context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	now := s.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	res, err := s.exec(ctx,
		`INSERT INTO processing_jobs (`+strings.TrimPrefix(jobColumns, "id, ")+`)
        VALUES (`+makePlaceholders(16)+`)`,
		job.Name,
		job.JobType,
		nullableID(job.ContentItemID),
		job.Command,
		nullableString(job.Schedule),
		string(job.Status),
		nullableTime(job.LastRunAt),
		nullableTime(job.NextRunAt),
		job.RunCount,
		job.FailureCount,
		nullableString(job.LastError),
		boolToInt(job.Enabled),
		job.Priority,
		job.TimeoutSeconds,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return mapConstraintError("insert job", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	job.ID = id
	return nil
}

// UpdateJob writes every mutable column of an existing job.
func (s *Session) UpdateJob(ctx context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	job.UpdatedAt = s.Now()
	res, err := s.exec(ctx,
		`UPDATE processing_jobs SET
            job_type = ?, content_item_id = ?, command = ?, schedule = ?, status = ?, last_run_at = ?,
            next_run_at = ?, run_count = ?, failure_count = ?, last_error = ?, enabled = ?, priority = ?,
            timeout_seconds = ?, updated_at = ?
        WHERE id = ?`,
		job.JobType,
		nullableID(job.ContentItemID),
		job.Command,
		nullableString(job.Schedule),
		string(job.Status),
		nullableTime(job.LastRunAt),
		nullableTime(job.NextRunAt),
		job.RunCount,
		job.FailureCount,
		nullableString(job.LastError),
		boolToInt(job.Enabled),
		job.Priority,
		job.TimeoutSeconds,
		formatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return mapConstraintError("update job", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrNotFound, "catalog", "update job", job.Name, nil)
	}
	return nil
}

// JobByName returns the named job, or nil when absent.
func (s *Session) JobByName(ctx context.Context, name string) (*Job, error) {
	row := s.queryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE name = ?`, name)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

// ListJobs returns every job ordered by priority then name.
func (s *Session) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.jobs(ctx, `SELECT `+jobColumns+` FROM processing_jobs ORDER BY priority DESC, name`)
}

// DueJobs returns enabled scheduled jobs whose next run is at or before now.
func (s *Session) DueJobs(ctx context.Context, now time.Time) ([]*Job, error) {
	return s.jobs(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
        WHERE enabled = 1 AND status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
        ORDER BY priority DESC, next_run_at, name`,
		string(JobScheduled), formatTime(now))
}

func (s *Session) jobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func validateJob(job *Job) error {
	if job == nil || strings.TrimSpace(job.Name) == "" {
		return services.Wrap(services.ErrInvalidInput, "catalog", "validate job", "job name is required", nil)
	}
	if _, ok := ParseJobStatus(string(job.Status)); !ok {
		return services.Wrap(services.ErrInvalidInput, "catalog", "validate job",
			fmt.Sprintf("unknown job status %q", job.Status), nil)
	}
	if job.FailureCount > job.RunCount {
		return services.Wrap(services.ErrIntegrity, "catalog", "validate job",
			fmt.Sprintf("failure count %d exceeds run count %d", job.FailureCount, job.RunCount), nil)
	}
	if !job.Enabled && job.NextRunAt != nil {
		return services.Wrap(services.ErrIntegrity, "catalog", "validate job", "disabled job has a next run", nil)
	}
	return nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job                         Job
		contentItemID               sql.NullInt64
		schedule, lastError         sql.NullString
		status, createdRaw, updated string
		lastRun, nextRun            sql.NullString
		enabled                     int
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Name,
		&job.JobType,
		&contentItemID,
		&job.Command,
		&schedule,
		&status,
		&lastRun,
		&nextRun,
		&job.RunCount,
		&job.FailureCount,
		&lastError,
		&enabled,
		&job.Priority,
		&job.TimeoutSeconds,
		&createdRaw,
		&updated,
	); err != nil {
		return nil, err
	}
	if contentItemID.Valid {
		id := contentItemID.Int64
		job.ContentItemID = &id
	}
	job.Schedule = schedule.String
	job.Status = JobStatus(status)
	job.LastRunAt = parseNullableTime(lastRun.String, lastRun.Valid)
	job.NextRunAt = parseNullableTime(nextRun.String, nextRun.Valid)
	job.LastError = lastError.String
	job.Enabled = enabled != 0
	if t, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := parseTimeString(updated); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}
