package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/config"
	"atlas/internal/logging"
	"atlas/internal/services"
)

// Job types understood by the CLI.
const (
	TypeIngest     = "ingest"
	TypeTranscribe = "transcribe"
	TypeAnalyze    = "analyze"
	TypeDetectAds  = "detect_ads"
	TypeBackup     = "backup"
	TypeCustom     = "custom"
)

const defaultFailureThreshold = 5

// Spec describes a job to register.
type Spec struct {
	Name           string
	JobType        string
	ContentItemID  *int64
	Command        string
	Schedule       string
	Priority       int
	TimeoutSeconds int
	Disabled       bool
}

// Registry persists jobs in the catalog and drives their lifecycle.
type Registry struct {
	store     *catalog.Store
	threshold int
	now       func() time.Time
	logger    *slog.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithFailureThreshold sets how many failures a job may accumulate before
// it is paused.
func WithFailureThreshold(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.threshold = n
		}
	}
}

// NewRegistry builds a registry over store.
func NewRegistry(store *catalog.Store, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		store:     store,
		threshold: defaultFailureThreshold,
		now:       time.Now,
		logger:    logging.NewComponentLogger(logger, "jobs"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromConfig builds a registry using the configured failure threshold.
func NewFromConfig(store *catalog.Store, cfg *config.Config, logger *slog.Logger, opts ...Option) *Registry {
	opts = append([]Option{WithFailureThreshold(cfg.Jobs.FailureThreshold)}, opts...)
	return NewRegistry(store, logger, opts...)
}

// Register adds a new job. Names are unique.
func (r *Registry) Register(ctx context.Context, spec Spec) (*catalog.Job, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, services.Wrap(services.ErrInvalidInput, "jobs", "register", "job name is required", nil)
	}
	jobType := strings.TrimSpace(spec.JobType)
	if jobType == "" {
		jobType = TypeCustom
	}
	if _, err := ParseSchedule(spec.Schedule); err != nil {
		return nil, err
	}
	job := &catalog.Job{
		Name:           name,
		JobType:        jobType,
		ContentItemID:  spec.ContentItemID,
		Command:        spec.Command,
		Schedule:       strings.TrimSpace(spec.Schedule),
		Status:         catalog.JobScheduled,
		Enabled:        !spec.Disabled,
		Priority:       spec.Priority,
		TimeoutSeconds: spec.TimeoutSeconds,
	}
	if job.Enabled {
		next, err := NextRun(job.Schedule, r.now())
		if err != nil {
			return nil, err
		}
		job.NextRunAt = next
	}
	err := r.store.Update(ctx, func(s *catalog.Session) error {
		existing, err := s.JobByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return services.Wrap(services.ErrAlreadyExists, "jobs", "register", fmt.Sprintf("job %q", name), nil)
		}
		return s.InsertJob(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("job registered",
		logging.Event("job_registered"),
		logging.String("job", job.Name),
		logging.String("job_type", job.JobType),
		logging.String("schedule", job.Schedule),
	)
	return job, nil
}

// Get returns the named job.
func (r *Registry) Get(ctx context.Context, name string) (*catalog.Job, error) {
	var job *catalog.Job
	err := r.store.View(ctx, func(s *catalog.Session) error {
		var err error
		job, err = s.JobByName(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "get", fmt.Sprintf("job %q", name), nil)
	}
	return job, nil
}

// List returns all jobs, highest priority first.
func (r *Registry) List(ctx context.Context) ([]*catalog.Job, error) {
	var jobs []*catalog.Job
	err := r.store.View(ctx, func(s *catalog.Session) error {
		var err error
		jobs, err = s.ListJobs(ctx)
		return err
	})
	return jobs, err
}

// Due returns enabled scheduled jobs whose next run has passed.
func (r *Registry) Due(ctx context.Context) ([]*catalog.Job, error) {
	var jobs []*catalog.Job
	err := r.store.View(ctx, func(s *catalog.Session) error {
		var err error
		jobs, err = s.DueJobs(ctx, r.now())
		return err
	})
	return jobs, err
}

// MarkRunning claims a due job.
func (r *Registry) MarkRunning(ctx context.Context, name string) (*catalog.Job, error) {
	return r.mutate(ctx, name, "mark running", func(job *catalog.Job, now time.Time) error {
		if !job.Enabled || job.Status != catalog.JobScheduled {
			return illegal(job, catalog.JobRunning)
		}
		if job.NextRunAt == nil || job.NextRunAt.After(now) {
			return services.Wrap(services.ErrIllegalTransition, "jobs", "mark running",
				fmt.Sprintf("job %q is not due", job.Name), nil)
		}
		job.Status = catalog.JobRunning
		return nil
	})
}

// Complete records a successful run and schedules the next one.
func (r *Registry) Complete(ctx context.Context, name string) (*catalog.Job, error) {
	job, err := r.mutate(ctx, name, "complete", func(job *catalog.Job, now time.Time) error {
		if job.Status != catalog.JobRunning {
			return illegal(job, catalog.JobScheduled)
		}
		ran := now
		job.LastRunAt = &ran
		job.RunCount++
		job.LastError = ""
		return r.reschedule(job, now)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("job completed",
		logging.Event("job_completed"),
		logging.String("job", job.Name),
		logging.Int("run_count", job.RunCount),
	)
	return job, nil
}

// Fail records a failed run. A job whose failure count exceeds the
// threshold is paused.
func (r *Registry) Fail(ctx context.Context, name string, cause error) (*catalog.Job, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	job, err := r.mutate(ctx, name, "fail", func(job *catalog.Job, now time.Time) error {
		if job.Status != catalog.JobRunning {
			return illegal(job, catalog.JobScheduled)
		}
		ran := now
		job.LastRunAt = &ran
		job.RunCount++
		job.FailureCount++
		job.LastError = msg
		if job.FailureCount > r.threshold {
			job.Status = catalog.JobPaused
			job.NextRunAt = nil
			return nil
		}
		return r.reschedule(job, now)
	})
	if err != nil {
		return nil, err
	}
	attrs := []logging.Attr{
		logging.String("job", job.Name),
		logging.Int("failure_count", job.FailureCount),
		logging.String("status", string(job.Status)),
		logging.Error(cause),
	}
	if job.Status == catalog.JobPaused {
		logging.WarnWithContext(r.logger, "job paused after repeated failures", "job_paused",
			append(attrs, logging.String(logging.FieldErrorHint, "inspect last_error then run jobs enable"))...)
	} else {
		logging.WarnWithContext(r.logger, "job failed", "job_failed", attrs...)
	}
	return job, nil
}

// Enable re-enables a job and returns a paused job to scheduled.
func (r *Registry) Enable(ctx context.Context, name string) (*catalog.Job, error) {
	return r.mutate(ctx, name, "enable", func(job *catalog.Job, now time.Time) error {
		if job.Status == catalog.JobRunning {
			return illegal(job, catalog.JobScheduled)
		}
		job.Enabled = true
		return r.reschedule(job, now)
	})
}

// Disable stops a job from becoming due.
func (r *Registry) Disable(ctx context.Context, name string) (*catalog.Job, error) {
	return r.mutate(ctx, name, "disable", func(job *catalog.Job, _ time.Time) error {
		job.Enabled = false
		job.NextRunAt = nil
		if job.Status != catalog.JobRunning {
			job.Status = catalog.JobPaused
		}
		return nil
	})
}

// Trigger makes an enabled scheduled job due immediately.
func (r *Registry) Trigger(ctx context.Context, name string) (*catalog.Job, error) {
	return r.mutate(ctx, name, "trigger", func(job *catalog.Job, now time.Time) error {
		if !job.Enabled || job.Status != catalog.JobScheduled {
			return illegal(job, catalog.JobRunning)
		}
		due := now
		job.NextRunAt = &due
		return nil
	})
}

// ResetRunning returns jobs left running by an interrupted process to
// scheduled and reports how many were reset.
func (r *Registry) ResetRunning(ctx context.Context) (int, error) {
	reset := 0
	err := r.store.Update(ctx, func(s *catalog.Session) error {
		reset = 0
		jobs, err := s.ListJobs(ctx)
		if err != nil {
			return err
		}
		now := r.now()
		for _, job := range jobs {
			if job.Status != catalog.JobRunning {
				continue
			}
			if err := r.reschedule(job, now); err != nil {
				return err
			}
			if err := s.UpdateJob(ctx, job); err != nil {
				return err
			}
			reset++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		r.logger.Info("reset interrupted jobs",
			logging.Event("jobs_reset"),
			logging.Int("count", reset),
		)
	}
	return reset, nil
}

func (r *Registry) mutate(ctx context.Context, name, op string, fn func(*catalog.Job, time.Time) error) (*catalog.Job, error) {
	var job *catalog.Job
	err := r.store.Update(ctx, func(s *catalog.Session) error {
		var err error
		job, err = s.JobByName(ctx, name)
		if err != nil {
			return err
		}
		if job == nil {
			return services.Wrap(services.ErrNotFound, "jobs", op, fmt.Sprintf("job %q", name), nil)
		}
		if err := fn(job, r.now()); err != nil {
			return err
		}
		return s.UpdateJob(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// reschedule moves job to scheduled with its next activation when enabled,
// or to paused with no next run otherwise.
func (r *Registry) reschedule(job *catalog.Job, now time.Time) error {
	if !job.Enabled {
		job.Status = catalog.JobPaused
		job.NextRunAt = nil
		return nil
	}
	next, err := NextRun(job.Schedule, now)
	if err != nil {
		return err
	}
	job.Status = catalog.JobScheduled
	job.NextRunAt = next
	return nil
}

func illegal(job *catalog.Job, target catalog.JobStatus) error {
	return services.Wrap(services.ErrIllegalTransition, "jobs", "transition",
		fmt.Sprintf("job %q cannot move from %s to %s (enabled=%t)", job.Name, job.Status, target, job.Enabled), nil)
}
