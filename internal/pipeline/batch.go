package pipeline

import (
	"context"
	"errors"

	"atlas/internal/catalog"
	"atlas/internal/logging"
	"atlas/internal/services"
)

const defaultBatchMaxRetries = 3

// BatchOptions bounds a ProcessPending run.
type BatchOptions struct {
	// Limit caps the number of episodes attempted. Zero means no cap.
	Limit int
	// MaxRetries skips rows whose retry count has reached it.
	MaxRetries int
}

// BatchResult tallies a ProcessPending run.
type BatchResult struct {
	Attempted int
	Completed int
	Failed    int
	Skipped   int
	Failures  map[string]string
}

// ProcessPending runs every podcast row that is pending, ingested, stale in
// processing, or in error below the retry ceiling. Only one batch may run per
// data directory at a time.
func (o *Orchestrator) ProcessPending(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	result := BatchResult{Failures: make(map[string]string)}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultBatchMaxRetries
	}

	lock, err := acquireRunLock(o.cfg.Paths.DataDir)
	if err != nil {
		return result, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			o.logger.Warn("failed to release pipeline lock",
				logging.Error(err),
				logging.Event("lock_release_failed"),
				logging.String(logging.FieldErrorHint, "remove the pipeline.lock file if no batch is running"),
				logging.String(logging.FieldImpact, "the next batch may report a concurrent run"),
			)
		}
	}()

	items, err := o.meta.List(ctx, catalog.ItemFilter{
		ContentTypes: []catalog.ContentType{catalog.TypePodcast},
		Statuses: []catalog.Status{
			catalog.StatusPending, catalog.StatusIngested, catalog.StatusProcessing, catalog.StatusError,
		},
		MaxRetries: opts.MaxRetries,
		Order:      catalog.OrderByCreated,
		Limit:      opts.Limit,
	})
	if err != nil {
		return result, err
	}

	o.logger.Info("batch started",
		logging.Event("batch_start"),
		logging.Int("candidates", len(items)),
	)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, services.Classify(err)
		}
		result.Attempted++
		outcome, err := o.Process(ctx, item.UID)
		switch {
		case err == nil && outcome.Skipped:
			result.Skipped++
		case err == nil:
			result.Completed++
		case errors.Is(err, services.ErrAlreadyInFlight):
			result.Skipped++
		default:
			result.Failed++
			result.Failures[item.UID] = err.Error()
			if errors.Is(err, services.ErrCancelled) {
				return result, err
			}
		}
	}
	o.logger.Info("batch finished",
		logging.Event("batch_complete"),
		logging.Int("attempted", result.Attempted),
		logging.Int("completed", result.Completed),
		logging.Int("failed", result.Failed),
		logging.Int("skipped", result.Skipped),
	)
	return result, nil
}
