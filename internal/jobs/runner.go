package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"atlas/internal/catalog"
	"atlas/internal/logging"
	"atlas/internal/services"
)

const (
	defaultJobTimeout = time.Hour
	maxOutputTail     = 512
)

// Executor runs one job command and returns its combined output.
type Executor func(ctx context.Context, job *catalog.Job) ([]byte, error)

// ShellExecutor runs the job command through sh -c.
func ShellExecutor(ctx context.Context, job *catalog.Job) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", job.Command)
	return cmd.CombinedOutput()
}

// RunSummary tallies a RunDue pass.
type RunSummary struct {
	Started   int
	Completed int
	Failed    int
	Skipped   int
	Errors    map[string]string
}

// Runner executes due jobs and records their outcome on the registry.
type Runner struct {
	registry    *Registry
	exec        Executor
	concurrency int
	logger      *slog.Logger
}

// NewRunner builds a runner. A nil executor runs commands through the shell;
// concurrency below one runs jobs one at a time.
func NewRunner(registry *Registry, exec Executor, concurrency int, logger *slog.Logger) *Runner {
	if exec == nil {
		exec = ShellExecutor
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		registry:    registry,
		exec:        exec,
		concurrency: max(1, concurrency),
		logger:      logging.NewComponentLogger(logger, "jobs"),
	}
}

// RunDue runs every enabled job whose next run time has passed. Jobs
// without a command are skipped. A job that is claimed by another runner
// between listing and marking is skipped as well.
func (r *Runner) RunDue(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{Errors: make(map[string]string)}
	due, err := r.registry.Due(ctx)
	if err != nil {
		return summary, err
	}

	var mu sync.Mutex
	record := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, job := range due {
		if strings.TrimSpace(job.Command) == "" {
			record(func() { summary.Skipped++ })
			continue
		}
		g.Go(func() error {
			ok, runErr, err := r.runOne(gctx, job.Name)
			if err != nil {
				if errors.Is(err, services.ErrIllegalTransition) {
					record(func() { summary.Skipped++ })
					return nil
				}
				return err
			}
			record(func() {
				summary.Started++
				if ok {
					summary.Completed++
					return
				}
				summary.Failed++
				summary.Errors[job.Name] = runErr.Error()
			})
			return nil
		})
	}
	err = g.Wait()
	r.logger.Info("due jobs run",
		logging.Event("jobs_run_complete"),
		logging.Int("started", summary.Started),
		logging.Int("completed", summary.Completed),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
	)
	return summary, err
}

// runOne claims, executes and settles one job. The bool reports success of
// the command; the first error is the command failure, the second a
// registry failure.
func (r *Runner) runOne(ctx context.Context, name string) (bool, error, error) {
	job, err := r.registry.MarkRunning(ctx, name)
	if err != nil {
		return false, nil, err
	}
	timeout := defaultJobTimeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	started := time.Now()
	output, runErr := r.exec(runCtx, job)
	cancel()

	// Settle even when the parent was cancelled so the job never stays running.
	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer settleCancel()
	if runErr == nil {
		_, err := r.registry.Complete(settleCtx, name)
		r.logger.Debug("job command finished",
			logging.String("job", name),
			logging.Duration("elapsed", time.Since(started)),
		)
		return true, nil, err
	}
	runErr = describeFailure(runErr, output)
	_, err = r.registry.Fail(settleCtx, name, runErr)
	return false, runErr, err
}

func describeFailure(err error, output []byte) error {
	tail := strings.TrimSpace(string(output))
	if len(tail) > maxOutputTail {
		tail = "…" + tail[len(tail)-maxOutputTail:]
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = services.Wrap(services.ErrTimeout, "jobs", "run", "command timed out", err)
	}
	if tail == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, tail)
}
