package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"atlas/internal/catalog"
	"atlas/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage scheduled jobs",
	}
	jobsCmd.AddCommand(newJobsAddCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx, "list", "List all jobs", false))
	jobsCmd.AddCommand(newJobsListCommand(ctx, "due", "List jobs whose next run has passed", true))
	jobsCmd.AddCommand(newJobsRunDueCommand(ctx))
	jobsCmd.AddCommand(newJobsTransitionCommand(ctx, "start", "Mark a due job as running",
		func(c context.Context, r *jobs.Registry, name string) (*catalog.Job, error) { return r.MarkRunning(c, name) }))
	jobsCmd.AddCommand(newJobsTransitionCommand(ctx, "complete", "Record a successful run of a running job",
		func(c context.Context, r *jobs.Registry, name string) (*catalog.Job, error) { return r.Complete(c, name) }))
	jobsCmd.AddCommand(newJobsFailCommand(ctx))
	jobsCmd.AddCommand(newJobsTransitionCommand(ctx, "enable", "Enable a job and schedule its next run",
		func(c context.Context, r *jobs.Registry, name string) (*catalog.Job, error) { return r.Enable(c, name) }))
	jobsCmd.AddCommand(newJobsTransitionCommand(ctx, "disable", "Disable a job",
		func(c context.Context, r *jobs.Registry, name string) (*catalog.Job, error) { return r.Disable(c, name) }))
	jobsCmd.AddCommand(newJobsTransitionCommand(ctx, "trigger", "Make a job due now",
		func(c context.Context, r *jobs.Registry, name string) (*catalog.Job, error) { return r.Trigger(c, name) }))
	return jobsCmd
}

func (c *commandContext) withRegistry(cmd *cobra.Command, fn func(context.Context, *runtime, *jobs.Registry) error) error {
	return c.withCatalog(cmd, func(ctx context.Context, rt *runtime) error {
		return fn(ctx, rt, jobs.NewFromConfig(rt.store, rt.cfg, rt.logger))
	})
}

func newJobsAddCommand(ctx *commandContext) *cobra.Command {
	var spec jobs.Spec
	cmd := &cobra.Command{
		Use:   "add <name> <command>",
		Short: "Register a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name = args[0]
			spec.Command = args[1]
			return ctx.withRegistry(cmd, func(c context.Context, _ *runtime, reg *jobs.Registry) error {
				job, err := reg.Register(c, spec)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered job %s (%s); next run %s\n", job.Name, job.JobType, formatTime(job.NextRunAt))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec.JobType, "type", jobs.TypeCustom, "Job type: ingest, transcribe, analyze, detect_ads, backup or custom")
	cmd.Flags().StringVar(&spec.Schedule, "schedule", "", "Interval (30m, 6h, 1d, 2w) or cron expression; empty runs on demand")
	cmd.Flags().IntVar(&spec.Priority, "priority", 0, "Higher priorities run first")
	cmd.Flags().IntVar(&spec.TimeoutSeconds, "timeout", 0, "Command timeout in seconds (0 for one hour)")
	cmd.Flags().BoolVar(&spec.Disabled, "disabled", false, "Register without scheduling")
	return cmd
}

func newJobsListCommand(ctx *commandContext, use, short string, dueOnly bool) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(cmd, func(c context.Context, _ *runtime, reg *jobs.Registry) error {
				var (
					list []*catalog.Job
					err  error
				)
				if dueOnly {
					list, err = reg.Due(c)
				} else {
					list, err = reg.List(c)
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, job := range list {
					schedule := job.Schedule
					if schedule == "" {
						schedule = "on demand"
					}
					rows = append(rows, []string{
						job.Name,
						job.JobType,
						schedule,
						string(job.Status),
						yesNo(job.Enabled),
						formatTime(job.NextRunAt),
						fmt.Sprintf("%d/%d", job.FailureCount, job.RunCount),
						truncate(job.LastError, 40),
					})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"Name", "Type", "Schedule", "Status", "Enabled", "Next run", "Failed/Runs", "Last error"},
					rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newJobsRunDueCommand(ctx *commandContext) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "run-due",
		Short: "Execute every due job and record the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(cmd, func(c context.Context, rt *runtime, reg *jobs.Registry) error {
				if reset, err := reg.ResetRunning(c); err != nil {
					return err
				} else if reset > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Rescheduled %d job(s) left running by an earlier run\n", reset)
				}
				summary, err := jobs.NewRunner(reg, nil, concurrency, rt.logger).RunDue(c)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Jobs: %d started, %d completed, %d failed, %d skipped\n",
					summary.Started, summary.Completed, summary.Failed, summary.Skipped)
				for _, name := range sortedKeys(summary.Errors) {
					fmt.Fprintf(out, "  %s: %s\n", name, truncate(summary.Errors[name], 100))
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Number of jobs to run at once")
	return cmd
}

func newJobsTransitionCommand(ctx *commandContext, use, short string, fn func(context.Context, *jobs.Registry, string) (*catalog.Job, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(cmd, func(c context.Context, _ *runtime, reg *jobs.Registry) error {
				job, err := fn(c, reg, args[0])
				if err != nil {
					return err
				}
				printJobState(cmd, job)
				return nil
			})
		},
	}
}

func newJobsFailCommand(ctx *commandContext) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "fail <name>",
		Short: "Record a failed run of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(cmd, func(c context.Context, _ *runtime, reg *jobs.Registry) error {
				job, err := reg.Fail(c, args[0], errors.New(message))
				if err != nil {
					return err
				}
				printJobState(cmd, job)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&message, "error", "e", "failed", "Failure message recorded on the job")
	return cmd
}

func printJobState(cmd *cobra.Command, job *catalog.Job) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, enabled %s, next run %s, runs %s, failures %s\n",
		job.Name, job.Status, yesNo(job.Enabled), formatTime(job.NextRunAt),
		strconv.Itoa(job.RunCount), strconv.Itoa(job.FailureCount))
}
