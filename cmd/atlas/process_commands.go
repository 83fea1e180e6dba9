package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"atlas/internal/articles"
	"atlas/internal/discovery"
	"atlas/internal/pipeline"
	"atlas/internal/preflight"
)

type batchFlags struct {
	limit      int
	maxRetries int
}

func (b *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&b.limit, "limit", 0, "Maximum number of items to attempt (0 for all)")
	cmd.Flags().IntVar(&b.maxRetries, "max-retries", 3, "Skip failed items that were retried this many times")
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Process ingested content",
	}
	processCmd.AddCommand(newProcessArticlesCommand(ctx))
	processCmd.AddCommand(newProcessPodcastsCommand(ctx))
	processCmd.AddCommand(newProcessYouTubeCommand(ctx))
	return processCmd
}

func newProcessArticlesCommand(ctx *commandContext) *cobra.Command {
	var flags batchFlags
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Fetch and render ingested articles and Instapaper saves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				proc := articles.New(rt.cfg, rt.meta, articles.WithLogger(rt.logger), articles.WithMetrics(rt.metrics))
				result, err := proc.ProcessPending(c, flags.limit, flags.maxRetries)
				printBatch(cmd, "articles", result.Attempted, result.Completed, result.Failed, 0, result.Failures)
				return err
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newProcessYouTubeCommand(ctx *commandContext) *cobra.Command {
	var flags batchFlags
	cmd := &cobra.Command{
		Use:   "youtube",
		Short: "Write notes and discovered transcripts for ingested YouTube videos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				proc := articles.New(rt.cfg, rt.meta,
					articles.WithLogger(rt.logger),
					articles.WithMetrics(rt.metrics),
					articles.WithTranscripts(discovery.New(rt.cfg, discovery.WithLogger(rt.logger))),
				)
				result, err := proc.ProcessVideos(c, flags.limit, flags.maxRetries)
				printBatch(cmd, "videos", result.Attempted, result.Completed, result.Failed, 0, result.Failures)
				return err
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newProcessPodcastsCommand(ctx *commandContext) *cobra.Command {
	var flags batchFlags
	var uid string
	cmd := &cobra.Command{
		Use:   "podcasts",
		Short: "Download, clean and transcribe pending podcast episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				for _, check := range []preflight.Result{
					preflight.CheckDirectoryAccess("Data directory", rt.cfg.Paths.DataDir),
					preflight.CheckFreeSpace("Data directory space", rt.cfg.Paths.DataDir, preflight.MinFreeBytes),
				} {
					if !check.Passed {
						return fmt.Errorf("%s: %s", check.Name, check.Detail)
					}
				}

				orch := pipeline.NewFromConfig(rt.cfg, rt.meta, rt.logger, pipeline.WithMetrics(rt.metrics))
				if uid != "" {
					outcome, err := orch.Process(c, uid)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					if outcome.Skipped {
						fmt.Fprintf(out, "%s already %s\n", outcome.UID, outcome.Status)
						return nil
					}
					fmt.Fprintf(out, "%s %s (stages: %v)\n", outcome.UID, outcome.Status, outcome.Stages)
					return nil
				}
				result, err := orch.ProcessPending(c, pipeline.BatchOptions{Limit: flags.limit, MaxRetries: flags.maxRetries})
				printBatch(cmd, "episodes", result.Attempted, result.Completed, result.Failed, result.Skipped, result.Failures)
				return err
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&uid, "uid", "", "Process a single episode")
	return cmd
}

func printBatch(cmd *cobra.Command, noun string, attempted, completed, failed, skipped int, failures map[string]string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Processed %s: %d attempted, %d completed, %d failed", noun, attempted, completed, failed)
	if skipped > 0 {
		fmt.Fprintf(out, ", %d skipped", skipped)
	}
	fmt.Fprintln(out)
	if len(failures) == 0 {
		return
	}
	rows := make([][]string, 0, len(failures))
	for _, uid := range sortedKeys(failures) {
		rows = append(rows, []string{uid, truncate(failures[uid], 90)})
	}
	fmt.Fprintln(out, renderTable(out, []string{"UID", "Error ("+strconv.Itoa(len(failures))+")"}, rows, nil))
}
