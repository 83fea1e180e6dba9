package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"atlas/internal/catalog"
	"atlas/internal/deps"
	"atlas/internal/ingest"
	"atlas/internal/preflight"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data directory layout and catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				stats, err := rt.store.Stats(c)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Catalog ready at %s (schema %s, %d items)\n", rt.store.Path(), stats.SchemaVersion, stats.Total)
				fmt.Fprintf(out, "Data directory: %s\n", rt.cfg.Paths.DataDir)
				return nil
			})
		},
	}
}

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var skipServices bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the catalog, data directories and external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				out := cmd.OutOrStdout()
				var rows [][]string
				failures := 0

				checks := preflight.RunAll(c, rt.cfg)
				if skipServices {
					checks = withoutRemoteChecks(checks)
				}
				for _, r := range checks {
					if !r.Passed {
						failures++
					}
					rows = append(rows, []string{r.Name, passFail(r.Passed), r.Detail})
				}
				statuses := preflight.CheckSystemDeps(rt.cfg)
				failures += len(deps.MissingRequired(statuses))
				for _, dep := range statuses {
					detail := dep.Command
					if !dep.Available {
						detail = dep.Detail
						if dep.Optional {
							detail += " (optional)"
						}
					}
					rows = append(rows, []string{dep.Name, passFail(dep.Available), detail})
				}

				report, err := rt.store.CheckHealth(c, rt.cfg.Paths.DataDir)
				if err != nil {
					return err
				}
				if !report.Healthy() {
					failures++
				}
				rows = append(rows, []string{"Catalog", passFail(report.Healthy()), healthDetail(report)})
				for _, missing := range report.MissingArtifacts {
					rows = append(rows, []string{"Artifact", "WARN", fmt.Sprintf("%s %s missing: %s", missing.UID, missing.Field, missing.Path)})
				}

				fmt.Fprintln(out, renderTable(out, []string{"Check", "Result", "Detail"}, rows, nil))
				if failures > 0 {
					return fmt.Errorf("validation failed: %d check(s) did not pass", failures)
				}
				fmt.Fprintln(out, "All checks passed")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipServices, "offline", false, "Skip checks that call remote services")
	return cmd
}

func withoutRemoteChecks(results []preflight.Result) []preflight.Result {
	out := results[:0]
	for _, r := range results {
		if !strings.Contains(r.Name, "LLM") {
			out = append(out, r)
		}
	}
	return out
}

func passFail(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}

func healthDetail(h catalog.HealthReport) string {
	if h.Error != "" {
		return h.Error
	}
	parts := []string{fmt.Sprintf("schema v%d", h.SchemaVersion)}
	if !h.IntegrityOK {
		parts = append(parts, "integrity: "+strings.Join(h.IntegrityMessages, "; "))
	}
	if h.ForeignKeyViolations > 0 {
		parts = append(parts, fmt.Sprintf("%d foreign key violations", h.ForeignKeyViolations))
	}
	if h.PodcastsWithoutEpisode > 0 {
		parts = append(parts, fmt.Sprintf("%d podcasts without episode row", h.PodcastsWithoutEpisode))
	}
	if len(h.MissingArtifacts) > 0 {
		parts = append(parts, fmt.Sprintf("%d missing artifacts", len(h.MissingArtifacts)))
	}
	return strings.Join(parts, ", ")
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				stats, err := rt.store.Stats(c)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				rows := [][]string{
					{"Items", strconv.Itoa(stats.Total)},
				}
				for _, ct := range catalog.ContentTypes() {
					rows = append(rows, []string{"  " + string(ct), strconv.Itoa(stats.ByType[ct])})
				}
				for _, st := range catalog.Statuses() {
					if n := stats.ByStatus[st]; n > 0 {
						rows = append(rows, []string{"  status " + string(st), strconv.Itoa(n)})
					}
				}
				rows = append(rows,
					[]string{"Podcast episodes", strconv.Itoa(stats.Episodes)},
					[]string{"Distinct tags", strconv.Itoa(stats.DistinctTags)},
					[]string{"Tag edges", strconv.Itoa(stats.TagEdges)},
					[]string{"Analyses", strconv.Itoa(stats.Analyses)},
					[]string{"Jobs (enabled)", fmt.Sprintf("%d (%d)", stats.Jobs, stats.EnabledJobs)},
					[]string{"Schema version", stats.SchemaVersion},
					[]string{"Catalog size", fmt.Sprintf("%d bytes", stats.FileSize)},
				)
				fmt.Fprintln(out, renderTable(out, []string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var defaultType string
	cmd := &cobra.Command{
		Use:   "migrate <dir>",
		Short: "Import file-based metadata sidecars into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, ok := catalog.ParseContentType(defaultType)
			if !ok {
				return fmt.Errorf("unknown content type %q", defaultType)
			}
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				adapter := ingest.NewArchiveAdapter(args[0], ct)
				in := ingest.New(rt.meta, ingest.WithLogger(rt.logger), ingest.WithMetrics(rt.metrics))
				summary, err := in.Run(c, adapter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printSummaries(cmd, []ingest.Summary{summary})
				for _, path := range adapter.Skipped {
					fmt.Fprintf(out, "skipped %s\n", path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&defaultType, "type", string(catalog.TypeArticle), "Content type for records that do not name one")
	return cmd
}

func newOptimizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Refresh query statistics and compact the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				if err := rt.store.Optimize(c); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Catalog optimized")
				return nil
			})
		},
	}
}

func newNoteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "note <uid> <text>",
		Short: "Attach a note to a catalog item",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			note := strings.TrimSpace(strings.Join(args[1:], " "))
			if note == "" {
				return errors.New("note text is required")
			}
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				item, err := rt.meta.AddNote(c, args[0], note)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s now has %d note(s)\n", item.UID, len(item.Notes))
				return nil
			})
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
