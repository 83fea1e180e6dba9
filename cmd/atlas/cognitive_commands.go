package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"atlas/internal/catalog"
	"atlas/internal/cognitive"
	"atlas/internal/config"
	"atlas/internal/metadata"
	"atlas/internal/services/llm"
)

type itemView struct {
	UID         string    `json:"uid"`
	ContentType string    `json:"content_type"`
	Title       string    `json:"title"`
	SourceURL   string    `json:"source_url"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewOf(item *catalog.ContentItem) itemView {
	return itemView{
		UID:         item.UID,
		ContentType: string(item.ContentType),
		Title:       item.Title,
		SourceURL:   item.SourceURL,
		Tags:        item.Tags,
		CreatedAt:   item.CreatedAt,
	}
}

type surfacedView struct {
	itemView
	Score float64 `json:"score"`
}

type reviewView struct {
	itemView
	Urgency          float64 `json:"urgency"`
	Difficulty       float64 `json:"difficulty"`
	DaysSinceReview  float64 `json:"days_since_review"`
	ExpectedInterval int     `json:"expected_interval_days"`
}

func newCognitiveCommand(ctx *commandContext) *cobra.Command {
	cognitiveCmd := &cobra.Command{
		Use:   "cognitive",
		Short: "Run the recall, surfacing and pattern engines",
	}
	cognitiveCmd.AddCommand(newSurfaceCommand(ctx))
	cognitiveCmd.AddCommand(newRecallCommand(ctx))
	cognitiveCmd.AddCommand(newReviewCommand(ctx))
	cognitiveCmd.AddCommand(newPatternsCommand(ctx))
	cognitiveCmd.AddCommand(newTemporalCommand(ctx))
	cognitiveCmd.AddCommand(newQuestionsCommand(ctx))
	cognitiveCmd.AddCommand(newCognitiveAllCommand(ctx))
	return cognitiveCmd
}

func newSurfaceCommand(ctx *commandContext) *cobra.Command {
	var count, cutoffDays int
	var mark, asJSON bool
	cmd := &cobra.Command{
		Use:   "surface",
		Short: "Surface forgotten content worth revisiting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				surfacer := cognitive.NewSurfacerFromConfig(rt.meta, rt.cfg, rt.logger)
				found, err := surfacer.SurfaceForgotten(c, count, cutoffDays)
				if err != nil {
					return err
				}
				if mark {
					for _, s := range found {
						if _, err := surfacer.MarkSurfaced(c, s.Item.UID); err != nil {
							return err
						}
					}
				}
				views := surfacedViews(found)
				if asJSON {
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{v.UID, v.ContentType, truncate(v.Title, 50), formatFloat(v.Score)})
				}
				fmt.Fprintln(out, renderTable(out, []string{"UID", "Type", "Title", "Score"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of items to surface")
	cmd.Flags().IntVar(&cutoffDays, "cutoff-days", 30, "Only surface items untouched for this many days")
	cmd.Flags().BoolVar(&mark, "mark", false, "Record the surfaced items as shown")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func surfacedViews(found []cognitive.Surfaced) []surfacedView {
	views := make([]surfacedView, 0, len(found))
	for _, s := range found {
		views = append(views, surfacedView{itemView: viewOf(s.Item), Score: s.Score})
	}
	return views
}

func newRecallCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "List items due for review, most urgent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				items, err := cognitive.NewRecallFromConfig(rt.meta, rt.cfg, rt.logger).ItemsForReview(c, limit)
				if err != nil {
					return err
				}
				views := reviewViews(items)
				if asJSON {
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{v.UID, truncate(v.Title, 50), formatFloat(v.Urgency),
						formatFloat(v.Difficulty), strconv.Itoa(v.ExpectedInterval)})
				}
				fmt.Fprintln(out, renderTable(out, []string{"UID", "Title", "Urgency", "Difficulty", "Interval"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of items (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func reviewViews(items []cognitive.ReviewItem) []reviewView {
	views := make([]reviewView, 0, len(items))
	for _, ri := range items {
		views = append(views, reviewView{
			itemView:         viewOf(ri.Item),
			Urgency:          ri.Urgency,
			Difficulty:       ri.Difficulty,
			DaysSinceReview:  ri.DaysSinceReview,
			ExpectedInterval: ri.ExpectedInterval,
		})
	}
	return views
}

func newReviewCommand(ctx *commandContext) *cobra.Command {
	var failed bool
	var difficulty float64
	cmd := &cobra.Command{
		Use:   "review <uid>",
		Short: "Record a review outcome for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				var override *float64
				if cmd.Flags().Changed("difficulty") {
					override = &difficulty
				}
				recall := cognitive.NewRecallFromConfig(rt.meta, rt.cfg, rt.logger)
				item, err := recall.MarkReviewed(c, args[0], !failed, override)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s reviewed %d time(s); next review %s (success rate %s, difficulty %s)\n",
					item.UID, item.Review.Count, formatTime(item.Review.NextReviewAt),
					formatFloat(item.Review.SuccessRate), formatFloat(item.Review.Difficulty))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "The item was not recalled")
	cmd.Flags().Float64Var(&difficulty, "difficulty", 0, "Override the derived difficulty (1-5)")
	return cmd
}

func newPatternsCommand(ctx *commandContext) *cobra.Command {
	var minFrequency int
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Report tag frequency, co-occurrence, trends and alerts as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				report, err := cognitive.NewPatternsFromConfig(rt.meta, rt.cfg, rt.logger).Analyze(c, minFrequency)
				if err != nil {
					return err
				}
				return writeJSON(cmd, report)
			})
		},
	}
	cmd.Flags().IntVar(&minFrequency, "min-frequency", 2, "Ignore tags used fewer times")
	return cmd
}

type temporalOutput struct {
	Report        cognitive.TemporalReport `json:"report"`
	Relationships []cognitive.Relationship `json:"relationships"`
}

func newTemporalCommand(ctx *commandContext) *cobra.Command {
	var bucket string
	var maxDelta float64
	cmd := &cobra.Command{
		Use:   "temporal",
		Short: "Report volume over time and items created close together as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, ok := metadata.ParseBucket(bucket)
			if !ok {
				return fmt.Errorf("unknown bucket %q (want month or week)", bucket)
			}
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				out, err := runTemporal(c, rt, b, maxDelta)
				if err != nil {
					return err
				}
				return writeJSON(cmd, out)
			})
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", string(metadata.BucketMonth), "Bucket size: month or week")
	cmd.Flags().Float64Var(&maxDelta, "max-delta-days", 7, "Link items created at most this many days apart")
	return cmd
}

func runTemporal(ctx context.Context, rt *runtime, bucket metadata.Bucket, maxDelta float64) (temporalOutput, error) {
	engine := cognitive.NewTemporal(rt.meta, rt.logger)
	report, err := engine.Analyze(ctx, bucket)
	if err != nil {
		return temporalOutput{}, err
	}
	rels, err := engine.Relationships(ctx, maxDelta)
	if err != nil {
		return temporalOutput{}, err
	}
	return temporalOutput{Report: report, Relationships: rels}, nil
}

func newQuestionsCommand(ctx *commandContext) *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "questions <uid>",
		Short: "Generate review questions for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				item, err := rt.meta.LoadByUID(c, args[0])
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("no item with uid %s", args[0])
				}
				engine := newQuestionEngine(rt)
				content := itemContent(item)
				var questions []string
				if level > 0 {
					questions = engine.Progressive(c, content, item, level)
				} else {
					questions = engine.Generate(c, content, item)
				}
				out := cmd.OutOrStdout()
				for i, q := range questions {
					fmt.Fprintf(out, "%d. %s\n", i+1, q)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "Progressive difficulty level 1-5 (0 for the full list)")
	return cmd
}

func newQuestionEngine(rt *runtime) *cognitive.Questions {
	var opts []cognitive.QuestionOption
	if client := llm.NewClient(llm.ConfigFrom(rt.cfg.LLM)); client.Configured() {
		opts = append(opts, cognitive.WithCompleter(client, config.StageTimeout(rt.cfg.LLM.TimeoutSeconds)))
	}
	return cognitive.NewQuestions(rt.meta, rt.logger, opts...)
}

// itemContent prefers the rendered markdown, then the transcript, then the
// feed description.
func itemContent(item *catalog.ContentItem) string {
	paths := []string{item.MarkdownPath}
	if item.Podcast != nil {
		paths = append(paths, item.Podcast.MarkdownTranscriptPath, item.Podcast.TranscriptPath)
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if data, err := os.ReadFile(path); err == nil && len(strings.TrimSpace(string(data))) > 0 {
			return string(data)
		}
	}
	if item.Podcast != nil && item.Podcast.TranscriptFull != "" {
		return item.Podcast.TranscriptFull
	}
	return item.Description
}

type cognitiveSnapshot struct {
	Surfaced []surfacedView          `json:"surfaced"`
	Recall   []reviewView            `json:"recall"`
	Patterns cognitive.PatternReport `json:"patterns"`
	Temporal temporalOutput          `json:"temporal"`
}

func newCognitiveAllCommand(ctx *commandContext) *cobra.Command {
	var count, cutoffDays, limit, minFrequency int
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run every engine and print one JSON snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				var snap cognitiveSnapshot
				g, gctx := errgroup.WithContext(c)
				g.Go(func() error {
					found, err := cognitive.NewSurfacerFromConfig(rt.meta, rt.cfg, rt.logger).SurfaceForgotten(gctx, count, cutoffDays)
					if err != nil {
						return fmt.Errorf("surface: %w", err)
					}
					snap.Surfaced = surfacedViews(found)
					return nil
				})
				g.Go(func() error {
					items, err := cognitive.NewRecallFromConfig(rt.meta, rt.cfg, rt.logger).ItemsForReview(gctx, limit)
					if err != nil {
						return fmt.Errorf("recall: %w", err)
					}
					snap.Recall = reviewViews(items)
					return nil
				})
				g.Go(func() error {
					report, err := cognitive.NewPatternsFromConfig(rt.meta, rt.cfg, rt.logger).Analyze(gctx, minFrequency)
					if err != nil {
						return fmt.Errorf("patterns: %w", err)
					}
					snap.Patterns = report
					return nil
				})
				g.Go(func() error {
					out, err := runTemporal(gctx, rt, metadata.BucketMonth, 0)
					if err != nil {
						return fmt.Errorf("temporal: %w", err)
					}
					snap.Temporal = out
					return nil
				})
				if err := g.Wait(); err != nil {
					return err
				}
				return writeJSON(cmd, snap)
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of items to surface")
	cmd.Flags().IntVar(&cutoffDays, "cutoff-days", 30, "Surface items untouched for this many days")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of review items")
	cmd.Flags().IntVar(&minFrequency, "min-frequency", 2, "Ignore tags used fewer times")
	return cmd
}
