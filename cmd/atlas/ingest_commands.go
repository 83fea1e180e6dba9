package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"atlas/internal/catalog"
	"atlas/internal/ingest"
	"atlas/internal/logging"
	"atlas/internal/services"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest content from feeds and exports",
	}
	ingestCmd.AddCommand(newIngestFeedCommand(ctx, "podcasts", catalog.TypePodcast))
	ingestCmd.AddCommand(newIngestFeedCommand(ctx, "youtube", catalog.TypeYouTube))
	ingestCmd.AddCommand(newIngestInstapaperCommand(ctx))
	ingestCmd.AddCommand(newSubscribeCommand(ctx))
	return ingestCmd
}

func newIngestFeedCommand(ctx *commandContext, use string, ct catalog.ContentType) *cobra.Command {
	var feeds []string
	var tags []string
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Ingest %s feeds from the subscriptions file or --feed", ct),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				var subs []ingest.Subscription
				for _, url := range feeds {
					subs = append(subs, ingest.Subscription{URL: url, Kind: string(ct), Tags: tags})
				}
				if len(subs) == 0 {
					loaded, err := ingest.LoadSubscriptions(rt.cfg.Paths.SubscriptionsFile)
					if err != nil {
						return err
					}
					subs = ingest.FilterSubscriptions(loaded, ct)
				}
				if len(subs) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No %s subscriptions in %s\n", ct, rt.cfg.Paths.SubscriptionsFile)
					return nil
				}

				fetcher := ingest.NewFetcherFromConfig(rt.cfg)
				in := ingest.New(rt.meta,
					ingest.WithLogger(rt.logger),
					ingest.WithMetrics(rt.metrics),
					ingest.WithChapterFetcher(fetcher),
				)
				var (
					summaries []ingest.Summary
					failed    int
				)
				for _, sub := range subs {
					summary, err := in.Run(c, ingest.NewFeedAdapter(fetcher, sub, rt.logger))
					summaries = append(summaries, summary)
					if err != nil {
						if errors.Is(err, services.ErrCancelled) {
							printSummaries(cmd, summaries)
							return err
						}
						failed++
					}
				}
				printSummaries(cmd, summaries)
				if failed == len(subs) {
					return fmt.Errorf("all %d feed(s) failed", failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&feeds, "feed", nil, "Feed URL to ingest instead of the subscriptions file (repeatable)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag applied to items from --feed")
	return cmd
}

func newIngestInstapaperCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "instapaper <export.csv>",
		Short: "Ingest an Instapaper CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCatalog(cmd, func(c context.Context, rt *runtime) error {
				in := ingest.New(rt.meta, ingest.WithLogger(rt.logger), ingest.WithMetrics(rt.metrics))
				summary, err := in.Run(c, ingest.NewInstapaperAdapter(args[0]))
				if err != nil {
					return err
				}
				printSummaries(cmd, []ingest.Summary{summary})
				return nil
			})
		},
	}
}

func newSubscribeCommand(ctx *commandContext) *cobra.Command {
	var name, kind string
	var tags []string
	cmd := &cobra.Command{
		Use:   "subscribe <feed-url>",
		Short: "Add a feed to the subscriptions file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			url := strings.TrimSpace(args[0])
			kind = strings.ToLower(strings.TrimSpace(kind))
			if kind != string(catalog.TypePodcast) && kind != string(catalog.TypeYouTube) {
				return fmt.Errorf("unknown kind %q (want podcast or youtube)", kind)
			}
			sub := ingest.Subscription{Name: name, URL: url, Kind: kind, Tags: tags}
			subs, err := ingest.LoadSubscriptions(cfg.Paths.SubscriptionsFile)
			if err != nil {
				return err
			}
			for _, existing := range subs {
				if existing.URL == url {
					return fmt.Errorf("%s is already subscribed", url)
				}
			}
			subs = append(subs, sub)
			if err := ingest.SaveSubscriptions(cfg.Paths.SubscriptionsFile, subs); err != nil {
				return err
			}
			if logger, err := ctx.ensureLogger(); err == nil {
				logger.Info("subscription added",
					logging.Event("subscription_added"),
					logging.String("url", url),
					logging.String("kind", kind),
				)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscribed to %s (%d subscriptions)\n", url, len(subs))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&kind, "kind", string(catalog.TypePodcast), "Feed kind: podcast or youtube")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag applied to every item of the feed")
	return cmd
}

func printSummaries(cmd *cobra.Command, summaries []ingest.Summary) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		note := ""
		if len(s.Errors) > 0 {
			note = truncate(s.Errors[0].Error(), 60)
		}
		rows = append(rows, []string{
			truncate(s.Source, 48),
			strconv.Itoa(s.Seen),
			strconv.Itoa(s.Created),
			strconv.Itoa(s.Updated),
			strconv.Itoa(s.Unchanged),
			strconv.Itoa(s.Failed),
			note,
		})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"Source", "Seen", "Created", "Updated", "Unchanged", "Failed", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
}
