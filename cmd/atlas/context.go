package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"atlas/internal/catalog"
	"atlas/internal/config"
	"atlas/internal/logging"
	"atlas/internal/metadata"
	"atlas/internal/metrics"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

// runtime bundles what a catalog-backed command needs.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *catalog.Store
	meta    *metadata.Manager
	metrics *metrics.Recorder
}

// withCatalog opens the catalog for the duration of fn. Metrics recorded by
// fn are exported to the configured textfile afterwards, even on failure.
func (c *commandContext) withCatalog(cmd *cobra.Command, fn func(context.Context, *runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.ensureLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := catalog.Open(ctx, cfg.Paths.CatalogPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		meta:    metadata.NewFromConfig(store, cfg, logger),
		metrics: metrics.New(),
	}

	runErr := fn(ctx, rt)
	closeErr := store.Close()
	if err := rt.metrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		logging.WarnWithContext(logger, "metrics export failed", "metrics_export_failed",
			logging.String("path", cfg.Metrics.TextfilePath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "textfile collector shows stale values"),
		)
	}
	if closeErr != nil {
		closeErr = fmt.Errorf("close catalog: %w", closeErr)
	}
	return errors.Join(runErr, closeErr)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
