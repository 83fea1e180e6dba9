package preflight

import (
	"context"
	"path/filepath"

	"atlas/internal/config"
)

// MinFreeBytes is the free space below which the data directory check fails.
// A single long episode plus its cleaned copy fits comfortably.
const MinFreeBytes = 2 << 30

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Catalog directory", filepath.Dir(cfg.Paths.CatalogPath)),
		CheckFreeSpace("Data directory space", cfg.Paths.DataDir, MinFreeBytes),
	}
	for _, dir := range cfg.ArtifactDirs() {
		rel, err := filepath.Rel(cfg.Paths.DataDir, dir)
		if err != nil {
			rel = dir
		}
		results = append(results, CheckDirectoryAccess("Artifacts "+rel, dir))
	}
	if cfg.Paths.SubscriptionsFile != "" {
		results = append(results, CheckOptionalFile("Subscriptions file", cfg.Paths.SubscriptionsFile))
	}
	if cfg.LLM.APIKey != "" {
		results = append(results, CheckLLM(ctx, "Question LLM", cfg.LLM))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
