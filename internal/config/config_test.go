package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"atlas/internal/config"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"ATLAS_DATA_DIR", "ATLAS_CATALOG_PATH", "OPENROUTER_API_KEY", "HF_TOKEN", "HUGGING_FACE_HUB_TOKEN"} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	home := isolateEnv(t)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(home, ".local", "share", "atlas")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.CatalogPath != filepath.Join(wantData, "atlas_unified.db") {
		t.Fatalf("unexpected catalog path: %q", cfg.Paths.CatalogPath)
	}
	if cfg.Paths.LogDir != filepath.Join(wantData, "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.AdDetection.MaxGapMerge != 5.0 || cfg.AdDetection.ChapterConfidence != 0.99 {
		t.Fatalf("unexpected ad detection defaults: %+v", cfg.AdDetection)
	}
	if got := cfg.Recall.BaseIntervals; len(got) != 8 || got[0] != 1 || got[7] != 240 {
		t.Fatalf("unexpected recall intervals: %v", got)
	}
	if cfg.Cache.SurfacerTTLSeconds != 300 || cfg.Cache.PatternsTTLSeconds != 600 {
		t.Fatalf("unexpected cache ttl defaults: %+v", cfg.Cache)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("expected console logging, got %q", cfg.Logging.Format)
	}
}

func TestEnvironmentOverridesPaths(t *testing.T) {
	isolateEnv(t)
	dataDir := filepath.Join(t.TempDir(), "data")
	t.Setenv("ATLAS_DATA_DIR", dataDir)
	t.Setenv("OPENROUTER_API_KEY", " key-123 ")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.DataDir != dataDir {
		t.Fatalf("expected env data dir, got %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.CatalogPath != filepath.Join(dataDir, "atlas_unified.db") {
		t.Fatalf("catalog path should follow data dir, got %q", cfg.Paths.CatalogPath)
	}
	if cfg.LLM.APIKey != "key-123" {
		t.Fatalf("expected trimmed api key from env, got %q", cfg.LLM.APIKey)
	}
}

func TestLoadFileOverridesAndNormalizes(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "atlas.toml")
	contents := `
[paths]
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "store")) + `"

[ad_detection]
signals = ["Chapter", "TEXT", "chapter"]
ad_phrases = ["  Brought To   You By ", "brought to you by"]
padding_seconds = 0

[discovery]
methods = ["search"]

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected file to be used, got %q exists=%v", resolved, exists)
	}
	if strings.Join(cfg.AdDetection.Signals, ",") != "chapter,text" {
		t.Fatalf("unexpected signals: %v", cfg.AdDetection.Signals)
	}
	if len(cfg.AdDetection.AdPhrases) != 1 || cfg.AdDetection.AdPhrases[0] != "brought to you by" {
		t.Fatalf("unexpected phrases: %q", cfg.AdDetection.AdPhrases)
	}
	if cfg.AdDetection.PaddingSeconds != 0 {
		t.Fatalf("expected explicit zero padding, got %v", cfg.AdDetection.PaddingSeconds)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
	if len(cfg.Discovery.Methods) != 1 || cfg.Discovery.Methods[0] != config.MethodSearch {
		t.Fatalf("unexpected methods: %v", cfg.Discovery.Methods)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"timeout", func(c *config.Config) { c.Timeouts.Download = 0 }, "timeouts.download"},
		{"confidence", func(c *config.Config) { c.AdDetection.MinConfidence = 1.5 }, "ad_detection.min_confidence"},
		{"signal", func(c *config.Config) { c.AdDetection.Signals = []string{"fingerprint"} }, "unknown signal"},
		{"method", func(c *config.Config) { c.Discovery.Methods = []string{"bing"} }, "unknown method"},
		{"intervals", func(c *config.Config) { c.Recall.BaseIntervals = []int{1, 3, 3} }, "strictly increasing"},
		{"alpha", func(c *config.Config) { c.Recall.EMAAlpha = 0 }, "ema_alpha"},
		{"threshold", func(c *config.Config) { c.Jobs.FailureThreshold = 0 }, "failure_threshold"},
		{"template", func(c *config.Config) { c.Discovery.SearchURL = "not a url" }, "discovery.search_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid toml: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}

func TestEnsureDirectoriesCreatesArtifactLayout(t *testing.T) {
	isolateEnv(t)
	t.Setenv("ATLAS_DATA_DIR", filepath.Join(t.TempDir(), "atlas"))
	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.PodcastDir("originals"), cfg.PodcastDir("cleaned"), cfg.ArticleDir("markdown")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
