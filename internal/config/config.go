package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file locations.
type Paths struct {
	DataDir           string `toml:"data_dir"`
	CatalogPath       string `toml:"catalog_path"`
	LogDir            string `toml:"log_dir"`
	SubscriptionsFile string `toml:"subscriptions_file"`
}

// Timeouts bounds every external call, in seconds, per pipeline stage.
type Timeouts struct {
	Feed             int `toml:"feed"`
	Download         int `toml:"download"`
	Detect           int `toml:"detect"`
	Cut              int `toml:"cut"`
	Transcribe       int `toml:"transcribe"`
	DiscoveryRequest int `toml:"discovery_request"`
	WriteBack        int `toml:"write_back"`
}

// Download contains audio download behaviour.
type Download struct {
	MaxRetries       int    `toml:"max_retries"`
	RetryBaseDelayMS int    `toml:"retry_base_delay_ms"`
	UserAgent        string `toml:"user_agent"`
}

// AdDetection contains the fusion thresholds and signal vocabularies.
type AdDetection struct {
	Signals           []string `toml:"signals"`
	ChapterConfidence float64  `toml:"chapter_confidence"`
	TextConfidence    float64  `toml:"text_confidence"`
	MaxGapMerge       float64  `toml:"max_gap_merge"`
	MinSegmentLength  float64  `toml:"min_segment_length"`
	MinConfidence     float64  `toml:"min_confidence"`
	PaddingSeconds    float64  `toml:"padding_seconds"`
	ChapterMarkers    []string `toml:"chapter_markers"`
	AdPhrases         []string `toml:"ad_phrases"`
}

// Transcription contains WhisperX generator settings.
type Transcription struct {
	Model          string `toml:"model"`
	CUDAEnabled    bool   `toml:"cuda_enabled"`
	VADMethod      string `toml:"vad_method"`
	HFToken        string `toml:"hf_token"`
	Language       string `toml:"language"`
	BeamSize       int    `toml:"beam_size"`
	WordTimestamps bool   `toml:"word_timestamps"`
}

// Discovery contains transcript discovery settings.
type Discovery struct {
	Enabled             bool     `toml:"enabled"`
	Methods             []string `toml:"methods"`
	MinConfidenceScore  float64  `toml:"min_confidence_score"`
	MinTranscriptLength int      `toml:"min_transcript_length"`
	RequestDelayMS      int      `toml:"request_delay_ms"`
	ServiceAURL         string   `toml:"service_a_url"`
	ServiceBURL         string   `toml:"service_b_url"`
	SearchURL           string   `toml:"search_url"`
}

// Recall contains spaced-repetition parameters.
type Recall struct {
	BaseIntervals []int   `toml:"base_intervals"`
	EMAAlpha      float64 `toml:"ema_alpha"`
}

// Cache contains read-cache sizing and lifetimes, in seconds.
type Cache struct {
	MetadataTTLSeconds int `toml:"metadata_ttl_seconds"`
	MetadataMaxEntries int `toml:"metadata_max_entries"`
	SurfacerTTLSeconds int `toml:"surfacer_ttl_seconds"`
	PatternsTTLSeconds int `toml:"patterns_ttl_seconds"`
}

// Jobs contains job registry policy.
type Jobs struct {
	FailureThreshold int `toml:"failure_threshold"`
}

// LLM contains the optional question-generation model connection.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Metrics contains metrics export settings.
type Metrics struct {
	TextfilePath string `toml:"textfile_path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Atlas.
//
// Configuration sections by subsystem:
//   - Paths: data directory, catalog file, subscriptions file
//   - Timeouts: per-stage bounds for external calls
//   - Download: audio download retries and User-Agent
//   - AdDetection: fusion thresholds, chapter markers, ad phrases
//   - Transcription: WhisperX generator flags
//   - Discovery: transcript discovery methods and acceptance thresholds
//   - Recall: spaced-repetition intervals
//   - Cache: façade and engine cache lifetimes
//   - Jobs: job registry failure policy
//   - LLM: optional question generation
//   - Metrics: Prometheus textfile export
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Timeouts      Timeouts      `toml:"timeouts"`
	Download      Download      `toml:"download"`
	AdDetection   AdDetection   `toml:"ad_detection"`
	Transcription Transcription `toml:"transcription"`
	Discovery     Discovery     `toml:"discovery"`
	Recall        Recall        `toml:"recall"`
	Cache         Cache         `toml:"cache"`
	Jobs          Jobs          `toml:"jobs"`
	LLM           LLM           `toml:"llm"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("atlas.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data directory tree the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, filepath.Dir(c.Paths.CatalogPath)}
	dirs = append(dirs, c.ArtifactDirs()...)
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ArtifactDirs lists the per-content-type artifact directories under the data dir.
func (c *Config) ArtifactDirs() []string {
	return []string{
		c.ArticleDir("html"), c.ArticleDir("markdown"), c.ArticleDir("metadata"),
		c.PodcastDir("originals"), c.PodcastDir("cleaned"), c.PodcastDir("transcripts"),
		c.YouTubeDir("videos"), c.YouTubeDir("transcripts"),
	}
}

// ArticleDir returns <data_dir>/articles/<kind>.
func (c *Config) ArticleDir(kind string) string {
	return filepath.Join(c.Paths.DataDir, "articles", kind)
}

// PodcastDir returns <data_dir>/podcasts/<kind>.
func (c *Config) PodcastDir(kind string) string {
	return filepath.Join(c.Paths.DataDir, "podcasts", kind)
}

// YouTubeDir returns <data_dir>/youtube/<kind>.
func (c *Config) YouTubeDir(kind string) string {
	return filepath.Join(c.Paths.DataDir, "youtube", kind)
}

// FFprobeBinary returns the ffprobe executable name used for duration probing.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// FFmpegBinary returns the ffmpeg executable name used by the audio cutter.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// StageTimeout converts a per-stage timeout in seconds to a duration.
func StageTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
