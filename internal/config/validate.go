package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateAdDetection(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateRecall(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if c.Jobs.FailureThreshold <= 0 {
		return errors.New("jobs.failure_threshold must be positive")
	}
	if c.Transcription.BeamSize < 0 {
		return errors.New("transcription.beam_size must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognised", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	return ensurePositiveMap(map[string]int{
		"timeouts.feed":              c.Timeouts.Feed,
		"timeouts.download":          c.Timeouts.Download,
		"timeouts.detect":            c.Timeouts.Detect,
		"timeouts.cut":               c.Timeouts.Cut,
		"timeouts.transcribe":        c.Timeouts.Transcribe,
		"timeouts.discovery_request": c.Timeouts.DiscoveryRequest,
		"timeouts.write_back":        c.Timeouts.WriteBack,
	})
}

func (c *Config) validateDownload() error {
	if c.Download.MaxRetries < 0 {
		return errors.New("download.max_retries must not be negative")
	}
	if c.Download.RetryBaseDelayMS < 0 {
		return errors.New("download.retry_base_delay_ms must not be negative")
	}
	return nil
}

func (c *Config) validateAdDetection() error {
	ad := c.AdDetection
	for _, signal := range ad.Signals {
		switch signal {
		case SignalChapter, SignalText, SignalAudio:
		default:
			return fmt.Errorf("ad_detection.signals: unknown signal %q", signal)
		}
	}
	if err := ensureUnitInterval(map[string]float64{
		"ad_detection.chapter_confidence": ad.ChapterConfidence,
		"ad_detection.text_confidence":    ad.TextConfidence,
		"ad_detection.min_confidence":     ad.MinConfidence,
	}); err != nil {
		return err
	}
	if ad.MaxGapMerge < 0 || ad.MinSegmentLength < 0 || ad.PaddingSeconds < 0 {
		return errors.New("ad_detection.max_gap_merge, min_segment_length and padding_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	d := c.Discovery
	for _, method := range d.Methods {
		switch method {
		case MethodServiceA, MethodServiceB, MethodPublisher, MethodSearch:
		default:
			return fmt.Errorf("discovery.methods: unknown method %q", method)
		}
	}
	if d.MinConfidenceScore < 0 || d.MinConfidenceScore > 1 {
		return errors.New("discovery.min_confidence_score must be between 0 and 1")
	}
	if d.MinTranscriptLength < 0 {
		return errors.New("discovery.min_transcript_length must not be negative")
	}
	for key, value := range map[string]string{
		"discovery.service_a_url": d.ServiceAURL,
		"discovery.service_b_url": d.ServiceBURL,
		"discovery.search_url":    d.SearchURL,
	} {
		if value == "" {
			continue
		}
		parsed, err := url.Parse(strings.NewReplacer("{show}", "x", "{query}", "x").Replace(value))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL template", key)
		}
	}
	return nil
}

func (c *Config) validateRecall() error {
	if len(c.Recall.BaseIntervals) == 0 {
		return errors.New("recall.base_intervals must not be empty")
	}
	prev := 0
	for _, interval := range c.Recall.BaseIntervals {
		if interval <= prev {
			return errors.New("recall.base_intervals must be positive and strictly increasing")
		}
		prev = interval
	}
	if c.Recall.EMAAlpha <= 0 || c.Recall.EMAAlpha > 1 {
		return errors.New("recall.ema_alpha must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.MetadataTTLSeconds < 0 || c.Cache.SurfacerTTLSeconds < 0 || c.Cache.PatternsTTLSeconds < 0 {
		return errors.New("cache ttl values must not be negative")
	}
	if c.Cache.MetadataMaxEntries < 0 {
		return errors.New("cache.metadata_max_entries must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func ensureUnitInterval(values map[string]float64) error {
	for key, value := range values {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", key)
		}
	}
	return nil
}
