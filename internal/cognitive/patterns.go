package cognitive

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"atlas/internal/config"
	"atlas/internal/logging"
	"atlas/internal/metadata"
)

// Trend directions.
const (
	TrendRising  = "rising"
	TrendFalling = "falling"
	TrendStable  = "stable"
	TrendUnknown = "unknown"
)

// Alert types and severities.
const (
	AlertTrendingTag          = "trending_tag"
	AlertHighCooccurrence     = "high_cooccurrence"
	AlertPotentialRedundancy  = "potential_redundancy"
	SeverityInfo              = "info"
	SeverityWarning           = "warning"
	highCooccurrencePartners  = 3
	highCooccurrenceTotal     = 5
	redundancyRate            = 0.8
	redundancyMinShared       = 3
	patternCacheSize          = 16
	trendRecentBuckets        = 2
)

// TagTrend is the recent-versus-older comparison for one tag.
type TagTrend struct {
	Direction string  `json:"direction"`
	Strength  float64 `json:"strength"`
	Recent    int     `json:"recent"`
	Older     int     `json:"older"`
}

// Alert flags a notable tag pattern.
type Alert struct {
	Type             string   `json:"type"`
	Severity         string   `json:"severity"`
	Message          string   `json:"message"`
	Tags             []string `json:"tags"`
	Count            int      `json:"count,omitempty"`
	CooccurrenceRate float64  `json:"cooccurrence_rate,omitempty"`
}

// PatternReport is the full pattern analysis.
type PatternReport struct {
	metadata.TagPatternReport
	Trends map[string]TagTrend `json:"tag_trend_analysis"`
	Alerts []Alert             `json:"alerts"`
}

// Patterns detects tag usage patterns.
type Patterns struct {
	meta   *metadata.Manager
	cache  *expirable.LRU[int, PatternReport]
	logger *slog.Logger
}

// NewPatterns builds a detector whose reports are cached for ttl. A
// non-positive ttl disables the cache.
func NewPatterns(meta *metadata.Manager, ttl time.Duration, logger *slog.Logger) *Patterns {
	p := &Patterns{meta: meta, logger: logging.NewComponentLogger(orNop(logger), "patterns")}
	if ttl > 0 {
		p.cache = expirable.NewLRU[int, PatternReport](patternCacheSize, nil, ttl)
	}
	return p
}

// NewPatternsFromConfig reads the cache lifetime from cfg.
func NewPatternsFromConfig(meta *metadata.Manager, cfg *config.Config, logger *slog.Logger) *Patterns {
	return NewPatterns(meta, time.Duration(cfg.Cache.PatternsTTLSeconds)*time.Second, logger)
}

// Analyze builds the report for tags occurring at least minFrequency times.
func (p *Patterns) Analyze(ctx context.Context, minFrequency int) (PatternReport, error) {
	if p.cache != nil {
		if cached, ok := p.cache.Get(minFrequency); ok {
			return clonePatternReport(cached), nil
		}
	}
	tags, err := p.meta.GetTagPatterns(ctx, minFrequency)
	if err != nil {
		return PatternReport{}, err
	}
	temporal, err := p.meta.GetTemporalPatterns(ctx, metadata.BucketMonth)
	if err != nil {
		return PatternReport{}, err
	}
	report := PatternReport{
		TagPatternReport: tags,
		Trends:           make(map[string]TagTrend, len(tags.Frequencies)),
	}
	for tag := range tags.Frequencies {
		report.Trends[tag] = TrendFor(tag, temporal)
	}
	report.Alerts = Alerts(tags)
	if p.cache != nil {
		p.cache.Add(minFrequency, clonePatternReport(report))
	}
	p.logger.Debug("tag patterns analyzed",
		logging.Int("tags", len(tags.Frequencies)),
		logging.Int("trending", len(tags.Trending)),
		logging.Int("alerts", len(report.Alerts)),
	)
	return report, nil
}

// clonePatternReport deep-copies r so callers never share maps with the cache.
func clonePatternReport(r PatternReport) PatternReport {
	out := r
	out.Frequencies = maps.Clone(r.Frequencies)
	if r.Cooccurrences != nil {
		out.Cooccurrences = make(map[string]map[string]int, len(r.Cooccurrences))
		for tag, partners := range r.Cooccurrences {
			out.Cooccurrences[tag] = maps.Clone(partners)
		}
	}
	if r.SourceAnalysis != nil {
		out.SourceAnalysis = make(map[string]metadata.TagSource, len(r.SourceAnalysis))
		for tag, src := range r.SourceAnalysis {
			src.ContentTypes = slices.Clone(src.ContentTypes)
			out.SourceAnalysis[tag] = src
		}
	}
	out.Trending = slices.Clone(r.Trending)
	out.Trends = maps.Clone(r.Trends)
	out.Alerts = make([]Alert, len(r.Alerts))
	for i, a := range r.Alerts {
		a.Tags = slices.Clone(a.Tags)
		out.Alerts[i] = a
	}
	if r.Alerts == nil {
		out.Alerts = nil
	}
	return out
}

// TrendFor compares the tag's count in the two most recent buckets with its
// count in all earlier buckets.
func TrendFor(tag string, temporal metadata.TemporalReport) TagTrend {
	buckets := temporal.Buckets
	if len(buckets) <= trendRecentBuckets {
		return TagTrend{Direction: TrendUnknown}
	}
	var trend TagTrend
	split := len(buckets) - trendRecentBuckets
	for i, bucket := range buckets {
		count := temporal.TagDistribution[bucket][tag]
		if i >= split {
			trend.Recent += count
		} else {
			trend.Older += count
		}
	}
	trend.Strength = math.Abs(float64(trend.Recent-trend.Older)) / math.Max(float64(trend.Older), 1)
	switch {
	case trend.Recent > trend.Older:
		trend.Direction = TrendRising
	case trend.Recent < trend.Older:
		trend.Direction = TrendFalling
	default:
		trend.Direction = TrendStable
	}
	return trend
}

// Alerts derives trending, high co-occurrence and redundancy alerts. Output
// order is deterministic.
func Alerts(report metadata.TagPatternReport) []Alert {
	var alerts []Alert
	for _, tag := range report.Trending {
		alerts = append(alerts, Alert{
			Type:     AlertTrendingTag,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("%q is trending across %d content types", tag, len(report.SourceAnalysis[tag].ContentTypes)),
			Tags:     []string{tag},
			Count:    report.Frequencies[tag],
		})
	}

	tags := make([]string, 0, len(report.Cooccurrences))
	for tag := range report.Cooccurrences {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		related := report.Cooccurrences[tag]
		total := 0
		for _, count := range related {
			total += count
		}
		if len(related) >= highCooccurrencePartners && total >= highCooccurrenceTotal {
			alerts = append(alerts, Alert{
				Type:     AlertHighCooccurrence,
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("%q co-occurs with %d other tags", tag, len(related)),
				Tags:     []string{tag},
				Count:    total,
			})
		}
	}

	for _, a := range tags {
		partners := make([]string, 0, len(report.Cooccurrences[a]))
		for b := range report.Cooccurrences[a] {
			if a < b {
				partners = append(partners, b)
			}
		}
		sort.Strings(partners)
		for _, b := range partners {
			shared := report.Cooccurrences[a][b]
			floor := min(report.Frequencies[a], report.Frequencies[b])
			if floor == 0 || shared < redundancyMinShared {
				continue
			}
			rate := float64(shared) / float64(floor)
			if rate <= redundancyRate {
				continue
			}
			alerts = append(alerts, Alert{
				Type:             AlertPotentialRedundancy,
				Severity:         SeverityWarning,
				Message:          fmt.Sprintf("%q and %q appear together in %.0f%% of uses", a, b, rate*100),
				Tags:             []string{a, b},
				Count:            shared,
				CooccurrenceRate: rate,
			})
		}
	}
	return alerts
}
