package metadata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/services"
)

// TrendingMinFrequency and TrendingMinDiversity gate TagPatternReport.Trending.
const (
	TrendingMinFrequency = 5
	TrendingMinDiversity = 0.3
)

// TagSource summarizes where a tag occurs.
type TagSource struct {
	Frequency    int                   `json:"frequency"`
	ContentTypes []catalog.ContentType `json:"content_types"`
}

// Diversity is distinct content types per occurrence.
func (t TagSource) Diversity() float64 {
	if t.Frequency == 0 {
		return 0
	}
	return float64(len(t.ContentTypes)) / float64(t.Frequency)
}

// TagPatternReport aggregates tag usage across the catalog.
type TagPatternReport struct {
	TotalItems     int                       `json:"total_items"`
	Frequencies    map[string]int            `json:"tag_frequencies"`
	Cooccurrences  map[string]map[string]int `json:"tag_cooccurrences"`
	SourceAnalysis map[string]TagSource      `json:"tag_source_analysis"`
	Trending       []string                  `json:"trending_tags"`
}

// GetTagPatterns aggregates tags occurring at least minFrequency times.
func (m *Manager) GetTagPatterns(ctx context.Context, minFrequency int) (TagPatternReport, error) {
	if minFrequency < 1 {
		minFrequency = 1
	}
	var (
		edges []catalog.TagEdge
		total int
	)
	err := m.store.View(ctx, func(s *catalog.Session) error {
		var err error
		if edges, err = s.TagEdges(ctx); err != nil {
			return err
		}
		total, err = s.CountItems(ctx)
		return err
	})
	if err != nil {
		return TagPatternReport{}, err
	}

	frequencies := make(map[string]int)
	typesByTag := make(map[string]map[catalog.ContentType]struct{})
	tagsByItem := make(map[int64][]string)
	for _, edge := range edges {
		frequencies[edge.Tag]++
		if typesByTag[edge.Tag] == nil {
			typesByTag[edge.Tag] = make(map[catalog.ContentType]struct{})
		}
		typesByTag[edge.Tag][edge.ContentType] = struct{}{}
		tagsByItem[edge.ContentItemID] = append(tagsByItem[edge.ContentItemID], edge.Tag)
	}

	report := TagPatternReport{
		TotalItems:     total,
		Frequencies:    make(map[string]int),
		Cooccurrences:  make(map[string]map[string]int),
		SourceAnalysis: make(map[string]TagSource),
	}
	for tag, count := range frequencies {
		if count < minFrequency {
			continue
		}
		report.Frequencies[tag] = count
		types := make([]catalog.ContentType, 0, len(typesByTag[tag]))
		for ct := range typesByTag[tag] {
			types = append(types, ct)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		report.SourceAnalysis[tag] = TagSource{Frequency: count, ContentTypes: types}
	}

	for _, tags := range tagsByItem {
		for _, a := range tags {
			if _, ok := report.Frequencies[a]; !ok {
				continue
			}
			for _, b := range tags {
				if a == b {
					continue
				}
				if _, ok := report.Frequencies[b]; !ok {
					continue
				}
				if report.Cooccurrences[a] == nil {
					report.Cooccurrences[a] = make(map[string]int)
				}
				report.Cooccurrences[a][b]++
			}
		}
	}

	for tag, source := range report.SourceAnalysis {
		if source.Frequency >= TrendingMinFrequency && source.Diversity() > TrendingMinDiversity {
			report.Trending = append(report.Trending, tag)
		}
	}
	sort.Slice(report.Trending, func(i, j int) bool {
		a, b := report.Trending[i], report.Trending[j]
		if report.Frequencies[a] != report.Frequencies[b] {
			return report.Frequencies[a] > report.Frequencies[b]
		}
		return a < b
	})
	return report, nil
}

// Bucket is a calendar window used to aggregate counts.
type Bucket string

const (
	BucketMonth Bucket = "month"
	BucketWeek  Bucket = "week"
)

// ParseBucket converts a string into a Bucket.
func ParseBucket(value string) (Bucket, bool) {
	switch b := Bucket(value); b {
	case BucketMonth, BucketWeek:
		return b, true
	}
	return "", false
}

// Key returns the bucket label containing t: 2006-01 for months, ISO
// 2006-W01 for weeks. Labels sort chronologically.
func (b Bucket) Key(t time.Time) string {
	t = t.UTC()
	if b == BucketWeek {
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	}
	return t.Format("2006-01")
}

// GrowthAnalysis compares the first and last populated buckets.
type GrowthAnalysis struct {
	FirstBucket string  `json:"first_bucket"`
	LastBucket  string  `json:"last_bucket"`
	FirstCount  int     `json:"first_count"`
	LastCount   int     `json:"last_count"`
	GrowthRate  float64 `json:"growth_rate_percent"`
}

// TemporalReport aggregates content volume per bucket.
type TemporalReport struct {
	Bucket           Bucket                                 `json:"bucket"`
	Buckets          []string                               `json:"buckets"`
	Volume           map[string]int                         `json:"content_volume"`
	TagDistribution  map[string]map[string]int              `json:"tag_distribution"`
	TypeDistribution map[string]map[catalog.ContentType]int `json:"type_distribution"`
	Growth           GrowthAnalysis                         `json:"growth"`
}

// GetTemporalPatterns buckets every item by creation time.
func (m *Manager) GetTemporalPatterns(ctx context.Context, bucket Bucket) (TemporalReport, error) {
	if _, ok := ParseBucket(string(bucket)); !ok {
		return TemporalReport{}, services.Wrap(services.ErrInvalidInput, "metadata", "temporal patterns",
			fmt.Sprintf("unknown bucket %q", bucket), nil)
	}
	items, err := m.List(ctx, catalog.ItemFilter{Order: catalog.OrderByCreated})
	if err != nil {
		return TemporalReport{}, err
	}

	report := TemporalReport{
		Bucket:           bucket,
		Volume:           make(map[string]int),
		TagDistribution:  make(map[string]map[string]int),
		TypeDistribution: make(map[string]map[catalog.ContentType]int),
	}
	for _, item := range items {
		key := bucket.Key(item.CreatedAt)
		if _, ok := report.Volume[key]; !ok {
			report.Buckets = append(report.Buckets, key)
			report.TagDistribution[key] = make(map[string]int)
			report.TypeDistribution[key] = make(map[catalog.ContentType]int)
		}
		report.Volume[key]++
		report.TypeDistribution[key][item.ContentType]++
		for _, tag := range item.Tags {
			report.TagDistribution[key][tag]++
		}
	}
	sort.Strings(report.Buckets)
	report.Growth = growth(report.Buckets, report.Volume)
	return report, nil
}

func growth(buckets []string, volume map[string]int) GrowthAnalysis {
	if len(buckets) == 0 {
		return GrowthAnalysis{}
	}
	first, last := buckets[0], buckets[len(buckets)-1]
	g := GrowthAnalysis{
		FirstBucket: first,
		LastBucket:  last,
		FirstCount:  volume[first],
		LastCount:   volume[last],
	}
	if len(buckets) > 1 && g.FirstCount > 0 {
		g.GrowthRate = float64(g.LastCount-g.FirstCount) / float64(g.FirstCount) * 100
	}
	return g
}
