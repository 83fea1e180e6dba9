package cognitive

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"atlas/internal/catalog"
	"atlas/internal/logging"
	"atlas/internal/metadata"
)

// Relationship types.
const (
	RelThematicContinuation = "thematic_continuation"
	RelContentTypeCluster   = "content_type_cluster"
	RelTemporalProximity    = "temporal_proximity"
)

// Velocity classes.
const (
	VelocityAccelerating     = "accelerating"
	VelocityGrowing          = "growing"
	VelocityStable           = "stable"
	VelocityDeclining        = "declining"
	VelocityRapidlyDeclining = "rapidly_declining"
)

const (
	defaultMaxDeltaDays = 7
	maxStrength         = 2.0
)

// Relationship links two items created close together.
type Relationship struct {
	From       *catalog.ContentItem `json:"-"`
	To         *catalog.ContentItem `json:"-"`
	FromUID    string               `json:"from_uid"`
	ToUID      string               `json:"to_uid"`
	DeltaDays  float64              `json:"delta_days"`
	SharedTags []string             `json:"shared_tags"`
	Strength   float64              `json:"strength"`
	Type       string               `json:"type"`
}

// SeasonalInsights marks buckets far above or below the mean volume.
type SeasonalInsights struct {
	Mean  float64  `json:"mean"`
	Peaks []string `json:"peaks"`
	Lows  []string `json:"lows"`
}

// TemporalReport combines volume buckets with derived insights.
type TemporalReport struct {
	metadata.TemporalReport
	Seasonal SeasonalInsights `json:"seasonal"`
	Velocity string           `json:"velocity"`
}

// Temporal finds time-based structure in the catalog.
type Temporal struct {
	meta   *metadata.Manager
	logger *slog.Logger
}

// NewTemporal builds a temporal engine.
func NewTemporal(meta *metadata.Manager, logger *slog.Logger) *Temporal {
	return &Temporal{meta: meta, logger: logging.NewComponentLogger(orNop(logger), "temporal")}
}

// Relationships links each item to the next one created within maxDeltaDays.
func (t *Temporal) Relationships(ctx context.Context, maxDeltaDays float64) ([]Relationship, error) {
	if maxDeltaDays <= 0 {
		maxDeltaDays = defaultMaxDeltaDays
	}
	items, err := t.meta.List(ctx, catalog.ItemFilter{Order: catalog.OrderByCreated})
	if err != nil {
		return nil, err
	}
	rels := RelateAdjacent(items, maxDeltaDays)
	t.logger.Debug("temporal relationships computed",
		logging.Int("items", len(items)),
		logging.Int("relationships", len(rels)),
	)
	return rels, nil
}

// RelateAdjacent scores each adjacent pair of items in creation order.
func RelateAdjacent(items []*catalog.ContentItem, maxDeltaDays float64) []Relationship {
	sorted := append([]*catalog.ContentItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	var rels []Relationship
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		delta := daysBetween(prev.CreatedAt, cur.CreatedAt)
		if delta <= 0 || delta > maxDeltaDays {
			continue
		}
		shared := sharedTags(prev.Tags, cur.Tags)
		sameType := prev.ContentType == cur.ContentType
		strength := 1/(1+0.5*delta) + 0.2*float64(len(shared))
		if sameType {
			strength += 0.3
		}
		rel := Relationship{
			From:       prev,
			To:         cur,
			FromUID:    prev.UID,
			ToUID:      cur.UID,
			DeltaDays:  delta,
			SharedTags: shared,
			Strength:   math.Min(strength, maxStrength),
		}
		switch {
		case len(shared) >= 2:
			rel.Type = RelThematicContinuation
		case sameType:
			rel.Type = RelContentTypeCluster
		default:
			rel.Type = RelTemporalProximity
		}
		rels = append(rels, rel)
	}
	return rels
}

func sharedTags(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[tag] = struct{}{}
	}
	var out []string
	for _, tag := range b {
		if _, ok := set[tag]; ok {
			out = append(out, tag)
			delete(set, tag)
		}
	}
	return out
}

// Analyze returns bucketed volume with seasonal and velocity classification.
func (t *Temporal) Analyze(ctx context.Context, bucket metadata.Bucket) (TemporalReport, error) {
	base, err := t.meta.GetTemporalPatterns(ctx, bucket)
	if err != nil {
		return TemporalReport{}, err
	}
	return TemporalReport{
		TemporalReport: base,
		Seasonal:       Seasonal(base.Buckets, base.Volume),
		Velocity:       Velocity(base.Growth.GrowthRate),
	}, nil
}

// Seasonal reports buckets above 1.5x and below 0.5x the mean volume.
func Seasonal(buckets []string, volume map[string]int) SeasonalInsights {
	var insights SeasonalInsights
	if len(buckets) == 0 {
		return insights
	}
	total := 0
	for _, b := range buckets {
		total += volume[b]
	}
	insights.Mean = float64(total) / float64(len(buckets))
	for _, b := range buckets {
		v := float64(volume[b])
		switch {
		case v > 1.5*insights.Mean:
			insights.Peaks = append(insights.Peaks, b)
		case v < 0.5*insights.Mean:
			insights.Lows = append(insights.Lows, b)
		}
	}
	return insights
}

// Velocity classifies a growth rate given in percent.
func Velocity(growthRate float64) string {
	switch {
	case growthRate > 50:
		return VelocityAccelerating
	case growthRate > 10:
		return VelocityGrowing
	case growthRate > -10:
		return VelocityStable
	case growthRate > -50:
		return VelocityDeclining
	}
	return VelocityRapidlyDeclining
}
