package cognitive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"atlas/internal/catalog"
	"atlas/internal/config"
	"atlas/internal/logging"
	"atlas/internal/metadata"
	"atlas/internal/services"
)

const surfacerCacheSize = 64

var surfaceTypeWeights = map[catalog.ContentType]float64{
	catalog.TypeArticle:    1.0,
	catalog.TypeYouTube:    0.8,
	catalog.TypePodcast:    0.7,
	catalog.TypeInstapaper: 0.9,
}

const defaultTypeWeight = 0.5

// Surfaced is a forgotten item with its relevance score.
type Surfaced struct {
	Item  *catalog.ContentItem
	Score float64
}

// Surfacer ranks content the user has not touched in a while.
type Surfacer struct {
	meta   *metadata.Manager
	cache  *expirable.LRU[string, []Surfaced]
	logger *slog.Logger
}

// NewSurfacer builds a surfacer whose results are cached for ttl. A
// non-positive ttl disables the cache.
func NewSurfacer(meta *metadata.Manager, ttl time.Duration, logger *slog.Logger) *Surfacer {
	s := &Surfacer{meta: meta, logger: logging.NewComponentLogger(orNop(logger), "surfacer")}
	if ttl > 0 {
		s.cache = expirable.NewLRU[string, []Surfaced](surfacerCacheSize, nil, ttl)
	}
	return s
}

// NewSurfacerFromConfig reads the cache lifetime from cfg.
func NewSurfacerFromConfig(meta *metadata.Manager, cfg *config.Config, logger *slog.Logger) *Surfacer {
	return NewSurfacer(meta, time.Duration(cfg.Cache.SurfacerTTLSeconds)*time.Second, logger)
}

// SurfaceForgotten returns the n highest scoring items not updated within
// cutoffDays.
func (s *Surfacer) SurfaceForgotten(ctx context.Context, n, cutoffDays int) ([]Surfaced, error) {
	if n <= 0 {
		return nil, services.Wrap(services.ErrInvalidInput, "surfacer", "surface", "count must be positive", nil)
	}
	key := fmt.Sprintf("%d/%d", n, cutoffDays)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return cloneSurfaced(cached), nil
		}
	}

	items, err := s.meta.GetForgotten(ctx, cutoffDays)
	if err != nil {
		return nil, err
	}
	now := s.meta.Now()
	ranked := make([]Surfaced, 0, len(items))
	for _, item := range items {
		ranked = append(ranked, Surfaced{Item: item, Score: RelevanceScore(item, now)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Item.CreatedAt.Before(ranked[j].Item.CreatedAt)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	if s.cache != nil {
		s.cache.Add(key, cloneSurfaced(ranked))
	}
	s.logger.Debug("surfaced forgotten content",
		logging.Int("candidates", len(items)),
		logging.Int("returned", len(ranked)),
		logging.Int("cutoff_days", cutoffDays),
	)
	return ranked, nil
}

// MarkSurfaced records that uid was shown and drops cached rankings.
func (s *Surfacer) MarkSurfaced(ctx context.Context, uid string) (*catalog.ContentItem, error) {
	item, err := s.meta.MarkSurfaced(ctx, uid)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Purge()
	}
	return item, nil
}

// RelevanceScore weighs content type, tags, notes, outcome and age. Completed
// items count as successful. The result is never negative.
func RelevanceScore(item *catalog.ContentItem, now time.Time) float64 {
	weight, ok := surfaceTypeWeights[item.ContentType]
	if !ok {
		weight = defaultTypeWeight
	}
	score := weight + 0.1*float64(len(item.Tags)) + 0.2*float64(len(item.Notes))
	switch item.Status {
	case catalog.StatusCompleted:
		score += 0.3
	case catalog.StatusError:
		score -= 0.5
	}
	score += ageBonus(daysBetween(item.CreatedAt, now))
	if score < 0 {
		return 0
	}
	return score
}

func ageBonus(days float64) float64 {
	switch {
	case days >= 30 && days <= 90:
		return 0.2
	case days >= 7 && days <= 180:
		return 0.1
	}
	return 0
}

func cloneSurfaced(in []Surfaced) []Surfaced {
	out := make([]Surfaced, len(in))
	for i, s := range in {
		out[i] = Surfaced{Item: s.Item.Clone(), Score: s.Score}
	}
	return out
}

func daysBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24
}

func orNop(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return logging.NewNop()
	}
	return logger
}
