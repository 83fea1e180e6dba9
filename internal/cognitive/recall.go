package cognitive

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"atlas/internal/catalog"
	"atlas/internal/config"
	"atlas/internal/logging"
	"atlas/internal/metadata"
	"atlas/internal/services"
)

const (
	defaultDifficulty = 3.0
	minDifficulty     = 0.1
	maxDifficulty     = 5.0
	defaultEMAAlpha   = 0.3
)

var defaultIntervals = []int{1, 3, 7, 14, 30, 60, 120, 240}

var difficultyTypeFactors = map[catalog.ContentType]float64{
	catalog.TypeArticle:    1.0,
	catalog.TypeYouTube:    0.8,
	catalog.TypePodcast:    0.9,
	catalog.TypeInstapaper: 1.1,
}

// ReviewItem is a due item with the fields ranking derived from it.
type ReviewItem struct {
	Item             *catalog.ContentItem
	Urgency          float64
	Difficulty       float64
	DaysSinceReview  float64
	ExpectedInterval int
}

// Recall schedules reviews with growing intervals.
type Recall struct {
	meta      *metadata.Manager
	intervals []int
	alpha     float64
	logger    *slog.Logger
}

// NewRecall builds a recall engine. Empty intervals or a non-positive alpha
// fall back to the defaults.
func NewRecall(meta *metadata.Manager, intervals []int, alpha float64, logger *slog.Logger) *Recall {
	if len(intervals) == 0 {
		intervals = defaultIntervals
	}
	if alpha <= 0 || alpha > 1 {
		alpha = defaultEMAAlpha
	}
	return &Recall{
		meta:      meta,
		intervals: append([]int(nil), intervals...),
		alpha:     alpha,
		logger:    logging.NewComponentLogger(orNop(logger), "recall"),
	}
}

// NewRecallFromConfig reads intervals and alpha from cfg.
func NewRecallFromConfig(meta *metadata.Manager, cfg *config.Config, logger *slog.Logger) *Recall {
	return NewRecall(meta, cfg.Recall.BaseIntervals, cfg.Recall.EMAAlpha, logger)
}

// BaseInterval returns the interval in days after the count-th review.
func (r *Recall) BaseInterval(count int) int {
	if count < 1 {
		count = 1
	}
	idx := min(count-1, len(r.intervals)-1)
	return r.intervals[idx]
}

// SuccessMultiplier scales an interval by past performance.
func SuccessMultiplier(rate float64) float64 {
	switch {
	case rate > 0.9:
		return 1.5
	case rate > 0.7:
		return 1.2
	}
	return 1.0
}

// NextInterval returns the days until the next review after the count-th
// review. rate is the success rate before this review.
func (r *Recall) NextInterval(count int, rate float64, success bool) int {
	multiplier := 0.3
	if success {
		multiplier = SuccessMultiplier(rate)
	}
	return max(1, int(math.Floor(float64(r.BaseInterval(count))*multiplier)))
}

// UpdateRate folds one outcome into the exponential moving average.
func (r *Recall) UpdateRate(rate float64, success bool) float64 {
	x := 0.0
	if success {
		x = 1
	}
	return r.alpha*x + (1-r.alpha)*rate
}

// Urgency ranks a due item. Never reviewed items get a flat boost; reviewed
// items grow with the fraction of their expected interval they are overdue.
func (r *Recall) Urgency(item *catalog.ContentItem, now time.Time) float64 {
	review := item.Review
	urgency := 1.0
	if review.Count > 0 && review.LastReviewedAt != nil {
		expected := float64(r.BaseInterval(review.Count))
		if overdue := (daysBetween(*review.LastReviewedAt, now) - expected) / expected; overdue > 0 {
			urgency *= 1 + overdue
		}
	} else {
		urgency += 1.0
	}
	urgency *= 1 + 0.2*difficultyOf(item)
	if review.SuccessRate < 0.8 {
		urgency *= 1.3
	}
	return urgency
}

func difficultyOf(item *catalog.ContentItem) float64 {
	if item.Review.Difficulty <= 0 {
		return defaultDifficulty
	}
	return item.Review.Difficulty
}

// DeriveDifficulty estimates difficulty from rating, tag load, content type
// and success rate, starting from the neutral midpoint.
func DeriveDifficulty(item *catalog.ContentItem, rate float64) float64 {
	d := defaultDifficulty
	if item.Review.UserRating > 0 {
		d += 0.2 * float64(item.Review.UserRating-3)
	}
	if len(item.Tags) > 5 {
		d += 0.3
	}
	if factor, ok := difficultyTypeFactors[item.ContentType]; ok {
		d *= factor
	}
	switch {
	case rate < 0.7:
		d += 0.4
	case rate > 0.9:
		d -= 0.2
	}
	return clampDifficulty(d)
}

func clampDifficulty(d float64) float64 {
	return math.Min(maxDifficulty, math.Max(minDifficulty, d))
}

// ItemsForReview returns due items ranked by urgency, highest first.
func (r *Recall) ItemsForReview(ctx context.Context, limit int) ([]ReviewItem, error) {
	items, err := r.meta.GetRecallItems(ctx, 0)
	if err != nil {
		return nil, err
	}
	now := r.meta.Now()
	out := make([]ReviewItem, 0, len(items))
	for _, item := range items {
		ri := ReviewItem{
			Item:             item,
			Urgency:          r.Urgency(item, now),
			Difficulty:       difficultyOf(item),
			ExpectedInterval: r.BaseInterval(item.Review.Count),
		}
		if item.Review.LastReviewedAt != nil {
			ri.DaysSinceReview = daysBetween(*item.Review.LastReviewedAt, now)
		}
		out = append(out, ri)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Urgency != out[j].Urgency {
			return out[i].Urgency > out[j].Urgency
		}
		return out[i].Item.CreatedAt.Before(out[j].Item.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkReviewed records one review outcome. A non-nil difficulty overrides the
// derived estimate.
func (r *Recall) MarkReviewed(ctx context.Context, uid string, success bool, difficulty *float64) (*catalog.ContentItem, error) {
	if difficulty != nil && (*difficulty < 1 || *difficulty > maxDifficulty) {
		return nil, services.Wrap(services.ErrInvalidInput, "recall", "mark reviewed", "difficulty must be between 1 and 5", nil)
	}
	now := r.meta.Now()
	var interval int
	item, err := r.meta.RecordReview(ctx, uid, func(item *catalog.ContentItem) error {
		review := &item.Review
		prior := review.SuccessRate
		review.Count++
		interval = r.NextInterval(review.Count, prior, success)
		review.SuccessRate = r.UpdateRate(prior, success)
		reviewed := now
		next := now.Add(time.Duration(interval) * 24 * time.Hour)
		review.LastReviewedAt = &reviewed
		review.NextReviewAt = &next
		if difficulty != nil {
			review.Difficulty = clampDifficulty(*difficulty)
		} else {
			review.Difficulty = DeriveDifficulty(item, review.SuccessRate)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("review recorded",
		logging.UID(uid),
		logging.Event("review_recorded"),
		logging.Bool("success", success),
		logging.Int("review_count", item.Review.Count),
		logging.Int("interval_days", interval),
		logging.Float64("success_rate", item.Review.SuccessRate),
	)
	return item, nil
}
