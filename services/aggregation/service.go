package aggregation

import (
	"context"
	"sort"
	"time"

	"creatorledger/pkg/config"
	"creatorledger/services/content"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CreatorMonthlyAggregate is derived from content items on demand and never stored.
type CreatorMonthlyAggregate struct {
	CreatorID         string  `json:"creator_id"`
	Year              int     `json:"year"`
	Month             int     `json:"month"`
	TotalPoints       float64 `json:"total_points"`
	VideoCount        int     `json:"video_count"`
	AvgPointsPerVideo float64 `json:"avg_points_per_video"`
}

type ItemSource interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time, creatorID string) ([]*content.ContentItem, error)
}

type Service struct {
	items ItemSource
	loc   *time.Location
}

type ServiceParams struct {
	fx.In
	Config  *config.Config
	Content *content.Service
}

func NewService(p ServiceParams) *Service {
	return New(p.Content, p.Config.Location())
}

func New(items ItemSource, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{items: items, loc: loc}
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// MonthlyAggregates totals final rewards per creator for the month in the platform timezone.
// An empty creatorID aggregates every creator.
func (s *Service) MonthlyAggregates(ctx context.Context, year, month int, creatorID string) ([]CreatorMonthlyAggregate, error) {
	from, to, err := MonthRange(year, month, s.loc)
	if err != nil {
		return nil, err
	}

	items, err := s.items.ListCreatedBetween(ctx, from, to, creatorID)
	if err != nil {
		zap.L().Error("failed to load items for aggregation",
			zap.Int("year", year), zap.Int("month", month), zap.Error(err))
		return nil, err
	}

	aggs := Aggregate(items)
	for i := range aggs {
		aggs[i].Year = year
		aggs[i].Month = month
	}
	return aggs, nil
}

// WindowAggregates aggregates items created in [from, to). Year and month are taken from from.
func (s *Service) WindowAggregates(ctx context.Context, from, to time.Time) ([]CreatorMonthlyAggregate, error) {
	items, err := s.items.ListCreatedBetween(ctx, from, to, "")
	if err != nil {
		return nil, err
	}

	local := from.In(s.loc)
	aggs := Aggregate(items)
	for i := range aggs {
		aggs[i].Year = local.Year()
		aggs[i].Month = int(local.Month())
	}
	return aggs, nil
}

// Aggregate groups items by creator. Creators without items do not appear. Output is sorted by creator id.
// Items are summed in id order so the float totals do not depend on query order.
func Aggregate(items []*content.ContentItem) []CreatorMonthlyAggregate {
	ordered := make([]*content.ContentItem, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ID < ordered[j].ID
	})

	byCreator := make(map[string]*CreatorMonthlyAggregate)
	for _, item := range ordered {
		agg, ok := byCreator[item.CreatorID]
		if !ok {
			agg = &CreatorMonthlyAggregate{CreatorID: item.CreatorID}
			byCreator[item.CreatorID] = agg
		}
		agg.TotalPoints += item.Reward.FinalReward
		agg.VideoCount++
	}

	out := make([]CreatorMonthlyAggregate, 0, len(byCreator))
	for _, agg := range byCreator {
		agg.AvgPointsPerVideo = agg.TotalPoints / float64(agg.VideoCount)
		out = append(out, *agg)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatorID < out[j].CreatorID
	})
	return out
}
