package aggregation

import (
	"context"
	"testing"
	"time"

	"creatorledger/pkg/errutil"
	"creatorledger/services/content"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	items []*content.ContentItem
	from  time.Time
	to    time.Time
}

func (f *fakeSource) ListCreatedBetween(_ context.Context, from, to time.Time, creatorID string) ([]*content.ContentItem, error) {
	f.from, f.to = from, to
	var out []*content.ContentItem
	for _, item := range f.items {
		if creatorID != "" && item.CreatorID != creatorID {
			continue
		}
		if item.CreatedAt.Before(from) || !item.CreatedAt.Before(to) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func item(id, creator string, reward float64, at time.Time) *content.ContentItem {
	return &content.ContentItem{ID: id, CreatorID: creator, CreatedAt: at, Reward: content.RewardBreakdown{FinalReward: reward}}
}

func TestAggregate(t *testing.T) {
	at := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	aggs := Aggregate([]*content.ContentItem{
		item("3", "zed", 300, at),
		item("1", "amy", 100, at),
		item("2", "amy", 50, at),
		item("4", "amy", 0, at),
	})

	require.Len(t, aggs, 2)
	require.Equal(t, "amy", aggs[0].CreatorID)
	require.Equal(t, 150.0, aggs[0].TotalPoints)
	require.Equal(t, 3, aggs[0].VideoCount)
	require.Equal(t, 50.0, aggs[0].AvgPointsPerVideo)

	require.Equal(t, "zed", aggs[1].CreatorID)
	require.Equal(t, 300.0, aggs[1].AvgPointsPerVideo)

	require.Empty(t, Aggregate(nil))
}

func TestMonthlyAggregatesUsesPlatformTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	src := &fakeSource{items: []*content.ContentItem{
		// 2025-02-01 03:00 UTC is still January in New York
		item("1", "amy", 10, time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC)),
		item("2", "amy", 20, time.Date(2025, 2, 1, 6, 0, 0, 0, time.UTC)),
		item("3", "bob", 40, time.Date(2025, 1, 1, 5, 0, 0, 0, time.UTC)),
		item("4", "bob", 99, time.Date(2025, 1, 1, 4, 59, 0, 0, time.UTC)),
	}}
	svc := New(src, loc)

	aggs, err := svc.MonthlyAggregates(context.Background(), 2025, 1, "")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, loc), src.from)
	require.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, loc), src.to)

	require.Len(t, aggs, 2)
	require.Equal(t, CreatorMonthlyAggregate{CreatorID: "amy", Year: 2025, Month: 1, TotalPoints: 10, VideoCount: 1, AvgPointsPerVideo: 10}, aggs[0])
	require.Equal(t, CreatorMonthlyAggregate{CreatorID: "bob", Year: 2025, Month: 1, TotalPoints: 40, VideoCount: 1, AvgPointsPerVideo: 40}, aggs[1])

	only, err := svc.MonthlyAggregates(context.Background(), 2025, 1, "bob")
	require.NoError(t, err)
	require.Len(t, only, 1)
	require.Equal(t, "bob", only[0].CreatorID)
}

func TestMonthlyAggregatesEmptyMonth(t *testing.T) {
	svc := New(&fakeSource{}, nil)

	aggs, err := svc.MonthlyAggregates(context.Background(), 2024, 2, "")
	require.NoError(t, err)
	require.Empty(t, aggs)
}

func TestMonthlyAggregatesRejectsBadPeriod(t *testing.T) {
	svc := New(&fakeSource{}, time.UTC)

	_, err := svc.MonthlyAggregates(context.Background(), 2025, 0, "")
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.MonthlyAggregates(context.Background(), 1999, 5, "")
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
}

func TestWindowAggregates(t *testing.T) {
	from := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{items: []*content.ContentItem{
		item("1", "amy", 5, from),
		item("2", "amy", 7, from.Add(time.Hour)),
		item("3", "bob", 9, from.Add(-time.Second)),
	}}

	aggs, err := New(src, time.UTC).WindowAggregates(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	require.Equal(t, 12.0, aggs[0].TotalPoints)
	require.Equal(t, 6, aggs[0].Month)
}

func TestMonthRangeAndPreviousMonth(t *testing.T) {
	start, end, err := MonthRange(2024, 12, time.UTC)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), end)

	y, m := PreviousMonth(time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC))
	require.Equal(t, 2024, y)
	require.Equal(t, 12, m)
}
