package reward

import (
	"context"
	"testing"
	"time"

	"creatorledger/pkg/errutil"
	"creatorledger/services/content"
	"creatorledger/services/testutil"

	"github.com/stretchr/testify/require"
)

func newContentService(t *testing.T) *content.Service {
	t.Helper()
	db := testutil.NewTestDB(t, &content.ContentItem{})
	return content.NewService(content.ServiceParams{DB: db, Node: testutil.NewNode(t)})
}

func seedItem(t *testing.T, svc *content.Service, item content.ContentItem) *content.ContentItem {
	t.Helper()
	created, err := svc.Create(context.Background(), &item)
	require.NoError(t, err)
	return created
}

func TestComputeRewardStoresBreakdown(t *testing.T) {
	ctx := context.Background()
	items := newContentService(t)
	svc := New(items, time.UTC, 2)
	fixed := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	item := seedItem(t, items, content.ContentItem{
		CreatorID:          "creator-a",
		ViewCount:          1000,
		LikeCount:          100,
		CommentCount:       20,
		AvgWatchPercentage: 60,
		VideoQualityScore:  ptr(80),
		AudioQualityScore:  ptr(70),
		SentimentScore:     ptr(0.5),
	})

	b, err := svc.ComputeReward(ctx, item.ID)
	require.NoError(t, err)
	require.InDelta(t, 2335.38, b.FinalReward, 0.01)

	stored, err := items.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 1730.0, stored.Reward.MainReward)
	require.InDelta(t, 0.34993, stored.Reward.AIBonusFraction, 1e-4)
	require.InDelta(t, 2335.38, stored.Reward.FinalReward, 0.01)
	require.NotNil(t, stored.Reward.CalculatedAt)
	require.True(t, fixed.Equal(*stored.Reward.CalculatedAt))
	require.False(t, stored.NeedsModerationReview)
}

func TestComputeRewardFlagsExtremeSentiment(t *testing.T) {
	ctx := context.Background()
	items := newContentService(t)
	svc := New(items, time.UTC, 1)

	item := seedItem(t, items, content.ContentItem{CreatorID: "creator-a", ViewCount: 10, SentimentScore: ptr(-0.9)})

	_, err := svc.ComputeReward(ctx, item.ID)
	require.NoError(t, err)

	stored, err := items.Get(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, stored.NeedsModerationReview)

	// calming the sentiment does not clear the flag
	_, err = items.SetAIScores(ctx, item.ID, content.AIScores{Sentiment: ptr(0.1)})
	require.NoError(t, err)
	_, err = svc.ComputeReward(ctx, item.ID)
	require.NoError(t, err)

	stored, err = items.Get(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, stored.NeedsModerationReview)
}

func TestComputeRewardMissingItem(t *testing.T) {
	svc := New(newContentService(t), time.UTC, 1)

	_, err := svc.ComputeReward(context.Background(), "nope")
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
}

type stubItems struct {
	items map[string]*content.ContentItem
	saved map[string]content.RewardBreakdown
}

func (s *stubItems) Get(_ context.Context, id string) (*content.ContentItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, errutil.NotFound("missing", nil)
	}
	return item, nil
}

func (s *stubItems) ListCreatedBetween(_ context.Context, _, _ time.Time, _ string) ([]*content.ContentItem, error) {
	out := make([]*content.ContentItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out, nil
}

func (s *stubItems) SaveReward(_ context.Context, id string, b content.RewardBreakdown, _ bool) error {
	s.saved[id] = b
	return nil
}

func TestComputeRewardInvalidInputKeepsPreviousBreakdown(t *testing.T) {
	store := &stubItems{
		items: map[string]*content.ContentItem{
			"1": {ID: "1", CreatorID: "c", ViewCount: -5, Reward: content.RewardBreakdown{FinalReward: 42}},
		},
		saved: map[string]content.RewardBreakdown{},
	}
	svc := New(store, time.UTC, 1)

	_, err := svc.ComputeReward(context.Background(), "1")
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
	require.Empty(t, store.saved)
	require.Equal(t, 42.0, store.items["1"].Reward.FinalReward)
}

func TestRecalculateRewardsForPeriod(t *testing.T) {
	ctx := context.Background()
	items := newContentService(t)
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	svc := New(items, loc, 4)

	// 2025-03-01 00:30 in Jakarta is still February in UTC
	inMarch := []*content.ContentItem{
		seedItem(t, items, content.ContentItem{CreatorID: "a", ViewCount: 100, CreatedAt: time.Date(2025, 3, 1, 0, 30, 0, 0, loc)}),
		seedItem(t, items, content.ContentItem{CreatorID: "a", ViewCount: 50, CreatedAt: time.Date(2025, 3, 15, 9, 0, 0, 0, loc)}),
		seedItem(t, items, content.ContentItem{CreatorID: "b", LikeCount: 4, CreatedAt: time.Date(2025, 3, 31, 23, 59, 0, 0, loc)}),
	}
	outside := seedItem(t, items, content.ContentItem{CreatorID: "a", ViewCount: 999, CreatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, loc)})

	ids, err := svc.RecalculateRewardsForPeriod(ctx, 2025, 3)
	require.NoError(t, err)

	expected := []string{inMarch[0].ID, inMarch[1].ID, inMarch[2].ID}
	require.ElementsMatch(t, expected, ids)
	require.IsIncreasing(t, ids)

	first, err := items.Get(ctx, inMarch[0].ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, first.Reward.FinalReward)

	third, err := items.Get(ctx, inMarch[2].ID)
	require.NoError(t, err)
	require.Equal(t, 20.0, third.Reward.FinalReward)

	untouched, err := items.Get(ctx, outside.ID)
	require.NoError(t, err)
	require.Nil(t, untouched.Reward.CalculatedAt)
	require.Zero(t, untouched.Reward.FinalReward)
}

func TestRecalculateRewardsForPeriodSkipsInvalidItems(t *testing.T) {
	march := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	store := &stubItems{
		items: map[string]*content.ContentItem{
			"1": {ID: "1", CreatorID: "c", ViewCount: 10, CreatedAt: march},
			"2": {ID: "2", CreatorID: "c", AvgWatchPercentage: 140, CreatedAt: march},
		},
		saved: map[string]content.RewardBreakdown{},
	}
	svc := New(store, time.UTC, 1)

	ids, err := svc.RecalculateRewardsForPeriod(context.Background(), 2025, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, ids)
	require.Contains(t, store.saved, "1")
	require.NotContains(t, store.saved, "2")
}

func TestRecalculateRewardsForPeriodRejectsBadMonth(t *testing.T) {
	svc := New(&stubItems{}, time.UTC, 1)

	_, err := svc.RecalculateRewardsForPeriod(context.Background(), 2025, 13)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
}
