package reward

import (
	"math"
	"math/rand"
	"testing"

	"creatorledger/pkg/errutil"

	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestComputeEndToEndExample(t *testing.T) {
	b, err := Compute(Input{
		Views:              1000,
		Likes:              100,
		Comments:           20,
		AvgWatchPercentage: 60,
		VideoScore:         ptr(80),
		AudioScore:         ptr(70),
		SentimentScore:     ptr(0.5),
	})
	require.NoError(t, err)

	require.Equal(t, 1730.0, b.MainReward)
	require.Equal(t, 1000.0, b.ViewPoints)
	require.Equal(t, 500.0, b.LikePoints)
	require.Equal(t, 200.0, b.CommentPoints)
	require.Equal(t, 30.0, b.WatchPoints)
	require.InDelta(t, 0.349933, b.AIBonusFraction, 1e-6)
	require.InDelta(t, 2335.3846, b.FinalReward, 1e-3)
	require.Zero(t, b.ModerationAdjustment)
}

func TestComputeAbsentScoresContributeNothing(t *testing.T) {
	b, err := Compute(Input{Views: 10, Likes: 1, Comments: 1, AvgWatchPercentage: 50})
	require.NoError(t, err)

	require.Equal(t, 50.0, b.MainReward)
	require.Zero(t, b.AIBonusFraction)
	require.Equal(t, 50.0, b.FinalReward)

	b, err = Compute(Input{Views: 10, SentimentScore: ptr(-1)})
	require.NoError(t, err)
	require.Zero(t, b.SentimentBonus)
	require.Equal(t, 10.0, b.FinalReward)
}

func TestComputeMaximumBonus(t *testing.T) {
	b, err := Compute(Input{Views: 100, VideoScore: ptr(100), AudioScore: ptr(100), SentimentScore: ptr(1)})
	require.NoError(t, err)
	require.InDelta(t, MaxAIBonusFraction, b.AIBonusFraction, 1e-12)
	require.InDelta(t, 150.0, b.FinalReward, 1e-9)
}

func TestComputeBonusAlwaysWithinBounds(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		in := Input{
			Views:              r.Int63n(1_000_000),
			Likes:              r.Int63n(100_000),
			Comments:           r.Int63n(10_000),
			AvgWatchPercentage: r.Float64() * 100,
		}
		if r.Intn(4) > 0 {
			in.VideoScore = ptr(r.Float64() * 100)
		}
		if r.Intn(4) > 0 {
			in.AudioScore = ptr(r.Float64() * 100)
		}
		if r.Intn(4) > 0 {
			in.SentimentScore = ptr(r.Float64()*2 - 1)
		}

		b, err := Compute(in)
		require.NoError(t, err)
		require.GreaterOrEqual(t, b.AIBonusFraction, 0.0)
		require.LessOrEqual(t, b.AIBonusFraction, MaxAIBonusFraction)
		require.GreaterOrEqual(t, b.FinalReward, 0.0)
	}
}

func TestComputeModeration(t *testing.T) {
	cases := []struct {
		name  string
		pct   float64
		final float64
		adj   float64
	}{
		{"boost", 10, 110, 10},
		{"penalty", -25, 75, -25},
		{"wipe", -100, 0, -100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Compute(Input{Views: 100, ModerationAdjustmentPct: tc.pct})
			require.NoError(t, err)
			require.InDelta(t, tc.adj, b.ModerationAdjustment, 1e-9)
			require.InDelta(t, tc.final, b.FinalReward, 1e-9)
		})
	}
}

func TestComputeModerationAppliedAfterBonusAndFloored(t *testing.T) {
	// bonus 0.5 lifts 100 to 150, then -100% of main takes 100 off
	b, err := Compute(Input{Views: 100, VideoScore: ptr(100), AudioScore: ptr(100), SentimentScore: ptr(1), ModerationAdjustmentPct: -100})
	require.NoError(t, err)
	require.InDelta(t, 50.0, b.FinalReward, 1e-9)

	b, err = Compute(Input{Views: 0, ModerationAdjustmentPct: -100})
	require.NoError(t, err)
	require.Zero(t, b.FinalReward)
}

func TestComputeValidation(t *testing.T) {
	cases := []struct {
		name  string
		in    Input
		field string
	}{
		{"negative views", Input{Views: -1}, "view_count"},
		{"negative likes", Input{Likes: -1}, "like_count"},
		{"negative comments", Input{Comments: -3}, "comment_count"},
		{"watch over 100", Input{AvgWatchPercentage: 101}, "avg_watch_percentage"},
		{"video over 100", Input{VideoScore: ptr(100.5)}, "video_quality_score"},
		{"audio negative", Input{AudioScore: ptr(-1)}, "audio_quality_score"},
		{"sentiment over 1", Input{SentimentScore: ptr(1.2)}, "sentiment_score"},
		{"sentiment NaN", Input{SentimentScore: ptr(math.NaN())}, "sentiment_score"},
		{"moderation below -100", Input{ModerationAdjustmentPct: -150}, "moderation_adjustment_pct"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compute(tc.in)
			require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

			var be errutil.BaseError
			require.ErrorAs(t, err, &be)
			require.Equal(t, tc.field, be.Details[0].Field)
		})
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	in := Input{Views: 321, Likes: 12, Comments: 4, AvgWatchPercentage: 33.3, VideoScore: ptr(55), SentimentScore: ptr(-0.2)}
	first, err := Compute(in)
	require.NoError(t, err)
	second, err := Compute(in)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestNeedsReview(t *testing.T) {
	require.False(t, NeedsReview(Input{}))
	require.False(t, NeedsReview(Input{SentimentScore: ptr(0.8)}))
	require.False(t, NeedsReview(Input{SentimentScore: ptr(-0.8)}))
	require.True(t, NeedsReview(Input{SentimentScore: ptr(0.81)}))
	require.True(t, NeedsReview(Input{SentimentScore: ptr(-0.95)}))
}
