package reward

import (
	"math"

	"creatorledger/pkg/errutil"
	"creatorledger/services/content"
)

const (
	ViewWeight    = 1.0
	LikeWeight    = 5.0
	CommentWeight = 10.0
	WatchWeight   = 0.5

	VideoBonusWeight     = 0.30
	VideoBonusExponent   = 1.5
	AudioBonusWeight     = 0.15
	AudioBonusExponent   = 1.2
	SentimentBonusWeight = 0.05
	MaxAIBonusFraction   = 0.50

	// Sentiment beyond this magnitude sends the item to moderation review.
	SentimentReviewThreshold = 0.8
)

// Input is everything the calculator reads from a content item.
type Input struct {
	Views                   int64
	Likes                   int64
	Comments                int64
	AvgWatchPercentage      float64
	VideoScore              *float64
	AudioScore              *float64
	SentimentScore          *float64
	ModerationAdjustmentPct float64
}

func InputFromItem(item *content.ContentItem) Input {
	return Input{
		Views:                   item.ViewCount,
		Likes:                   item.LikeCount,
		Comments:                item.CommentCount,
		AvgWatchPercentage:      item.AvgWatchPercentage,
		VideoScore:              item.VideoQualityScore,
		AudioScore:              item.AudioQualityScore,
		SentimentScore:          item.SentimentScore,
		ModerationAdjustmentPct: item.ModerationAdjustmentPct,
	}
}

func Validate(in Input) error {
	var details []errutil.Detail
	check := func(ok bool, field, msg string) {
		if !ok {
			details = append(details, errutil.Detail{Field: field, Message: msg})
		}
	}

	check(in.Views >= 0, "view_count", "must be >= 0")
	check(in.Likes >= 0, "like_count", "must be >= 0")
	check(in.Comments >= 0, "comment_count", "must be >= 0")
	check(within(in.AvgWatchPercentage, 0, 100), "avg_watch_percentage", "must be within [0, 100]")
	check(in.VideoScore == nil || within(*in.VideoScore, 0, 100), "video_quality_score", "must be within [0, 100]")
	check(in.AudioScore == nil || within(*in.AudioScore, 0, 100), "audio_quality_score", "must be within [0, 100]")
	check(in.SentimentScore == nil || within(*in.SentimentScore, -1, 1), "sentiment_score", "must be within [-1, 1]")
	check(within(in.ModerationAdjustmentPct, content.MinModerationPct, content.MaxModerationPct), "moderation_adjustment_pct", "out of range")

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid reward input", nil, errutil.WithDetails(details...))
	}
	return nil
}

// Compute is pure: identical input always yields an identical breakdown.
func Compute(in Input) (content.RewardBreakdown, error) {
	if err := Validate(in); err != nil {
		return content.RewardBreakdown{}, err
	}

	b := content.RewardBreakdown{
		ViewPoints:    float64(in.Views) * ViewWeight,
		LikePoints:    float64(in.Likes) * LikeWeight,
		CommentPoints: float64(in.Comments) * CommentWeight,
		WatchPoints:   in.AvgWatchPercentage * WatchWeight,
	}
	b.MainReward = b.ViewPoints + b.LikePoints + b.CommentPoints + b.WatchPoints

	if in.VideoScore != nil {
		b.VideoBonus = VideoBonusWeight * math.Pow(*in.VideoScore/100, VideoBonusExponent)
	}
	if in.AudioScore != nil {
		b.AudioBonus = AudioBonusWeight * math.Pow(*in.AudioScore/100, AudioBonusExponent)
	}
	if in.SentimentScore != nil {
		b.SentimentBonus = SentimentBonusWeight * ((*in.SentimentScore + 1) / 2)
	}

	b.AIBonusFraction = clamp(b.VideoBonus+b.AudioBonus+b.SentimentBonus, 0, MaxAIBonusFraction)
	b.AIBonusAmount = b.MainReward * b.AIBonusFraction
	b.ModerationAdjustment = b.MainReward * (in.ModerationAdjustmentPct / 100)
	b.FinalReward = math.Max(0, b.MainReward+b.AIBonusAmount+b.ModerationAdjustment)

	return b, nil
}

// NeedsReview reports whether the sentiment is extreme enough for a moderator to look at.
func NeedsReview(in Input) bool {
	return in.SentimentScore != nil && math.Abs(*in.SentimentScore) > SentimentReviewThreshold
}

func within(v, lo, hi float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= lo && v <= hi
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
