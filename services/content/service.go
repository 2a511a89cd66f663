package content

import (
	"context"
	"fmt"
	"math"
	"time"

	"creatorledger/pkg/db/option"
	"creatorledger/pkg/errutil"
	"creatorledger/pkg/logger"
	"creatorledger/pkg/repository"
	"creatorledger/pkg/task"
	"creatorledger/pkg/taskname"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	items    repository.Repository[ContentItem]
	enqueuer task.Enqueuer
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		items:    repository.ProvideStore[ContentItem](p.DB),
		enqueuer: p.Enqueuer,
	}
}

func (s *Service) Create(ctx context.Context, item *ContentItem) (*ContentItem, error) {
	if item.CreatorID == "" {
		return nil, errutil.ValidationFailed("creator_id is required", nil)
	}
	if details := validateSignals(item); len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid content item", nil, errutil.WithDetails(details...))
	}

	if item.ID == "" {
		item.ID = s.node.Generate().String()
	}
	item.Reward = RewardBreakdown{}

	if err := s.items.Create(ctx, item); err != nil {
		logger.For(ctx, "content").Error("failed to create content item", zap.Error(err))
		return nil, err
	}

	s.enqueueCompute(ctx, item.ID)
	return item, nil
}

func (s *Service) Get(ctx context.Context, id string) (*ContentItem, error) {
	if id == "" {
		return nil, errutil.ValidationFailed("content item id is required", nil)
	}
	item, err := s.items.FindOne(ctx, nil, byID(id))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errutil.NotFound(fmt.Sprintf("content item %s not found", id), nil)
	}
	return item, nil
}

// ListCreatedBetween returns items created in [from, to), optionally for one creator, oldest first.
func (s *Service) ListCreatedBetween(ctx context.Context, from, to time.Time, creatorID string) ([]*ContentItem, error) {
	return s.items.Find(ctx, &ContentItem{CreatorID: creatorID},
		option.WithTimeRange("created_at", from, to),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
	)
}

func byID(id string) option.QueryOption {
	return option.ApplyOperator(option.Condition{Field: "id", Operator: option.EQ, Value: id})
}

// RecordEngagement applies counter deltas from the tracking layer. Counters never go below zero.
func (s *Service) RecordEngagement(ctx context.Context, id string, d EngagementDelta) (*ContentItem, error) {
	if id == "" {
		return nil, errutil.ValidationFailed("content item id is required", nil)
	}
	var updated *ContentItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.items.WithTrx(tx).FindOne(ctx, nil, byID(id), option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if item == nil {
			return errutil.NotFound(fmt.Sprintf("content item %s not found", id), nil)
		}

		item.ViewCount += d.Views
		item.LikeCount += d.Likes
		item.CommentCount += d.Comments
		if d.AvgWatchPercentage != nil {
			item.AvgWatchPercentage = *d.AvgWatchPercentage
		}

		if details := validateSignals(item); len(details) > 0 {
			return errutil.ValidationFailed("engagement update out of range", nil, errutil.WithDetails(details...))
		}

		if err := s.items.WithTrx(tx).Update(ctx, id, map[string]any{
			"view_count":           item.ViewCount,
			"like_count":           item.LikeCount,
			"comment_count":        item.CommentCount,
			"avg_watch_percentage": item.AvgWatchPercentage,
		}); err != nil {
			return err
		}

		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetAIScores stores scores from the quality and sentiment collaborators and schedules a recompute.
func (s *Service) SetAIScores(ctx context.Context, id string, scores AIScores) (*ContentItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if scores.VideoQuality != nil {
		item.VideoQualityScore = scores.VideoQuality
		updates["video_quality_score"] = *scores.VideoQuality
	}
	if scores.AudioQuality != nil {
		item.AudioQualityScore = scores.AudioQuality
		updates["audio_quality_score"] = *scores.AudioQuality
	}
	if scores.Sentiment != nil {
		item.SentimentScore = scores.Sentiment
		updates["sentiment_score"] = *scores.Sentiment
	}
	if len(updates) == 0 {
		return item, nil
	}

	if details := validateSignals(item); len(details) > 0 {
		return nil, errutil.ValidationFailed("ai scores out of range", nil, errutil.WithDetails(details...))
	}

	if err := s.items.Update(ctx, id, updates); err != nil {
		logger.For(ctx, "content").Error("failed to store ai scores", zap.String("item_id", id), zap.Error(err))
		return nil, err
	}

	s.enqueueCompute(ctx, id)
	return item, nil
}

// SetModerationAdjustment is the admin override of an item's reward, as a signed percentage of its main reward.
func (s *Service) SetModerationAdjustment(ctx context.Context, id string, pct float64) (*ContentItem, error) {
	if math.IsNaN(pct) || pct < MinModerationPct || pct > MaxModerationPct {
		return nil, errutil.ValidationFailed("moderation adjustment out of range", nil, errutil.WithDetails(errutil.Detail{
			Field:   "moderation_adjustment_pct",
			Message: fmt.Sprintf("must be within [%.0f, %.0f]", MinModerationPct, MaxModerationPct),
		}))
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.items.Update(ctx, id, map[string]any{"moderation_adjustment_pct": pct}); err != nil {
		return nil, err
	}
	item.ModerationAdjustmentPct = pct

	logger.For(ctx, "content").Info("moderation adjustment set",
		zap.String("item_id", id),
		zap.Float64("pct", pct),
	)

	s.enqueueCompute(ctx, id)
	return item, nil
}

// SaveReward replaces the cached breakdown. A review flag, once raised, stays raised.
func (s *Service) SaveReward(ctx context.Context, id string, b RewardBreakdown, flagReview bool) error {
	updates := map[string]any{
		"reward_view_points":           b.ViewPoints,
		"reward_like_points":           b.LikePoints,
		"reward_comment_points":        b.CommentPoints,
		"reward_watch_points":          b.WatchPoints,
		"reward_main_reward":           b.MainReward,
		"reward_video_bonus":           b.VideoBonus,
		"reward_audio_bonus":           b.AudioBonus,
		"reward_sentiment_bonus":       b.SentimentBonus,
		"reward_ai_bonus_fraction":     b.AIBonusFraction,
		"reward_ai_bonus_amount":       b.AIBonusAmount,
		"reward_moderation_adjustment": b.ModerationAdjustment,
		"reward_final_reward":          b.FinalReward,
		"reward_calculated_at":         b.CalculatedAt,
	}
	if flagReview {
		updates["needs_moderation_review"] = true
	}
	return s.items.Update(ctx, id, updates)
}

func (s *Service) enqueueCompute(ctx context.Context, id string) {
	if s.enqueuer == nil {
		return
	}

	t, err := taskname.NewRewardComputeTask(id)
	if err != nil {
		logger.For(ctx, "content").Error("failed to build reward task", zap.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		logger.For(ctx, "content").Warn("failed to enqueue reward compute", zap.String("item_id", id), zap.Error(err))
	}
}

func validateSignals(item *ContentItem) []errutil.Detail {
	var details []errutil.Detail
	add := func(field, msg string) {
		details = append(details, errutil.Detail{Field: field, Message: msg})
	}

	if item.ViewCount < 0 {
		add("view_count", "must be >= 0")
	}
	if item.LikeCount < 0 {
		add("like_count", "must be >= 0")
	}
	if item.CommentCount < 0 {
		add("comment_count", "must be >= 0")
	}
	if !inRange(item.AvgWatchPercentage, 0, 100) {
		add("avg_watch_percentage", "must be within [0, 100]")
	}
	if v := item.VideoQualityScore; v != nil && !inRange(*v, 0, 100) {
		add("video_quality_score", "must be within [0, 100]")
	}
	if v := item.AudioQualityScore; v != nil && !inRange(*v, 0, 100) {
		add("audio_quality_score", "must be within [0, 100]")
	}
	if v := item.SentimentScore; v != nil && !inRange(*v, -1, 1) {
		add("sentiment_score", "must be within [-1, 1]")
	}
	if !inRange(item.ModerationAdjustmentPct, MinModerationPct, MaxModerationPct) {
		add("moderation_adjustment_pct", "out of range")
	}
	return details
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
