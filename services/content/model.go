package content

import (
	"time"

	"gorm.io/gorm"
)

// RewardBreakdown is the cached result of the last reward computation for an item.
type RewardBreakdown struct {
	ViewPoints           float64    `gorm:"column:view_points" json:"view_points"`
	LikePoints           float64    `gorm:"column:like_points" json:"like_points"`
	CommentPoints        float64    `gorm:"column:comment_points" json:"comment_points"`
	WatchPoints          float64    `gorm:"column:watch_points" json:"watch_points"`
	MainReward           float64    `gorm:"column:main_reward" json:"main_reward"`
	VideoBonus           float64    `gorm:"column:video_bonus" json:"video_bonus"`
	AudioBonus           float64    `gorm:"column:audio_bonus" json:"audio_bonus"`
	SentimentBonus       float64    `gorm:"column:sentiment_bonus" json:"sentiment_bonus"`
	AIBonusFraction      float64    `gorm:"column:ai_bonus_fraction" json:"ai_bonus_fraction"`
	AIBonusAmount        float64    `gorm:"column:ai_bonus_amount" json:"ai_bonus_amount"`
	ModerationAdjustment float64    `gorm:"column:moderation_adjustment" json:"moderation_adjustment"`
	FinalReward          float64    `gorm:"column:final_reward" json:"final_reward"`
	CalculatedAt         *time.Time `gorm:"column:calculated_at" json:"calculated_at,omitempty"`
}

type ContentItem struct {
	ID                      string          `gorm:"column:id;primaryKey"`
	CreatorID               string          `gorm:"column:creator_id;index;not null"`
	Title                   string          `gorm:"column:title"`
	ViewCount               int64           `gorm:"column:view_count;not null;default:0"`
	LikeCount               int64           `gorm:"column:like_count;not null;default:0"`
	CommentCount            int64           `gorm:"column:comment_count;not null;default:0"`
	AvgWatchPercentage      float64         `gorm:"column:avg_watch_percentage;not null;default:0"`
	VideoQualityScore       *float64        `gorm:"column:video_quality_score"`
	AudioQualityScore       *float64        `gorm:"column:audio_quality_score"`
	SentimentScore          *float64        `gorm:"column:sentiment_score"`
	ModerationAdjustmentPct float64         `gorm:"column:moderation_adjustment_pct;not null;default:0"`
	NeedsModerationReview   bool            `gorm:"column:needs_moderation_review;not null;default:false"`
	Reward                  RewardBreakdown `gorm:"embedded;embeddedPrefix:reward_"`
	CreatedAt               time.Time       `gorm:"column:created_at;index"`
	UpdatedAt               time.Time       `gorm:"column:updated_at"`
}

// BeforeCreate stores created_at in UTC so month range queries compare like with like.
func (c *ContentItem) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = tx.NowFunc()
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return nil
}

type EngagementDelta struct {
	Views              int64
	Likes              int64
	Comments           int64
	AvgWatchPercentage *float64
}

// AIScores carries scores from the quality and sentiment collaborators. Nil leaves a score unchanged.
type AIScores struct {
	VideoQuality *float64
	AudioQuality *float64
	Sentiment    *float64
}

const (
	MinModerationPct = -100.0
	MaxModerationPct = 100.0
)
