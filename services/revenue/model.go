package revenue

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PlatformRevenue is the revenue recorded for a calendar month, with an optional per-source breakdown.
type PlatformRevenue struct {
	ID        string          `gorm:"column:id;primaryKey" json:"id"`
	Year      int             `gorm:"column:year;not null;uniqueIndex:idx_revenue_period" json:"year"`
	Month     int             `gorm:"column:month;not null;uniqueIndex:idx_revenue_period" json:"month"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	Sources   datatypes.JSON  `gorm:"column:sources" json:"sources,omitempty"`
	CreatedAt time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at" json:"updated_at"`
}
