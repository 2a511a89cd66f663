package payout

import (
	"fmt"
	"slices"
	"time"

	"creatorledger/pkg/errutil"

	"github.com/shopspring/decimal"
)

type RunKind string

const (
	KindMonthly RunKind = "monthly"
	KindWindow  RunKind = "window"
)

type RunMode string

const (
	ModeDryRun RunMode = "dry_run"
	ModeReal   RunMode = "real"
)

func (m RunMode) Valid() bool {
	return m == ModeDryRun || m == ModeReal
}

type RunStatus string

const (
	StatusPending        RunStatus = "PENDING"
	StatusCalculating    RunStatus = "CALCULATING"
	StatusDryRunComplete RunStatus = "DRY_RUN_COMPLETE"
	StatusApplying       RunStatus = "APPLYING"
	StatusApplied        RunStatus = "APPLIED"
	StatusPartial        RunStatus = "PARTIAL"
	StatusRejected       RunStatus = "REJECTED"
)

var transitions = map[RunStatus][]RunStatus{
	StatusPending:     {StatusCalculating, StatusRejected},
	StatusCalculating: {StatusDryRunComplete, StatusApplying, StatusRejected},
	StatusApplying:    {StatusApplied, StatusPartial},
	StatusPartial:     {StatusApplying},
}

type LineStatus string

const (
	LinePending LineStatus = "pending"
	LinePaid    LineStatus = "paid"
	LineFailed  LineStatus = "failed"
	// LineSkipped marks a share that rounds to zero; nothing is written to the ledger.
	LineSkipped LineStatus = "skipped"
)

func (s LineStatus) settled() bool {
	return s == LinePaid || s == LineSkipped
}

type RevenueShareRun struct {
	ID     string    `gorm:"column:id;primaryKey" json:"id"`
	Code   string    `gorm:"column:code;index" json:"code,omitempty"`
	Year   int       `gorm:"column:year;not null;index:idx_run_period" json:"year"`
	Month  int       `gorm:"column:month;not null;index:idx_run_period" json:"month"`
	Kind   RunKind   `gorm:"column:kind;not null" json:"kind"`
	Mode   RunMode   `gorm:"column:mode;not null" json:"mode"`
	Force  bool      `gorm:"column:force;not null;default:false" json:"force"`
	Status RunStatus `gorm:"column:status;not null;index" json:"status"`
	// RealKey is YYYY-MM on the one unforced real monthly run of a period, NULL otherwise.
	RealKey          *string         `gorm:"column:real_key;uniqueIndex" json:"-"`
	WindowStart      *time.Time      `gorm:"column:window_start" json:"window_start,omitempty"`
	WindowEnd        *time.Time      `gorm:"column:window_end" json:"window_end,omitempty"`
	PlatformRevenue  decimal.Decimal `gorm:"column:platform_revenue;type:numeric(20,2);not null" json:"platform_revenue"`
	CreatorPoolPct   decimal.Decimal `gorm:"column:creator_pool_pct;type:numeric(5,2);not null" json:"creator_pool_pct"`
	CreatorPool      decimal.Decimal `gorm:"column:creator_pool;type:numeric(20,4);not null;default:0" json:"creator_pool"`
	TotalAvgPoints   decimal.Decimal `gorm:"column:total_avg_points;type:numeric(24,6);not null;default:0" json:"total_avg_points"`
	TotalDistributed decimal.Decimal `gorm:"column:total_distributed;type:numeric(20,2);not null;default:0" json:"total_distributed"`
	CreatorCount     int             `gorm:"column:creator_count;not null;default:0" json:"creator_count"`
	PaidCount        int             `gorm:"column:paid_count;not null;default:0" json:"paid_count"`
	FailedCount      int             `gorm:"column:failed_count;not null;default:0" json:"failed_count"`
	Error            string          `gorm:"column:error" json:"error,omitempty"`
	Payouts          []CreatorPayout `gorm:"foreignKey:RunID" json:"payouts,omitempty"`
	CreatedAt        time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at" json:"updated_at"`
	CompletedAt      *time.Time      `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (r *RevenueShareRun) transition(to RunStatus) error {
	if !slices.Contains(transitions[r.Status], to) {
		return errutil.ValidationFailed(fmt.Sprintf("run %s cannot move from %s to %s", r.ID, r.Status, to), nil)
	}
	r.Status = to
	return nil
}

func (r *RevenueShareRun) Terminal() bool {
	return len(transitions[r.Status]) == 0
}

// CreatorPayout is one line of a run's share table.
type CreatorPayout struct {
	ID            string          `gorm:"column:id;primaryKey" json:"id"`
	RunID         string          `gorm:"column:run_id;not null;index" json:"run_id"`
	CreatorID     string          `gorm:"column:creator_id;not null;index" json:"creator_id"`
	Year          int             `gorm:"column:year;not null" json:"year"`
	Month         int             `gorm:"column:month;not null" json:"month"`
	TotalPoints   float64         `gorm:"column:total_points;not null" json:"total_points"`
	VideoCount    int             `gorm:"column:video_count;not null" json:"video_count"`
	AvgPoints     decimal.Decimal `gorm:"column:avg_points;type:numeric(24,6);not null" json:"avg_points"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	Status        LineStatus      `gorm:"column:status;not null;index" json:"status"`
	Reference     string          `gorm:"column:reference;not null" json:"reference"`
	TransactionID *string         `gorm:"column:transaction_id" json:"transaction_id,omitempty"`
	Attempts      int             `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error         string          `gorm:"column:error" json:"error,omitempty"`
	CreatedAt     time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at" json:"updated_at"`
	PaidAt        *time.Time      `gorm:"column:paid_at" json:"paid_at,omitempty"`
}

func periodKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

func monthlyReference(creatorID string, year, month int) string {
	return fmt.Sprintf("revenue_share:%s:%s", creatorID, periodKey(year, month))
}
