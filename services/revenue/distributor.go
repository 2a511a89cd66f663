package revenue

import (
	"fmt"
	"sort"

	"creatorledger/pkg/errutil"
	"creatorledger/services/aggregation"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Share is one creator's slice of the creator pool.
type Share struct {
	CreatorID   string          `json:"creator_id"`
	TotalPoints float64         `json:"total_points"`
	VideoCount  int             `json:"video_count"`
	AvgPoints   decimal.Decimal `json:"avg_points"`
	Amount      decimal.Decimal `json:"amount"`
}

type Distribution struct {
	PlatformRevenue  decimal.Decimal `json:"platform_revenue"`
	CreatorPoolPct   decimal.Decimal `json:"creator_pool_pct"`
	CreatorPool      decimal.Decimal `json:"creator_pool"`
	TotalAvgPoints   decimal.Decimal `json:"total_avg_points"`
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	Shares           []Share         `json:"shares"`
}

// Distribute splits revenue × pct/100 across creators in proportion to their average points per video.
// Creators with a non-positive average get nothing. Each share is rounded to cents on its own,
// so the total may drift from the pool by at most half a cent per creator.
func Distribute(aggs []aggregation.CreatorMonthlyAggregate, platformRevenue, creatorPoolPct decimal.Decimal) (*Distribution, error) {
	if !platformRevenue.IsPositive() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("platform revenue must be positive, got %s", platformRevenue), nil,
			errutil.WithDetails(errutil.Detail{Field: "platform_revenue", Message: "must be > 0"}))
	}
	if !creatorPoolPct.IsPositive() || creatorPoolPct.GreaterThan(hundred) {
		return nil, errutil.ValidationFailed(fmt.Sprintf("creator pool pct must be within (0, 100], got %s", creatorPoolPct), nil,
			errutil.WithDetails(errutil.Detail{Field: "creator_pool_pct", Message: "must be within (0, 100]"}))
	}

	d := &Distribution{
		PlatformRevenue:  platformRevenue,
		CreatorPoolPct:   creatorPoolPct,
		CreatorPool:      platformRevenue.Mul(creatorPoolPct).Div(hundred),
		TotalAvgPoints:   decimal.Zero,
		TotalDistributed: decimal.Zero,
		Shares:           []Share{},
	}

	eligible := make([]aggregation.CreatorMonthlyAggregate, 0, len(aggs))
	for _, a := range aggs {
		if a.AvgPointsPerVideo > 0 {
			eligible = append(eligible, a)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatorID < eligible[j].CreatorID
	})

	for _, a := range eligible {
		d.TotalAvgPoints = d.TotalAvgPoints.Add(decimal.NewFromFloat(a.AvgPointsPerVideo))
	}
	if d.TotalAvgPoints.IsZero() {
		return d, nil
	}

	for _, a := range eligible {
		avg := decimal.NewFromFloat(a.AvgPointsPerVideo)
		amount := d.CreatorPool.Mul(avg).DivRound(d.TotalAvgPoints, 2)
		d.Shares = append(d.Shares, Share{
			CreatorID:   a.CreatorID,
			TotalPoints: a.TotalPoints,
			VideoCount:  a.VideoCount,
			AvgPoints:   avg,
			Amount:      amount,
		})
		d.TotalDistributed = d.TotalDistributed.Add(amount)
	}
	return d, nil
}
