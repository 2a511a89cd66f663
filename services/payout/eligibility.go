package payout

import (
	"fmt"
	"strings"

	"creatorledger/pkg/celengine"
	"creatorledger/pkg/errutil"
	"creatorledger/services/aggregation"

	"github.com/google/cel-go/cel"
)

// Eligibility is an optional CEL filter over a creator's monthly aggregate.
// Available attributes: creator_id, total_points, video_count, avg_points.
type Eligibility struct {
	expr string
	env  *cel.Env
}

func eligibilityAttrs(a aggregation.CreatorMonthlyAggregate) map[string]any {
	return map[string]any{
		"creator_id":   a.CreatorID,
		"total_points": a.TotalPoints,
		"video_count":  int64(a.VideoCount),
		"avg_points":   a.AvgPointsPerVideo,
	}
}

func NewEligibility(expr string) (*Eligibility, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Eligibility{}, nil
	}

	env, err := celengine.GetOrBuildEnv(eligibilityAttrs(aggregation.CreatorMonthlyAggregate{}))
	if err != nil {
		return nil, err
	}
	if err := celengine.ValidateExpression(env, expr); err != nil {
		return nil, errutil.ValidationFailed(fmt.Sprintf("invalid eligibility expression %q", expr), err)
	}
	return &Eligibility{expr: expr, env: env}, nil
}

// Filter keeps the aggregates the expression accepts and returns the excluded creator ids.
func (e *Eligibility) Filter(aggs []aggregation.CreatorMonthlyAggregate) ([]aggregation.CreatorMonthlyAggregate, []string, error) {
	if e == nil || e.expr == "" {
		return aggs, nil, nil
	}

	kept := make([]aggregation.CreatorMonthlyAggregate, 0, len(aggs))
	var excluded []string
	for _, a := range aggs {
		ok, err := celengine.Evaluate(e.env, e.expr, eligibilityAttrs(a))
		if err != nil {
			return nil, nil, fmt.Errorf("evaluate eligibility for %s: %w", a.CreatorID, err)
		}
		if ok {
			kept = append(kept, a)
		} else {
			excluded = append(excluded, a.CreatorID)
		}
	}
	return kept, excluded, nil
}
