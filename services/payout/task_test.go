package payout

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"creatorledger/pkg/errutil"
	"creatorledger/pkg/taskname"
	"creatorledger/services/revenue"
)

type stubRevenues map[string]decimal.Decimal

func (s stubRevenues) GetPlatformRevenue(_ context.Context, year, month int) (*revenue.PlatformRevenue, error) {
	amount, ok := s[periodKey(year, month)]
	if !ok {
		return nil, errutil.NotFound("no revenue", nil)
	}
	return &revenue.PlatformRevenue{Year: year, Month: month, Amount: amount}, nil
}

type countingRecalc struct {
	calls int
}

func (c *countingRecalc) RecalculateRewardsForPeriod(_ context.Context, _, _ int) ([]string, error) {
	c.calls++
	return nil, nil
}

func monthlyTask(t *testing.T, p taskname.PeriodPayload) *asynq.Task {
	t.Helper()
	task, err := taskname.NewMonthlyPayoutTask(p)
	require.NoError(t, err)
	return task
}

func TestHandleMonthlyPayoutTask(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	recalc := &countingRecalc{}
	handler := &Task{
		service:  f.svc,
		revenues: stubRevenues{"2025-01": decimal.NewFromInt(5000)},
		rewards:  recalc,
	}
	ctx := context.Background()
	task := monthlyTask(t, taskname.PeriodPayload{JobID: "job-1", Year: 2025, Month: 1})

	require.NoError(t, handler.HandleMonthlyPayoutTask(ctx, task))
	require.Equal(t, 1, recalc.calls)
	require.Equal(t, "1750.91", f.balance(t, "creator_a"))

	// redelivery after success is a no-op
	require.NoError(t, handler.HandleMonthlyPayoutTask(ctx, task))
	require.Equal(t, 1, recalc.calls)
	require.Equal(t, "1750.91", f.balance(t, "creator_a"))

	err := handler.HandleMonthlyPayoutTask(ctx, monthlyTask(t, taskname.PeriodPayload{Year: 2025, Month: 2}))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	err = handler.HandleMonthlyPayoutTask(ctx, asynq.NewTask(taskname.PayoutMonthly, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleMonthlyPayoutTaskResumesPartialRun(t *testing.T) {
	f := newFixture(t, Options{}, func(next LedgerWriter) LedgerWriter {
		return &flakyLedger{
			next:     next,
			failures: map[string][]error{"creator_b": {errors.New("timeout")}},
			calls:    map[string]int{},
		}
	})
	handler := &Task{
		service:  f.svc,
		revenues: stubRevenues{"2025-01": decimal.NewFromInt(5000)},
		rewards:  &countingRecalc{},
	}
	ctx := context.Background()
	task := monthlyTask(t, taskname.PeriodPayload{Year: 2025, Month: 1})

	err := handler.HandleMonthlyPayoutTask(ctx, task)
	require.ErrorContains(t, err, "partial")
	require.NotErrorIs(t, err, asynq.SkipRetry)

	require.NoError(t, handler.HandleMonthlyPayoutTask(ctx, task))

	run, err := f.svc.FindRealRun(ctx, 2025, 1)
	require.NoError(t, err)
	require.Equal(t, StatusApplied, run.Status)
	require.Equal(t, "749.09", f.balance(t, "creator_b"))

	var runs int64
	require.NoError(t, f.db.Model(&RevenueShareRun{}).Count(&runs).Error)
	require.EqualValues(t, 1, runs)
}
