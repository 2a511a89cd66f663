package payout

import (
	"context"
	"encoding/json"
	"fmt"

	"creatorledger/pkg/errutil"
	"creatorledger/pkg/logger"
	"creatorledger/pkg/taskname"
	"creatorledger/services/revenue"
	"creatorledger/services/reward"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type RevenueSource interface {
	GetPlatformRevenue(ctx context.Context, year, month int) (*revenue.PlatformRevenue, error)
}

type Recalculator interface {
	RecalculateRewardsForPeriod(ctx context.Context, year, month int) ([]string, error)
}

type Task struct {
	service  *Service
	revenues RevenueSource
	rewards  Recalculator
}

type TaskParams struct {
	fx.In
	Service *Service
	Revenue *revenue.Service
	Reward  *reward.Service
}

func NewTask(p TaskParams) *Task {
	return &Task{service: p.Service, revenues: p.Revenue, rewards: p.Reward}
}

// HandleMonthlyPayoutTask pays out a closed month. Rewards are recalculated first so late
// engagement lands in the month it belongs to. A PARTIAL run left by an earlier attempt is retried
// instead of opening a new one.
func (t *Task) HandleMonthlyPayoutTask(ctx context.Context, task *asynq.Task) error {
	var payload taskname.PeriodPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	log := logger.For(ctx, "payout").With(
		zap.String("job_id", payload.JobID),
		zap.Int("year", payload.Year),
		zap.Int("month", payload.Month),
	)

	rev, err := t.revenues.GetPlatformRevenue(ctx, payload.Year, payload.Month)
	if err != nil {
		if errutil.IsStatus(err, errutil.StatusNotFound) || errutil.IsStatus(err, errutil.StatusValidationFailed) {
			log.Warn("monthly payout skipped", zap.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if !payload.Force {
		existing, err := t.service.FindRealRun(ctx, payload.Year, payload.Month)
		if err != nil {
			return err
		}
		if existing != nil {
			switch existing.Status {
			case StatusPartial:
				run, err := t.service.RetryRun(ctx, existing.ID)
				if err != nil {
					return err
				}
				if run.Status == StatusPartial {
					return fmt.Errorf("run %s still partial: %s", run.ID, run.Error)
				}
				return nil
			case StatusApplied:
				log.Info("monthly payout already applied", zap.String("run_id", existing.ID))
				return nil
			default:
				return fmt.Errorf("run %s is still %s", existing.ID, existing.Status)
			}
		}
	}

	if _, err := t.rewards.RecalculateRewardsForPeriod(ctx, payload.Year, payload.Month); err != nil {
		return err
	}

	run, err := t.service.RunRevenueShare(ctx, RunParams{
		Year:            payload.Year,
		Month:           payload.Month,
		PlatformRevenue: rev.Amount,
		Mode:            ModeReal,
		Force:           payload.Force,
	})
	switch {
	case errutil.IsStatus(err, errutil.StatusAlreadyProcessed):
		log.Info("monthly payout already claimed", zap.Error(err))
		return nil
	case errutil.IsStatus(err, errutil.StatusValidationFailed):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case err != nil:
		return err
	}

	if run.Status == StatusPartial {
		err := fmt.Errorf("run %s partial: %s", run.ID, run.Error)
		if run.Force {
			// a forced run holds no period key, so a redelivery would open a second run
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		// asynq redelivers the task, which resumes this run through RetryRun
		return err
	}
	return nil
}
