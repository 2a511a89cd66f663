package reward

import (
	"context"
	"encoding/json"
	"fmt"

	"creatorledger/pkg/errutil"
	"creatorledger/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Task struct {
	service *Service
}

func NewTask(svc *Service) *Task {
	return &Task{service: svc}
}

func (t *Task) HandleComputeRewardTask(ctx context.Context, task *asynq.Task) error {
	var payload taskname.RewardComputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	if _, err := t.service.ComputeReward(ctx, payload.ItemID); err != nil {
		// bad signals or a deleted item will not get better on retry
		if errutil.IsStatus(err, errutil.StatusValidationFailed) || errutil.IsStatus(err, errutil.StatusNotFound) {
			zap.L().Warn("reward compute dropped", zap.String("item_id", payload.ItemID), zap.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func (t *Task) HandleRecalculatePeriodTask(ctx context.Context, task *asynq.Task) error {
	var payload taskname.PeriodPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	ids, err := t.service.RecalculateRewardsForPeriod(ctx, payload.Year, payload.Month)
	if err != nil {
		return err
	}

	zap.L().Info("period rewards recalculated",
		zap.Int("year", payload.Year),
		zap.Int("month", payload.Month),
		zap.Int("updated", len(ids)),
	)
	return nil
}
