package ledger

import (
	"context"
	"encoding/json"
	"fmt"

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

// HandleVerifyTask replays the requested chains. A broken chain fails the task without retry.
func (t *Task) HandleVerifyTask(ctx context.Context, task *asynq.Task) error {
	var payload taskname.LedgerVerifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	reports, err := t.service.VerifyLedgerIntegrity(ctx, payload.CreatorID)
	if err != nil {
		return err
	}

	if err := FirstViolation(reports); err != nil {
		zap.L().Error("ledger verify task found broken chains", zap.String("job_id", payload.JobID), zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	zap.L().Info("ledger verify task passed", zap.String("job_id", payload.JobID), zap.Int("wallets", len(reports)))
	return nil
}
