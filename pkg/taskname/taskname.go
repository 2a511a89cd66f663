package taskname

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// Reward tasks
	RewardCompute           = "reward:compute"
	RewardRecalculatePeriod = "reward:recalculate:period"

	// Payout tasks
	PayoutMonthly = "payout:monthly"

	// Ledger tasks
	LedgerVerify = "ledger:verify"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type RewardComputePayload struct {
	ItemID string `json:"item_id"`
}

type PeriodPayload struct {
	JobID string `json:"job_id,omitempty"`
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Force bool   `json:"force,omitempty"`
}

type LedgerVerifyPayload struct {
	JobID     string `json:"job_id,omitempty"`
	CreatorID string `json:"creator_id,omitempty"`
}

func NewRewardComputeTask(itemID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RewardComputePayload{ItemID: itemID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(RewardCompute, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

func NewRecalculateTask(p PeriodPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(RewardRecalculatePeriod, payload, asynq.Queue(QueueLow)), nil
}

// NewMonthlyPayoutTask dedupes on the period so a period is enqueued at most once.
func NewMonthlyPayoutTask(p PeriodPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(PayoutMonthly, payload,
		asynq.Queue(QueueCritical),
		asynq.TaskID(fmt.Sprintf("%s:%04d-%02d", PayoutMonthly, p.Year, p.Month)),
		asynq.MaxRetry(3),
	), nil
}

func NewLedgerVerifyTask(p LedgerVerifyPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(LedgerVerify, payload, asynq.Queue(QueueLow), asynq.MaxRetry(1)), nil
}
