package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"creatorledger/pkg/config"
	"creatorledger/pkg/errutil"
	"creatorledger/pkg/taskname"
	"creatorledger/services/aggregation"
	"creatorledger/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, fmt.Errorf("failed to enqueue task %s: %w", t.Type(), f.err)
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: fmt.Sprintf("t%d", len(f.tasks)), Queue: taskname.QueueCritical, Type: t.Type()}, nil
}

func newTestService(t *testing.T) (*Service, *fakeEnqueuer) {
	t.Helper()
	db := testutil.NewTestDB(t, &Task{}, &Job{})
	enq := &fakeEnqueuer{}
	return New(db, testutil.NewNode(t), enq), enq
}

func TestEnqueueMonthlyPayout(t *testing.T) {
	svc, enq := newTestService(t)
	ctx := context.Background()

	job, err := svc.EnqueueMonthlyPayout(ctx, 2025, 1, false)
	require.NoError(t, err)
	require.Equal(t, JobPending, job.Status)
	require.Equal(t, "2025-01", job.Scope)
	require.Equal(t, taskname.PayoutMonthly, job.TaskID)

	require.Len(t, enq.tasks, 1)
	var payload taskname.PeriodPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, job.ID, payload.JobID)
	require.Equal(t, 2025, payload.Year)
	require.Equal(t, 1, payload.Month)

	_, err = svc.EnqueueMonthlyPayout(ctx, 2025, 0, false)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
}

func TestEnqueueDuplicateMarksJob(t *testing.T) {
	svc, enq := newTestService(t)
	ctx := context.Background()
	enq.err = asynq.ErrTaskIDConflict

	job, err := svc.EnqueueMonthlyPayout(ctx, 2025, 1, false)
	require.True(t, errutil.IsStatus(err, errutil.StatusAlreadyProcessed))

	stored, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobDuplicate, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	enq.err = errors.New("redis down")
	job, err = svc.EnqueueLedgerVerify(ctx, "")
	require.ErrorContains(t, err, "redis down")

	stored, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobFailed, stored.Status)
	require.Equal(t, "all", stored.Scope)
}

func TestTrackRecordsOutcome(t *testing.T) {
	svc, enq := newTestService(t)
	ctx := context.Background()

	job, err := svc.EnqueueLedgerVerify(ctx, "creator_a")
	require.NoError(t, err)

	fail := true
	handler := svc.Track(func(ctx context.Context, t *asynq.Task) error {
		if fail {
			return errors.New("chain broken")
		}
		return nil
	})

	require.Error(t, handler(ctx, enq.tasks[0]))
	stored, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobFailed, stored.Status)
	require.Equal(t, "chain broken", stored.ErrorMsg)
	require.Equal(t, 1, stored.Attempts)

	fail = false
	require.NoError(t, handler(ctx, enq.tasks[0]))
	stored, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobSuccess, stored.Status)
	require.Empty(t, stored.ErrorMsg)
	require.Equal(t, 2, stored.Attempts)
	require.NotNil(t, stored.StartedAt)
}

func TestTrackWithoutJobID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	task, err := taskname.NewRewardComputeTask("item-1")
	require.NoError(t, err)

	require.NoError(t, svc.Track(func(context.Context, *asynq.Task) error { return nil })(ctx, task))

	jobs, err := svc.ListJobs(ctx, taskname.RewardCompute, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, JobSuccess, jobs[0].Status)
}

func TestRegisterTaskUpserts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterTask(ctx, taskname.PayoutMonthly, "payout", "0 2 1 * *"))
	require.NoError(t, svc.RegisterTask(ctx, taskname.PayoutMonthly, "payout", "0 3 1 * *"))

	tasks, err := svc.tasks.Find(ctx, &Task{Name: taskname.PayoutMonthly})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "0 3 1 * *", tasks[0].Schedule)
}

func TestGetJobNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetJob(context.Background(), "missing")
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	_, err = svc.GetJob(context.Background(), "")
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
}

func TestScheduler(t *testing.T) {
	svc, enq := newTestService(t)

	cfg := &config.Config{}
	cfg.Platform.Timezone = "Asia/Jakarta"
	cfg.Payout.Schedule = "0 2 1 * *"
	cfg.Ledger.VerifySchedule = "30 3 * * *"

	s, err := NewScheduler(svc, cfg)
	require.NoError(t, err)
	require.Len(t, s.Next(), 2)
	for _, next := range s.Next() {
		require.Equal(t, "Asia/Jakarta", next.Location().String())
	}

	year, month := aggregation.PreviousMonth(time.Now().In(s.loc))
	s.runMonthlyPayout()
	s.runLedgerVerify()
	require.Len(t, enq.tasks, 2)

	var payload taskname.PeriodPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, year, payload.Year)
	require.Equal(t, month, payload.Month)
	require.Equal(t, taskname.LedgerVerify, enq.tasks[1].Type())

	cfg.Payout.Schedule = "every full moon"
	_, err = NewScheduler(svc, cfg)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	cfg.Payout.Schedule = ""
	cfg.Ledger.VerifySchedule = ""
	s, err = NewScheduler(svc, cfg)
	require.NoError(t, err)
	require.Empty(t, s.Next())
}
