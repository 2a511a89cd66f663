package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creatorledger/pkg/db/option"
	"creatorledger/pkg/errutil"
	"creatorledger/pkg/repository"
	queue "creatorledger/pkg/task"
	"creatorledger/pkg/taskname"
	"creatorledger/services/aggregation"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer queue.Enqueuer

	tasks repository.Repository[Task]
	jobs  repository.Repository[Job]

	now func() time.Time
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer queue.Enqueuer
}

func NewService(p Params) *Service {
	return New(p.DB, p.Node, p.Enqueuer)
}

func New(db *gorm.DB, node *snowflake.Node, enqueuer queue.Enqueuer) *Service {
	return &Service{
		db:       db,
		node:     node,
		enqueuer: enqueuer,
		tasks:    repository.ProvideStore[Task](db),
		jobs:     repository.ProvideStore[Job](db),
		now:      time.Now,
	}
}

// RegisterTask upserts the catalog entry for a task type.
func (s *Service) RegisterTask(ctx context.Context, name, description, schedule string) error {
	t := Task{
		ID:          s.node.Generate().String(),
		Name:        name,
		Description: description,
		Schedule:    schedule,
		IsActive:    true,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "schedule", "is_active", "updated_at"}),
	}).Create(&t).Error
}

// EnqueueMonthlyPayout records a job and queues the payout of a closed month.
func (s *Service) EnqueueMonthlyPayout(ctx context.Context, year, month int, force bool) (*Job, error) {
	if err := aggregation.ValidatePeriod(year, month); err != nil {
		return nil, err
	}

	job, err := s.newJob(ctx, taskname.PayoutMonthly, fmt.Sprintf("%04d-%02d", year, month), map[string]any{"force": force})
	if err != nil {
		return nil, err
	}

	t, err := taskname.NewMonthlyPayoutTask(taskname.PeriodPayload{JobID: job.ID, Year: year, Month: month, Force: force})
	if err != nil {
		return nil, err
	}

	var opts []asynq.Option
	if force {
		// forced runs bypass the per-period task id
		opts = append(opts, asynq.TaskID(fmt.Sprintf("%s:force:%s", taskname.PayoutMonthly, job.ID)))
	}
	return job, s.enqueue(ctx, job, t, opts...)
}

// EnqueueLedgerVerify queues a chain replay for one creator, or for every wallet when creatorID is empty.
func (s *Service) EnqueueLedgerVerify(ctx context.Context, creatorID string) (*Job, error) {
	scope := creatorID
	if scope == "" {
		scope = "all"
	}

	job, err := s.newJob(ctx, taskname.LedgerVerify, scope, nil)
	if err != nil {
		return nil, err
	}

	t, err := taskname.NewLedgerVerifyTask(taskname.LedgerVerifyPayload{JobID: job.ID, CreatorID: creatorID})
	if err != nil {
		return nil, err
	}
	return job, s.enqueue(ctx, job, t)
}

func (s *Service) newJob(ctx context.Context, taskName, scope string, metadata map[string]any) (*Job, error) {
	job := &Job{
		ID:     s.node.Generate().String(),
		TaskID: taskName,
		Scope:  scope,
		Status: JobPending,
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		job.Metadata = datatypes.JSON(raw)
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) enqueue(ctx context.Context, job *Job, t *asynq.Task, opts ...asynq.Option) error {
	info, err := s.enqueuer.Enqueue(ctx, t, opts...)
	if err != nil {
		status := JobFailed
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			status = JobDuplicate
			err = errutil.AlreadyProcessed(fmt.Sprintf("%s for %s is already queued", t.Type(), job.Scope), err)
		}
		s.finishJob(ctx, job, status, err)
		return err
	}

	zap.L().Info("enqueued job",
		zap.String("task", t.Type()),
		zap.String("scope", job.Scope),
		zap.String("queue", info.Queue),
		zap.String("job_id", job.ID),
	)
	return nil
}

type jobRef struct {
	JobID string `json:"job_id"`
}

// Track wraps a handler so every delivery updates its Job row. Deliveries without a job id
// (enqueued outside this service) get a fresh row.
func (s *Service) Track(h asynq.HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		job := s.startJob(ctx, t)

		err := h(ctx, t)

		status := JobSuccess
		if err != nil {
			status = JobFailed
		}
		if job != nil {
			s.finishJob(ctx, job, status, err)
		}
		return err
	}
}

func (s *Service) startJob(ctx context.Context, t *asynq.Task) *Job {
	var ref jobRef
	_ = json.Unmarshal(t.Payload(), &ref)

	now := s.now().UTC()
	if ref.JobID == "" {
		job := &Job{
			ID:        s.node.Generate().String(),
			TaskID:    t.Type(),
			Status:    JobRunning,
			Attempts:  1,
			StartedAt: &now,
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			zap.L().Warn("failed to record job", zap.String("task", t.Type()), zap.Error(err))
			return nil
		}
		return job
	}

	job, err := s.jobs.FindOne(ctx, &Job{ID: ref.JobID})
	if err != nil || job == nil {
		zap.L().Warn("job not found", zap.String("job_id", ref.JobID), zap.Error(err))
		return nil
	}

	job.Status = JobRunning
	job.Attempts++
	job.StartedAt = &now
	if err := s.jobs.Update(ctx, job.ID, map[string]any{
		"status":     job.Status,
		"attempts":   job.Attempts,
		"started_at": job.StartedAt,
	}); err != nil {
		zap.L().Warn("failed to mark job running", zap.String("job_id", job.ID), zap.Error(err))
	}
	return job
}

func (s *Service) finishJob(ctx context.Context, job *Job, status JobStatus, cause error) {
	now := s.now().UTC()
	job.Status = status
	job.CompletedAt = &now
	job.ErrorMsg = ""
	if cause != nil {
		job.ErrorMsg = cause.Error()
	}

	if err := s.jobs.Update(context.WithoutCancel(ctx), job.ID, map[string]any{
		"status":       job.Status,
		"error_msg":    job.ErrorMsg,
		"completed_at": job.CompletedAt,
	}); err != nil {
		zap.L().Error("failed to record job result", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, errutil.ValidationFailed("job id is required", nil)
	}
	job, err := s.jobs.FindOne(ctx, nil, option.ApplyOperator(option.Condition{Field: "id", Operator: option.EQ, Value: id}))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errutil.NotFound(fmt.Sprintf("job %s not found", id), nil)
	}
	return job, nil
}

// ListJobs returns the latest jobs of a task type, newest first.
func (s *Service) ListJobs(ctx context.Context, taskName string, limit int) ([]*Job, error) {
	return s.jobs.Find(ctx, &Job{TaskID: taskName},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(limit),
	)
}
