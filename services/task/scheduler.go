package task

import (
	"context"
	"time"

	"creatorledger/pkg/config"
	"creatorledger/pkg/errutil"
	"creatorledger/pkg/taskname"
	"creatorledger/services/aggregation"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service *Service
	cron    *cron.Cron
	loc     *time.Location
}

// NewScheduler registers the monthly payout and the ledger verify on platform-local cron specs.
// An empty spec disables that entry.
func NewScheduler(svc *Service, cfg *config.Config) (*Scheduler, error) {
	loc := cfg.Location()
	s := &Scheduler{
		service: svc,
		cron:    cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{})),
		loc:     loc,
	}

	if spec := cfg.Payout.Schedule; spec != "" {
		if _, err := s.cron.AddFunc(spec, s.runMonthlyPayout); err != nil {
			return nil, errutil.ValidationFailed("invalid payout schedule "+spec, err)
		}
	}
	if spec := cfg.Ledger.VerifySchedule; spec != "" {
		if _, err := s.cron.AddFunc(spec, s.runLedgerVerify); err != nil {
			return nil, errutil.ValidationFailed("invalid ledger verify schedule "+spec, err)
		}
	}
	return s, nil
}

// StartScheduler is invoked by FX when the worker starts.
func StartScheduler(lc fx.Lifecycle, s *Scheduler, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.service.RegisterTask(ctx, taskname.PayoutMonthly, "revenue share payout of the previous month", cfg.Payout.Schedule); err != nil {
				return err
			}
			if err := s.service.RegisterTask(ctx, taskname.LedgerVerify, "hash chain replay of every wallet", cfg.Ledger.VerifySchedule); err != nil {
				return err
			}

			s.cron.Start()
			zap.L().Info("[Scheduler] started", zap.String("timezone", s.loc.String()), zap.Int("entries", len(s.cron.Entries())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-s.cron.Stop().Done():
			case <-ctx.Done():
			}
			zap.L().Warn("[Scheduler] stopped")
			return nil
		},
	})
}

func (s *Scheduler) runMonthlyPayout() {
	year, month := aggregation.PreviousMonth(time.Now().In(s.loc))
	ctx := context.Background()

	job, err := s.service.EnqueueMonthlyPayout(ctx, year, month, false)
	if err != nil {
		if errutil.IsStatus(err, errutil.StatusAlreadyProcessed) {
			zap.L().Info("[Scheduler] monthly payout already queued", zap.Int("year", year), zap.Int("month", month))
			return
		}
		zap.L().Error("[Scheduler] failed to enqueue monthly payout", zap.Int("year", year), zap.Int("month", month), zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] monthly payout enqueued", zap.String("job_id", job.ID), zap.Int("year", year), zap.Int("month", month))
}

func (s *Scheduler) runLedgerVerify() {
	job, err := s.service.EnqueueLedgerVerify(context.Background(), "")
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue ledger verify", zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] ledger verify enqueued", zap.String("job_id", job.ID))
}

func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Schedule.Next(time.Now().In(s.loc)))
	}
	return out
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	zap.S().Debugw("[Scheduler] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.S().Errorw("[Scheduler] "+msg, append(keysAndValues, "error", err)...)
}
