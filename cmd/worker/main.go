package main

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"creatorledger/pkg/config"
	"creatorledger/pkg/db"
	"creatorledger/pkg/gen"
	"creatorledger/pkg/health"
	"creatorledger/pkg/lock"
	"creatorledger/pkg/logger"
	"creatorledger/pkg/otelcol"
	"creatorledger/pkg/redis"
	"creatorledger/pkg/sequence"
	"creatorledger/pkg/server"
	queue "creatorledger/pkg/task"
	"creatorledger/pkg/taskname"
	"creatorledger/services/aggregation"
	"creatorledger/services/content"
	"creatorledger/services/ledger"
	"creatorledger/services/payout"
	"creatorledger/services/revenue"
	"creatorledger/services/reward"
	"creatorledger/services/schema"
	"creatorledger/services/task"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		lock.Module,
		sequence.Module,
		otelcol.Module,
		health.Module,
		server.ProvideOpsServer,
		queue.Client,
		queue.Server,
		schema.Module,
		content.Module,
		reward.Module,
		aggregation.Module,
		revenue.Module,
		ledger.Module,
		payout.Module,
		task.Module,
		task.SchedulerModule,
		fx.Invoke(
			registerDBPlugins,
			registerHandlers,
		),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})

func registerDBPlugins(gdb *gorm.DB) error {
	if err := db.Otel(gdb); err != nil {
		return err
	}
	return db.Metric(gdb)
}

func registerHandlers(mux *asynq.ServeMux, jobs *task.Service, rewards *reward.Task, ledgers *ledger.Task, payouts *payout.Task) {
	mux.HandleFunc(taskname.RewardCompute, rewards.HandleComputeRewardTask)
	mux.HandleFunc(taskname.RewardRecalculatePeriod, jobs.Track(rewards.HandleRecalculatePeriodTask))
	mux.HandleFunc(taskname.PayoutMonthly, jobs.Track(payouts.HandleMonthlyPayoutTask))
	mux.HandleFunc(taskname.LedgerVerify, jobs.Track(ledgers.HandleVerifyTask))
}
