// Command payoutctl operates the ledger and revenue share runs from a shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"creatorledger/pkg/config"
	"creatorledger/pkg/db"
	"creatorledger/pkg/errutil"
	"creatorledger/pkg/gen"
	"creatorledger/pkg/lock"
	"creatorledger/pkg/logger"
	"creatorledger/pkg/redis"
	"creatorledger/pkg/sequence"
	"creatorledger/services/aggregation"
	"creatorledger/services/content"
	"creatorledger/services/ledger"
	"creatorledger/services/payout"
	"creatorledger/services/revenue"
	"creatorledger/services/reward"
	"creatorledger/services/schema"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	cmd, err := parse(os.Args[1], os.Args[2:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errutil.StatusOf(err).ExitCode())
	}

	cfg := config.LoadConfig()

	var c *cli
	opts := []fx.Option{
		fx.Supply(cfg),
		logger.Module,
		db.Module,
		gen.Module,
		lock.Module,
		sequence.Module,
		schema.Module,
		content.Module,
		reward.Module,
		aggregation.Module,
		revenue.Module,
		ledger.Module,
		payout.Module,
		fx.Invoke(func(p *payout.Service, l *ledger.Service, rw *reward.Service, rv *revenue.Service) {
			c = &cli{payouts: p, ledger: l, rewards: rw, revenues: rv, out: os.Stdout}
		}),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}
	if cfg.Ledger.LockBackend == "redis" {
		// the worker holds the same wallet locks
		opts = append(opts, redis.Module)
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = c.execute(ctx, cmd)
	stop()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if stopErr := app.Stop(stopCtx); stopErr != nil {
		zap.L().Warn("shutdown failed", zap.Error(stopErr))
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(errutil.StatusOf(err).ExitCode())
	}
}
