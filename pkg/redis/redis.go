package redis

import (
	"context"
	"fmt"
	"time"

	"creatorledger/pkg/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

// New connects the client shared by wallet locks, run code sequences and the task queues.
// An unreachable server is fatal only when wallet locks depend on it.
func New(lc fx.Lifecycle, c *config.Config) (*redis.Client, error) {
	log := zap.L().Named("redis").With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
		zap.String("lock_backend", c.Ledger.LockBackend),
	)

	opts := Options(c)
	rdb := redis.NewClient(opts)

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return rdb.Ping(ctx).Err()
	}
	notify := func(err error, next time.Duration) {
		log.Warn("redis not ready", zap.Duration("retry_in", next), zap.Error(err))
	}

	if err := backoff.RetryNotify(ping, backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 4), notify); err != nil {
		if c.Ledger.LockBackend == "redis" {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis at %s is required for wallet locks: %w", c.Redis.Addr, err)
		}
		log.Warn("redis unreachable, run codes and queues will retry on use", zap.Error(err))
	} else {
		log.Info("connected to redis", zap.Duration("pool_timeout", opts.PoolTimeout))
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb, nil
}

// Options builds client options from config. With the redis lock backend the pool timeout is at
// least LEDGER.LOCK_WAIT, so a wallet lock waiter is bounded by the lock wait alone.
func Options(c *config.Config) *redis.Options {
	poolTimeout := c.Redis.PoolTimeout
	if c.Ledger.LockBackend == "redis" && c.Ledger.LockWait > poolTimeout {
		poolTimeout = c.Ledger.LockWait
	}

	return &redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: poolTimeout,
		ClientName:  c.AppName,
	}
}
