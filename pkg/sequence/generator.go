package sequence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"creatorledger/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(New),
)

// Generator hands out human readable run codes, e.g. PR-202501-003.
type Generator interface {
	NextRunCode(ctx context.Context, year, month int) (string, error)
}

type Params struct {
	fx.In

	Redis *redis.Client `optional:"true"`
}

func New(p Params) Generator {
	if p.Redis == nil {
		return NewLocalGenerator()
	}
	return NewRedisGenerator(p.Redis)
}

type RedisGenerator struct {
	rdb *redis.Client
}

func NewRedisGenerator(rdb *redis.Client) *RedisGenerator {
	return &RedisGenerator{rdb: rdb}
}

func (g *RedisGenerator) NextRunCode(ctx context.Context, year, month int) (string, error) {
	key := rediskey.RunSequenceKey(year, month)
	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		// keep counters around well past the period so late retries still get unique codes
		_ = g.rdb.Expire(ctx, key, 400*24*time.Hour).Err()
	}

	return formatRunCode(year, month, seq), nil
}

// LocalGenerator counts in memory. Codes are unique per process only.
type LocalGenerator struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func NewLocalGenerator() *LocalGenerator {
	return &LocalGenerator{seqs: make(map[string]int64)}
}

func (g *LocalGenerator) NextRunCode(_ context.Context, year, month int) (string, error) {
	key := rediskey.RunSequenceKey(year, month)

	g.mu.Lock()
	g.seqs[key]++
	seq := g.seqs[key]
	g.mu.Unlock()

	return formatRunCode(year, month, seq), nil
}

func formatRunCode(year, month int, seq int64) string {
	return fmt.Sprintf("PR-%04d%02d-%03d", year, month, seq)
}
