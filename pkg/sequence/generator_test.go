package sequence

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLocalGenerator(t *testing.T) {
	g := NewLocalGenerator()
	ctx := context.Background()

	first, err := g.NextRunCode(ctx, 2025, 1)
	require.NoError(t, err)
	second, err := g.NextRunCode(ctx, 2025, 1)
	require.NoError(t, err)
	other, err := g.NextRunCode(ctx, 2025, 2)
	require.NoError(t, err)

	require.Equal(t, "PR-202501-001", first)
	require.Equal(t, "PR-202501-002", second)
	require.Equal(t, "PR-202502-001", other)
}

func TestNewFallsBackToLocal(t *testing.T) {
	require.IsType(t, &LocalGenerator{}, New(Params{}))
}

func TestRedisGenerator(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	require.NoError(t, rdb.Del(ctx, "seq:payout_run:209912").Err())

	g := NewRedisGenerator(rdb)
	code, err := g.NextRunCode(ctx, 2099, 12)
	require.NoError(t, err)
	require.Equal(t, "PR-209912-001", code)
}
