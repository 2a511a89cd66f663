package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateNumericAttributes(t *testing.T) {
	attrs := map[string]any{
		"creator_id":   "alice",
		"video_count":  int64(3),
		"avg_points":   12.5,
		"total_points": 37.5,
	}

	env, err := GetOrBuildEnv(attrs)
	require.NoError(t, err)

	ok, err := Evaluate(env, "video_count >= 2 && avg_points > 10.0", attrs)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Evaluate(env, "creator_id != 'alice'", attrs)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetOrBuildEnvCachesByShape(t *testing.T) {
	a, err := GetOrBuildEnv(map[string]any{"x": int64(1)})
	require.NoError(t, err)
	b, err := GetOrBuildEnv(map[string]any{"x": int64(9)})
	require.NoError(t, err)
	require.Same(t, a, b)

	c, err := GetOrBuildEnv(map[string]any{"x": 1.5})
	require.NoError(t, err)
	require.NotSame(t, a, c)
}

func TestValidateExpression(t *testing.T) {
	env, err := GetOrBuildEnv(map[string]any{"video_count": int64(0)})
	require.NoError(t, err)

	require.NoError(t, ValidateExpression(env, "video_count > 0"))
	require.Error(t, ValidateExpression(env, "video_count +"))
	require.Error(t, ValidateExpression(env, "video_count + 1"))
	require.Error(t, ValidateExpression(env, "unknown_attr > 1"))
}

func TestStructToMap(t *testing.T) {
	type sample struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	m := StructToMap(sample{Name: "n", Count: 2})
	require.Equal(t, "n", m["name"])
	require.Equal(t, float64(2), m["count"])
	require.Empty(t, StructToMap(nil))
}
