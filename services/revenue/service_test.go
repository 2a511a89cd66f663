package revenue

import (
	"context"
	"encoding/json"
	"testing"

	"creatorledger/pkg/errutil"
	"creatorledger/services/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &PlatformRevenue{})
	return NewService(ServiceParams{DB: db, Node: testutil.NewNode(t)})
}

func TestSetPlatformRevenueUpserts(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.GetPlatformRevenue(ctx, 2025, 1)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	created, err := svc.SetPlatformRevenue(ctx, 2025, 1, dec("5000.00"), map[string]decimal.Decimal{"ads": dec("4000"), "subscriptions": dec("1000")})
	require.NoError(t, err)

	updated, err := svc.SetPlatformRevenue(ctx, 2025, 1, dec("5200.50"), nil)
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)

	got, err := svc.GetPlatformRevenue(ctx, 2025, 1)
	require.NoError(t, err)
	require.Equal(t, "5200.50", got.Amount.StringFixed(2))
	require.Empty(t, got.Sources)

	_, err = svc.SetPlatformRevenue(ctx, 2025, 2, dec("10"), map[string]decimal.Decimal{"ads": dec("10")})
	require.NoError(t, err)

	feb, err := svc.GetPlatformRevenue(ctx, 2025, 2)
	require.NoError(t, err)
	var sources map[string]string
	require.NoError(t, json.Unmarshal(feb.Sources, &sources))
	require.Equal(t, "10", sources["ads"])
}

func TestSetPlatformRevenueValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.SetPlatformRevenue(ctx, 2025, 1, dec("0"), nil)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.SetPlatformRevenue(ctx, 2025, 1, dec("10.001"), nil)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.SetPlatformRevenue(ctx, 2025, 13, dec("10"), nil)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.SetPlatformRevenue(ctx, 2025, 1, dec("10"), map[string]decimal.Decimal{"refunds": dec("-1")})
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
}
