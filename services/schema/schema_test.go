package schema

import (
	"testing"

	"creatorledger/services/testutil"

	"github.com/stretchr/testify/require"
)

func TestAutoMigrateCreatesEveryTable(t *testing.T) {
	db := testutil.NewTestDB(t)
	require.NoError(t, AutoMigrate(db))
	// idempotent
	require.NoError(t, AutoMigrate(db))

	for _, m := range Models() {
		require.True(t, db.Migrator().HasTable(m), "%T", m)
	}
	require.True(t, db.Migrator().HasIndex("transactions", "idx_wallet_sequence"))
}
