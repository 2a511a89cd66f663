package schema

import (
	"creatorledger/pkg/db"
	"creatorledger/services/content"
	"creatorledger/services/ledger"
	"creatorledger/services/payout"
	"creatorledger/services/revenue"
	"creatorledger/services/task"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("schema", fx.Invoke(AutoMigrate))

func Models() []any {
	return []any{
		&content.ContentItem{},
		&ledger.Wallet{},
		&ledger.Transaction{},
		&revenue.PlatformRevenue{},
		&payout.RevenueShareRun{},
		&payout.CreatorPayout{},
		&task.Task{},
		&task.Job{},
	}
}

func AutoMigrate(gdb *gorm.DB) error {
	return db.Migrate(gdb, Models()...)
}
