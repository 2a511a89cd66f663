package payout

import (
	"creatorledger/services/aggregation"
	"creatorledger/services/ledger"

	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(NewService, NewTask),
)

var (
	_ LedgerWriter = (*ledger.Service)(nil)
	_ Aggregator   = (*aggregation.Service)(nil)
)
