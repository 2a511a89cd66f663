package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"creatorledger/pkg/db/option"
	"creatorledger/pkg/errutil"
	"creatorledger/pkg/logger"
	"creatorledger/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const verifyConcurrency = 8

// ChainReport is the outcome of replaying one wallet. A failing report is never repaired.
type ChainReport struct {
	WalletID            string          `json:"wallet_id"`
	CreatorID           string          `json:"creator_id"`
	Valid               bool            `json:"valid"`
	FirstBrokenSequence int64           `json:"first_broken_sequence,omitempty"`
	Reason              string          `json:"reason,omitempty"`
	TransactionCount    int             `json:"transaction_count"`
	ComputedBalance     decimal.Decimal `json:"computed_balance"`
	RecordedBalance     decimal.Decimal `json:"recorded_balance"`
}

func (r *ChainReport) BalanceMismatch() bool {
	return !r.ComputedBalance.Equal(r.RecordedBalance)
}

func (r *ChainReport) Err() error {
	if r.Valid {
		return nil
	}
	return errutil.IntegrityViolation(
		fmt.Sprintf("wallet %s broken at sequence %d: %s", r.WalletID, r.FirstBrokenSequence, r.Reason), nil)
}

// VerifyEntries replays txs, which must be in sequence order, against the wallet head.
// The first failing check wins: sequence, prev_hash, hash, running balance, then head.
func VerifyEntries(w *Wallet, txs []*Transaction) ChainReport {
	report := ChainReport{
		WalletID:         w.ID,
		CreatorID:        w.CreatorID,
		Valid:            true,
		TransactionCount: len(txs),
		RecordedBalance:  w.Balance,
	}

	fail := func(seq int64, reason string) ChainReport {
		report.Valid = false
		report.FirstBrokenSequence = seq
		report.Reason = reason
		return report
	}

	prev := GenesisHash
	running := decimal.Zero
	for i, t := range txs {
		expected := int64(i + 1)
		if t.SequenceNumber != expected {
			return fail(expected, fmt.Sprintf("sequence gap: expected %d, found %d", expected, t.SequenceNumber))
		}
		if t.PrevHash != prev {
			return fail(expected, "prev_hash does not link to the previous transaction")
		}
		if t.GenerateHash() != t.Hash {
			return fail(expected, "hash does not match transaction contents")
		}

		running = running.Add(t.Amount)
		report.ComputedBalance = running
		if running.IsNegative() {
			return fail(expected, fmt.Sprintf("running balance went negative (%s)", running.StringFixed(2)))
		}
		prev = t.Hash
	}
	report.ComputedBalance = running

	last := int64(len(txs))
	if !running.Equal(w.Balance) {
		return fail(last, fmt.Sprintf("balance mismatch: computed %s, recorded %s", running.StringFixed(2), w.Balance.StringFixed(2)))
	}
	if w.LastSequence != last || w.LastHash != prev {
		return fail(last, fmt.Sprintf("head mismatch: wallet points at sequence %d", w.LastSequence))
	}
	return report
}

// VerifyChain replays a single wallet from sequence 1.
func (s *Service) VerifyChain(ctx context.Context, walletID string) (*ChainReport, error) {
	if walletID == "" {
		return nil, errutil.ValidationFailed("wallet_id is required", nil)
	}
	w, err := s.wallets.FindOne(ctx, nil, option.ApplyOperator(option.Condition{Field: "id", Operator: option.EQ, Value: walletID}))
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errutil.NotFound(fmt.Sprintf("wallet %s not found", walletID), nil)
	}
	return s.verifyWallet(ctx, w)
}

func (s *Service) verifyWallet(ctx context.Context, w *Wallet) (*ChainReport, error) {
	txs, err := s.listByWallet(ctx, w.ID)
	if err != nil {
		return nil, err
	}

	report := VerifyEntries(w, txs)
	if !report.Valid {
		metrics.IntegrityFailures.Inc()
		logger.For(ctx, "ledger").Error("ledger chain broken",
			zap.String("wallet_id", w.ID),
			zap.String("creator_id", w.CreatorID),
			zap.Int64("sequence", report.FirstBrokenSequence),
			zap.String("reason", report.Reason),
		)
	}
	return &report, nil
}

// VerifyLedgerIntegrity verifies one creator's wallet, or every wallet when creatorID is empty.
// Reports come back sorted by creator. The error is only for failures to read the ledger.
func (s *Service) VerifyLedgerIntegrity(ctx context.Context, creatorID string) ([]ChainReport, error) {
	if creatorID != "" {
		w, err := s.GetWalletBalance(ctx, creatorID)
		if err != nil {
			return nil, err
		}
		report, err := s.verifyWallet(ctx, w)
		if err != nil {
			return nil, err
		}
		return []ChainReport{*report}, nil
	}

	wallets, err := s.wallets.Find(ctx, nil)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		reports = make([]ChainReport, 0, len(wallets))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for _, w := range wallets {
		g.Go(func() error {
			report, err := s.verifyWallet(gctx, w)
			if err != nil {
				return fmt.Errorf("verify wallet %s: %w", w.ID, err)
			}
			mu.Lock()
			reports = append(reports, *report)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreatorID < reports[j].CreatorID
	})

	broken := 0
	for _, r := range reports {
		if !r.Valid {
			broken++
		}
	}
	logger.For(ctx, "ledger").Info("ledger verification finished",
		zap.Int("wallets", len(reports)),
		zap.Int("broken", broken),
	)
	return reports, nil
}

// FirstViolation returns the IntegrityViolation of the first broken report, or nil.
func FirstViolation(reports []ChainReport) error {
	for i := range reports {
		if err := reports[i].Err(); err != nil {
			return err
		}
	}
	return nil
}
