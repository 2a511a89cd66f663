package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"creatorledger/pkg/config"
	"creatorledger/pkg/db/option"
	"creatorledger/pkg/errutil"
	"creatorledger/pkg/lock"
	"creatorledger/pkg/logger"
	"creatorledger/pkg/metrics"
	"creatorledger/pkg/rediskey"
	"creatorledger/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db            *gorm.DB
	node          *snowflake.Node
	locker        lock.Locker
	minWithdrawal decimal.Decimal

	wallets      repository.Repository[Wallet]
	transactions repository.Repository[Transaction]

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Locker lock.Locker
	Config *config.Config
}

func NewService(p ServiceParams) (*Service, error) {
	minWithdrawal, err := decimal.NewFromString(p.Config.Ledger.MinWithdrawal)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger min withdrawal %q: %w", p.Config.Ledger.MinWithdrawal, err)
	}
	return New(p.DB, p.Node, p.Locker, minWithdrawal), nil
}

func New(db *gorm.DB, node *snowflake.Node, locker lock.Locker, minWithdrawal decimal.Decimal) *Service {
	return &Service{
		db:            db,
		node:          node,
		locker:        locker,
		minWithdrawal: minWithdrawal,
		wallets:       repository.ProvideStore[Wallet](db),
		transactions:  repository.ProvideStore[Transaction](db),
		now:           time.Now,
	}
}

type AppendParams struct {
	CreatorID   string
	Type        TransactionType
	Amount      decimal.Decimal
	Description string
	// Reference is the idempotency key. Empty means none.
	Reference string
	Metadata  map[string]any
}

func (p AppendParams) validate() error {
	var details []errutil.Detail
	add := func(field, msg string) {
		details = append(details, errutil.Detail{Field: field, Message: msg})
	}

	if p.CreatorID == "" {
		add("creator_id", "is required")
	}
	if !p.Type.Valid() {
		add("type", fmt.Sprintf("unknown transaction type %q", p.Type))
	}
	switch {
	case p.Amount.IsZero():
		add("amount", "must not be zero")
	case !p.Amount.Equal(p.Amount.Round(2)):
		add("amount", "must have at most 2 decimal places")
	case p.Type == TypeWithdrawal && p.Amount.IsPositive():
		add("amount", "withdrawal must be negative")
	case p.Type != TypeWithdrawal && p.Type != TypeModerationAdjustment && p.Amount.IsNegative():
		add("amount", fmt.Sprintf("%s must be positive", p.Type))
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid ledger append", nil, errutil.WithDetails(details...))
	}
	return nil
}

// OpenWallet returns the creator's wallet, creating an empty one on first use.
func (s *Service) OpenWallet(ctx context.Context, creatorID string) (*Wallet, error) {
	if creatorID == "" {
		return nil, errutil.ValidationFailed("creator_id is required", nil)
	}

	release, err := s.locker.Lock(ctx, rediskey.WalletLockKey(creatorID))
	if err != nil {
		return nil, err
	}
	defer release()

	var wallet *Wallet
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.loadWallet(ctx, tx, creatorID, true)
		wallet = w
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// AppendTransaction appends one entry to the creator's chain. The wallet is created when missing.
func (s *Service) AppendTransaction(ctx context.Context, p AppendParams) (*Transaction, error) {
	if err := p.validate(); err != nil {
		metrics.LedgerAppends.WithLabelValues(string(p.Type), resultLabel(err)).Inc()
		return nil, err
	}

	txn, _, err := s.append(ctx, p.CreatorID, p.Type, true, func(*Wallet) (AppendParams, error) {
		return p, nil
	})
	return txn, err
}

type WithdrawResult struct {
	Transaction *Transaction    `json:"transaction"`
	Balance     decimal.Decimal `json:"balance"`
}

// Withdraw empties the wallet with a single negative entry.
func (s *Service) Withdraw(ctx context.Context, creatorID string) (*WithdrawResult, error) {
	txn, wallet, err := s.append(ctx, creatorID, TypeWithdrawal, false, func(w *Wallet) (AppendParams, error) {
		if !w.Balance.IsPositive() || w.Balance.LessThan(s.minWithdrawal) {
			return AppendParams{}, errutil.InsufficientFunds(
				fmt.Sprintf("balance %s is below the minimum withdrawal of %s", w.Balance.StringFixed(2), s.minWithdrawal.StringFixed(2)), nil)
		}
		return AppendParams{
			CreatorID:   creatorID,
			Type:        TypeWithdrawal,
			Amount:      w.Balance.Neg(),
			Description: fmt.Sprintf("withdrawal of %s", w.Balance.StringFixed(2)),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	logger.For(ctx, "ledger").Info("withdrawal recorded",
		zap.String("creator_id", creatorID),
		zap.String("amount", txn.Amount.Neg().StringFixed(2)),
	)
	return &WithdrawResult{Transaction: txn, Balance: wallet.Balance}, nil
}

type buildFunc func(w *Wallet) (AppendParams, error)

// append holds the wallet lock, then in one db transaction locks the wallet row, writes the entry
// and moves the head with a compare-and-set on last_sequence.
func (s *Service) append(ctx context.Context, creatorID string, typ TransactionType, create bool, build buildFunc) (*Transaction, *Wallet, error) {
	if creatorID == "" {
		return nil, nil, errutil.ValidationFailed("creator_id is required", nil)
	}
	log := logger.For(ctx, "ledger").With(zap.String("creator_id", creatorID), zap.String("type", string(typ)))

	var (
		txn    *Transaction
		wallet *Wallet
	)

	err := func() error {
		release, err := s.locker.Lock(ctx, rediskey.WalletLockKey(creatorID))
		if err != nil {
			return err
		}
		defer release()

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			w, err := s.loadWallet(ctx, tx, creatorID, create)
			if err != nil {
				return err
			}

			p, err := build(w)
			if err != nil {
				return err
			}
			if err := p.validate(); err != nil {
				return err
			}

			var reference *string
			if p.Reference != "" {
				existing, err := s.transactions.WithTrx(tx).FindOne(ctx, nil, option.ApplyOperator(option.Condition{
					Field:    "reference",
					Operator: option.EQ,
					Value:    p.Reference,
				}))
				if err != nil {
					return err
				}
				if existing != nil {
					return errutil.AlreadyProcessed(fmt.Sprintf("reference %s already applied", p.Reference), nil)
				}
				reference = &p.Reference
			}

			next := *w
			applyTo(&next, p.Type, p.Amount)
			if next.Balance.IsNegative() {
				return errutil.InsufficientFunds(
					fmt.Sprintf("balance %s cannot absorb %s", w.Balance.StringFixed(2), p.Amount.StringFixed(2)), nil)
			}

			var metadata datatypes.JSON
			if len(p.Metadata) > 0 {
				raw, err := json.Marshal(p.Metadata)
				if err != nil {
					return errutil.ValidationFailed("metadata is not valid json", err)
				}
				metadata = datatypes.JSON(raw)
			}

			t := &Transaction{
				ID:             s.node.Generate().String(),
				WalletID:       w.ID,
				SequenceNumber: w.LastSequence + 1,
				Type:           p.Type,
				Amount:         p.Amount,
				Description:    p.Description,
				Reference:      reference,
				PrevHash:       w.LastHash,
				Metadata:       metadata,
				CreatedAt:      s.now().UTC().Truncate(time.Microsecond),
			}
			t.Hash = t.GenerateHash()

			if err := s.transactions.WithTrx(tx).Create(ctx, t); err != nil {
				return err
			}

			next.LastSequence = t.SequenceNumber
			next.LastHash = t.Hash
			next.UpdatedAt = t.CreatedAt

			res := tx.Model(&Wallet{}).
				Where("id = ? AND last_sequence = ?", w.ID, w.LastSequence).
				Updates(map[string]any{
					"balance":                next.Balance,
					"view_earnings":          next.ViewEarnings,
					"like_earnings":          next.LikeEarnings,
					"comment_earnings":       next.CommentEarnings,
					"revenue_share_earnings": next.RevenueShareEarnings,
					"moderation_earnings":    next.ModerationEarnings,
					"total_earnings":         next.TotalEarnings,
					"total_withdrawn":        next.TotalWithdrawn,
					"last_sequence":          next.LastSequence,
					"last_hash":              next.LastHash,
					"updated_at":             next.UpdatedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errutil.ConcurrencyConflict(fmt.Sprintf("wallet %s head moved past sequence %d", w.ID, w.LastSequence), nil)
			}

			txn, wallet = t, &next
			return nil
		})
	}()

	metrics.LedgerAppends.WithLabelValues(string(typ), resultLabel(err)).Inc()

	if err != nil {
		switch errutil.StatusOf(err) {
		case errutil.StatusValidationFailed, errutil.StatusInsufficientFunds, errutil.StatusAlreadyProcessed, errutil.StatusNotFound:
			log.Debug("ledger append refused", zap.Error(err))
		default:
			log.Error("ledger append failed", zap.Error(err))
		}
		return nil, nil, err
	}

	log.Debug("ledger append",
		zap.String("wallet_id", wallet.ID),
		zap.Int64("sequence", txn.SequenceNumber),
		zap.String("amount", txn.Amount.StringFixed(2)),
	)
	return txn, wallet, nil
}

func (s *Service) loadWallet(ctx context.Context, tx *gorm.DB, creatorID string, create bool) (*Wallet, error) {
	w, err := s.wallets.WithTrx(tx).FindOne(ctx, nil, byCreator(creatorID), option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if w != nil {
		return w, nil
	}
	if !create {
		return nil, errutil.NotFound(fmt.Sprintf("wallet for creator %s not found", creatorID), nil)
	}

	now := s.now().UTC()
	w = &Wallet{
		ID:        s.node.Generate().String(),
		CreatorID: creatorID,
		LastHash:  GenesisHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.wallets.WithTrx(tx).Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// GetWalletBalance returns the creator's wallet with its balance and earnings breakdown.
func (s *Service) GetWalletBalance(ctx context.Context, creatorID string) (*Wallet, error) {
	if creatorID == "" {
		return nil, errutil.ValidationFailed("creator_id is required", nil)
	}
	w, err := s.wallets.FindOne(ctx, nil, byCreator(creatorID))
	if err != nil {
		logger.For(ctx, "ledger").Error("failed to query wallet", zap.Error(err))
		return nil, err
	}
	if w == nil {
		return nil, errutil.NotFound(fmt.Sprintf("wallet for creator %s not found", creatorID), nil)
	}
	return w, nil
}

// ListTransactions returns the creator's chain in sequence order.
func (s *Service) ListTransactions(ctx context.Context, creatorID string) ([]*Transaction, error) {
	w, err := s.GetWalletBalance(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	return s.listByWallet(ctx, w.ID)
}

// byCreator matches on the column. A zero-valued struct query would drop the condition.
func byCreator(creatorID string) option.QueryOption {
	return option.ApplyOperator(option.Condition{Field: "creator_id", Operator: option.EQ, Value: creatorID})
}

func (s *Service) listByWallet(ctx context.Context, walletID string) ([]*Transaction, error) {
	return s.transactions.Find(ctx, &Transaction{WalletID: walletID},
		option.WithSortBy(option.QuerySortBy{SortBy: "sequence_number", OrderBy: "asc"}),
	)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(errutil.StatusOf(err)))
}
