package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionType string

const (
	TypeViewReward           TransactionType = "view_reward"
	TypeLikeReward           TransactionType = "like_reward"
	TypeCommentReward        TransactionType = "comment_reward"
	TypeRevenueShare         TransactionType = "revenue_share"
	TypeWithdrawal           TransactionType = "withdrawal"
	TypeModerationAdjustment TransactionType = "moderation_adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeViewReward, TypeLikeReward, TypeCommentReward, TypeRevenueShare, TypeWithdrawal, TypeModerationAdjustment:
		return true
	}
	return false
}

// GenesisHash is the prev_hash of the first transaction in every wallet.
const GenesisHash = "GENESIS"

type Wallet struct {
	ID                   string          `gorm:"column:id;primaryKey" json:"id"`
	CreatorID            string          `gorm:"column:creator_id;uniqueIndex;not null" json:"creator_id"`
	Balance              decimal.Decimal `gorm:"column:balance;type:numeric(20,2);not null;default:0" json:"balance"`
	ViewEarnings         decimal.Decimal `gorm:"column:view_earnings;type:numeric(20,2);not null;default:0" json:"view_earnings"`
	LikeEarnings         decimal.Decimal `gorm:"column:like_earnings;type:numeric(20,2);not null;default:0" json:"like_earnings"`
	CommentEarnings      decimal.Decimal `gorm:"column:comment_earnings;type:numeric(20,2);not null;default:0" json:"comment_earnings"`
	RevenueShareEarnings decimal.Decimal `gorm:"column:revenue_share_earnings;type:numeric(20,2);not null;default:0" json:"revenue_share_earnings"`
	ModerationEarnings   decimal.Decimal `gorm:"column:moderation_earnings;type:numeric(20,2);not null;default:0" json:"moderation_earnings"`
	TotalEarnings        decimal.Decimal `gorm:"column:total_earnings;type:numeric(20,2);not null;default:0" json:"total_earnings"`
	TotalWithdrawn       decimal.Decimal `gorm:"column:total_withdrawn;type:numeric(20,2);not null;default:0" json:"total_withdrawn"`
	LastSequence         int64           `gorm:"column:last_sequence;not null;default:0" json:"last_sequence"`
	LastHash             string          `gorm:"column:last_hash;not null" json:"last_hash"`
	CreatedAt            time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

type Transaction struct {
	ID             string          `gorm:"column:id;primaryKey" json:"id"`
	WalletID       string          `gorm:"column:wallet_id;not null;uniqueIndex:idx_wallet_sequence" json:"wallet_id"`
	SequenceNumber int64           `gorm:"column:sequence_number;not null;uniqueIndex:idx_wallet_sequence" json:"sequence_number"`
	Type           TransactionType `gorm:"column:type;not null" json:"type"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null" json:"amount"`
	Description    string          `gorm:"column:description" json:"description"`
	Reference      *string         `gorm:"column:reference;uniqueIndex" json:"reference,omitempty"`
	PrevHash       string          `gorm:"column:prev_hash;not null" json:"prev_hash"`
	Hash           string          `gorm:"column:hash;not null" json:"hash"`
	Metadata       datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time       `gorm:"column:created_at" json:"created_at"`
}

// HashFields lists what the chain commits to. Reference and metadata are not hashed.
func (t *Transaction) HashFields() map[string]string {
	return map[string]string{
		"prev_hash":       t.PrevHash,
		"wallet_id":       t.WalletID,
		"sequence_number": fmt.Sprintf("%d", t.SequenceNumber),
		"type":            string(t.Type),
		"amount":          t.Amount.StringFixed(2),
		"created_at":      t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"description":     t.Description,
	}
}

func (t *Transaction) GenerateHash() string {
	fields := t.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// applyTo moves the wallet totals for an appended amount. The head pointer is set by the caller.
func applyTo(w *Wallet, typ TransactionType, amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)

	if typ == TypeWithdrawal {
		w.TotalWithdrawn = w.TotalWithdrawn.Add(amount.Neg())
		return
	}
	if !amount.IsPositive() {
		return
	}

	switch typ {
	case TypeViewReward:
		w.ViewEarnings = w.ViewEarnings.Add(amount)
	case TypeLikeReward:
		w.LikeEarnings = w.LikeEarnings.Add(amount)
	case TypeCommentReward:
		w.CommentEarnings = w.CommentEarnings.Add(amount)
	case TypeRevenueShare:
		w.RevenueShareEarnings = w.RevenueShareEarnings.Add(amount)
	case TypeModerationAdjustment:
		w.ModerationEarnings = w.ModerationEarnings.Add(amount)
	default:
		return
	}
	w.TotalEarnings = w.TotalEarnings.Add(amount)
}
