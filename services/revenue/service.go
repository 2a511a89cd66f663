package revenue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"creatorledger/pkg/errutil"
	"creatorledger/pkg/repository"
	"creatorledger/services/aggregation"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	revenues repository.Repository[PlatformRevenue]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		revenues: repository.ProvideStore[PlatformRevenue](p.DB),
	}
}

// SetPlatformRevenue records the month's revenue, replacing any earlier figure.
// Runs already applied keep the revenue they were computed with.
func (s *Service) SetPlatformRevenue(ctx context.Context, year, month int, amount decimal.Decimal, sources map[string]decimal.Decimal) (*PlatformRevenue, error) {
	span := trace.SpanFromContext(ctx)
	log := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.Int("year", year),
		zap.Int("month", month),
	)

	if err := aggregation.ValidatePeriod(year, month); err != nil {
		return nil, err
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, errutil.ValidationFailed(fmt.Sprintf("invalid platform revenue %s", amount), nil,
			errutil.WithDetails(errutil.Detail{Field: "amount", Message: "must be > 0 with at most 2 decimal places"}))
	}
	for name, v := range sources {
		if v.IsNegative() {
			return nil, errutil.ValidationFailed(fmt.Sprintf("revenue source %s is negative", name), nil,
				errutil.WithDetails(errutil.Detail{Field: "sources." + name, Message: "must be >= 0"}))
		}
	}

	var raw datatypes.JSON
	if len(sources) > 0 {
		b, err := json.Marshal(sources)
		if err != nil {
			return nil, err
		}
		raw = datatypes.JSON(b)
	}

	var out *PlatformRevenue
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.revenues.WithTrx(tx).FindOne(ctx, &PlatformRevenue{Year: year, Month: month})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if existing == nil {
			out = &PlatformRevenue{
				ID:        s.node.Generate().String(),
				Year:      year,
				Month:     month,
				Amount:    amount,
				Sources:   raw,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return s.revenues.WithTrx(tx).Create(ctx, out)
		}

		if err := s.revenues.WithTrx(tx).Update(ctx, existing.ID, map[string]any{
			"amount":     amount,
			"sources":    raw,
			"updated_at": now,
		}); err != nil {
			return err
		}
		existing.Amount, existing.Sources, existing.UpdatedAt = amount, raw, now
		out = existing
		return nil
	})
	if err != nil {
		log.Error("failed to store platform revenue", zap.Error(err))
		return nil, err
	}

	log.Info("platform revenue set", zap.String("amount", amount.StringFixed(2)))
	return out, nil
}

func (s *Service) GetPlatformRevenue(ctx context.Context, year, month int) (*PlatformRevenue, error) {
	if err := aggregation.ValidatePeriod(year, month); err != nil {
		return nil, err
	}

	rev, err := s.revenues.FindOne(ctx, &PlatformRevenue{Year: year, Month: month})
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return nil, errutil.NotFound(fmt.Sprintf("no platform revenue recorded for %04d-%02d", year, month), nil)
	}
	return rev, nil
}
