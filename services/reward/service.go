package reward

import (
	"context"
	"sort"
	"sync"
	"time"

	"creatorledger/pkg/config"
	"creatorledger/pkg/errutil"
	"creatorledger/pkg/metrics"
	"creatorledger/services/aggregation"
	"creatorledger/services/content"

	"github.com/alitto/pond/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ItemStore interface {
	Get(ctx context.Context, id string) (*content.ContentItem, error)
	ListCreatedBetween(ctx context.Context, from, to time.Time, creatorID string) ([]*content.ContentItem, error)
	SaveReward(ctx context.Context, id string, b content.RewardBreakdown, flagReview bool) error
}

type Service struct {
	items       ItemStore
	loc         *time.Location
	concurrency int
	now         func() time.Time
}

type ServiceParams struct {
	fx.In
	Config  *config.Config
	Content *content.Service
}

func NewService(p ServiceParams) *Service {
	return New(p.Content, p.Config.Location(), p.Config.Reward.Concurrency)
}

func New(items ItemStore, loc *time.Location, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		items:       items,
		loc:         loc,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// ComputeReward recomputes and stores one item's breakdown. Invalid input leaves the cached breakdown untouched.
func (s *Service) ComputeReward(ctx context.Context, itemID string) (*content.RewardBreakdown, error) {
	span := trace.SpanFromContext(ctx)
	log := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("item_id", itemID),
	)

	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	b, err := s.compute(ctx, item)
	if err != nil {
		log.Warn("reward not computed", zap.Error(err))
		return nil, err
	}

	log.Debug("reward computed",
		zap.Float64("main_reward", b.MainReward),
		zap.Float64("ai_bonus_fraction", b.AIBonusFraction),
		zap.Float64("final_reward", b.FinalReward),
	)
	return b, nil
}

func (s *Service) compute(ctx context.Context, item *content.ContentItem) (*content.RewardBreakdown, error) {
	in := InputFromItem(item)
	b, err := Compute(in)
	if err != nil {
		metrics.RewardsComputed.WithLabelValues("invalid").Inc()
		return nil, err
	}

	calculatedAt := s.now().UTC()
	b.CalculatedAt = &calculatedAt

	if err := s.items.SaveReward(ctx, item.ID, b, NeedsReview(in)); err != nil {
		metrics.RewardsComputed.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RewardsComputed.WithLabelValues("ok").Inc()
	return &b, nil
}

// RecalculateRewardsForPeriod recomputes every item created in the month and returns the updated ids, sorted.
// Items with invalid signals are skipped. Any persistence error is returned after in-flight work settles.
func (s *Service) RecalculateRewardsForPeriod(ctx context.Context, year, month int) ([]string, error) {
	from, to, err := aggregation.MonthRange(year, month, s.loc)
	if err != nil {
		return nil, err
	}

	items, err := s.items.ListCreatedBetween(ctx, from, to, "")
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.Int("year", year), zap.Int("month", month))
	log.Info("recalculating rewards", zap.Int("items", len(items)))

	pool := pond.NewPool(s.concurrency, pond.WithContext(ctx))
	defer pool.StopAndWait()

	var (
		mu      sync.Mutex
		updated = make([]string, 0, len(items))
		skipped int
	)

	tasks := make([]pond.Task, 0, len(items))
	for _, item := range items {
		tasks = append(tasks, pool.SubmitErr(func() error {
			if _, err := s.compute(ctx, item); err != nil {
				if errutil.IsStatus(err, errutil.StatusValidationFailed) {
					log.Warn("skipping item with invalid signals", zap.String("item_id", item.ID), zap.Error(err))
					mu.Lock()
					skipped++
					mu.Unlock()
					return nil
				}
				return err
			}
			mu.Lock()
			updated = append(updated, item.ID)
			mu.Unlock()
			return nil
		}))
	}

	var firstErr error
	for _, t := range tasks {
		if err := t.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	sort.Strings(updated)
	log.Info("recalculation finished", zap.Int("updated", len(updated)), zap.Int("skipped", skipped), zap.Error(firstErr))
	return updated, firstErr
}
