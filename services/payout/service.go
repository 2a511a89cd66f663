package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"creatorledger/pkg/config"
	"creatorledger/pkg/db/option"
	"creatorledger/pkg/errutil"
	"creatorledger/pkg/logger"
	"creatorledger/pkg/metrics"
	"creatorledger/pkg/repository"
	"creatorledger/pkg/sequence"
	"creatorledger/services/aggregation"
	"creatorledger/services/ledger"
	"creatorledger/services/revenue"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LedgerWriter interface {
	AppendTransaction(ctx context.Context, p ledger.AppendParams) (*ledger.Transaction, error)
}

type Aggregator interface {
	MonthlyAggregates(ctx context.Context, year, month int, creatorID string) ([]aggregation.CreatorMonthlyAggregate, error)
	WindowAggregates(ctx context.Context, from, to time.Time) ([]aggregation.CreatorMonthlyAggregate, error)
}

type Options struct {
	CreatorPoolPct decimal.Decimal
	Eligibility    string
	Concurrency    int
	MaxAttempts    int
	Location       *time.Location
}

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	ledger LedgerWriter
	aggs   Aggregator
	codes  sequence.Generator

	eligibility *Eligibility
	poolPct     decimal.Decimal
	concurrency int
	maxAttempts int
	loc         *time.Location

	runs    repository.Repository[RevenueShareRun]
	payouts repository.Repository[CreatorPayout]

	now        func() time.Time
	newBackOff func() backoff.BackOff
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Ledger      *ledger.Service
	Aggregation *aggregation.Service
	Codes       sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) (*Service, error) {
	pct, err := decimal.NewFromString(p.Config.Payout.CreatorPoolPct)
	if err != nil {
		return nil, fmt.Errorf("invalid payout creator pool pct %q: %w", p.Config.Payout.CreatorPoolPct, err)
	}
	return New(p.DB, p.Node, p.Ledger, p.Aggregation, p.Codes, Options{
		CreatorPoolPct: pct,
		Eligibility:    p.Config.Payout.Eligibility,
		Concurrency:    p.Config.Payout.Concurrency,
		MaxAttempts:    p.Config.Payout.MaxAttempts,
		Location:       p.Config.Location(),
	})
}

func New(db *gorm.DB, node *snowflake.Node, lw LedgerWriter, aggs Aggregator, codes sequence.Generator, opts Options) (*Service, error) {
	eligibility, err := NewEligibility(opts.Eligibility)
	if err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &Service{
		db:          db,
		node:        node,
		ledger:      lw,
		aggs:        aggs,
		codes:       codes,
		eligibility: eligibility,
		poolPct:     opts.CreatorPoolPct,
		concurrency: opts.Concurrency,
		maxAttempts: opts.MaxAttempts,
		loc:         opts.Location,
		runs:        repository.ProvideStore[RevenueShareRun](db),
		payouts:     repository.ProvideStore[CreatorPayout](db),
		now:         time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}, nil
}

type RunParams struct {
	Year            int
	Month           int
	PlatformRevenue decimal.Decimal
	// CreatorPoolPct overrides the configured pct when non-zero.
	CreatorPoolPct decimal.Decimal
	Mode           RunMode
	Force          bool
}

type refFunc func(run *RevenueShareRun, creatorID string) string

type loadFunc func(ctx context.Context) ([]aggregation.CreatorMonthlyAggregate, error)

// RunRevenueShare distributes the month's creator pool. A dry run only previews.
// A real run credits every wallet once per period; a second unforced real run is persisted as
// REJECTED and returns AlreadyProcessed.
func (s *Service) RunRevenueShare(ctx context.Context, p RunParams) (*RevenueShareRun, error) {
	if err := aggregation.ValidatePeriod(p.Year, p.Month); err != nil {
		return nil, err
	}
	if !p.Mode.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown run mode %q", p.Mode), nil)
	}
	pct := s.pct(p.CreatorPoolPct)
	if err := validateAmounts(p.PlatformRevenue, pct); err != nil {
		return nil, err
	}

	run := s.newRun(ctx, KindMonthly, p.Year, p.Month, p.Mode, p.Force, p.PlatformRevenue, pct)
	if err := s.open(ctx, run, p.Mode == ModeReal && !p.Force); err != nil {
		return run, err
	}

	load := func(ctx context.Context) ([]aggregation.CreatorMonthlyAggregate, error) {
		return s.aggs.MonthlyAggregates(ctx, p.Year, p.Month, "")
	}
	ref := func(run *RevenueShareRun, creatorID string) string {
		if run.Force {
			return fmt.Sprintf("%s:force:%s", monthlyReference(creatorID, run.Year, run.Month), run.ID)
		}
		return monthlyReference(creatorID, run.Year, run.Month)
	}
	return s.execute(ctx, run, load, ref)
}

// RunWindowTest runs the same pipeline over items created in the last window.
// Its references are per run, so real window runs never collide with monthly idempotency.
func (s *Service) RunWindowTest(ctx context.Context, window time.Duration, platformRevenue decimal.Decimal, mode RunMode) (*RevenueShareRun, error) {
	if window <= 0 {
		return nil, errutil.ValidationFailed(fmt.Sprintf("window must be positive, got %s", window), nil)
	}
	if !mode.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown run mode %q", mode), nil)
	}
	if err := validateAmounts(platformRevenue, s.poolPct); err != nil {
		return nil, err
	}

	to := s.now().UTC()
	from := to.Add(-window)
	local := from.In(s.loc)

	run := s.newRun(ctx, KindWindow, local.Year(), int(local.Month()), mode, false, platformRevenue, s.poolPct)
	run.WindowStart, run.WindowEnd = &from, &to
	if err := s.open(ctx, run, false); err != nil {
		return run, err
	}

	load := func(ctx context.Context) ([]aggregation.CreatorMonthlyAggregate, error) {
		return s.aggs.WindowAggregates(ctx, from, to)
	}
	ref := func(run *RevenueShareRun, creatorID string) string {
		return fmt.Sprintf("revenue_share:%s:window:%s", creatorID, run.ID)
	}
	return s.execute(ctx, run, load, ref)
}

// RetryRun re-attempts the unpaid lines of a PARTIAL run. Paid lines are never touched again.
func (s *Service) RetryRun(ctx context.Context, runID string) (*RevenueShareRun, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case StatusPartial:
	case StatusApplied:
		return run, errutil.AlreadyProcessed(fmt.Sprintf("run %s is already applied", run.ID), nil)
	default:
		return run, errutil.ValidationFailed(fmt.Sprintf("run %s is %s, only PARTIAL runs can be retried", run.ID, run.Status), nil)
	}

	if err := run.transition(StatusApplying); err != nil {
		return run, err
	}
	run.Error = ""
	if err := s.saveRun(ctx, run); err != nil {
		return run, err
	}

	lines := make([]*CreatorPayout, 0, len(run.Payouts))
	for i := range run.Payouts {
		lines = append(lines, &run.Payouts[i])
	}

	logger.For(ctx, "payout").Info("retrying payout run", zap.String("run_id", run.ID), zap.Int("lines", len(lines)))

	s.apply(ctx, run, lines)
	return run, s.finish(ctx, run, lines)
}

// GetRun loads a run with its lines ordered by creator.
func (s *Service) GetRun(ctx context.Context, runID string) (*RevenueShareRun, error) {
	if runID == "" {
		return nil, errutil.ValidationFailed("run_id is required", nil)
	}
	run, err := s.runs.FindOne(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.EQ, Value: runID}),
		option.WithPreload("Payouts", func(db *gorm.DB) *gorm.DB { return db.Order("creator_id asc") }),
	)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errutil.NotFound(fmt.Sprintf("run %s not found", runID), nil)
	}
	return run, nil
}

// FindRealRun returns the unforced real monthly run of a period, or nil when there is none.
func (s *Service) FindRealRun(ctx context.Context, year, month int) (*RevenueShareRun, error) {
	run, err := s.runs.FindOne(ctx, nil, option.ApplyOperator(option.Condition{
		Field:    "real_key",
		Operator: option.EQ,
		Value:    periodKey(year, month),
	}))
	if err != nil || run == nil {
		return nil, err
	}
	return s.GetRun(ctx, run.ID)
}

// CreatorPayoutHistory returns a page of the creator's paid lines, newest first.
func (s *Service) CreatorPayoutHistory(ctx context.Context, creatorID string, limit, offset int) ([]*CreatorPayout, error) {
	if creatorID == "" {
		return nil, errutil.ValidationFailed("creator_id is required", nil)
	}
	return s.payouts.Find(ctx, &CreatorPayout{CreatorID: creatorID, Status: LinePaid},
		option.WithSortBy(option.QuerySortBy{SortBy: "paid_at", OrderBy: "desc"}),
		option.WithLimit(limit),
		option.WithOffset(offset),
	)
}

func (s *Service) pct(override decimal.Decimal) decimal.Decimal {
	if override.IsZero() {
		return s.poolPct
	}
	return override
}

func validateAmounts(platformRevenue, pct decimal.Decimal) error {
	if !platformRevenue.IsPositive() || !platformRevenue.Equal(platformRevenue.Round(2)) {
		return errutil.ValidationFailed(fmt.Sprintf("invalid platform revenue %s", platformRevenue), nil,
			errutil.WithDetails(errutil.Detail{Field: "platform_revenue", Message: "must be > 0 with at most 2 decimal places"}))
	}
	if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return errutil.ValidationFailed(fmt.Sprintf("invalid creator pool pct %s", pct), nil,
			errutil.WithDetails(errutil.Detail{Field: "creator_pool_pct", Message: "must be within (0, 100]"}))
	}
	return nil
}

func (s *Service) newRun(ctx context.Context, kind RunKind, year, month int, mode RunMode, force bool, platformRevenue, pct decimal.Decimal) *RevenueShareRun {
	now := s.now().UTC()
	run := &RevenueShareRun{
		ID:              s.node.Generate().String(),
		Year:            year,
		Month:           month,
		Kind:            kind,
		Mode:            mode,
		Force:           force,
		Status:          StatusPending,
		PlatformRevenue: platformRevenue,
		CreatorPoolPct:  pct,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if s.codes != nil {
		code, err := s.codes.NextRunCode(ctx, year, month)
		if err != nil {
			logger.For(ctx, "payout").Warn("failed to allocate run code", zap.Error(err))
		}
		run.Code = code
	}
	return run
}

// open persists the run. When claim is set the run takes the period's real key, or is stored as
// REJECTED if another run already holds it.
func (s *Service) open(ctx context.Context, run *RevenueShareRun, claim bool) error {
	holder, err := s.insert(ctx, run, claim)
	if claim && errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent run took the key between the lookup and the insert. The second pass sees it.
		run.RealKey = nil
		holder, err = s.insert(ctx, run, claim)
	}
	if err != nil {
		logger.For(ctx, "payout").Error("failed to open payout run", zap.String("run_id", run.ID), zap.Error(err))
		return err
	}

	if holder != nil {
		metrics.PayoutRuns.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
		logger.For(ctx, "payout").Warn("payout run rejected",
			zap.String("run_id", run.ID),
			zap.String("holder_run_id", holder.ID),
			zap.Int("year", run.Year),
			zap.Int("month", run.Month),
		)
		return errutil.AlreadyProcessed(run.Error, nil)
	}
	return nil
}

func (s *Service) insert(ctx context.Context, run *RevenueShareRun, claim bool) (*RevenueShareRun, error) {
	var holder *RevenueShareRun
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if claim {
			key := periodKey(run.Year, run.Month)
			existing, err := s.runs.WithTrx(tx).FindOne(ctx, nil, option.ApplyOperator(option.Condition{
				Field:    "real_key",
				Operator: option.EQ,
				Value:    key,
			}))
			if err != nil {
				return err
			}
			if existing != nil {
				holder = existing
				if err := run.transition(StatusRejected); err != nil {
					return err
				}
				run.Error = fmt.Sprintf("period %s already paid out by run %s", key, existing.ID)
				run.CompletedAt = &run.CreatedAt
			} else {
				run.RealKey = &key
			}
		}
		return s.runs.WithTrx(tx).Create(ctx, run)
	})
	return holder, err
}

func (s *Service) execute(ctx context.Context, run *RevenueShareRun, load loadFunc, ref refFunc) (*RevenueShareRun, error) {
	log := logger.For(ctx, "payout").With(
		zap.String("run_id", run.ID),
		zap.String("mode", string(run.Mode)),
		zap.Int("year", run.Year),
		zap.Int("month", run.Month),
	)

	if err := run.transition(StatusCalculating); err != nil {
		return run, err
	}
	if err := s.saveRun(ctx, run); err != nil {
		return run, err
	}

	dist, excluded, err := s.calculate(ctx, run, load)
	if err != nil {
		log.Error("payout calculation failed", zap.Error(err))
		return run, s.reject(ctx, run, err)
	}
	if len(excluded) > 0 {
		log.Info("creators excluded by eligibility", zap.Strings("creator_ids", excluded))
	}

	lines := s.buildLines(run, dist, ref)

	if run.Mode == ModeDryRun {
		if err := run.transition(StatusDryRunComplete); err != nil {
			return run, err
		}
		completed := s.now().UTC()
		run.CompletedAt = &completed
		if err := s.persistPlan(ctx, run, lines); err != nil {
			log.Error("failed to persist payout plan", zap.Error(err))
			return run, s.planFailed(ctx, run, err)
		}
		s.attach(run, lines)
		metrics.PayoutRuns.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
		log.Info("dry run complete",
			zap.Int("creators", run.CreatorCount),
			zap.String("total_distributed", run.TotalDistributed.StringFixed(2)),
		)
		return run, nil
	}

	if err := ctx.Err(); err != nil {
		log.Warn("payout run stopped before apply", zap.Error(err))
		return run, s.reject(ctx, run, err)
	}
	if err := run.transition(StatusApplying); err != nil {
		return run, err
	}
	if err := s.persistPlan(ctx, run, lines); err != nil {
		log.Error("failed to persist payout plan", zap.Error(err))
		return run, s.planFailed(ctx, run, err)
	}

	s.apply(ctx, run, lines)
	return run, s.finish(ctx, run, lines)
}

func (s *Service) calculate(ctx context.Context, run *RevenueShareRun, load loadFunc) (*revenue.Distribution, []string, error) {
	aggs, err := load(ctx)
	if err != nil {
		return nil, nil, err
	}

	aggs, excluded, err := s.eligibility.Filter(aggs)
	if err != nil {
		return nil, nil, err
	}

	dist, err := revenue.Distribute(aggs, run.PlatformRevenue, run.CreatorPoolPct)
	if err != nil {
		return nil, nil, err
	}

	run.CreatorPool = dist.CreatorPool
	run.TotalAvgPoints = dist.TotalAvgPoints
	run.TotalDistributed = dist.TotalDistributed
	run.CreatorCount = len(dist.Shares)
	return dist, excluded, nil
}

func (s *Service) buildLines(run *RevenueShareRun, dist *revenue.Distribution, ref refFunc) []*CreatorPayout {
	now := s.now().UTC()
	lines := make([]*CreatorPayout, 0, len(dist.Shares))
	for _, share := range dist.Shares {
		status := LinePending
		if share.Amount.IsZero() {
			status = LineSkipped
		}
		lines = append(lines, &CreatorPayout{
			ID:          s.node.Generate().String(),
			RunID:       run.ID,
			CreatorID:   share.CreatorID,
			Year:        run.Year,
			Month:       run.Month,
			TotalPoints: share.TotalPoints,
			VideoCount:  share.VideoCount,
			AvgPoints:   share.AvgPoints,
			Amount:      share.Amount,
			Status:      status,
			Reference:   ref(run, share.CreatorID),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return lines
}

func (s *Service) persistPlan(ctx context.Context, run *RevenueShareRun, lines []*CreatorPayout) error {
	run.UpdatedAt = s.now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.payouts.WithTrx(tx).BatchCreate(ctx, lines); err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Save(run).Error
	})
}

// apply appends the unpaid lines concurrently across wallets. Once ctx is done no new append starts.
func (s *Service) apply(ctx context.Context, run *RevenueShareRun, lines []*CreatorPayout) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, line := range lines {
		if line.Status.settled() {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.applyLine(ctx, run, line)
			return nil
		})
	}
	_ = g.Wait()
}

// applyLine retries only on ConcurrencyConflict. A reference the ledger has already seen counts as paid.
func (s *Service) applyLine(ctx context.Context, run *RevenueShareRun, line *CreatorPayout) {
	if ctx.Err() != nil {
		return
	}

	var (
		txn      *ledger.Transaction
		attempts int
	)
	op := func() error {
		attempts++
		t, err := s.ledger.AppendTransaction(ctx, ledger.AppendParams{
			CreatorID:   line.CreatorID,
			Type:        ledger.TypeRevenueShare,
			Amount:      line.Amount,
			Description: fmt.Sprintf("revenue share %s", periodKey(run.Year, run.Month)),
			Reference:   line.Reference,
			Metadata: map[string]any{
				"run_id":     run.ID,
				"run_kind":   string(run.Kind),
				"avg_points": line.AvgPoints.String(),
			},
		})
		if err == nil {
			txn = t
			return nil
		}
		if errutil.IsStatus(err, errutil.StatusConcurrencyConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxAttempts-1)), ctx)
	err := backoff.Retry(op, b)

	now := s.now().UTC()
	line.Attempts += attempts
	line.UpdatedAt = now

	switch {
	case err == nil:
		line.Status = LinePaid
		line.TransactionID = &txn.ID
		line.PaidAt = &now
		line.Error = ""
	case errutil.IsStatus(err, errutil.StatusAlreadyProcessed):
		line.Status = LinePaid
		line.PaidAt = &now
		line.Error = ""
	case ctx.Err() != nil:
		line.Error = err.Error()
	default:
		line.Status = LineFailed
		line.Error = err.Error()
	}

	if !line.Status.settled() {
		logger.For(ctx, "payout").Warn("payout line not applied",
			zap.String("run_id", run.ID),
			zap.String("creator_id", line.CreatorID),
			zap.Int("attempts", line.Attempts),
			zap.Error(err),
		)
	}

	if err := s.saveLine(ctx, line); err != nil {
		logger.For(ctx, "payout").Error("failed to record payout line",
			zap.String("run_id", run.ID),
			zap.String("line_id", line.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) finish(ctx context.Context, run *RevenueShareRun, lines []*CreatorPayout) error {
	paid, failed, pending := 0, 0, 0
	for _, l := range lines {
		switch l.Status {
		case LinePaid, LineSkipped:
			paid++
		case LineFailed:
			failed++
		default:
			pending++
		}
	}
	run.PaidCount, run.FailedCount = paid, failed

	to := StatusApplied
	if failed+pending > 0 {
		to = StatusPartial
		run.Error = fmt.Sprintf("%d failed, %d not attempted", failed, pending)
	}
	if err := run.transition(to); err != nil {
		return err
	}
	if to == StatusApplied {
		completed := s.now().UTC()
		run.CompletedAt = &completed
	}

	s.attach(run, lines)
	if err := s.saveRun(ctx, run); err != nil {
		return err
	}

	metrics.PayoutRuns.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
	for _, l := range lines {
		metrics.PayoutLines.WithLabelValues(string(l.Status)).Inc()
	}

	logger.For(ctx, "payout").Info("payout run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("paid", paid),
		zap.Int("failed", failed),
		zap.Int("pending", pending),
	)
	return nil
}

func (s *Service) reject(ctx context.Context, run *RevenueShareRun, cause error) error {
	if err := run.transition(StatusRejected); err != nil {
		return err
	}
	run.RealKey = nil
	run.Error = cause.Error()
	completed := s.now().UTC()
	run.CompletedAt = &completed

	if err := s.saveRun(ctx, run); err != nil {
		logger.For(ctx, "payout").Error("failed to record rejected run", zap.String("run_id", run.ID), zap.Error(err))
	}
	metrics.PayoutRuns.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
	return cause
}

// planFailed rejects a run whose plan transaction rolled back. No line was stored and no wallet
// was touched, so the stored run is still CALCULATING and the period key is released.
func (s *Service) planFailed(ctx context.Context, run *RevenueShareRun, cause error) error {
	run.Status = StatusCalculating
	run.CompletedAt = nil
	return s.reject(ctx, run, cause)
}

// saveRun writes run bookkeeping even after ctx is cancelled so a stopped run still lands as PARTIAL.
func (s *Service) saveRun(ctx context.Context, run *RevenueShareRun) error {
	run.UpdatedAt = s.now().UTC()
	return s.db.WithContext(context.WithoutCancel(ctx)).Omit(clause.Associations).Save(run).Error
}

func (s *Service) saveLine(ctx context.Context, line *CreatorPayout) error {
	return s.payouts.Update(context.WithoutCancel(ctx), line.ID, map[string]any{
		"status":         line.Status,
		"attempts":       line.Attempts,
		"error":          line.Error,
		"transaction_id": line.TransactionID,
		"paid_at":        line.PaidAt,
		"updated_at":     line.UpdatedAt,
	})
}

func (s *Service) attach(run *RevenueShareRun, lines []*CreatorPayout) {
	run.Payouts = make([]CreatorPayout, 0, len(lines))
	for _, l := range lines {
		run.Payouts = append(run.Payouts, *l)
	}
}
