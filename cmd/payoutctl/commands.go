package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"creatorledger/pkg/errutil"
	"creatorledger/services/ledger"
	"creatorledger/services/payout"
	"creatorledger/services/revenue"
	"creatorledger/services/reward"

	"github.com/shopspring/decimal"
)

type cli struct {
	payouts  *payout.Service
	ledger   *ledger.Service
	rewards  *reward.Service
	revenues *revenue.Service
	out      io.Writer
}

// command is a parsed subcommand. Flags are validated before any service is built.
type command struct {
	name string

	year, month int
	revenue     string
	pct         string
	real        bool
	force       bool
	runID       string
	minutes     int
	creatorID   string
	limit       int
	offset      int
	sources     map[string]decimal.Decimal
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage: payoutctl <command> [flags]

commands:
  run          -year -month [-revenue] [-pct] [-real] [-force]
  retry        -run
  window       -minutes -revenue [-real]
  verify       [-creator]
  reconcile
  balance      -creator
  history      -creator [-limit] [-offset]
  withdraw     -creator
  recompute    -year -month
  set-revenue  -year -month -amount [-source name=amount]...
`)
}

func parse(name string, args []string) (*command, error) {
	cmd := &command{name: name, sources: map[string]decimal.Decimal{}}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	period := func() {
		fs.IntVar(&cmd.year, "year", 0, "period year")
		fs.IntVar(&cmd.month, "month", 0, "period month (1-12)")
	}
	creator := func() {
		fs.StringVar(&cmd.creatorID, "creator", "", "creator id")
	}

	switch name {
	case "run":
		period()
		fs.StringVar(&cmd.revenue, "revenue", "", "platform revenue; the stored revenue of the month when empty")
		fs.StringVar(&cmd.pct, "pct", "", "creator pool percentage; the configured one when empty")
		fs.BoolVar(&cmd.real, "real", false, "credit wallets instead of a dry run")
		fs.BoolVar(&cmd.force, "force", false, "pay a period again even if it was already paid")
	case "retry":
		fs.StringVar(&cmd.runID, "run", "", "run id")
	case "window":
		fs.IntVar(&cmd.minutes, "minutes", 5, "window length in minutes")
		fs.StringVar(&cmd.revenue, "revenue", "", "platform revenue")
		fs.BoolVar(&cmd.real, "real", false, "credit wallets instead of a dry run")
	case "verify":
		creator()
	case "reconcile":
	case "balance", "withdraw":
		creator()
	case "history":
		creator()
		fs.IntVar(&cmd.limit, "limit", 12, "max lines")
		fs.IntVar(&cmd.offset, "offset", 0, "lines to skip")
	case "recompute":
		period()
	case "set-revenue":
		period()
		fs.StringVar(&cmd.revenue, "amount", "", "platform revenue of the month")
		fs.Func("source", "revenue source as name=amount, repeatable", func(v string) error {
			k, amount, ok := strings.Cut(v, "=")
			if !ok || k == "" {
				return fmt.Errorf("source must be name=amount, got %q", v)
			}
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return err
			}
			cmd.sources[k] = d
			return nil
		})
	default:
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown command %q", name), nil)
	}

	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, errutil.ValidationFailed(fmt.Sprintf("%s: %v", name, err), err)
	}
	return cmd, cmd.check()
}

func (c *command) check() error {
	missing := func(name string) error {
		return errutil.ValidationFailed(fmt.Sprintf("%s: -%s is required", c.name, name), nil)
	}

	switch c.name {
	case "retry":
		if c.runID == "" {
			return missing("run")
		}
	case "window":
		if c.revenue == "" {
			return missing("revenue")
		}
		if c.minutes <= 0 {
			return errutil.ValidationFailed("window: -minutes must be positive", nil)
		}
	case "balance", "history", "withdraw":
		if c.creatorID == "" {
			return missing("creator")
		}
	case "set-revenue":
		if c.revenue == "" {
			return missing("amount")
		}
	}
	return nil
}

func decimalFlag(name, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errutil.ValidationFailed(fmt.Sprintf("-%s: %q is not a number", name, v), err)
	}
	return d, nil
}

func (c *cli) execute(ctx context.Context, cmd *command) error {
	switch cmd.name {
	case "run":
		return c.run(ctx, cmd)
	case "retry":
		run, err := c.payouts.RetryRun(ctx, cmd.runID)
		if run != nil {
			c.printRun(run)
		}
		return err
	case "window":
		return c.window(ctx, cmd)
	case "verify":
		return c.verify(ctx, cmd.creatorID)
	case "reconcile":
		return c.reconcile(ctx)
	case "balance":
		return c.balance(ctx, cmd.creatorID)
	case "history":
		return c.history(ctx, cmd.creatorID, cmd.limit, cmd.offset)
	case "withdraw":
		return c.withdraw(ctx, cmd.creatorID)
	case "recompute":
		ids, err := c.rewards.RecalculateRewardsForPeriod(ctx, cmd.year, cmd.month)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "recomputed %d items for %04d-%02d\n", len(ids), cmd.year, cmd.month)
		return nil
	case "set-revenue":
		return c.setRevenue(ctx, cmd)
	}
	return errutil.ValidationFailed(fmt.Sprintf("unknown command %q", cmd.name), nil)
}

func (c *cli) run(ctx context.Context, cmd *command) error {
	amount, err := decimalFlag("revenue", cmd.revenue)
	if err != nil {
		return err
	}
	pct, err := decimalFlag("pct", cmd.pct)
	if err != nil {
		return err
	}

	if amount.IsZero() {
		stored, err := c.revenues.GetPlatformRevenue(ctx, cmd.year, cmd.month)
		if err != nil {
			return err
		}
		amount = stored.Amount
	}

	mode := payout.ModeDryRun
	if cmd.real {
		mode = payout.ModeReal
	}

	run, err := c.payouts.RunRevenueShare(ctx, payout.RunParams{
		Year:            cmd.year,
		Month:           cmd.month,
		PlatformRevenue: amount,
		CreatorPoolPct:  pct,
		Mode:            mode,
		Force:           cmd.force,
	})
	if run != nil {
		c.printRun(run)
	}
	if err != nil {
		return err
	}
	return partialErr(run)
}

func (c *cli) window(ctx context.Context, cmd *command) error {
	amount, err := decimalFlag("revenue", cmd.revenue)
	if err != nil {
		return err
	}
	mode := payout.ModeDryRun
	if cmd.real {
		mode = payout.ModeReal
	}

	run, err := c.payouts.RunWindowTest(ctx, time.Duration(cmd.minutes)*time.Minute, amount, mode)
	if run != nil {
		c.printRun(run)
	}
	if err != nil {
		return err
	}
	return partialErr(run)
}

// partialErr makes a run that left lines unpaid exit non-zero.
func partialErr(run *payout.RevenueShareRun) error {
	if run.Status != payout.StatusPartial {
		return nil
	}
	return fmt.Errorf("run %s is PARTIAL (%s); resume with: payoutctl retry -run %s", run.ID, run.Error, run.ID)
}

func (c *cli) printRun(run *payout.RevenueShareRun) {
	fmt.Fprintf(c.out, "run %s %s\n", run.ID, run.Code)
	fmt.Fprintf(c.out, "  period      %04d-%02d (%s)\n", run.Year, run.Month, run.Kind)
	fmt.Fprintf(c.out, "  mode        %s\n", run.Mode)
	fmt.Fprintf(c.out, "  status      %s\n", run.Status)
	fmt.Fprintf(c.out, "  revenue     %s\n", run.PlatformRevenue.StringFixed(2))
	fmt.Fprintf(c.out, "  pool        %s (%s%%)\n", run.CreatorPool.StringFixed(2), run.CreatorPoolPct.String())
	fmt.Fprintf(c.out, "  distributed %s\n", run.TotalDistributed.StringFixed(2))
	if run.Error != "" {
		fmt.Fprintf(c.out, "  error       %s\n", run.Error)
	}
	if len(run.Payouts) == 0 {
		return
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATOR\tVIDEOS\tAVG POINTS\tAMOUNT\tSTATUS")
	for _, l := range run.Payouts {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", l.CreatorID, l.VideoCount, l.AvgPoints.StringFixed(4), l.Amount.StringFixed(2), l.Status)
	}
	_ = tw.Flush()
}

func (c *cli) verify(ctx context.Context, creatorID string) error {
	reports, err := c.ledger.VerifyLedgerIntegrity(ctx, creatorID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATOR\tTXS\tVALID\tBROKEN AT\tREASON")
	for _, r := range reports {
		broken := "-"
		if !r.Valid {
			broken = fmt.Sprintf("%d", r.FirstBrokenSequence)
		}
		fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\n", r.CreatorID, r.TransactionCount, r.Valid, broken, r.Reason)
	}
	_ = tw.Flush()

	return ledger.FirstViolation(reports)
}

// reconcile lists wallets whose stored balance differs from the replayed chain. Nothing is repaired.
func (c *cli) reconcile(ctx context.Context) error {
	reports, err := c.ledger.VerifyLedgerIntegrity(ctx, "")
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATOR\tRECORDED\tCOMPUTED\tDIFF")
	mismatches := 0
	for _, r := range reports {
		if !r.BalanceMismatch() {
			continue
		}
		mismatches++
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.CreatorID,
			r.RecordedBalance.StringFixed(2),
			r.ComputedBalance.StringFixed(2),
			r.RecordedBalance.Sub(r.ComputedBalance).StringFixed(2))
	}
	_ = tw.Flush()

	fmt.Fprintf(c.out, "%d of %d wallets mismatched\n", mismatches, len(reports))
	if mismatches > 0 {
		return errutil.IntegrityViolation(fmt.Sprintf("%d wallet balances differ from their chains", mismatches), nil)
	}
	return nil
}

func (c *cli) balance(ctx context.Context, creatorID string) error {
	w, err := c.ledger.GetWalletBalance(ctx, creatorID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "creator\t%s\n", w.CreatorID)
	fmt.Fprintf(tw, "balance\t%s\n", w.Balance.StringFixed(2))
	fmt.Fprintf(tw, "views\t%s\n", w.ViewEarnings.StringFixed(2))
	fmt.Fprintf(tw, "likes\t%s\n", w.LikeEarnings.StringFixed(2))
	fmt.Fprintf(tw, "comments\t%s\n", w.CommentEarnings.StringFixed(2))
	fmt.Fprintf(tw, "revenue share\t%s\n", w.RevenueShareEarnings.StringFixed(2))
	fmt.Fprintf(tw, "moderation\t%s\n", w.ModerationEarnings.StringFixed(2))
	fmt.Fprintf(tw, "total earned\t%s\n", w.TotalEarnings.StringFixed(2))
	fmt.Fprintf(tw, "total withdrawn\t%s\n", w.TotalWithdrawn.StringFixed(2))
	fmt.Fprintf(tw, "transactions\t%d\n", w.LastSequence)
	return tw.Flush()
}

func (c *cli) history(ctx context.Context, creatorID string, limit, offset int) error {
	lines, err := c.payouts.CreatorPayoutHistory(ctx, creatorID, limit, offset)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PERIOD\tRUN\tVIDEOS\tAVG POINTS\tAMOUNT\tPAID AT")
	for _, l := range lines {
		paidAt := ""
		if l.PaidAt != nil {
			paidAt = l.PaidAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%04d-%02d\t%s\t%d\t%s\t%s\t%s\n", l.Year, l.Month, l.RunID, l.VideoCount,
			l.AvgPoints.StringFixed(4), l.Amount.StringFixed(2), paidAt)
	}
	return tw.Flush()
}

func (c *cli) withdraw(ctx context.Context, creatorID string) error {
	res, err := c.ledger.Withdraw(ctx, creatorID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "withdrew %s from %s (transaction %s, sequence %d)\n",
		res.Transaction.Amount.Neg().StringFixed(2), creatorID, res.Transaction.ID, res.Transaction.SequenceNumber)
	fmt.Fprintf(c.out, "balance %s\n", res.Balance.StringFixed(2))
	return nil
}

func (c *cli) setRevenue(ctx context.Context, cmd *command) error {
	amount, err := decimalFlag("amount", cmd.revenue)
	if err != nil {
		return err
	}

	rev, err := c.revenues.SetPlatformRevenue(ctx, cmd.year, cmd.month, amount, cmd.sources)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "revenue for %04d-%02d set to %s\n", rev.Year, rev.Month, rev.Amount.StringFixed(2))
	return nil
}
