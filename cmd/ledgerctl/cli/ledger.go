package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fleet-ledger/internal/accounting"
	"github.com/odyssey-erp/fleet-ledger/internal/ledgerhooks"
)

// LedgerCLI runs chart, period and report commands against the ledger.
type LedgerCLI struct {
	ledger *accounting.Service
}

// NewLedgerCLI constructs the helper.
func NewLedgerCLI(ledger *accounting.Service) (*LedgerCLI, error) {
	if ledger == nil {
		return nil, errors.New("ledger cli: service required")
	}
	return &LedgerCLI{ledger: ledger}, nil
}

// SeedCommand creates the default chart of accounts. Existing codes are kept.
func (c *LedgerCLI) SeedCommand(ctx context.Context, out Output) int {
	out = out.withDefaults()
	created, err := ledgerhooks.SeedChart(ctx, c.ledger)
	if err != nil {
		return out.fail("seed", err)
	}
	_, _ = fmt.Fprintf(out.Stdout, "chart of accounts: %d created, %d already present\n", created, len(ledgerhooks.DefaultChart())-created)
	return ExitOK
}

// PeriodAction names a period lifecycle transition.
type PeriodAction string

const (
	PeriodOpen   PeriodAction = "open"
	PeriodClose  PeriodAction = "close"
	PeriodReopen PeriodAction = "reopen"
)

// PeriodOptions defines flags for the period command.
type PeriodOptions struct {
	Action PeriodAction
	// Period is YYYY-MM.
	Period  string
	ActorID int64
	Output
}

// PeriodCommand opens, closes or reopens one accounting period.
func (c *LedgerCLI) PeriodCommand(ctx context.Context, opts PeriodOptions) int {
	out := opts.Output.withDefaults()
	month, err := time.Parse("2006-01", strings.TrimSpace(opts.Period))
	if err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "period: invalid period %q (expected YYYY-MM)\n", opts.Period)
		return ExitError
	}
	in := accounting.PeriodInput{Year: month.Year(), Month: int(month.Month()), ActorID: opts.ActorID}
	var period accounting.Period
	switch opts.Action {
	case PeriodOpen:
		period, err = c.ledger.EnsurePeriod(ctx, in)
	case PeriodClose:
		period, err = c.ledger.ClosePeriod(ctx, in)
	case PeriodReopen:
		period, err = c.ledger.ReopenPeriod(ctx, in)
	default:
		_, _ = fmt.Fprintf(out.Stderr, "period: unknown action %q (open, close, reopen)\n", opts.Action)
		return ExitError
	}
	if err != nil {
		return out.fail("period "+string(opts.Action), err)
	}
	_, _ = fmt.Fprintf(out.Stdout, "%s %s\n", period.Code(), periodStatus(period))
	return ExitOK
}

// PeriodsCommand lists every known period.
func (c *LedgerCLI) PeriodsCommand(ctx context.Context, jsonOutput bool, out Output) int {
	out = out.withDefaults()
	periods, err := c.ledger.ListPeriods(ctx)
	if err != nil {
		return out.fail("periods", err)
	}
	if jsonOutput {
		rows := make([]periodRow, 0, len(periods))
		for _, p := range periods {
			rows = append(rows, periodRow{Period: p.Code(), Status: periodStatus(p), ClosedAt: p.ClosedAt, ClosedBy: p.ClosedBy})
		}
		return out.json("periods", rows)
	}
	tw := tabwriter.NewWriter(out.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PERIOD\tSTATUS")
	for _, p := range periods {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", p.Code(), periodStatus(p))
	}
	_ = tw.Flush()
	return ExitOK
}

type periodRow struct {
	Period   string     `json:"period"`
	Status   string     `json:"status"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	ClosedBy *int64     `json:"closed_by,omitempty"`
}

func periodStatus(p accounting.Period) string {
	if p.Closed {
		return "CLOSED"
	}
	return "OPEN"
}

// TrialBalanceOptions defines flags for the trial-balance command. Dates are
// YYYY-MM-DD and both optional.
type TrialBalanceOptions struct {
	From       string
	To         string
	JSONOutput bool
	Output
}

// TrialBalanceSummary is the JSON shape of the trial-balance command.
type TrialBalanceSummary struct {
	Balanced    bool              `json:"balanced"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
	Rows        []TrialBalanceRow `json:"rows"`
}

// TrialBalanceRow is one account line of the JSON report.
type TrialBalanceRow struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Balance decimal.Decimal `json:"balance"`
}

// TrialBalanceCommand prints the trial balance. It exits with ExitFlagged when
// the ledger does not balance.
func (c *LedgerCLI) TrialBalanceCommand(ctx context.Context, opts TrialBalanceOptions) int {
	out := opts.Output.withDefaults()
	rng, err := parseRange(opts.From, opts.To)
	if err != nil {
		return out.fail("trial-balance", err)
	}
	tb, err := c.ledger.TrialBalance(ctx, rng)
	if err != nil {
		return out.fail("trial-balance", err)
	}
	if opts.JSONOutput {
		summary := TrialBalanceSummary{Balanced: tb.Balanced(), TotalDebit: tb.TotalDebit, TotalCredit: tb.TotalCredit, Rows: []TrialBalanceRow{}}
		for _, g := range tb.Groups {
			for _, r := range g.Rows {
				summary.Rows = append(summary.Rows, TrialBalanceRow{Code: r.Code, Name: r.Name, Debit: r.Debit, Credit: r.Credit, Balance: r.Balance})
			}
		}
		if code := out.json("trial-balance", summary); code != ExitOK {
			return code
		}
	} else {
		renderTrialBalance(out, tb)
	}
	if !tb.Balanced() {
		return ExitFlagged
	}
	return ExitOK
}

func renderTrialBalance(out Output, tb accounting.TrialBalance) {
	tw := tabwriter.NewWriter(out.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "CODE\tACCOUNT\tDEBIT\tCREDIT\tBALANCE\t")
	for _, g := range tb.Groups {
		for _, r := range g.Rows {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", r.Code, r.Name, r.Debit.StringFixed(2), r.Credit.StringFixed(2), r.Balance.StringFixed(2))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\t\n", g.Key, "subtotal", g.Debit.StringFixed(2), g.Credit.StringFixed(2))
	}
	_, _ = fmt.Fprintf(tw, "\t%s\t%s\t%s\t\t\n", "TOTAL", tb.TotalDebit.StringFixed(2), tb.TotalCredit.StringFixed(2))
	_ = tw.Flush()
	if tb.Balanced() {
		_, _ = fmt.Fprintln(out.Stdout, "Ledger is balanced.")
		return
	}
	_, _ = fmt.Fprintf(out.Stdout, "Ledger is OUT OF BALANCE by %s.\n", tb.Net().Abs().StringFixed(2))
}

func parseRange(from, to string) (accounting.DateRange, error) {
	var rng accounting.DateRange
	if strings.TrimSpace(from) != "" {
		d, err := time.Parse(time.DateOnly, strings.TrimSpace(from))
		if err != nil {
			return rng, fmt.Errorf("invalid from date %q (expected YYYY-MM-DD)", from)
		}
		rng.From = d
	}
	if strings.TrimSpace(to) != "" {
		d, err := time.Parse(time.DateOnly, strings.TrimSpace(to))
		if err != nil {
			return rng, fmt.Errorf("invalid to date %q (expected YYYY-MM-DD)", to)
		}
		rng.To = d
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && rng.To.Before(rng.From) {
		return rng, errors.New("to date precedes from date")
	}
	return rng, nil
}
