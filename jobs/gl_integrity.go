package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fleet-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/fleet-ledger/internal/jobs"
)

// ErrLedgerOutOfBalance is returned when the trial balance does not net to zero.
var ErrLedgerOutOfBalance = errors.New("jobs: ledger out of balance")

// TrialBalancer is implemented by *accounting.Service.
type TrialBalancer interface {
	TrialBalance(ctx context.Context, rng accounting.DateRange) (accounting.TrialBalance, error)
}

// IntegrityReport is the result of one integrity run.
type IntegrityReport struct {
	Year        int
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	Difference  decimal.Decimal
	Balanced    bool
}

// GLIntegrityJob verifies that the general ledger still balances for a year.
type GLIntegrityJob struct {
	ledger  TrialBalancer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(ledger TrialBalancer, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GLIntegrityJob{
		ledger:  ledger,
		logger:  logger,
		metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes TaskLedgerIntegrity.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.ledger == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics.Track(TaskLedgerIntegrity)
	defer func() {
		err = tracker.End(err)
	}()
	report, err := j.Check(ctx, payload.Year)
	if err != nil {
		return err
	}
	if !report.Balanced {
		// Retrying cannot fix a ledger that does not balance.
		return fmt.Errorf("%w: %s difference %s: %w", ErrLedgerOutOfBalance, yearLabel(report.Year), report.Difference.StringFixed(2), asynq.SkipRetry)
	}
	return nil
}

// Check recomputes the trial balance for year, or the current year when zero.
func (j *GLIntegrityJob) Check(ctx context.Context, year int) (IntegrityReport, error) {
	if year <= 0 {
		year = j.clock().Year()
	}
	rng := accounting.DateRange{
		From: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
	tb, err := j.ledger.TrialBalance(ctx, rng)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("gl integrity: trial balance: %w", err)
	}
	diff := tb.Net().Abs()
	if sides := tb.TotalDebit.Sub(tb.TotalCredit).Abs(); sides.GreaterThan(diff) {
		diff = sides
	}
	report := IntegrityReport{
		Year:        year,
		TotalDebit:  tb.TotalDebit,
		TotalCredit: tb.TotalCredit,
		Difference:  diff,
		Balanced:    tb.Balanced(),
	}
	j.metrics.SetImbalance(diff.InexactFloat64())
	logger := j.logger.With(slog.String("job", TaskLedgerIntegrity), slog.Int("year", year))
	if !report.Balanced {
		logger.Error("ledger out of balance",
			slog.String("total_debit", tb.TotalDebit.StringFixed(2)),
			slog.String("total_credit", tb.TotalCredit.StringFixed(2)),
			slog.String("difference", diff.StringFixed(2)))
		return report, nil
	}
	logger.Info("ledger integrity verified", slog.String("total", tb.TotalDebit.StringFixed(2)))
	return report, nil
}

func yearLabel(year int) string {
	return fmt.Sprintf("FY%d", year)
}
