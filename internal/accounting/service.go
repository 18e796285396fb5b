package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// RejectionRecorder observes ledger rejections by reason code.
type RejectionRecorder interface {
	LedgerRejected(reason string)
}

// Service coordinates the chart of accounts, journal postings and periods.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	validate *validator.Validate
	metrics  RejectionRecorder
	now      func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, validate: validator.New(), now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches a rejection recorder.
func (s *Service) WithMetrics(m RejectionRecorder) {
	s.metrics = m
}

func (s *Service) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return newLedgerError(ReasonValidation, strings.Join(fields, "; "))
		}
		return newLedgerError(ReasonValidation, err.Error())
	}
	return nil
}

// CreateAccount adds a node to the chart of accounts. A new account is a postable
// leaf unless Aggregate is set; its parent stops accepting movements.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.ParentCode = strings.TrimSpace(in.ParentCode)
	if err := s.validateStruct(in); err != nil {
		return Account{}, err
	}
	if !in.Type.Valid() {
		return Account{}, newLedgerError(ReasonValidation, fmt.Sprintf("unknown account type %q", in.Type))
	}
	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccountByCode(ctx, in.Code); err == nil {
			return fmt.Errorf("%w: %s", ErrAccountCodeTaken, in.Code)
		} else if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		account := Account{
			Code:             in.Code,
			Name:             in.Name,
			Type:             in.Type,
			Level:            1,
			AcceptsMovements: !in.Aggregate,
			IsActive:         true,
		}
		if in.ParentCode != "" {
			parent, err := tx.GetAccountByCode(ctx, in.ParentCode)
			if err != nil {
				if errors.Is(err, ErrAccountNotFound) {
					return fmt.Errorf("%w: %s", ErrParentNotFound, in.ParentCode)
				}
				return err
			}
			if parent.AcceptsMovements {
				moved, err := tx.AccountHasMovements(ctx, parent.ID)
				if err != nil {
					return err
				}
				if moved {
					return fmt.Errorf("%w: %s", ErrParentHasMovements, parent.Code)
				}
				parent.AcceptsMovements = false
				parent.UpdatedAt = s.now()
				if err := tx.UpdateAccount(ctx, parent); err != nil {
					return err
				}
			}
			account.ParentID = &parent.ID
			account.Level = parent.Level + 1
		}
		inserted, err := tx.InsertAccount(ctx, account)
		if err != nil {
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.logger.Info("account created", slog.String("code", created.Code), slog.Bool("postable", created.AcceptsMovements))
	return created, nil
}

// RenameAccount updates the display name.
func (s *Service) RenameAccount(ctx context.Context, id int64, name string) (Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Account{}, newLedgerError(ReasonValidation, "name required")
	}
	return s.mutateAccount(ctx, id, func(a *Account) { a.Name = name })
}

// DeactivateAccount hides the account from default reads and blocks postings.
// Accounts are never removed so historical balances remain computable.
func (s *Service) DeactivateAccount(ctx context.Context, id int64) (Account, error) {
	return s.mutateAccount(ctx, id, func(a *Account) { a.IsActive = false })
}

// ReactivateAccount reverses DeactivateAccount.
func (s *Service) ReactivateAccount(ctx context.Context, id int64) (Account, error) {
	return s.mutateAccount(ctx, id, func(a *Account) { a.IsActive = true })
}

func (s *Service) mutateAccount(ctx context.Context, id int64, mutate func(*Account)) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		mutate(&current)
		current.UpdatedAt = s.now()
		if err := tx.UpdateAccount(ctx, current); err != nil {
			return err
		}
		account = current
		return nil
	})
	return account, err
}

// ListAccounts returns the chart ordered by code. Inactive accounts are only
// included on request.
func (s *Service) ListAccounts(ctx context.Context, includeInactive bool) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, includeInactive)
		return err
	})
	return accounts, err
}

// GetAccountByCode resolves an account by its chart code.
func (s *Service) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccountByCode(ctx, strings.TrimSpace(code))
		return err
	})
	return account, err
}

// CreateJournalEntry validates and persists a balanced entry. Checks run in order:
// lines present and well formed, debit equals credit, every account postable, and
// the date outside any closed period. The period check runs inside the same
// transaction that inserts the lines.
func (s *Service) CreateJournalEntry(ctx context.Context, in CreateEntryInput) (JournalEntry, error) {
	entry, err := s.createEntry(ctx, in)
	if err != nil {
		if reason := ReasonOf(err); reason != "" {
			if s.metrics != nil {
				s.metrics.LedgerRejected(string(reason))
			}
			s.logger.Warn("journal entry rejected", slog.String("reason", string(reason)), slog.Any("error", err))
		}
		return JournalEntry{}, err
	}
	s.logger.Info("journal entry created",
		slog.Int64("number", entry.Number),
		slog.String("type", string(entry.Type)),
		slog.String("date", entry.Date.Format(time.DateOnly)),
		slog.String("amount", entry.TotalDebit().StringFixed(2)),
	)
	return entry, nil
}

func (s *Service) createEntry(ctx context.Context, in CreateEntryInput) (JournalEntry, error) {
	if err := s.validateStruct(in); err != nil {
		return JournalEntry{}, err
	}
	if in.Type == "" {
		in.Type = EntryTypeStandard
	}
	if !in.Type.Valid() {
		return JournalEntry{}, newLedgerError(ReasonValidation, fmt.Sprintf("unknown entry type %q", in.Type))
	}
	if err := validateLines(in.Lines); err != nil {
		return JournalEntry{}, err
	}
	date := DateOnly(in.Date)
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids := make([]int64, 0, len(in.Lines))
		for _, line := range in.Lines {
			ids = append(ids, line.AccountID)
		}
		accounts, err := tx.GetAccountsByIDs(ctx, ids)
		if err != nil {
			return err
		}
		for idx, line := range in.Lines {
			account, ok := accounts[line.AccountID]
			switch {
			case !ok:
				return newLedgerError(ReasonNonPostableAccount, fmt.Sprintf("line %d: account %d not found", idx, line.AccountID))
			case !account.IsActive:
				return newLedgerError(ReasonNonPostableAccount, fmt.Sprintf("line %d: account %s is inactive", idx, account.Code))
			case !account.AcceptsMovements:
				return newLedgerError(ReasonNonPostableAccount, fmt.Sprintf("line %d: account %s is an aggregation account", idx, account.Code))
			}
		}
		period, err := tx.EnsurePeriodForUpdate(ctx, date.Year(), date.Month())
		if err != nil {
			return err
		}
		if period.Closed {
			return newLedgerError(ReasonClosedPeriod, fmt.Sprintf("%s is closed", period.Code()))
		}
		inserted, err := tx.InsertJournalEntry(ctx, JournalEntry{
			Date:        date,
			Type:        in.Type,
			Description: strings.TrimSpace(in.Description),
			PeriodID:    &period.ID,
		})
		if err != nil {
			return err
		}
		lines, err := tx.InsertJournalLines(ctx, inserted.ID, in.Lines)
		if err != nil {
			return err
		}
		inserted.Lines = lines
		entry = inserted
		return nil
	})
	return entry, err
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return newLedgerError(ReasonValidation, "journal requires at least one line")
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range lines {
		if line.AccountID == 0 {
			return newLedgerError(ReasonValidation, fmt.Sprintf("line %d missing account", idx))
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return newLedgerError(ReasonValidation, fmt.Sprintf("line %d negative amount", idx))
		}
		if !line.Debit.IsZero() && !line.Credit.IsZero() {
			return newLedgerError(ReasonValidation, fmt.Sprintf("line %d cannot be both debit and credit", idx))
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return newLedgerError(ReasonValidation, fmt.Sprintf("line %d has no amount", idx))
		}
		if !fitsScale(line.Debit) || !fitsScale(line.Credit) {
			return newLedgerError(ReasonValidation, fmt.Sprintf("line %d has more than %d decimal places", idx, AmountScale))
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return newLedgerError(ReasonImbalance, fmt.Sprintf("debit=%s credit=%s", debit.String(), credit.String()))
	}
	return nil
}

func fitsScale(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(AmountScale))
}

// ReverseJournalEntry books a new entry that offsets the original line by line.
// The original is never modified.
func (s *Service) ReverseJournalEntry(ctx context.Context, in ReverseInput) (JournalEntry, error) {
	if err := s.validateStruct(in); err != nil {
		return JournalEntry{}, err
	}
	var original JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		original, err = tx.GetJournalWithLines(ctx, in.EntryID)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	lines := make([]LineInput, 0, len(original.Lines))
	for _, line := range original.Lines {
		lines = append(lines, LineInput{AccountID: line.AccountID, Debit: line.Credit, Credit: line.Debit})
	}
	memo := in.Description
	if memo == "" {
		memo = fmt.Sprintf("Reversal of entry %d", original.Number)
	}
	return s.CreateJournalEntry(ctx, CreateEntryInput{
		Date:        in.Date,
		Type:        EntryTypeReversal,
		Description: memo,
		Lines:       lines,
	})
}

// GetJournalEntry loads an entry with its lines.
func (s *Service) GetJournalEntry(ctx context.Context, id int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetJournalWithLines(ctx, id)
		return err
	})
	return entry, err
}

// GetAccountBalance returns the signed balance of the account over the range,
// using the normal-balance convention of its type. Aggregation accounts roll up
// every descendant. Inactive accounts still report their history.
func (s *Service) GetAccountBalance(ctx context.Context, accountID int64, rng DateRange) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		ids := []int64{account.ID}
		if !account.AcceptsMovements {
			all, err := tx.ListAccounts(ctx, true)
			if err != nil {
				return err
			}
			ids = descendants(all, account.ID)
		}
		movement, err := tx.SumMovements(ctx, ids, rng)
		if err != nil {
			return err
		}
		balance = account.Type.Signed(movement.Debit, movement.Credit)
		return nil
	})
	return balance, err
}

func descendants(all []Account, rootID int64) []int64 {
	children := make(map[int64][]int64, len(all))
	for _, a := range all {
		if a.ParentID != nil {
			children[*a.ParentID] = append(children[*a.ParentID], a.ID)
		}
	}
	out := []int64{rootID}
	queue := []int64{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range children[id] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// TrialBalance aggregates movements per account over the range.
func (s *Service) TrialBalance(ctx context.Context, rng DateRange) (TrialBalance, error) {
	var tb TrialBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.ListAccounts(ctx, true)
		if err != nil {
			return err
		}
		movements, err := tx.SumMovementsByAccount(ctx, rng)
		if err != nil {
			return err
		}
		tb = BuildTrialBalance(accounts, movements)
		return nil
	})
	return tb, err
}

// EnsurePeriod returns the period for year/month, creating it open if absent.
func (s *Service) EnsurePeriod(ctx context.Context, in PeriodInput) (Period, error) {
	if err := s.validateStruct(in); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = tx.EnsurePeriodForUpdate(ctx, in.Year, time.Month(in.Month))
		return err
	})
	return period, err
}

// ClosePeriod blocks further postings dated inside the period.
func (s *Service) ClosePeriod(ctx context.Context, in PeriodInput) (Period, error) {
	if err := s.validateStruct(in); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.EnsurePeriodForUpdate(ctx, in.Year, time.Month(in.Month))
		if err != nil {
			return err
		}
		if current.Closed {
			return fmt.Errorf("%w: %s", ErrPeriodAlreadyClosed, current.Code())
		}
		now := s.now()
		current.Closed = true
		current.ClosedAt = &now
		if in.ActorID != 0 {
			actor := in.ActorID
			current.ClosedBy = &actor
		}
		current.UpdatedAt = now
		if err := tx.UpdatePeriod(ctx, current); err != nil {
			return err
		}
		period = current
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.logger.Info("period closed", slog.String("period", period.Code()), slog.Int64("actor_id", in.ActorID))
	return period, nil
}

// ReopenPeriod reopens a closed period. Closed periods reopen in stack order:
// only the latest closed period system-wide may be reopened.
func (s *Service) ReopenPeriod(ctx context.Context, in PeriodInput) (Period, error) {
	if err := s.validateStruct(in); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPeriodForUpdate(ctx, in.Year, time.Month(in.Month))
		if err != nil {
			return err
		}
		if !current.Closed {
			return fmt.Errorf("%w: %s", ErrPeriodNotClosed, current.Code())
		}
		latest, err := tx.LatestClosedPeriod(ctx)
		if err != nil {
			return err
		}
		if latest.ID != current.ID {
			return fmt.Errorf("%w: %s is still closed", ErrReopenOutOfOrder, latest.Code())
		}
		current.Closed = false
		current.ClosedAt = nil
		current.ClosedBy = nil
		current.UpdatedAt = s.now()
		if err := tx.UpdatePeriod(ctx, current); err != nil {
			return err
		}
		period = current
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.logger.Info("period reopened", slog.String("period", period.Code()), slog.Int64("actor_id", in.ActorID))
	return period, nil
}

// ListPeriods returns all periods, oldest first.
func (s *Service) ListPeriods(ctx context.Context) ([]Period, error) {
	var periods []Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		periods, err = tx.ListPeriods(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(periods, func(i, j int) bool { return periods[j].After(periods[i]) })
	return periods, nil
}
