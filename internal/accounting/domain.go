package accounting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// NormalBalance is the side on which an account type grows.
type NormalBalance int

const (
	NormalDebit NormalBalance = iota + 1
	NormalCredit
)

var normalBalances = map[AccountType]NormalBalance{
	AccountTypeAsset:     NormalDebit,
	AccountTypeExpense:   NormalDebit,
	AccountTypeLiability: NormalCredit,
	AccountTypeEquity:    NormalCredit,
	AccountTypeIncome:    NormalCredit,
}

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	_, ok := normalBalances[t]
	return ok
}

// NormalBalance returns the normal side for the account type. Every balance
// computation in the ledger goes through this table.
func (t AccountType) NormalBalance() NormalBalance {
	return normalBalances[t]
}

// Signed applies the normal-balance convention to raw movement totals.
func (t AccountType) Signed(debit, credit decimal.Decimal) decimal.Decimal {
	if t.NormalBalance() == NormalCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// ParseAccountType normalises user supplied type names.
func ParseAccountType(raw string) (AccountType, error) {
	t := AccountType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", newLedgerError(ReasonValidation, fmt.Sprintf("unknown account type %q", raw))
	}
	return t, nil
}

// EntryType classifies journal entries.
type EntryType string

const (
	EntryTypeStandard   EntryType = "STANDARD"
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
	EntryTypeOpening    EntryType = "OPENING"
	EntryTypeClosing    EntryType = "CLOSING"
	EntryTypeReversal   EntryType = "REVERSAL"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeStandard, EntryTypeAdjustment, EntryTypeOpening, EntryTypeClosing, EntryTypeReversal:
		return true
	}
	return false
}

// Account models a chart of accounts node.
type Account struct {
	ID               int64
	Code             string
	Name             string
	Type             AccountType
	Level            int
	ParentID         *int64
	AcceptsMovements bool
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Postable reports whether lines may be booked against the account.
func (a Account) Postable() bool {
	return a.AcceptsMovements && a.IsActive
}

// Period represents a calendar month that can be closed to postings.
type Period struct {
	ID        int64
	Year      int
	Month     time.Month
	Closed    bool
	ClosedAt  *time.Time
	ClosedBy  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Code renders the period as YYYY-MM.
func (p Period) Code() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// After reports whether p is chronologically later than other.
func (p Period) After(other Period) bool {
	if p.Year != other.Year {
		return p.Year > other.Year
	}
	return p.Month > other.Month
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID          int64
	Number      int64
	Date        time.Time
	Type        EntryType
	Description string
	PeriodID    *int64
	CreatedAt   time.Time
	Lines       []JournalLine
}

// TotalDebit sums the debit side.
func (e JournalEntry) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

// TotalCredit sums the credit side.
func (e JournalEntry) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Credit)
	}
	return total
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID        int64
	EntryID   int64
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// DateRange bounds balance queries. Zero bounds are open; both ends are inclusive.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether date falls inside the range.
func (r DateRange) Contains(date time.Time) bool {
	d := DateOnly(date)
	if !r.From.IsZero() && d.Before(DateOnly(r.From)) {
		return false
	}
	if !r.To.IsZero() && d.After(DateOnly(r.To)) {
		return false
	}
	return true
}

// Movement aggregates debit and credit totals for one account.
type Movement struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// AmountScale is the number of decimal places journal amounts are stored with.
// It matches the NUMERIC(20,4) columns of journal_lines.
const AmountScale = 4

// LineInput describes a journal line for posting request.
type LineInput struct {
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Debit builds a debit line.
func Debit(accountID int64, amount decimal.Decimal) LineInput {
	return LineInput{AccountID: accountID, Debit: amount}
}

// Credit builds a credit line.
func Credit(accountID int64, amount decimal.Decimal) LineInput {
	return LineInput{AccountID: accountID, Credit: amount}
}

// CreateEntryInput groups fields required to create a journal entry.
type CreateEntryInput struct {
	Date        time.Time `validate:"required"`
	Type        EntryType
	Description string `validate:"max=500"`
	Lines       []LineInput
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID     int64     `validate:"required"`
	Date        time.Time `validate:"required"`
	Description string    `validate:"max=500"`
}

// CreateAccountInput captures a new chart of accounts node.
type CreateAccountInput struct {
	Code       string      `validate:"required,max=32"`
	Name       string      `validate:"required,max=200"`
	Type       AccountType `validate:"required"`
	ParentCode string      `validate:"max=32"`
	// Aggregate creates a roll-up account that never accepts movements.
	Aggregate bool
}

// PeriodInput addresses a single accounting period.
type PeriodInput struct {
	Year    int `validate:"required,min=1900,max=9999"`
	Month   int `validate:"required,min=1,max=12"`
	ActorID int64
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
