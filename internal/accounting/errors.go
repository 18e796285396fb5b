package accounting

import (
	"errors"
	"fmt"
)

// Reason is the machine-checkable code attached to ledger rejections.
type Reason string

const (
	ReasonValidation         Reason = "validation"
	ReasonImbalance          Reason = "imbalance"
	ReasonClosedPeriod       Reason = "closed_period"
	ReasonNonPostableAccount Reason = "non_postable_account"
)

var (
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("accounting: invalid input")
	// ErrLedgerImbalance indicates debit != credit.
	ErrLedgerImbalance = errors.New("accounting: journal lines must balance")
	// ErrPeriodClosed indicates the entry date falls in a closed period.
	ErrPeriodClosed = errors.New("accounting: period is closed")
	// ErrAccountNotPostable indicates a line against a non-leaf or inactive account.
	ErrAccountNotPostable = errors.New("accounting: account does not accept movements")

	// ErrAccountNotFound indicates a missing account.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrAccountCodeTaken indicates a duplicate account code.
	ErrAccountCodeTaken = errors.New("accounting: account code already exists")
	// ErrParentNotFound indicates the parent code does not resolve.
	ErrParentNotFound = errors.New("accounting: parent account not found")
	// ErrParentHasMovements indicates a posted leaf cannot become a parent.
	ErrParentHasMovements = errors.New("accounting: parent account already has movements")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrPeriodNotFound indicates missing period.
	ErrPeriodNotFound = errors.New("accounting: period not found")
	// ErrPeriodAlreadyClosed indicates a close on a closed period.
	ErrPeriodAlreadyClosed = errors.New("accounting: period already closed")
	// ErrPeriodNotClosed indicates a reopen on an open period.
	ErrPeriodNotClosed = errors.New("accounting: period is not closed")
	// ErrReopenOutOfOrder indicates a newer period is still closed.
	ErrReopenOutOfOrder = errors.New("accounting: only the most recently closed period can be reopened")
)

var reasonSentinels = map[Reason]error{
	ReasonValidation:         ErrValidation,
	ReasonImbalance:          ErrLedgerImbalance,
	ReasonClosedPeriod:       ErrPeriodClosed,
	ReasonNonPostableAccount: ErrAccountNotPostable,
}

// LedgerError is a rejection surfaced to the caller with a reason code.
type LedgerError struct {
	Reason Reason
	Detail string
}

func newLedgerError(reason Reason, detail string) *LedgerError {
	return &LedgerError{Reason: reason, Detail: detail}
}

func (e *LedgerError) Error() string {
	base := reasonSentinels[e.Reason]
	if base == nil {
		return fmt.Sprintf("accounting: %s: %s", e.Reason, e.Detail)
	}
	if e.Detail == "" {
		return base.Error()
	}
	return fmt.Sprintf("%s: %s", base.Error(), e.Detail)
}

// Unwrap exposes the sentinel so callers can use errors.Is.
func (e *LedgerError) Unwrap() error {
	return reasonSentinels[e.Reason]
}

// ReasonOf extracts the reason code from err, or "" when err is not a ledger rejection.
func ReasonOf(err error) Reason {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Reason
	}
	return ""
}
