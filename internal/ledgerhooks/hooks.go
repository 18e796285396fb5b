package ledgerhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fleet-ledger/internal/accounting"
	"github.com/odyssey-erp/fleet-ledger/internal/events"
	"github.com/odyssey-erp/fleet-ledger/internal/operations"
)

// Priority runs ledger postings after handlers registered with lower values.
const Priority = 100

// ErrInvalidPayload indicates an event payload the handler cannot post.
var ErrInvalidPayload = errors.New("ledgerhooks: invalid payload")

// Ledger exposes the posting operations the handlers need.
type Ledger interface {
	CreateJournalEntry(ctx context.Context, in accounting.CreateEntryInput) (accounting.JournalEntry, error)
	GetAccountByCode(ctx context.Context, code string) (accounting.Account, error)
}

// Registrar is satisfied by *events.Bus.
type Registrar interface {
	Register(pattern, name string, priority int, handler events.HandlerFunc) error
}

// Hooks turns business events from every domain namespace into journal entries.
type Hooks struct {
	ledger   Ledger
	mappings Mappings
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHooks constructs the accounting handlers. Blank mapping codes fall back to
// DefaultMappings.
func NewHooks(ledger Ledger, mappings Mappings, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{ledger: ledger, mappings: mappings.WithDefaults(), logger: logger, validate: validator.New()}
}

type binding struct {
	id     operations.ID
	handle func(context.Context, events.BusinessEvent) error
}

func (h *Hooks) bindings() []binding {
	return []binding{
		{operations.FinanceExpenseApprove, h.handleExpense},
		{operations.FinancePaymentRegister, h.handlePayment},
		{operations.FinanceInvoiceIssue, h.handleInvoice},
		{operations.SupplyExpenseApprove, h.handleExpense},
		{operations.SupplyShipmentDispatch, h.handleShipment},
		{operations.HRPayrollLiquidate, h.handlePayroll},
		{operations.FleetContractActivate, h.handleContractDeposit},
	}
}

// Register subscribes every handler on the bus.
func (h *Hooks) Register(bus Registrar) error {
	for _, b := range h.bindings() {
		if err := bus.Register(string(b.id), HandlerName(b.id), Priority, b.handle); err != nil {
			return fmt.Errorf("register %s: %w", b.id, err)
		}
	}
	return nil
}

// HandlerName is the bus name of the ledger handler for id.
func HandlerName(id operations.ID) string {
	return "ledger." + string(id)
}

// Operations lists the operation ids that produce journal entries.
func (h *Hooks) Operations() []operations.ID {
	bs := h.bindings()
	out := make([]operations.ID, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.id)
	}
	return out
}

func (h *Hooks) decode(evt events.BusinessEvent, dest any) error {
	if err := evt.DecodePayload(dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := h.validate.Struct(dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (h *Hooks) resolveAccount(ctx context.Context, override, fallback string) (int64, error) {
	code := strings.TrimSpace(override)
	if code == "" {
		code = fallback
	}
	account, err := h.ledger.GetAccountByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("ledgerhooks: resolve account %s: %w", code, err)
	}
	return account.ID, nil
}

type posting struct {
	debit  []leg
	credit []leg
}

type leg struct {
	override string
	fallback string
	amount   decimal.Decimal
}

func (h *Hooks) post(ctx context.Context, evt events.BusinessEvent, date time.Time, description string, p posting) error {
	lines := make([]accounting.LineInput, 0, len(p.debit)+len(p.credit))
	for _, l := range p.debit {
		if l.amount.IsZero() {
			continue
		}
		id, err := h.resolveAccount(ctx, l.override, l.fallback)
		if err != nil {
			return err
		}
		lines = append(lines, accounting.Debit(id, l.amount))
	}
	for _, l := range p.credit {
		if l.amount.IsZero() {
			continue
		}
		id, err := h.resolveAccount(ctx, l.override, l.fallback)
		if err != nil {
			return err
		}
		lines = append(lines, accounting.Credit(id, l.amount))
	}
	if description == "" {
		description = fmt.Sprintf("%s %s", evt.OperationID, evt.EntityID)
	}
	entry, err := h.ledger.CreateJournalEntry(ctx, accounting.CreateEntryInput{
		Date:        date,
		Type:        accounting.EntryTypeStandard,
		Description: description,
		Lines:       lines,
	})
	if err != nil {
		return err
	}
	h.logger.Info("event posted to ledger",
		slog.String("operation_id", string(evt.OperationID)),
		slog.String("entity_id", evt.EntityID),
		slog.Int64("entry_number", entry.Number))
	return nil
}

// handleExpense serves both finance and supply approvals: debit the expense
// account, credit the account the expense was paid from.
func (h *Hooks) handleExpense(ctx context.Context, evt events.BusinessEvent) error {
	var p expensePayload
	if err := h.decode(evt, &p); err != nil {
		return err
	}
	if p.Amount.IsZero() {
		return nil
	}
	if err := requirePositive("monto", p.Amount); err != nil {
		return err
	}
	return h.post(ctx, evt, p.date(evt), p.Description, posting{
		debit:  []leg{{p.ExpenseAccount, h.mappings.OperatingExpense, p.Amount}},
		credit: []leg{{p.PaymentAccount, h.mappings.Cash, p.Amount}},
	})
}

func (h *Hooks) handlePayment(ctx context.Context, evt events.BusinessEvent) error {
	var p paymentPayload
	if err := h.decode(evt, &p); err != nil {
		return err
	}
	if p.Amount.IsZero() {
		return nil
	}
	if err := requirePositive("monto", p.Amount); err != nil {
		return err
	}
	return h.post(ctx, evt, p.date(evt), p.Description, posting{
		debit:  []leg{{p.PaymentAccount, h.mappings.Cash, p.Amount}},
		credit: []leg{{"", h.mappings.Receivable, p.Amount}},
	})
}

func (h *Hooks) handleInvoice(ctx context.Context, evt events.BusinessEvent) error {
	var p invoicePayload
	if err := h.decode(evt, &p); err != nil {
		return err
	}
	if p.Amount.IsZero() && p.VAT.IsZero() {
		return nil
	}
	if err := requirePositive("monto", p.Amount); err != nil {
		return err
	}
	if err := requirePositive("iva", p.VAT); err != nil {
		return err
	}
	description := p.Description
	if description == "" && p.Number != "" {
		description = "Invoice " + p.Number
	}
	return h.post(ctx, evt, p.date(evt), description, posting{
		debit: []leg{{"", h.mappings.Receivable, p.Amount.Add(p.VAT)}},
		credit: []leg{
			{p.IncomeAccount, h.mappings.RentalIncome, p.Amount},
			{"", h.mappings.VATPayable, p.VAT},
		},
	})
}

func (h *Hooks) handleShipment(ctx context.Context, evt events.BusinessEvent) error {
	var p shipmentPayload
	if err := h.decode(evt, &p); err != nil {
		return err
	}
	if p.Freight.IsZero() {
		return nil
	}
	if err := requirePositive("costoFlete", p.Freight); err != nil {
		return err
	}
	return h.post(ctx, evt, p.date(evt), p.Description, posting{
		debit:  []leg{{p.ExpenseAccount, h.mappings.FreightExpense, p.Freight}},
		credit: []leg{{"", h.mappings.Payable, p.Freight}},
	})
}

func (h *Hooks) handlePayroll(ctx context.Context, evt events.BusinessEvent) error {
	var p payrollPayload
	if err := h.decode(evt, &p); err != nil {
		return err
	}
	if p.Gross.IsZero() {
		return nil
	}
	if err := requirePositive("totalBruto", p.Gross); err != nil {
		return err
	}
	if err := requirePositive("retenciones", p.Withholdings); err != nil {
		return err
	}
	if p.Withholdings.GreaterThan(p.Gross) {
		return fmt.Errorf("%w: retenciones exceed totalBruto", ErrInvalidPayload)
	}
	return h.post(ctx, evt, p.date(evt), p.Description, posting{
		debit: []leg{{"", h.mappings.SalariesExpense, p.Gross}},
		credit: []leg{
			{"", h.mappings.SalariesPayable, p.Gross.Sub(p.Withholdings)},
			{"", h.mappings.WithholdingsPayable, p.Withholdings},
		},
	})
}

func (h *Hooks) handleContractDeposit(ctx context.Context, evt events.BusinessEvent) error {
	var p contractPayload
	if err := h.decode(evt, &p); err != nil {
		return err
	}
	if p.Deposit.IsZero() {
		return nil
	}
	if err := requirePositive("deposito", p.Deposit); err != nil {
		return err
	}
	return h.post(ctx, evt, p.date(evt), p.Description, posting{
		debit:  []leg{{"", h.mappings.Receivable, p.Deposit}},
		credit: []leg{{"", h.mappings.DeferredIncome, p.Deposit}},
	})
}

func requirePositive(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidPayload, field)
	}
	return nil
}
