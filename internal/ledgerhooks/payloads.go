package ledgerhooks

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fleet-ledger/internal/events"
)

// Payload field names follow what the domain modules emit.

// PostingMeta carries the optional date and description every payload may set.
type PostingMeta struct {
	Date        string `json:"fecha" validate:"omitempty,datetime=2006-01-02"`
	Description string `json:"descripcion" validate:"max=500"`
}

// date returns the payload date, or the event's creation date when absent.
func (d PostingMeta) date(evt events.BusinessEvent) time.Time {
	if d.Date != "" {
		if t, err := time.Parse(time.DateOnly, d.Date); err == nil {
			return t
		}
	}
	return evt.CreatedAt
}

type expensePayload struct {
	PostingMeta
	Amount         decimal.Decimal `json:"monto"`
	ExpenseAccount string          `json:"cuentaContable" validate:"max=32"`
	PaymentAccount string          `json:"cuentaPago" validate:"max=32"`
}

type paymentPayload struct {
	PostingMeta
	Amount         decimal.Decimal `json:"monto"`
	PaymentAccount string          `json:"cuentaPago" validate:"max=32"`
}

type invoicePayload struct {
	PostingMeta
	Number        string          `json:"numero" validate:"max=64"`
	Amount        decimal.Decimal `json:"monto"`
	VAT           decimal.Decimal `json:"iva"`
	IncomeAccount string          `json:"cuentaIngreso" validate:"max=32"`
}

type shipmentPayload struct {
	PostingMeta
	Freight        decimal.Decimal `json:"costoFlete"`
	ExpenseAccount string          `json:"cuentaContable" validate:"max=32"`
}

type payrollPayload struct {
	PostingMeta
	Gross        decimal.Decimal `json:"totalBruto"`
	Withholdings decimal.Decimal `json:"retenciones"`
}

type contractPayload struct {
	PostingMeta
	Deposit decimal.Decimal `json:"deposito"`
}
