package ledgerhooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/fleet-ledger/internal/accounting"
)

// Mappings holds the account codes the handlers post to when the payload does not
// name one.
type Mappings struct {
	Cash                string
	Receivable          string
	Payable             string
	OperatingExpense    string
	FreightExpense      string
	SalariesExpense     string
	SalariesPayable     string
	WithholdingsPayable string
	VATPayable          string
	RentalIncome        string
	DeferredIncome      string
}

// DefaultMappings points at the codes created by DefaultChart.
func DefaultMappings() Mappings {
	return Mappings{
		Cash:                "1.1.01",
		Receivable:          "1.2",
		Payable:             "2.1",
		OperatingExpense:    "5.1",
		FreightExpense:      "5.2",
		SalariesExpense:     "5.3",
		SalariesPayable:     "2.2",
		WithholdingsPayable: "2.3",
		VATPayable:          "2.4",
		RentalIncome:        "4.1",
		DeferredIncome:      "2.5",
	}
}

// WithDefaults fills blank codes from DefaultMappings.
func (m Mappings) WithDefaults() Mappings {
	d := DefaultMappings()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&m.Cash, d.Cash)
	fill(&m.Receivable, d.Receivable)
	fill(&m.Payable, d.Payable)
	fill(&m.OperatingExpense, d.OperatingExpense)
	fill(&m.FreightExpense, d.FreightExpense)
	fill(&m.SalariesExpense, d.SalariesExpense)
	fill(&m.SalariesPayable, d.SalariesPayable)
	fill(&m.WithholdingsPayable, d.WithholdingsPayable)
	fill(&m.VATPayable, d.VATPayable)
	fill(&m.RentalIncome, d.RentalIncome)
	fill(&m.DeferredIncome, d.DeferredIncome)
	return m
}

// DefaultChart is the starter chart of accounts for a fleet-rental company.
// Parents precede their children.
func DefaultChart() []accounting.CreateAccountInput {
	return []accounting.CreateAccountInput{
		{Code: "1", Name: "Assets", Type: accounting.AccountTypeAsset, Aggregate: true},
		{Code: "1.1", Name: "Cash and banks", Type: accounting.AccountTypeAsset, ParentCode: "1", Aggregate: true},
		{Code: "1.1.01", Name: "Cash on hand", Type: accounting.AccountTypeAsset, ParentCode: "1.1"},
		{Code: "1.1.02", Name: "Bank accounts", Type: accounting.AccountTypeAsset, ParentCode: "1.1"},
		{Code: "1.2", Name: "Rental receivables", Type: accounting.AccountTypeAsset, ParentCode: "1"},
		{Code: "1.3", Name: "Fleet vehicles", Type: accounting.AccountTypeAsset, ParentCode: "1"},
		{Code: "2", Name: "Liabilities", Type: accounting.AccountTypeLiability, Aggregate: true},
		{Code: "2.1", Name: "Accounts payable", Type: accounting.AccountTypeLiability, ParentCode: "2"},
		{Code: "2.2", Name: "Salaries payable", Type: accounting.AccountTypeLiability, ParentCode: "2"},
		{Code: "2.3", Name: "Withholdings payable", Type: accounting.AccountTypeLiability, ParentCode: "2"},
		{Code: "2.4", Name: "VAT payable", Type: accounting.AccountTypeLiability, ParentCode: "2"},
		{Code: "2.5", Name: "Customer deposits", Type: accounting.AccountTypeLiability, ParentCode: "2"},
		{Code: "3", Name: "Equity", Type: accounting.AccountTypeEquity, Aggregate: true},
		{Code: "3.1", Name: "Share capital", Type: accounting.AccountTypeEquity, ParentCode: "3"},
		{Code: "4", Name: "Income", Type: accounting.AccountTypeIncome, Aggregate: true},
		{Code: "4.1", Name: "Rental income", Type: accounting.AccountTypeIncome, ParentCode: "4"},
		{Code: "5", Name: "Expenses", Type: accounting.AccountTypeExpense, Aggregate: true},
		{Code: "5.1", Name: "Operating expenses", Type: accounting.AccountTypeExpense, ParentCode: "5"},
		{Code: "5.2", Name: "Freight", Type: accounting.AccountTypeExpense, ParentCode: "5"},
		{Code: "5.3", Name: "Salaries and wages", Type: accounting.AccountTypeExpense, ParentCode: "5"},
	}
}

// ChartWriter creates accounts.
type ChartWriter interface {
	CreateAccount(ctx context.Context, in accounting.CreateAccountInput) (accounting.Account, error)
}

// SeedChart creates every DefaultChart account that does not exist yet and
// returns how many were created.
func SeedChart(ctx context.Context, w ChartWriter) (int, error) {
	created := 0
	for _, in := range DefaultChart() {
		_, err := w.CreateAccount(ctx, in)
		if errors.Is(err, accounting.ErrAccountCodeTaken) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed account %s: %w", in.Code, err)
		}
		created++
	}
	return created, nil
}
