package operations

import (
	"sort"
	"strings"
)

// ID is a dotted operation identifier such as "finance.expense.approve". The same
// value keys permission checks, event emission and handler matching.
type ID string

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Module returns the first path segment of the identifier.
func (id ID) Module() string {
	s := string(id)
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// Segments splits the identifier on dots.
func (id ID) Segments() []string {
	return strings.Split(string(id), ".")
}

// Fleet operations.
const (
	FleetContractCreate   ID = "fleet.contract.create"
	FleetContractActivate ID = "fleet.contract.activate"
	FleetContractClose    ID = "fleet.contract.close"
	FleetVehicleRegister  ID = "fleet.vehicle.register"
	FleetVehicleRetire    ID = "fleet.vehicle.retire"
)

// Finance operations.
const (
	FinanceExpenseCreate   ID = "finance.expense.create"
	FinanceExpenseApprove  ID = "finance.expense.approve"
	FinancePaymentRegister ID = "finance.payment.register"
	FinanceInvoiceIssue    ID = "finance.invoice.issue"
	FinanceInvoiceCancel   ID = "finance.invoice.cancel"
	FinanceBudgetCreate    ID = "finance.budget.create"
	FinanceJournalCreate   ID = "finance.journal.create"
	FinancePeriodClose     ID = "finance.period.close"
	FinancePeriodReopen    ID = "finance.period.reopen"
)

// Supply operations.
const (
	SupplyExpenseApprove   ID = "supply.expense.approve"
	SupplyShipmentDispatch ID = "supply.shipment.dispatch"
	SupplyShipmentReceive  ID = "supply.shipment.receive"
	SupplyPurchaseApprove  ID = "supply.purchase.approve"
)

// HR operations.
const (
	HREmployeeCreate    ID = "hr.employee.create"
	HREmployeeTerminate ID = "hr.employee.terminate"
	HRPayrollLiquidate  ID = "hr.payroll.liquidate"
)

var catalog = []ID{
	FleetContractCreate,
	FleetContractActivate,
	FleetContractClose,
	FleetVehicleRegister,
	FleetVehicleRetire,
	FinanceExpenseCreate,
	FinanceExpenseApprove,
	FinancePaymentRegister,
	FinanceInvoiceIssue,
	FinanceInvoiceCancel,
	FinanceBudgetCreate,
	FinanceJournalCreate,
	FinancePeriodClose,
	FinancePeriodReopen,
	SupplyExpenseApprove,
	SupplyShipmentDispatch,
	SupplyShipmentReceive,
	SupplyPurchaseApprove,
	HREmployeeCreate,
	HREmployeeTerminate,
	HRPayrollLiquidate,
}

var (
	known    = make(map[ID]struct{}, len(catalog))
	prefixes = make(map[string]struct{})
)

func init() {
	for _, id := range catalog {
		known[id] = struct{}{}
		segs := id.Segments()
		for i := 1; i <= len(segs); i++ {
			prefixes[strings.Join(segs[:i], ".")] = struct{}{}
		}
	}
}

// Catalog returns every known operation sorted lexically.
func Catalog() []ID {
	out := make([]ID, len(catalog))
	copy(out, catalog)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Known reports whether id belongs to the catalog.
func Known(id ID) bool {
	_, ok := known[id]
	return ok
}

// Modules returns the distinct first segments of the catalog.
func Modules() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range catalog {
		mod := id.Module()
		if _, ok := seen[mod]; ok {
			continue
		}
		seen[mod] = struct{}{}
		out = append(out, mod)
	}
	sort.Strings(out)
	return out
}
