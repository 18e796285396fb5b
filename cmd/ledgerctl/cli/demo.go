package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fleet-ledger/internal/accounting"
	"github.com/odyssey-erp/fleet-ledger/internal/events"
	"github.com/odyssey-erp/fleet-ledger/internal/ledgerhooks"
	"github.com/odyssey-erp/fleet-ledger/internal/operations"
	"github.com/odyssey-erp/fleet-ledger/internal/rbac"
)

// DemoOptions defines flags for the demo command.
type DemoOptions struct {
	Role    string
	Amount  string
	Account string
	Output
}

// expenseApproval is the result of the simulated supply mutation.
type expenseApproval struct {
	ID             string          `json:"id"`
	Amount         decimal.Decimal `json:"monto"`
	ExpenseAccount string          `json:"cuentaContable"`
	ApprovedBy     string          `json:"aprobadoPor"`
}

func (e expenseApproval) EventEntityID() string { return e.ID }

// DemoGrants are the role grants the demo gate is built with.
func DemoGrants() []rbac.Grant {
	return []rbac.Grant{
		{Role: "fleet-manager", Pattern: "supply.*", Level: rbac.LevelApprove},
		{Role: "fleet-manager", Pattern: "fleet.*", Level: rbac.LevelAdmin},
		{Role: "accountant", Pattern: "finance.*", Level: rbac.LevelApprove},
		{Role: "accountant", Pattern: "*", Level: rbac.LevelView},
		{Role: "driver", Pattern: "fleet.vehicle.*", Level: rbac.LevelView},
	}
}

// DemoCommand wires in-memory stores, approves one supply expense through the
// permission gate and the event bus, and prints the resulting ledger.
func DemoCommand(ctx context.Context, logger *slog.Logger, opts DemoOptions) int {
	out := opts.Output.withDefaults()
	amount, err := decimal.NewFromString(strings.TrimSpace(opts.Amount))
	if err != nil || !amount.IsPositive() {
		return out.fail("demo", fmt.Errorf("amount must be a positive decimal, got %q", opts.Amount))
	}

	ledger := accounting.NewService(accounting.NewMemoryRepository(), logger)
	if _, err := ledgerhooks.SeedChart(ctx, ledger); err != nil {
		return out.fail("demo", err)
	}
	store := events.NewMemoryStore()
	bus := events.NewBus(store, logger)
	if err := ledgerhooks.NewHooks(ledger, ledgerhooks.DefaultMappings(), logger).Register(bus); err != nil {
		return out.fail("demo", err)
	}
	policy, err := rbac.NewStaticPolicy(DemoGrants()...)
	if err != nil {
		return out.fail("demo", err)
	}
	gate := rbac.NewGate(policy, nil, logger)

	if err := gate.Require(ctx, operations.SupplyExpenseApprove, rbac.LevelApprove, opts.Role); err != nil {
		if errors.Is(err, rbac.ErrPermissionDenied) {
			_, _ = fmt.Fprintf(out.Stdout, "DENY %v\n", err)
			return ExitFlagged
		}
		return out.fail("demo", err)
	}

	approval, err := events.WithEvent(ctx, bus, events.EventSpec{
		OperationID: operations.SupplyExpenseApprove,
		EntityType:  "expense",
	}, func(context.Context) (expenseApproval, error) {
		return expenseApproval{ID: "EXP-DEMO-1", Amount: amount, ExpenseAccount: opts.Account, ApprovedBy: opts.Role}, nil
	})
	if err != nil {
		return out.fail("demo", err)
	}
	_, _ = fmt.Fprintf(out.Stdout, "approved %s for %s by %s\n", approval.ID, approval.Amount.StringFixed(2), approval.ApprovedBy)
	for _, log := range store.Logs() {
		_, _ = fmt.Fprintf(out.Stdout, "event %s: %d handler(s) invoked, %d failed\n", log.OperationID, log.HandlersInvoked, log.HandlersFailed)
	}

	lc, err := NewLedgerCLI(ledger)
	if err != nil {
		return out.fail("demo", err)
	}
	return lc.TrialBalanceCommand(ctx, TrialBalanceOptions{Output: out})
}
