package ledgerhooks

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fleet-ledger/internal/accounting"
	"github.com/odyssey-erp/fleet-ledger/internal/events"
	"github.com/odyssey-erp/fleet-ledger/internal/operations"
	_ "github.com/odyssey-erp/fleet-ledger/testing"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ledger *accounting.Service
	repo   *accounting.MemoryRepository
	bus    *events.Bus
	store  *events.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	repo := accounting.NewMemoryRepository()
	ledger := accounting.NewService(repo, nil)
	ledger.WithNow(func() time.Time { return testNow })
	created, err := SeedChart(ctx, ledger)
	require.NoError(t, err)
	require.Equal(t, len(DefaultChart()), created)

	store := events.NewMemoryStore()
	bus := events.NewBus(store, nil)
	bus.WithNow(func() time.Time { return testNow })
	require.NoError(t, NewHooks(ledger, Mappings{}, nil).Register(bus))
	return fixture{ledger: ledger, repo: repo, bus: bus, store: store}
}

func (f fixture) balance(t *testing.T, code string) decimal.Decimal {
	t.Helper()
	account, err := f.ledger.GetAccountByCode(context.Background(), code)
	require.NoError(t, err)
	bal, err := f.ledger.GetAccountBalance(context.Background(), account.ID, accounting.DateRange{})
	require.NoError(t, err)
	return bal
}

func (f fixture) emit(t *testing.T, id operations.ID, entityID string, payload any) events.ExecutionSummary {
	t.Helper()
	summary, err := f.bus.Emit(context.Background(), events.EmitInput{
		OperationID: id,
		EntityType:  id.Segments()[1],
		EntityID:    entityID,
		Payload:     payload,
	})
	require.NoError(t, err)
	return summary
}

func requireTrialBalanceNets(t *testing.T, f fixture) {
	t.Helper()
	tb, err := f.ledger.TrialBalance(context.Background(), accounting.DateRange{})
	require.NoError(t, err)
	require.True(t, tb.Balanced())
	require.True(t, tb.Net().IsZero())
}

func TestSupplyExpenseApprovalPostsBalancedEntry(t *testing.T) {
	f := newFixture(t)
	summary := f.emit(t, operations.SupplyExpenseApprove, "EXP-1", map[string]any{"monto": 5000, "cuentaContable": "5.1"})

	require.Equal(t, 1, summary.HandlersInvoked)
	require.Zero(t, summary.HandlersFailed)
	require.Equal(t, 1, f.repo.EntryCount())
	logs := f.store.Logs()
	require.Len(t, logs, 1)
	require.Zero(t, logs[0].HandlersFailed)
	require.Equal(t, "supply", logs[0].OriginModule)

	require.True(t, f.balance(t, "5.1").Equal(decimal.NewFromInt(5000)))
	require.True(t, f.balance(t, "1.1.01").Equal(decimal.NewFromInt(-5000)))
	requireTrialBalanceNets(t, f)

	entry, err := f.ledger.GetJournalEntry(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, entry.TotalDebit().Equal(entry.TotalCredit()))
	require.Equal(t, accounting.DateOnly(testNow), entry.Date)
}

func TestFinanceExpenseUsesPayloadAccounts(t *testing.T) {
	f := newFixture(t)
	f.emit(t, operations.FinanceExpenseApprove, "EXP-2", map[string]any{
		"monto":          "1234.56",
		"cuentaContable": "5.2",
		"cuentaPago":     "1.1.02",
		"fecha":          "2024-02-29",
		"descripcion":    "Tyre replacement",
	})
	require.True(t, f.balance(t, "5.2").Equal(decimal.RequireFromString("1234.56")))
	require.True(t, f.balance(t, "1.1.02").Equal(decimal.RequireFromString("-1234.56")))
	require.True(t, f.balance(t, "1.1").Equal(decimal.RequireFromString("-1234.56")))

	entry, err := f.ledger.GetJournalEntry(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Tyre replacement", entry.Description)
	require.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), entry.Date)
}

func TestInvoiceWithVAT(t *testing.T) {
	f := newFixture(t)
	f.emit(t, operations.FinanceInvoiceIssue, "F-001", map[string]any{"numero": "F-001", "monto": 1000, "iva": "190.00"})
	require.True(t, f.balance(t, "1.2").Equal(decimal.NewFromInt(1190)))
	require.True(t, f.balance(t, "4.1").Equal(decimal.NewFromInt(1000)))
	require.True(t, f.balance(t, "2.4").Equal(decimal.NewFromInt(190)))

	f.emit(t, operations.FinancePaymentRegister, "P-001", map[string]any{"monto": 1190})
	require.True(t, f.balance(t, "1.2").IsZero())
	require.True(t, f.balance(t, "1.1.01").Equal(decimal.NewFromInt(1190)))
	requireTrialBalanceNets(t, f)
}

func TestPayrollSplitsWithholdings(t *testing.T) {
	f := newFixture(t)
	f.emit(t, operations.HRPayrollLiquidate, "2024-03", map[string]any{"totalBruto": "8000.10", "retenciones": "800.01"})
	require.True(t, f.balance(t, "5.3").Equal(decimal.RequireFromString("8000.10")))
	require.True(t, f.balance(t, "2.2").Equal(decimal.RequireFromString("7200.09")))
	require.True(t, f.balance(t, "2.3").Equal(decimal.RequireFromString("800.01")))
	requireTrialBalanceNets(t, f)
}

func TestShipmentAndContractDeposit(t *testing.T) {
	f := newFixture(t)
	f.emit(t, operations.SupplyShipmentDispatch, "S-1", map[string]any{"costoFlete": 350})
	f.emit(t, operations.FleetContractActivate, "CT-9", map[string]any{"deposito": 2000})
	require.True(t, f.balance(t, "5.2").Equal(decimal.NewFromInt(350)))
	require.True(t, f.balance(t, "2.1").Equal(decimal.NewFromInt(350)))
	require.True(t, f.balance(t, "2.5").Equal(decimal.NewFromInt(2000)))
	require.Equal(t, 2, f.repo.EntryCount())
}

func TestZeroAmountPostsNothing(t *testing.T) {
	f := newFixture(t)
	summary := f.emit(t, operations.FinanceExpenseApprove, "EXP-0", map[string]any{"monto": 0})
	require.Zero(t, summary.HandlersFailed)
	require.Zero(t, f.repo.EntryCount())
}

func TestInvalidPayloadsCountAsHandlerFailures(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name    string
		id      operations.ID
		payload any
	}{
		{"negative amount", operations.FinanceExpenseApprove, map[string]any{"monto": -10}},
		{"bad date", operations.SupplyExpenseApprove, map[string]any{"monto": 10, "fecha": "15/03/2024"}},
		{"not a number", operations.FinancePaymentRegister, map[string]any{"monto": "ten"}},
		{"withholdings exceed gross", operations.HRPayrollLiquidate, map[string]any{"totalBruto": 10, "retenciones": 11}},
		{"unknown account", operations.SupplyExpenseApprove, map[string]any{"monto": 10, "cuentaContable": "9.9"}},
		{"aggregate account", operations.SupplyExpenseApprove, map[string]any{"monto": 10, "cuentaContable": "5"}},
		{"finer than stored scale", operations.FinanceExpenseApprove, map[string]any{"monto": "0.00001"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			summary := f.emit(t, tc.id, tc.name, tc.payload)
			require.Equal(t, 1, summary.HandlersFailed)
			require.Len(t, summary.Failures, 1)
			require.Equal(t, HandlerName(tc.id), summary.Failures[0].Handler)
		})
	}
	require.Zero(t, f.repo.EntryCount())
	for _, log := range f.store.Logs() {
		require.Equal(t, events.LevelError, log.Level)
	}
}

func TestClosedPeriodFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.ClosePeriod(ctx, accounting.PeriodInput{Year: 2024, Month: 3, ActorID: 1})
	require.NoError(t, err)

	audited := 0
	require.NoError(t, f.bus.Register("supply.*", "audit", 200, func(context.Context, events.BusinessEvent) error {
		audited++
		return nil
	}))
	summary := f.emit(t, operations.SupplyExpenseApprove, "EXP-9", map[string]any{"monto": 10})
	require.Equal(t, 2, summary.HandlersInvoked)
	require.Equal(t, 1, summary.HandlersFailed)
	require.ErrorIs(t, summary.Failures[0], accounting.ErrPeriodClosed)
	require.Equal(t, 1, audited)
	require.Zero(t, f.repo.EntryCount())
	require.Len(t, f.store.Events(), 1)
}

func TestRegisterTwiceFails(t *testing.T) {
	f := newFixture(t)
	err := NewHooks(f.ledger, DefaultMappings(), nil).Register(f.bus)
	require.ErrorIs(t, err, events.ErrValidation)
}

func TestHandlersCoverEveryNamespace(t *testing.T) {
	hooks := NewHooks(nil, Mappings{}, nil)
	modules := map[string]bool{}
	for _, id := range hooks.Operations() {
		require.True(t, operations.Known(id))
		modules[id.Module()] = true
	}
	for _, m := range operations.Modules() {
		require.True(t, modules[m], "no ledger handler for %s", m)
	}
}

func TestSeedChartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	created, err := SeedChart(context.Background(), f.ledger)
	require.NoError(t, err)
	require.Zero(t, created)
}

func TestMappingsWithDefaults(t *testing.T) {
	m := Mappings{Cash: "1.1.02"}.WithDefaults()
	require.Equal(t, "1.1.02", m.Cash)
	require.Equal(t, DefaultMappings().Receivable, m.Receivable)
}
