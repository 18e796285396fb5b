package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
	_ "github.com/odyssey-erp/fleet-ledger/testing"
)

type failingStore struct {
	*MemoryStore
	eventErr error
	logErr   error
}

func (s *failingStore) InsertEvent(ctx context.Context, evt BusinessEvent) error {
	if s.eventErr != nil {
		return s.eventErr
	}
	return s.MemoryStore.InsertEvent(ctx, evt)
}

func (s *failingStore) InsertExecutionLog(ctx context.Context, log ExecutionLog) error {
	if s.logErr != nil {
		return s.logErr
	}
	return s.MemoryStore.InsertExecutionLog(ctx, log)
}

type recorderStub struct {
	mu       sync.Mutex
	emitted  map[string]int
	failures map[string]int
}

func newRecorderStub() *recorderStub {
	return &recorderStub{emitted: map[string]int{}, failures: map[string]int{}}
}

func (r *recorderStub) EventEmitted(module string, _, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted[module]++
}

func (r *recorderStub) HandlerFailed(handler string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[handler]++
}

func noop(context.Context, BusinessEvent) error { return nil }

func newTestBus(t *testing.T) (*Bus, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	bus := NewBus(store, nil)
	bus.WithNow(func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) })
	return bus, store
}

func TestEmitWritesOneEventAndOneLog(t *testing.T) {
	for _, handlers := range []int{0, 1, 3} {
		bus, store := newTestBus(t)
		for i := 0; i < handlers; i++ {
			require.NoError(t, bus.Register(string(operations.FleetContractActivate), "h"+string(rune('a'+i)), 10, noop))
		}
		summary, err := bus.Emit(context.Background(), EmitInput{
			OperationID: operations.FleetContractActivate,
			EntityType:  "contract",
			EntityID:    "C-1",
			Payload:     map[string]any{"monto": 100},
		})
		require.NoError(t, err)
		require.Equal(t, handlers, summary.HandlersInvoked)
		require.Zero(t, summary.HandlersFailed)
		require.Len(t, store.Events(), 1)
		logs := store.Logs()
		require.Len(t, logs, 1)
		require.Equal(t, summary.EventID, logs[0].EventID)
		require.Equal(t, "fleet", logs[0].OriginModule)
		require.Equal(t, LevelInfo, logs[0].Level)
		require.Equal(t, handlers, logs[0].HandlersInvoked)
	}
}

func TestEmitIsolatesHandlerFailures(t *testing.T) {
	bus, store := newTestBus(t)
	rec := newRecorderStub()
	bus.WithMetrics(rec)
	var ran []string
	require.NoError(t, bus.Register("finance.*", "first", 1, func(context.Context, BusinessEvent) error {
		ran = append(ran, "first")
		return errors.New("boom")
	}))
	require.NoError(t, bus.Register("finance.payment.register", "second", 2, func(context.Context, BusinessEvent) error {
		ran = append(ran, "second")
		panic("bad handler")
	}))
	require.NoError(t, bus.Register("*", "third", 3, func(context.Context, BusinessEvent) error {
		ran = append(ran, "third")
		return nil
	}))

	summary, err := bus.Emit(context.Background(), EmitInput{
		OperationID: operations.FinancePaymentRegister,
		EntityType:  "payment",
		EntityID:    "P-9",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second", "third"}, ran)
	require.Equal(t, 3, summary.HandlersInvoked)
	require.Equal(t, 2, summary.HandlersFailed)
	require.Len(t, summary.Failures, 2)
	require.ErrorIs(t, summary.Failures[0], ErrHandlerFailed)
	require.Equal(t, "first", summary.Failures[0].Handler)
	require.Equal(t, "P-9", summary.Failures[1].EntityID)

	logs := store.Logs()
	require.Len(t, logs, 1)
	require.Equal(t, LevelError, logs[0].Level)
	require.Equal(t, 2, logs[0].HandlersFailed)
	require.Equal(t, 1, rec.failures["first"])
	require.Equal(t, 1, rec.failures["second"])
	require.Equal(t, 1, rec.emitted["finance"])
}

func TestEmitResolvesWildcards(t *testing.T) {
	bus, _ := newTestBus(t)
	require.NoError(t, bus.Register("finance.*", "finance-all", 10, noop))
	require.NoError(t, bus.Register("finance.expense.*", "expense-all", 10, noop))
	require.NoError(t, bus.Register("fleet.*", "fleet-all", 10, noop))
	require.NoError(t, bus.Register("*", "everything", 99, noop))

	require.Equal(t, []string{"finance-all", "expense-all", "everything"}, bus.Handlers(operations.FinanceExpenseApprove))
	require.Equal(t, []string{"finance-all", "everything"}, bus.Handlers(operations.FinanceInvoiceIssue))
	require.Equal(t, []string{"everything"}, bus.Handlers(operations.HRPayrollLiquidate))
}

func TestHandlersRunInPriorityOrder(t *testing.T) {
	bus, _ := newTestBus(t)
	var (
		mu    sync.Mutex
		trace []string
	)
	record := func(name string) HandlerFunc {
		return func(context.Context, BusinessEvent) error {
			mu.Lock()
			defer mu.Unlock()
			trace = append(trace, name)
			return nil
		}
	}
	require.NoError(t, bus.Register("supply.*", "late", 50, record("late")))
	require.NoError(t, bus.Register("supply.expense.approve", "early", 5, record("early")))
	require.NoError(t, bus.Register("supply.*", "tie-a", 20, record("tie-a")))
	require.NoError(t, bus.Register("*", "tie-b", 20, record("tie-b")))

	_, err := bus.Emit(context.Background(), EmitInput{OperationID: operations.SupplyExpenseApprove, EntityType: "expense", EntityID: "E-1"})
	require.NoError(t, err)
	require.Equal(t, []string{"early", "tie-a", "tie-b", "late"}, trace)
}

func TestRegisterValidation(t *testing.T) {
	bus, _ := newTestBus(t)
	require.NoError(t, bus.Register("hr.*", "payroll", 1, noop))

	cases := []struct {
		name    string
		pattern string
		handler string
		fn      HandlerFunc
	}{
		{"empty pattern", "", "x", noop},
		{"bad wildcard", "hr*", "x", noop},
		{"unknown module", "billing.*", "x", noop},
		{"unknown operation", "hr.payroll.approve", "x", noop},
		{"blank name", "hr.*", " ", noop},
		{"nil handler", "hr.*", "y", nil},
		{"duplicate name", "fleet.*", "payroll", noop},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, bus.Register(tc.pattern, tc.handler, 0, tc.fn), ErrValidation)
		})
	}
}

func TestEmitValidation(t *testing.T) {
	bus, store := newTestBus(t)
	_, err := bus.Emit(context.Background(), EmitInput{OperationID: "fleet.contract.explode", EntityType: "contract"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = bus.Emit(context.Background(), EmitInput{OperationID: operations.FleetContractCreate})
	require.ErrorIs(t, err, ErrValidation)
	_, err = bus.Emit(context.Background(), EmitInput{OperationID: operations.FleetContractCreate, EntityType: "contract", Payload: make(chan int)})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, store.Events())
	require.Empty(t, store.Logs())
}

func TestEmitFailsWhenEventCannotBePersisted(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), eventErr: errors.New("db down")}
	bus := NewBus(store, nil)
	called := false
	require.NoError(t, bus.Register("*", "any", 0, func(context.Context, BusinessEvent) error {
		called = true
		return nil
	}))
	_, err := bus.Emit(context.Background(), EmitInput{OperationID: operations.HREmployeeCreate, EntityType: "employee", EntityID: "7"})
	require.ErrorIs(t, err, ErrAuditPersistence)
	require.False(t, called)
	require.Empty(t, store.Logs())
}

func TestEmitReportsExecutionLogFailure(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), logErr: errors.New("log table locked")}
	bus := NewBus(store, nil)
	called := false
	require.NoError(t, bus.Register("hr.*", "any", 0, func(context.Context, BusinessEvent) error {
		called = true
		return nil
	}))
	summary, err := bus.Emit(context.Background(), EmitInput{OperationID: operations.HREmployeeCreate, EntityType: "employee", EntityID: "7"})
	require.NoError(t, err)
	require.True(t, called)
	require.Error(t, summary.LogErr)
	require.Len(t, store.Events(), 1)
}

func TestEmitPersistsPayloadAndUser(t *testing.T) {
	bus, store := newTestBus(t)
	user := int64(42)
	var seen BusinessEvent
	require.NoError(t, bus.Register("fleet.vehicle.*", "capture", 0, func(_ context.Context, evt BusinessEvent) error {
		seen = evt
		return nil
	}))
	_, err := bus.Emit(context.Background(), EmitInput{
		OperationID: operations.FleetVehicleRegister,
		EntityType:  "vehicle",
		EntityID:    "ABC-123",
		Payload:     map[string]string{"placa": "ABC-123"},
		UserID:      &user,
	})
	require.NoError(t, err)
	var payload map[string]string
	require.NoError(t, seen.DecodePayload(&payload))
	require.Equal(t, "ABC-123", payload["placa"])
	stored := store.Events()[0]
	require.Equal(t, seen.ID, stored.ID)
	require.Equal(t, int64(42), *stored.UserID)
	require.JSONEq(t, `{"placa":"ABC-123"}`, string(stored.Payload))
}

func TestHistoryFilters(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()
	for _, in := range []EmitInput{
		{OperationID: operations.FinanceExpenseApprove, EntityType: "expense", EntityID: "1"},
		{OperationID: operations.FinanceInvoiceIssue, EntityType: "invoice", EntityID: "2"},
		{OperationID: operations.FleetContractClose, EntityType: "contract", EntityID: "3"},
	} {
		_, err := bus.Emit(ctx, in)
		require.NoError(t, err)
	}
	finance, err := bus.History(ctx, EventFilter{Pattern: "finance.*"})
	require.NoError(t, err)
	require.Len(t, finance, 2)
	contracts, err := bus.History(ctx, EventFilter{EntityType: "contract"})
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	require.Equal(t, "3", contracts[0].EntityID)
	_, err = bus.History(ctx, EventFilter{Pattern: "finance*"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestListExecutionLogsOnlyFailed(t *testing.T) {
	bus, store := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, bus.Register("supply.shipment.*", "broken", 0, func(context.Context, BusinessEvent) error {
		return errors.New("no route")
	}))
	_, err := bus.Emit(ctx, EmitInput{OperationID: operations.SupplyShipmentDispatch, EntityType: "shipment", EntityID: "S-1"})
	require.NoError(t, err)
	_, err = bus.Emit(ctx, EmitInput{OperationID: operations.SupplyPurchaseApprove, EntityType: "purchase", EntityID: "PO-1"})
	require.NoError(t, err)

	failed, err := store.ListExecutionLogs(ctx, ExecutionLogFilter{OnlyFailed: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, operations.SupplyShipmentDispatch, failed[0].OperationID)
	all, err := store.ListExecutionLogs(ctx, ExecutionLogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}
