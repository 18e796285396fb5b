package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
)

type contract struct {
	Code  string `json:"codigo"`
	Total int64  `json:"monto"`
}

func (c contract) EventEntityID() string { return c.Code }

func TestWithEventEmitsAfterMutation(t *testing.T) {
	bus, store := newTestBus(t)
	result, err := WithEvent(context.Background(), bus, EventSpec{
		OperationID: operations.FleetContractCreate,
		EntityType:  "contract",
	}, func(context.Context) (contract, error) {
		return contract{Code: "CT-7", Total: 900}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "CT-7", result.Code)

	evts := store.Events()
	require.Len(t, evts, 1)
	require.Equal(t, "CT-7", evts[0].EntityID)
	require.JSONEq(t, `{"codigo":"CT-7","monto":900}`, string(evts[0].Payload))
}

func TestWithEventSkipsEmitOnMutationError(t *testing.T) {
	bus, store := newTestBus(t)
	mutationErr := errors.New("contract overlaps")
	_, err := WithEvent(context.Background(), bus, EventSpec{
		OperationID: operations.FleetContractCreate,
		EntityType:  "contract",
	}, func(context.Context) (contract, error) {
		return contract{}, mutationErr
	})
	require.ErrorIs(t, err, mutationErr)
	require.Empty(t, store.Events())
	require.Empty(t, store.Logs())
}

func TestWithEventReturnsResultWhenEmitFails(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), eventErr: errors.New("insert failed")}
	bus := NewBus(store, nil)
	mutated := false
	result, err := WithEvent(context.Background(), bus, EventSpec{
		OperationID: operations.FinanceInvoiceIssue,
		EntityType:  "invoice",
		EntityID:    "F-001",
		Payload:     func(r any) any { return map[string]any{"invoice": r} },
	}, func(context.Context) (int64, error) {
		mutated = true
		return 55, nil
	})
	require.ErrorIs(t, err, ErrAuditPersistence)
	require.True(t, mutated)
	require.Equal(t, int64(55), result)
}

func TestWithEventDerivesEntityIDFromScalars(t *testing.T) {
	bus, store := newTestBus(t)
	_, err := WithEvent(context.Background(), bus, EventSpec{
		OperationID: operations.HREmployeeCreate,
		EntityType:  "employee",
	}, func(context.Context) (int64, error) {
		return 314, nil
	})
	require.NoError(t, err)
	require.Equal(t, "314", store.Events()[0].EntityID)
}
