package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
	_ "github.com/odyssey-erp/fleet-ledger/testing"
)

type countingPolicy struct {
	Policy
	calls atomic.Int32
	err   error
}

func (p *countingPolicy) Grants(ctx context.Context, role string) ([]Grant, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.Policy.Grants(ctx, role)
}

func newPolicy(t *testing.T) *StaticPolicy {
	t.Helper()
	p, err := NewStaticPolicy(
		Grant{Role: "Accountant", Pattern: "finance.*", Level: LevelEdit},
		Grant{Role: "accountant", Pattern: "finance.expense.*", Level: LevelApprove},
		Grant{Role: "accountant", Pattern: "finance.period.reopen", Level: LevelNone},
		Grant{Role: "accountant", Pattern: "*", Level: LevelView},
		Grant{Role: "admin", Pattern: "*", Level: LevelAdmin},
	)
	require.NoError(t, err)
	return p
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, time.Minute), mr
}

func TestMostSpecificGrantWins(t *testing.T) {
	gate := NewGate(newPolicy(t), nil, nil)
	ctx := context.Background()
	cases := []struct {
		id       operations.ID
		required Level
		granted  Level
		allowed  bool
	}{
		{operations.FinanceExpenseApprove, LevelApprove, LevelApprove, true},
		{operations.FinanceInvoiceIssue, LevelApprove, LevelEdit, false},
		{operations.FinanceInvoiceIssue, LevelEdit, LevelEdit, true},
		{operations.FinancePeriodReopen, LevelView, LevelNone, false},
		{operations.FleetContractCreate, LevelView, LevelView, true},
		{operations.HRPayrollLiquidate, LevelEdit, LevelView, false},
	}
	for _, tc := range cases {
		d, err := gate.CheckPermission(ctx, tc.id, tc.required, "ACCOUNTANT ")
		require.NoError(t, err)
		require.Equal(t, tc.granted, d.Granted, tc.id)
		require.Equal(t, tc.allowed, d.Allowed, tc.id)
		require.Equal(t, "accountant", d.Role)
	}
}

func TestUnknownRoleAndOperation(t *testing.T) {
	gate := NewGate(newPolicy(t), nil, nil)
	ctx := context.Background()

	d, err := gate.CheckPermission(ctx, operations.FleetVehicleRetire, LevelView, "driver")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Empty(t, d.Pattern)

	d, err = gate.CheckPermission(ctx, operations.FleetVehicleRetire, LevelView, "")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	_, err = gate.CheckPermission(ctx, "fleet.vehicle.paint", LevelView, "admin")
	require.ErrorIs(t, err, operations.ErrUnknownOperation)
}

func TestRequireReturnsPermissionError(t *testing.T) {
	gate := NewGate(newPolicy(t), nil, nil)
	ctx := context.Background()
	require.NoError(t, gate.Require(ctx, operations.FinancePeriodClose, LevelAdmin, "admin"))

	err := gate.Require(ctx, operations.FinancePeriodClose, LevelAdmin, "accountant")
	require.ErrorIs(t, err, ErrPermissionDenied)
	var permErr *PermissionError
	require.True(t, errors.As(err, &permErr))
	require.Equal(t, LevelEdit, permErr.Granted)
	require.Equal(t, operations.FinancePeriodClose, permErr.OperationID)
}

func TestRedisCacheServesRepeatedChecks(t *testing.T) {
	cache, mr := newRedisCache(t)
	policy := &countingPolicy{Policy: newPolicy(t)}
	gate := NewGate(policy, cache, nil)
	ctx := context.Background()

	first, err := gate.CheckPermission(ctx, operations.FinanceExpenseApprove, LevelApprove, "accountant")
	require.NoError(t, err)
	require.False(t, first.Cached)
	second, err := gate.CheckPermission(ctx, operations.FinanceExpenseApprove, LevelApprove, "accountant")
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, "finance.expense.*", second.Pattern)
	require.EqualValues(t, 1, policy.calls.Load())
	require.True(t, mr.Exists("rbac:perm:accountant:finance.expense.approve"))

	mr.FastForward(2 * time.Minute)
	_, err = gate.CheckPermission(ctx, operations.FinanceExpenseApprove, LevelApprove, "accountant")
	require.NoError(t, err)
	require.EqualValues(t, 2, policy.calls.Load())
}

func TestInvalidateDropsRoleEntries(t *testing.T) {
	cache, mr := newRedisCache(t)
	static := newPolicy(t)
	gate := NewGate(static, cache, nil)
	ctx := context.Background()

	d, err := gate.CheckPermission(ctx, operations.HRPayrollLiquidate, LevelApprove, "accountant")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	_, err = gate.CheckPermission(ctx, operations.HRPayrollLiquidate, LevelView, "admin")
	require.NoError(t, err)

	require.NoError(t, static.Set(Grant{Role: "accountant", Pattern: "hr.payroll.*", Level: LevelApprove}))
	d, err = gate.CheckPermission(ctx, operations.HRPayrollLiquidate, LevelApprove, "accountant")
	require.NoError(t, err)
	require.False(t, d.Allowed, "stale decision expected until invalidation")

	require.NoError(t, gate.Invalidate(ctx, "Accountant"))
	require.False(t, mr.Exists("rbac:perm:accountant:hr.payroll.liquidate"))
	require.True(t, mr.Exists("rbac:perm:admin:hr.payroll.liquidate"))

	d, err = gate.CheckPermission(ctx, operations.HRPayrollLiquidate, LevelApprove, "accountant")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestCacheOutageFallsBackToPolicy(t *testing.T) {
	cache, mr := newRedisCache(t)
	gate := NewGate(newPolicy(t), cache, nil)
	mr.Close()

	d, err := gate.CheckPermission(context.Background(), operations.FinanceExpenseApprove, LevelApprove, "accountant")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestPolicyErrorIsReturned(t *testing.T) {
	policy := &countingPolicy{Policy: newPolicy(t), err: errors.New("db unavailable")}
	gate := NewGate(policy, nil, nil)
	_, err := gate.CheckPermission(context.Background(), operations.FinanceExpenseApprove, LevelView, "accountant")
	require.Error(t, err)
}

func TestConcurrentChecksAgree(t *testing.T) {
	cache, _ := newRedisCache(t)
	gate := NewGate(newPolicy(t), cache, nil)
	var wg sync.WaitGroup
	results := make([]bool, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := gate.CheckPermission(context.Background(), operations.FinanceJournalCreate, LevelEdit, "accountant")
			if err == nil {
				results[i] = d.Allowed
			}
		}(i)
	}
	wg.Wait()
	for _, allowed := range results {
		require.True(t, allowed)
	}
}

type blockingPolicy struct {
	Policy
	started chan struct{}
	release chan struct{}
	once    sync.Once
	ctxErr  atomic.Value
}

func (p *blockingPolicy) Grants(ctx context.Context, role string) ([]Grant, error) {
	p.once.Do(func() { close(p.started) })
	<-p.release
	p.ctxErr.Store(fmt.Sprint(ctx.Err()))
	return p.Policy.Grants(ctx, role)
}

func TestCanceledCallerDoesNotFailSharedLoad(t *testing.T) {
	policy := &blockingPolicy{Policy: newPolicy(t), started: make(chan struct{}), release: make(chan struct{})}
	cache, _ := newRedisCache(t)
	gate := NewGate(policy, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := gate.CheckPermission(ctx, operations.FinanceJournalCreate, LevelEdit, "accountant")
		firstErr <- err
	}()
	<-policy.started

	second := make(chan Decision, 1)
	go func() {
		d, err := gate.CheckPermission(context.Background(), operations.FinanceJournalCreate, LevelEdit, "accountant")
		if err != nil {
			t.Error(err)
		}
		second <- d
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(policy.release)

	require.True(t, (<-second).Allowed)
	require.Equal(t, "<nil>", policy.ctxErr.Load())
}

func TestGrantValidation(t *testing.T) {
	_, err := NewStaticPolicy(Grant{Role: "ops", Pattern: "fleet*", Level: LevelView})
	require.ErrorIs(t, err, operations.ErrInvalidPattern)
	_, err = NewStaticPolicy(Grant{Role: " ", Pattern: "fleet.*", Level: LevelView})
	require.Error(t, err)
	_, err = NewStaticPolicy(Grant{Role: "ops", Pattern: "fleet.*", Level: Level(9)})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for _, level := range []Level{LevelNone, LevelView, LevelEdit, LevelApprove, LevelAdmin} {
		parsed, err := ParseLevel(level.String())
		require.NoError(t, err)
		require.Equal(t, level, parsed)
	}
	_, err := ParseLevel("owner")
	require.Error(t, err)
	require.True(t, LevelView < LevelEdit && LevelEdit < LevelApprove && LevelApprove < LevelAdmin)
}
