package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fleet-ledger/internal/accounting"
	"github.com/odyssey-erp/fleet-ledger/internal/events"
	jobmetrics "github.com/odyssey-erp/fleet-ledger/internal/jobs"
	"github.com/odyssey-erp/fleet-ledger/internal/ledgerhooks"
	"github.com/odyssey-erp/fleet-ledger/internal/operations"
	_ "github.com/odyssey-erp/fleet-ledger/testing"
)

var jobNow = time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC)

func newJobMetrics(t *testing.T) (*jobmetrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(reg), reg
}

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

type stubBalancer struct {
	tb  accounting.TrialBalance
	err error
	rng accounting.DateRange
}

func (s *stubBalancer) TrialBalance(_ context.Context, rng accounting.DateRange) (accounting.TrialBalance, error) {
	s.rng = rng
	return s.tb, s.err
}

func TestIntegrityCheckOnBalancedLedger(t *testing.T) {
	ctx := context.Background()
	ledger := accounting.NewService(accounting.NewMemoryRepository(), nil)
	_, err := ledgerhooks.SeedChart(ctx, ledger)
	require.NoError(t, err)
	cash, err := ledger.GetAccountByCode(ctx, "1.1.01")
	require.NoError(t, err)
	fuel, err := ledger.GetAccountByCode(ctx, "5.1")
	require.NoError(t, err)
	_, err = ledger.CreateJournalEntry(ctx, accounting.CreateEntryInput{
		Date:        time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		Description: "fuel",
		Lines: []accounting.LineInput{
			accounting.Debit(fuel.ID, decimal.NewFromInt(500)),
			accounting.Credit(cash.ID, decimal.NewFromInt(500)),
		},
	})
	require.NoError(t, err)

	metrics, reg := newJobMetrics(t)
	job := NewGLIntegrityJob(ledger, nil, metrics)
	job.clock = func() time.Time { return jobNow }

	report, err := job.Check(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2024, report.Year)
	require.True(t, report.Balanced)
	require.True(t, report.TotalDebit.Equal(decimal.NewFromInt(500)))
	require.True(t, report.TotalCredit.Equal(decimal.NewFromInt(500)))
	require.True(t, report.Difference.IsZero())

	task, err := NewLedgerIntegrityTask(2024)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	body := scrape(t, reg)
	require.Contains(t, body, `ledger_jobs_total{job="ledger:integrity",status="success"} 1`)
	require.Contains(t, body, "ledger_trial_balance_difference 0")
}

func TestIntegrityHandleFlagsImbalanceWithoutRetry(t *testing.T) {
	balancer := &stubBalancer{tb: accounting.TrialBalance{
		TotalDebit:   decimal.NewFromInt(100),
		TotalCredit:  decimal.NewFromInt(90),
		DebitNormal:  decimal.NewFromInt(100),
		CreditNormal: decimal.NewFromInt(90),
	}}
	metrics, reg := newJobMetrics(t)
	job := NewGLIntegrityJob(balancer, nil, metrics)
	job.clock = func() time.Time { return jobNow }

	task, err := NewLedgerIntegrityTask(2023)
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, ErrLedgerOutOfBalance)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Contains(t, err.Error(), "FY2023")
	require.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), balancer.rng.From)
	require.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), balancer.rng.To)

	body := scrape(t, reg)
	require.Contains(t, body, `ledger_jobs_total{job="ledger:integrity",status="failure"} 1`)
	require.Contains(t, body, "ledger_trial_balance_difference 10")
}

func TestIntegrityHandleErrors(t *testing.T) {
	job := NewGLIntegrityJob(&stubBalancer{err: errors.New("db down")}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, nil))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrLedgerOutOfBalance)

	err = job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unset *GLIntegrityJob
	require.Error(t, unset.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, nil)))
}

func emitWithFailures(t *testing.T) *events.MemoryStore {
	t.Helper()
	store := events.NewMemoryStore()
	bus := events.NewBus(store, nil)
	bus.WithNow(func() time.Time { return jobNow.Add(-5 * time.Minute) })
	require.NoError(t, bus.Register("finance.*", "broken", 1, func(context.Context, events.BusinessEvent) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Register("fleet.contract.*", "flaky", 1, func(context.Context, events.BusinessEvent) error {
		return errors.New("timeout")
	}))
	require.NoError(t, bus.Register("*", "audit", 2, func(context.Context, events.BusinessEvent) error {
		return nil
	}))
	for _, id := range []operations.ID{
		operations.FinanceExpenseApprove,
		operations.FinanceInvoiceIssue,
		operations.FleetContractActivate,
		operations.HREmployeeCreate,
	} {
		_, err := bus.Emit(context.Background(), events.EmitInput{OperationID: id, EntityType: id.Segments()[1], EntityID: "1"})
		require.NoError(t, err)
	}
	return store
}

func TestFailedHandlerReportAggregatesByModule(t *testing.T) {
	store := emitWithFailures(t)
	metrics, reg := newJobMetrics(t)
	job := NewFailedHandlerReportJob(store, nil, metrics)
	job.clock = func() time.Time { return jobNow }

	report, err := job.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, report.Total)
	require.Equal(t, jobNow.Add(-defaultReportLookback), report.Since)
	require.Equal(t, []ModuleFailures{
		{Module: "finance", Logs: 2, HandlersFailed: 2},
		{Module: "fleet", Logs: 1, HandlersFailed: 1},
	}, report.Modules)

	body := scrape(t, reg)
	require.Contains(t, body, `ledger_failed_handler_logs_reported_total{module="finance"} 2`)
	require.Contains(t, body, `ledger_failed_handler_logs_reported_total{module="fleet"} 1`)
}

func TestFailedHandlerReportWindow(t *testing.T) {
	store := emitWithFailures(t)
	job := NewFailedHandlerReportJob(store, nil, nil)
	job.clock = func() time.Time { return jobNow }

	report, err := job.Run(context.Background(), time.Minute, 0)
	require.NoError(t, err)
	require.Zero(t, report.Total)
	require.Empty(t, report.Modules)

	task, err := NewFailedHandlerReportTask(time.Hour, 1)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskFailedHandlerReport, []byte("nope"))), asynq.SkipRetry)
}

func TestLedgerCronAndHandlers(t *testing.T) {
	entries, err := LedgerCron("@every 1h", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, TaskLedgerIntegrity, entries[0].Task.Type())

	var payload LedgerIntegrityPayload
	require.NoError(t, json.Unmarshal(entries[0].Task.Payload(), &payload))
	require.Zero(t, payload.Year)

	entries, err = LedgerCron("@every 1h", "@every 15m")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, TaskFailedHandlerReport, entries[1].Task.Type())

	handlers := LedgerHandlers(NewGLIntegrityJob(&stubBalancer{}, nil, nil), nil)
	require.Len(t, handlers, 1)
	require.Equal(t, TaskLedgerIntegrity, handlers[0].Type)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthRoute(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		body      string
	}{
		{name: "no inspector", status: http.StatusOK, body: `{"queue":"default","pending":0,"failed":0}`},
		{name: "queue info", inspector: stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Failed: 1}}, status: http.StatusOK, body: `{"queue":"default","pending":3,"failed":1}`},
		{name: "redis down", inspector: stubInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rr.Code)
			if tc.body != "" {
				require.JSONEq(t, tc.body, strings.TrimSpace(rr.Body.String()))
			}
		})
	}
}
