package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fleet-ledger/internal/events"
	jobmetrics "github.com/odyssey-erp/fleet-ledger/internal/jobs"
)

const (
	defaultReportLookback = 15 * time.Minute
	defaultReportLimit    = 200
)

// ExecutionLogReader is implemented by events.Store.
type ExecutionLogReader interface {
	ListExecutionLogs(ctx context.Context, filter events.ExecutionLogFilter) ([]events.ExecutionLog, error)
}

// ModuleFailures aggregates failed execution logs per origin module.
type ModuleFailures struct {
	Module         string
	Logs           int
	HandlersFailed int
}

// FailedHandlerReport is the output of one report run.
type FailedHandlerReport struct {
	Since   time.Time
	Modules []ModuleFailures
	Total   int
}

// FailedHandlerReportJob surfaces emits whose handlers failed. Failed
// handlers are never retried; the report is how operators notice them.
type FailedHandlerReportJob struct {
	store   ExecutionLogReader
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewFailedHandlerReportJob initialises the report handler.
func NewFailedHandlerReportJob(store ExecutionLogReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *FailedHandlerReportJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailedHandlerReportJob{
		store:   store,
		logger:  logger,
		metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes TaskFailedHandlerReport.
func (j *FailedHandlerReportJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.store == nil {
		return errors.New("failed handler report: handler not configured")
	}
	var payload FailedHandlerReportPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics.Track(TaskFailedHandlerReport)
	defer func() {
		err = tracker.End(err)
	}()
	_, err = j.Run(ctx, payload.Lookback, payload.Limit)
	return err
}

// Run lists failed execution logs newer than now-lookback and records them.
func (j *FailedHandlerReportJob) Run(ctx context.Context, lookback time.Duration, limit int) (FailedHandlerReport, error) {
	if lookback <= 0 {
		lookback = defaultReportLookback
	}
	if limit <= 0 {
		limit = defaultReportLimit
	}
	since := j.clock().Add(-lookback)
	logs, err := j.store.ListExecutionLogs(ctx, events.ExecutionLogFilter{Since: since, OnlyFailed: true, Limit: limit})
	if err != nil {
		return FailedHandlerReport{}, fmt.Errorf("failed handler report: list logs: %w", err)
	}
	byModule := make(map[string]*ModuleFailures)
	for _, log := range logs {
		j.logger.Warn("event handlers failed",
			slog.String("job", TaskFailedHandlerReport),
			slog.String("event_id", log.EventID.String()),
			slog.String("operation_id", string(log.OperationID)),
			slog.Int("handlers_invoked", log.HandlersInvoked),
			slog.Int("handlers_failed", log.HandlersFailed),
			slog.Time("created_at", log.CreatedAt))
		agg, ok := byModule[log.OriginModule]
		if !ok {
			agg = &ModuleFailures{Module: log.OriginModule}
			byModule[log.OriginModule] = agg
		}
		agg.Logs++
		agg.HandlersFailed += log.HandlersFailed
	}
	report := FailedHandlerReport{Since: since, Total: len(logs)}
	for _, agg := range byModule {
		report.Modules = append(report.Modules, *agg)
		j.metrics.AddFailedHandlers(agg.Module, agg.Logs)
	}
	sort.Slice(report.Modules, func(a, b int) bool { return report.Modules[a].Module < report.Modules[b].Module })
	if report.Total == 0 {
		j.logger.Debug("no failed handlers", slog.Time("since", since))
	}
	return report, nil
}
