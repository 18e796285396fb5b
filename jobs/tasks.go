package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity recomputes the trial balance and flags drift.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskFailedHandlerReport summarises execution logs with failed handlers.
	TaskFailedHandlerReport = "events:failed_handlers"
)

// LedgerIntegrityPayload selects the fiscal year to verify. Zero means the
// current year.
type LedgerIntegrityPayload struct {
	Year int `json:"year"`
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask(year int) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerIntegrityPayload{Year: year})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// FailedHandlerReportPayload bounds the report window.
type FailedHandlerReportPayload struct {
	// Lookback is how far back the report reaches. Zero uses the job default.
	Lookback time.Duration `json:"lookback"`
	Limit    int           `json:"limit"`
}

// NewFailedHandlerReportTask constructs an Asynq task.
func NewFailedHandlerReportTask(lookback time.Duration, limit int) (*asynq.Task, error) {
	data, err := json.Marshal(FailedHandlerReportPayload{Lookback: lookback, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFailedHandlerReport, data), nil
}
