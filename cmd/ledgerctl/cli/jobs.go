package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fleet-ledger/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector jobs.QueueInspector
	closer    func() error
}

// NewJobsCLI initialises the CLI helpers against the queue's Redis.
func NewJobsCLI(opts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{client: client, inspector: inspector, closer: inspector.Close}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.closer != nil {
		if closeErr := c.closer(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerOptions selects the job to enqueue.
type TriggerOptions struct {
	Name     string
	Year     int
	Lookback time.Duration
	Output
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, opts TriggerOptions) int {
	out := opts.Output.withDefaults()
	if c == nil || c.client == nil {
		return out.fail("enqueue", errors.New("jobs cli: client not configured"))
	}
	var (
		info *asynq.TaskInfo
		err  error
	)
	switch opts.Name {
	case jobs.TaskLedgerIntegrity, "integrity":
		info, err = c.client.EnqueueLedgerIntegrity(ctx, opts.Year)
	case jobs.TaskFailedHandlerReport, "failures":
		info, err = c.client.EnqueueFailedHandlerReport(ctx, opts.Lookback)
	default:
		err = fmt.Errorf("jobs cli: unsupported job %s", opts.Name)
	}
	if err != nil {
		return out.fail("enqueue", err)
	}
	_, _ = fmt.Fprintf(out.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	return ExitOK
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Failed = info.Failed
	}
	return stats, nil
}

// QueueCommand prints InspectQueue as JSON.
func (c *JobsCLI) QueueCommand(ctx context.Context, out Output) int {
	out = out.withDefaults()
	stats, err := c.InspectQueue(ctx)
	if err != nil {
		return out.fail("queue", err)
	}
	return out.json("queue", stats)
}
