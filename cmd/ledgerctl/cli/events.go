package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/odyssey-erp/fleet-ledger/internal/events"
	"github.com/odyssey-erp/fleet-ledger/jobs"
)

// EventsCLI inspects the business event log.
type EventsCLI struct {
	bus    *events.Bus
	report *jobs.FailedHandlerReportJob
}

// NewEventsCLI constructs the helper over a bus and the store behind it.
func NewEventsCLI(bus *events.Bus, store events.Store, logger *slog.Logger) (*EventsCLI, error) {
	if bus == nil || store == nil {
		return nil, errors.New("events cli: bus and store required")
	}
	return &EventsCLI{bus: bus, report: jobs.NewFailedHandlerReportJob(store, logger, nil)}, nil
}

// HistoryOptions defines flags for the history command.
type HistoryOptions struct {
	Pattern    string
	EntityType string
	EntityID   string
	Limit      int
	JSONOutput bool
	Output
}

type historyRow struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	UserID      *int64    `json:"user_id,omitempty"`
	Payload     any       `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// HistoryCommand lists stored events, newest first.
func (c *EventsCLI) HistoryCommand(ctx context.Context, opts HistoryOptions) int {
	out := opts.Output.withDefaults()
	list, err := c.bus.History(ctx, events.EventFilter{
		Pattern:    opts.Pattern,
		EntityType: opts.EntityType,
		EntityID:   opts.EntityID,
		Limit:      opts.Limit,
	})
	if err != nil {
		return out.fail("history", err)
	}
	if opts.JSONOutput {
		rows := make([]historyRow, 0, len(list))
		for _, evt := range list {
			var payload any
			if err := evt.DecodePayload(&payload); err != nil {
				return out.fail("history", err)
			}
			rows = append(rows, historyRow{
				ID:          evt.ID.String(),
				OperationID: string(evt.OperationID),
				EntityType:  evt.EntityType,
				EntityID:    evt.EntityID,
				UserID:      evt.UserID,
				Payload:     payload,
				CreatedAt:   evt.CreatedAt,
			})
		}
		return out.json("history", rows)
	}
	tw := tabwriter.NewWriter(out.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CREATED\tOPERATION\tENTITY\tPAYLOAD")
	for _, evt := range list {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\n", evt.CreatedAt.Format(time.RFC3339), evt.OperationID, evt.EntityType, evt.EntityID, evt.Payload)
	}
	_ = tw.Flush()
	return ExitOK
}

// FailuresCommand prints execution logs with failed handlers over the lookback
// window. It exits with ExitFlagged when any were found.
func (c *EventsCLI) FailuresCommand(ctx context.Context, lookback time.Duration, limit int, out Output) int {
	out = out.withDefaults()
	report, err := c.report.Run(ctx, lookback, limit)
	if err != nil {
		return out.fail("failures", err)
	}
	if report.Total == 0 {
		_, _ = fmt.Fprintf(out.Stdout, "No failed handlers since %s.\n", report.Since.Format(time.RFC3339))
		return ExitOK
	}
	_, _ = fmt.Fprintf(out.Stdout, "%d emit(s) with failed handlers since %s:\n", report.Total, report.Since.Format(time.RFC3339))
	for _, m := range report.Modules {
		_, _ = fmt.Fprintf(out.Stdout, " - %s: %d emit(s), %d handler failure(s)\n", m.Module, m.Logs, m.HandlersFailed)
	}
	return ExitFlagged
}
