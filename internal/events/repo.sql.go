package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
)

// Repository stores events and execution logs in PostgreSQL. Both tables are
// insert-only.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ready() error {
	if r == nil || r.pool == nil {
		return errors.New("events repository not initialised")
	}
	return nil
}

// InsertEvent appends a business event.
func (r *Repository) InsertEvent(ctx context.Context, evt BusinessEvent) error {
	if err := r.ready(); err != nil {
		return err
	}
	payload := evt.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO business_events (id, operation_id, entity_type, entity_id, payload, user_id, created_at)
VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7)`, evt.ID, string(evt.OperationID), evt.EntityType, evt.EntityID, string(payload), evt.UserID, evt.CreatedAt)
	return err
}

// InsertExecutionLog appends one execution log row.
func (r *Repository) InsertExecutionLog(ctx context.Context, log ExecutionLog) error {
	if err := r.ready(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO event_execution_logs (event_id, operation_id, origin_module, level, handlers_invoked, handlers_failed, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, log.EventID, string(log.OperationID), log.OriginModule, string(log.Level),
		log.HandlersInvoked, log.HandlersFailed, log.DurationMs, log.CreatedAt)
	return err
}

// ListEvents returns events newest first.
func (r *Repository) ListEvents(ctx context.Context, filter EventFilter) ([]BusinessEvent, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	var (
		conditions []string
		args       []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.Pattern != "" && filter.Pattern != operations.Wildcard {
		if strings.HasSuffix(filter.Pattern, ".*") {
			base := strings.TrimSuffix(filter.Pattern, ".*")
			args = append(args, base, base+".%")
			conditions = append(conditions, fmt.Sprintf("(operation_id = $%d OR operation_id LIKE $%d)", len(args)-1, len(args)))
		} else {
			add("operation_id = $%d", filter.Pattern)
		}
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	query := `SELECT id, operation_id, entity_type, entity_id, payload::text, user_id, created_at FROM business_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, clampLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BusinessEvent
	for rows.Next() {
		var (
			evt     BusinessEvent
			opID    string
			payload string
		)
		if err := rows.Scan(&evt.ID, &opID, &evt.EntityType, &evt.EntityID, &payload, &evt.UserID, &evt.CreatedAt); err != nil {
			return nil, err
		}
		evt.OperationID = operations.ID(opID)
		evt.Payload = []byte(payload)
		out = append(out, evt)
	}
	return out, rows.Err()
}

// ListExecutionLogs returns execution logs newest first.
func (r *Repository) ListExecutionLogs(ctx context.Context, filter ExecutionLogFilter) ([]ExecutionLog, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	query := `SELECT id, event_id, operation_id, origin_module, level, handlers_invoked, handlers_failed, duration_ms, created_at
FROM event_execution_logs WHERE created_at >= $1 AND ($2::boolean = FALSE OR handlers_failed > 0)
ORDER BY created_at DESC, id DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, filter.Since, filter.OnlyFailed, clampLimit(filter.Limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ExecutionLog, error) {
		var (
			log   ExecutionLog
			opID  string
			level string
		)
		err := row.Scan(&log.ID, &log.EventID, &opID, &log.OriginModule, &level,
			&log.HandlersInvoked, &log.HandlersFailed, &log.DurationMs, &log.CreatedAt)
		log.OperationID = operations.ID(opID)
		log.Level = Level(level)
		return log, err
	})
}
