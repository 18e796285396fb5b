package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
)

// Store persists the append-only audit trail.
type Store interface {
	InsertEvent(ctx context.Context, evt BusinessEvent) error
	InsertExecutionLog(ctx context.Context, log ExecutionLog) error
	ListEvents(ctx context.Context, filter EventFilter) ([]BusinessEvent, error)
	ListExecutionLogs(ctx context.Context, filter ExecutionLogFilter) ([]ExecutionLog, error)
}

// Recorder observes bus activity.
type Recorder interface {
	EventEmitted(module string, invoked, failed int, duration time.Duration)
	HandlerFailed(handler string)
}

type registration struct {
	pattern  string
	name     string
	priority int
	seq      int
	handler  HandlerFunc
}

// Bus dispatches business events to registered handlers synchronously, in
// priority order, isolating handler failures.
type Bus struct {
	store   Store
	logger  *slog.Logger
	metrics Recorder
	now     func() time.Time

	mu            sync.RWMutex
	registrations []registration
	names         map[string]struct{}
	seq           int
}

// NewBus constructs a Bus. The composition root owns it for the process lifetime.
func NewBus(store Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{store: store, logger: logger, now: time.Now, names: make(map[string]struct{})}
}

// WithNow overrides the clock for testing.
func (b *Bus) WithNow(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

// WithMetrics attaches a recorder.
func (b *Bus) WithMetrics(m Recorder) {
	b.metrics = m
}

// Register adds a handler for pattern. Lower priority runs first; equal
// priorities run in registration order. Names must be unique.
func (b *Bus) Register(pattern, name string, priority int, handler HandlerFunc) error {
	pattern = strings.TrimSpace(pattern)
	name = strings.TrimSpace(name)
	if err := operations.ValidatePattern(pattern); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if name == "" {
		return fmt.Errorf("%w: handler name required", ErrValidation)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler %s is nil", ErrValidation, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.names[name]; exists {
		return fmt.Errorf("%w: handler %s already registered", ErrValidation, name)
	}
	b.seq++
	b.names[name] = struct{}{}
	b.registrations = append(b.registrations, registration{
		pattern:  pattern,
		name:     name,
		priority: priority,
		seq:      b.seq,
		handler:  handler,
	})
	b.logger.Debug("event handler registered", slog.String("pattern", pattern), slog.String("handler", name), slog.Int("priority", priority))
	return nil
}

func (b *Bus) resolve(id operations.ID) []registration {
	b.mu.RLock()
	matched := make([]registration, 0, len(b.registrations))
	for _, reg := range b.registrations {
		if operations.Matches(reg.pattern, id) {
			matched = append(matched, reg)
		}
	}
	b.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].priority != matched[j].priority {
			return matched[i].priority < matched[j].priority
		}
		return matched[i].seq < matched[j].seq
	})
	return matched
}

// Handlers lists the names of handlers that would fire for id, in order.
func (b *Bus) Handlers(id operations.ID) []string {
	regs := b.resolve(id)
	names := make([]string, 0, len(regs))
	for _, reg := range regs {
		names = append(names, reg.name)
	}
	return names
}

// Emit persists the event, runs every matching handler and writes one execution
// log row. Handler failures are logged and counted, never returned. The only
// error after validation is a failure to persist the event itself.
func (b *Bus) Emit(ctx context.Context, in EmitInput) (ExecutionSummary, error) {
	start := b.now()
	if !operations.Known(in.OperationID) {
		return ExecutionSummary{}, fmt.Errorf("%w: unknown operation %q", ErrValidation, in.OperationID)
	}
	entityType := strings.TrimSpace(in.EntityType)
	if entityType == "" {
		return ExecutionSummary{}, fmt.Errorf("%w: entity type required", ErrValidation)
	}
	payload, err := encodePayload(in.Payload)
	if err != nil {
		return ExecutionSummary{}, fmt.Errorf("%w: payload: %v", ErrValidation, err)
	}
	evt := BusinessEvent{
		ID:          uuid.New(),
		OperationID: in.OperationID,
		EntityType:  entityType,
		EntityID:    in.EntityID,
		Payload:     payload,
		UserID:      in.UserID,
		CreatedAt:   start,
	}
	if err := b.store.InsertEvent(ctx, evt); err != nil {
		b.logger.Error("persist business event",
			slog.String("operation_id", string(evt.OperationID)),
			slog.String("entity_id", evt.EntityID),
			slog.Any("error", err))
		return ExecutionSummary{}, fmt.Errorf("%w: %v", ErrAuditPersistence, err)
	}

	summary := ExecutionSummary{EventID: evt.ID, OperationID: evt.OperationID}
	for _, reg := range b.resolve(evt.OperationID) {
		summary.HandlersInvoked++
		if err := invoke(ctx, reg, evt); err != nil {
			summary.HandlersFailed++
			failure := &HandlerExecutionError{Handler: reg.name, OperationID: evt.OperationID, EntityID: evt.EntityID, Err: err}
			summary.Failures = append(summary.Failures, failure)
			b.logger.Error("event handler failed",
				slog.String("handler", reg.name),
				slog.String("operation_id", string(evt.OperationID)),
				slog.String("entity_id", evt.EntityID),
				slog.Any("error", err))
			if b.metrics != nil {
				b.metrics.HandlerFailed(reg.name)
			}
		}
	}
	summary.Duration = b.now().Sub(start)

	level := LevelInfo
	if summary.HandlersFailed > 0 {
		level = LevelError
	}
	module := evt.OperationID.Module()
	logRow := ExecutionLog{
		EventID:         evt.ID,
		OperationID:     evt.OperationID,
		OriginModule:    module,
		Level:           level,
		HandlersInvoked: summary.HandlersInvoked,
		HandlersFailed:  summary.HandlersFailed,
		DurationMs:      summary.Duration.Milliseconds(),
		CreatedAt:       b.now(),
	}
	if err := b.store.InsertExecutionLog(ctx, logRow); err != nil {
		summary.LogErr = err
		b.logger.Error("persist execution log",
			slog.String("operation_id", string(evt.OperationID)),
			slog.String("event_id", evt.ID.String()),
			slog.Any("error", err))
	}
	if b.metrics != nil {
		b.metrics.EventEmitted(module, summary.HandlersInvoked, summary.HandlersFailed, summary.Duration)
	}
	return summary, nil
}

func invoke(ctx context.Context, reg registration, evt BusinessEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return reg.handler(ctx, evt)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid json")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid json")
		}
		return json.RawMessage(p), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// History returns stored events matching filter, newest first.
func (b *Bus) History(ctx context.Context, filter EventFilter) ([]BusinessEvent, error) {
	if filter.Pattern != "" {
		if err := operations.ValidatePattern(filter.Pattern); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	filter.Limit = clampLimit(filter.Limit)
	return b.store.ListEvents(ctx, filter)
}
