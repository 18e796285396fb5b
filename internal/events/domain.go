package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
)

// BusinessEvent is the immutable record that a domain action happened.
type BusinessEvent struct {
	ID          uuid.UUID
	OperationID operations.ID
	EntityType  string
	EntityID    string
	Payload     json.RawMessage
	UserID      *int64
	CreatedAt   time.Time
}

// DecodePayload unmarshals the event payload into dest.
func (e BusinessEvent) DecodePayload(dest any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, dest)
}

// Level tags an execution log row.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// ExecutionLog is the audit row written once per Emit call.
type ExecutionLog struct {
	ID              int64
	EventID         uuid.UUID
	OperationID     operations.ID
	OriginModule    string
	Level           Level
	HandlersInvoked int
	HandlersFailed  int
	DurationMs      int64
	CreatedAt       time.Time
}

// ExecutionSummary reports the outcome of one Emit call.
type ExecutionSummary struct {
	EventID         uuid.UUID
	OperationID     operations.ID
	HandlersInvoked int
	HandlersFailed  int
	Duration        time.Duration
	Failures        []*HandlerExecutionError
	// LogErr is set when the execution log row could not be written. The event
	// itself was persisted and handlers ran.
	LogErr error
}

// HandlerFunc reacts to a matching event.
type HandlerFunc func(ctx context.Context, evt BusinessEvent) error

// EmitInput describes one event emission.
type EmitInput struct {
	OperationID operations.ID
	EntityType  string
	EntityID    string
	Payload     any
	UserID      *int64
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	Pattern    string
	EntityType string
	EntityID   string
	From       time.Time
	To         time.Time
	Limit      int
}

// ExecutionLogFilter narrows ListExecutionLogs.
type ExecutionLogFilter struct {
	Since      time.Time
	OnlyFailed bool
	Limit      int
}

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

var (
	// ErrValidation indicates malformed emit or registration input.
	ErrValidation = errors.New("events: invalid input")
	// ErrAuditPersistence indicates the business event could not be stored.
	ErrAuditPersistence = errors.New("events: business event not persisted")
	// ErrHandlerFailed marks isolated handler failures.
	ErrHandlerFailed = errors.New("events: handler failed")
)

// HandlerExecutionError records an isolated handler failure. It is reported in
// the summary and never returned from Emit.
type HandlerExecutionError struct {
	Handler     string
	OperationID operations.ID
	EntityID    string
	Err         error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("events: handler %s failed for %s/%s: %v", e.Handler, e.OperationID, e.EntityID, e.Err)
}

// Unwrap exposes ErrHandlerFailed and the handler's error.
func (e *HandlerExecutionError) Unwrap() []error {
	return []error{ErrHandlerFailed, e.Err}
}
