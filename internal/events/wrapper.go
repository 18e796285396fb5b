package events

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
)

// Emitter is satisfied by *Bus.
type Emitter interface {
	Emit(ctx context.Context, in EmitInput) (ExecutionSummary, error)
}

// Entity is implemented by mutation results that carry their own identifier.
type Entity interface {
	EventEntityID() string
}

// EventSpec describes the event WithEvent emits after a successful mutation.
type EventSpec struct {
	OperationID operations.ID
	EntityType  string
	UserID      *int64
	// EntityID overrides the identifier derived from the result.
	EntityID string
	// Payload builds the event payload from the result. When nil the result
	// itself is the payload.
	Payload func(result any) any
}

// WithEvent runs mutate and, only when it succeeds, emits one event describing
// the result. A mutation error is returned unchanged and nothing is emitted. An
// emit error is returned next to the committed result; the mutation is not
// rolled back.
func WithEvent[T any](ctx context.Context, emitter Emitter, spec EventSpec, mutate func(context.Context) (T, error)) (T, error) {
	result, err := mutate(ctx)
	if err != nil {
		return result, err
	}
	entityID := spec.EntityID
	if entityID == "" {
		entityID = deriveEntityID(result)
	}
	var payload any = result
	if spec.Payload != nil {
		payload = spec.Payload(result)
	}
	if _, err := emitter.Emit(ctx, EmitInput{
		OperationID: spec.OperationID,
		EntityType:  spec.EntityType,
		EntityID:    entityID,
		Payload:     payload,
		UserID:      spec.UserID,
	}); err != nil {
		return result, fmt.Errorf("emit %s: %w", spec.OperationID, err)
	}
	return result, nil
}

func deriveEntityID(result any) string {
	switch v := result.(type) {
	case Entity:
		return v.EventEntityID()
	case fmt.Stringer:
		return v.String()
	case string:
		return v
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	}
	return ""
}
