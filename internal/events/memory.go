package events

import (
	"context"
	"sort"
	"sync"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
)

// MemoryStore keeps the audit trail in process memory. Used by tests and the
// ledgerctl demo.
type MemoryStore struct {
	mu     sync.RWMutex
	events []BusinessEvent
	logs   []ExecutionLog
	nextID int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertEvent(ctx context.Context, evt BusinessEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	evt.Payload = append([]byte(nil), evt.Payload...)
	s.events = append(s.events, evt)
	return nil
}

func (s *MemoryStore) InsertExecutionLog(ctx context.Context, log ExecutionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	log.ID = s.nextID
	s.logs = append(s.logs, log)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]BusinessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []BusinessEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		evt := s.events[i]
		if filter.Pattern != "" && !operations.Matches(filter.Pattern, evt.OperationID) {
			continue
		}
		if filter.EntityType != "" && evt.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && evt.EntityID != filter.EntityID {
			continue
		}
		if !filter.From.IsZero() && evt.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && evt.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, evt)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListExecutionLogs(_ context.Context, filter ExecutionLogFilter) ([]ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ExecutionLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		log := s.logs[i]
		if log.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.OnlyFailed && log.HandlersFailed == 0 {
			continue
		}
		out = append(out, log)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a copy of every stored event in insertion order.
func (s *MemoryStore) Events() []BusinessEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]BusinessEvent(nil), s.events...)
}

// Logs returns a copy of every execution log in insertion order.
func (s *MemoryStore) Logs() []ExecutionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ExecutionLog(nil), s.logs...)
}
