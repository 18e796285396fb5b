package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
)

// Gate answers whether a role may perform an operation at a given level. The
// composition root constructs it with an explicit cache.
type Gate struct {
	policy Policy
	cache  Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewGate constructs a Gate. A nil cache disables caching.
func NewGate(policy Policy, cache Cache, logger *slog.Logger) *Gate {
	if cache == nil {
		cache = NoopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{policy: policy, cache: cache, logger: logger}
}

// CheckPermission resolves role against id and compares with required. An empty
// role is denied. Cache failures fall through to the policy.
func (g *Gate) CheckPermission(ctx context.Context, id operations.ID, required Level, role string) (Decision, error) {
	if !operations.Known(id) {
		return Decision{}, fmt.Errorf("%w: %q", operations.ErrUnknownOperation, id)
	}
	role = normalizeRole(role)
	decision := Decision{Role: role, OperationID: id, Required: required}
	if role == "" {
		decision.Allowed = required <= LevelNone
		return decision, nil
	}

	entry, hit, err := g.cache.Get(ctx, role, id)
	if err != nil {
		g.logger.Warn("rbac cache get", slog.String("role", role), slog.Any("error", err))
	}
	if !hit {
		entry, err = g.load(ctx, role, id)
		if err != nil {
			return Decision{}, err
		}
	}
	decision.Cached = hit
	decision.Granted = entry.Level
	decision.Pattern = entry.Pattern
	decision.Allowed = entry.Level >= required
	return decision, nil
}

func (g *Gate) load(ctx context.Context, role string, id operations.ID) (CacheEntry, error) {
	key := role + "|" + string(id)
	// The load is shared by every caller collapsed onto key, so it must not
	// inherit one caller's cancellation.
	shared := context.WithoutCancel(ctx)
	result := g.group.DoChan(key, func() (interface{}, error) {
		grants, err := g.policy.Grants(shared, role)
		if err != nil {
			return CacheEntry{}, err
		}
		level, pattern := resolve(grants, id)
		entry := CacheEntry{Level: level, Pattern: pattern}
		if err := g.cache.Set(shared, role, id, entry); err != nil {
			g.logger.Warn("rbac cache set", slog.String("role", role), slog.Any("error", err))
		}
		return entry, nil
	})
	select {
	case <-ctx.Done():
		return CacheEntry{}, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return CacheEntry{}, fmt.Errorf("rbac: load grants for %s: %w", role, res.Err)
		}
		return res.Val.(CacheEntry), nil
	}
}

// Require is CheckPermission returning a *PermissionError on deny.
func (g *Gate) Require(ctx context.Context, id operations.ID, required Level, role string) error {
	decision, err := g.CheckPermission(ctx, id, required, role)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		g.logger.Info("permission denied",
			slog.String("role", decision.Role),
			slog.String("operation_id", string(id)),
			slog.String("required", required.String()),
			slog.String("granted", decision.Granted.String()))
		return &PermissionError{Role: decision.Role, OperationID: id, Required: required, Granted: decision.Granted}
	}
	return nil
}

// Invalidate drops cached decisions for role after its grants change.
func (g *Gate) Invalidate(ctx context.Context, role string) error {
	return g.cache.Invalidate(ctx, normalizeRole(role))
}
