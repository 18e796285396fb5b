package rbac

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Policy returns the grants held by a role.
type Policy interface {
	Grants(ctx context.Context, role string) ([]Grant, error)
}

// StaticPolicy is an in-memory Policy.
type StaticPolicy struct {
	mu     sync.RWMutex
	grants map[string][]Grant
}

// NewStaticPolicy builds a policy from grants. Invalid grants are rejected.
func NewStaticPolicy(grants ...Grant) (*StaticPolicy, error) {
	p := &StaticPolicy{grants: make(map[string][]Grant)}
	for _, g := range grants {
		if err := p.Set(g); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Set adds or replaces the grant for (role, pattern).
func (p *StaticPolicy) Set(g Grant) error {
	if err := g.Validate(); err != nil {
		return err
	}
	role := normalizeRole(g.Role)
	g.Role = role
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.grants[role] {
		if existing.Pattern == g.Pattern {
			p.grants[role][i] = g
			return nil
		}
	}
	p.grants[role] = append(p.grants[role], g)
	return nil
}

func (p *StaticPolicy) Grants(_ context.Context, role string) ([]Grant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Grant(nil), p.grants[normalizeRole(role)]...), nil
}

// PostgresPolicy reads grants from the role_permissions table.
type PostgresPolicy struct {
	pool *pgxpool.Pool
}

// NewPostgresPolicy constructs PostgresPolicy.
func NewPostgresPolicy(pool *pgxpool.Pool) *PostgresPolicy {
	return &PostgresPolicy{pool: pool}
}

func (p *PostgresPolicy) Grants(ctx context.Context, role string) ([]Grant, error) {
	if p == nil || p.pool == nil {
		return nil, errors.New("rbac policy not initialised")
	}
	rows, err := p.pool.Query(ctx, `SELECT role, pattern, level FROM role_permissions WHERE role = $1 ORDER BY pattern`, normalizeRole(role))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Grant, error) {
		var (
			g     Grant
			level string
		)
		if err := row.Scan(&g.Role, &g.Pattern, &level); err != nil {
			return Grant{}, err
		}
		parsed, err := ParseLevel(level)
		if err != nil {
			return Grant{}, err
		}
		g.Level = parsed
		return g, nil
	})
}

// Upsert stores g, replacing the level of an existing (role, pattern) row.
func (p *PostgresPolicy) Upsert(ctx context.Context, g Grant) error {
	if err := g.Validate(); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO role_permissions (role, pattern, level) VALUES ($1,$2,$3)
ON CONFLICT (role, pattern) DO UPDATE SET level = EXCLUDED.level, updated_at = NOW()`,
		normalizeRole(g.Role), g.Pattern, g.Level.String())
	return err
}
