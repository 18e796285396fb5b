package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
	"github.com/odyssey-erp/fleet-ledger/internal/rbac"
)

// GrantWriter persists role grants. *rbac.PostgresPolicy implements it.
type GrantWriter interface {
	Upsert(ctx context.Context, g rbac.Grant) error
}

// AccessCLI manages and checks role permissions.
type AccessCLI struct {
	writer GrantWriter
	gate   *rbac.Gate
}

// NewAccessCLI constructs the helper.
func NewAccessCLI(writer GrantWriter, gate *rbac.Gate) (*AccessCLI, error) {
	if gate == nil {
		return nil, errors.New("access cli: gate required")
	}
	return &AccessCLI{writer: writer, gate: gate}, nil
}

// AccessOptions defines flags for the grant and check commands.
type AccessOptions struct {
	Role string
	// Target is an operation pattern for grant and an operation id for check.
	Target string
	Level  string
	Output
}

// GrantCommand stores a grant and drops the role's cached decisions.
func (c *AccessCLI) GrantCommand(ctx context.Context, opts AccessOptions) int {
	out := opts.Output.withDefaults()
	if c.writer == nil {
		return out.fail("grant", errors.New("no grant store configured"))
	}
	level, err := rbac.ParseLevel(opts.Level)
	if err != nil {
		return out.fail("grant", err)
	}
	grant := rbac.Grant{Role: opts.Role, Pattern: opts.Target, Level: level}
	if err := c.writer.Upsert(ctx, grant); err != nil {
		return out.fail("grant", err)
	}
	if err := c.gate.Invalidate(ctx, opts.Role); err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "grant: cached decisions not cleared: %v\n", err)
	}
	_, _ = fmt.Fprintf(out.Stdout, "granted %s on %s to %s\n", level, opts.Target, opts.Role)
	return ExitOK
}

// CheckCommand evaluates one permission. A denial exits with ExitFlagged.
func (c *AccessCLI) CheckCommand(ctx context.Context, opts AccessOptions) int {
	out := opts.Output.withDefaults()
	id, err := operations.Parse(opts.Target)
	if err != nil {
		return out.fail("check", err)
	}
	required, err := rbac.ParseLevel(opts.Level)
	if err != nil {
		return out.fail("check", err)
	}
	decision, err := c.gate.CheckPermission(ctx, id, required, opts.Role)
	if err != nil {
		return out.fail("check", err)
	}
	source := decision.Pattern
	if source == "" {
		source = "no matching grant"
	}
	verdict := "ALLOW"
	if !decision.Allowed {
		verdict = "DENY"
	}
	_, _ = fmt.Fprintf(out.Stdout, "%s %s %s (required %s, granted %s via %s)\n", verdict, decision.Role, id, required, decision.Granted, source)
	if !decision.Allowed {
		return ExitFlagged
	}
	return ExitOK
}
