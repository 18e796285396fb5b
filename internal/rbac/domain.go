package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
)

// Level is an ordered permission level.
type Level int

const (
	LevelNone Level = iota
	LevelView
	LevelEdit
	LevelApprove
	LevelAdmin
)

var levelNames = map[Level]string{
	LevelNone:    "none",
	LevelView:    "view",
	LevelEdit:    "edit",
	LevelApprove: "approve",
	LevelAdmin:   "admin",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether l is one of the declared levels.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// ParseLevel converts the stored name of a level.
func ParseLevel(raw string) (Level, error) {
	needle := strings.ToLower(strings.TrimSpace(raw))
	for level, name := range levelNames {
		if name == needle {
			return level, nil
		}
	}
	return LevelNone, fmt.Errorf("rbac: unknown level %q", raw)
}

// Grant gives a role a level over every operation the pattern matches.
type Grant struct {
	Role    string
	Pattern string
	Level   Level
}

// Validate checks the grant before it is stored.
func (g Grant) Validate() error {
	if normalizeRole(g.Role) == "" {
		return errors.New("rbac: role required")
	}
	if err := operations.ValidatePattern(g.Pattern); err != nil {
		return err
	}
	if !g.Level.Valid() {
		return fmt.Errorf("rbac: invalid level %d", int(g.Level))
	}
	return nil
}

// Decision is the outcome of one permission check.
type Decision struct {
	Allowed     bool
	Role        string
	OperationID operations.ID
	Required    Level
	Granted     Level
	// Pattern is the grant that decided the level, empty when none matched.
	Pattern string
	Cached  bool
}

var (
	// ErrPermissionDenied is matched by every *PermissionError.
	ErrPermissionDenied = errors.New("rbac: permission denied")
)

// PermissionError describes a denied check.
type PermissionError struct {
	Role        string
	OperationID operations.ID
	Required    Level
	Granted     Level
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("rbac: role %q needs %s on %s, has %s", e.Role, e.Required, e.OperationID, e.Granted)
}

func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// resolve picks the most specific grant matching id. Equal specificity keeps the
// higher level.
func resolve(grants []Grant, id operations.ID) (Level, string) {
	best := -1
	level := LevelNone
	pattern := ""
	for _, g := range grants {
		if !operations.Matches(g.Pattern, id) {
			continue
		}
		spec := operations.Specificity(g.Pattern)
		if spec > best || (spec == best && g.Level > level) {
			best = spec
			level = g.Level
			pattern = g.Pattern
		}
	}
	return level, pattern
}
