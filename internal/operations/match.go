package operations

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard is the trailing segment that matches a subtree.
const Wildcard = "*"

var (
	// ErrUnknownOperation indicates an identifier outside the catalog.
	ErrUnknownOperation = errors.New("operations: unknown operation")
	// ErrInvalidPattern indicates a malformed or unreachable pattern.
	ErrInvalidPattern = errors.New("operations: invalid pattern")
)

// Parse validates raw against the catalog.
func Parse(raw string) (ID, error) {
	id := ID(strings.TrimSpace(raw))
	if !Known(id) {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, raw)
	}
	return id, nil
}

// ValidatePattern accepts an exact catalog id, a catalog prefix followed by ".*",
// or a bare "*".
func ValidatePattern(pattern string) error {
	if pattern == Wildcard {
		return nil
	}
	if pattern == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	if strings.HasSuffix(pattern, "."+Wildcard) {
		prefix := strings.TrimSuffix(pattern, "."+Wildcard)
		if strings.Contains(prefix, Wildcard) {
			return fmt.Errorf("%w: %q wildcard must be the last segment", ErrInvalidPattern, pattern)
		}
		if _, ok := prefixes[prefix]; !ok {
			return fmt.Errorf("%w: %q matches no known operation", ErrInvalidPattern, pattern)
		}
		return nil
	}
	if strings.Contains(pattern, Wildcard) {
		return fmt.Errorf("%w: %q wildcard must be the last segment", ErrInvalidPattern, pattern)
	}
	if !Known(ID(pattern)) {
		return fmt.Errorf("%w: %q is not a known operation", ErrInvalidPattern, pattern)
	}
	return nil
}

// Matches reports whether id is selected by pattern. A pattern matches when it
// equals id, or when some prefix of id's segments (the whole id included) followed
// by ".*" equals it. A bare "*" matches everything.
func Matches(pattern string, id ID) bool {
	if pattern == Wildcard || pattern == string(id) {
		return true
	}
	if !strings.HasSuffix(pattern, "."+Wildcard) {
		return false
	}
	prefix := strings.TrimSuffix(pattern, "."+Wildcard)
	s := string(id)
	if s == prefix {
		return true
	}
	return len(s) > len(prefix) && strings.HasPrefix(s, prefix) && s[len(prefix)] == '.'
}

// Specificity ranks patterns for most-specific-wins lookups: an exact id outranks
// any wildcard, and deeper wildcards outrank shallower ones.
func Specificity(pattern string) int {
	if pattern == Wildcard {
		return 0
	}
	depth := strings.Count(pattern, ".") + 1
	if strings.HasSuffix(pattern, "."+Wildcard) {
		return depth - 1
	}
	return 1000 + depth
}
