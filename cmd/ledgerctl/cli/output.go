package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Output carries the writers a command prints to.
type Output struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (o Output) withDefaults() Output {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

func (o Output) fail(command string, err error) int {
	_, _ = fmt.Fprintf(o.Stderr, "%s: %v\n", command, err)
	return ExitError
}

func (o Output) json(command string, v any) int {
	enc := json.NewEncoder(o.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return o.fail(command, fmt.Errorf("encode json: %w", err))
	}
	return ExitOK
}

// Exit codes shared by every command. ExitFlagged marks a successful run that
// found something an operator must look at.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitFlagged = 10
)
