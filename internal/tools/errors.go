package tools

import "fmt"

// ErrToolUnavailable is returned when a call targets a tool that is not
// registered, for example one the selection policy left out. It is a
// capability mismatch, not a transient failure; retrying will not help.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
