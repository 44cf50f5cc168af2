package toolserver

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is returned when no allowed server offers a tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrServerNotFound is returned for references to unregistered servers.
	ErrServerNotFound = errors.New("server not found")
	// ErrServerExited is returned when a stdin-pipe child exits before answering.
	ErrServerExited = errors.New("server process exited")
	// ErrClosed is returned after the registry has been closed.
	ErrClosed = errors.New("registry closed")
)

// DefinitionError reports a malformed server definition.
type DefinitionError struct {
	Server string
	Field  string
	Value  string
	Reason string
}

func (e *DefinitionError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("server %q: invalid %s %q: %s", e.Server, e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("server %q: invalid %s: %s", e.Server, e.Field, e.Reason)
}

// NotFoundError carries the closest known tool name when one exists.
type NotFoundError struct {
	Tool       string
	Suggestion string
}

func (e *NotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %s (did you mean %q?)", ErrToolNotFound, e.Tool, e.Suggestion)
	}
	return fmt.Sprintf("%s: %s", ErrToolNotFound, e.Tool)
}

func (e *NotFoundError) Unwrap() error { return ErrToolNotFound }
