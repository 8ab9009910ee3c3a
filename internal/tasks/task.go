// Package tasks defines the task capability contract, the registry that
// resolves flow task names to executable behavior, and the built-in demo
// tasks shipped with the service.
package tasks

import "context"

// Task is a named unit of executable behavior. Execute receives the
// accumulated context of the current run (caller input plus the payloads
// of prior steps, keyed by task name) and returns its own payload. A nil
// error is a success outcome; a non-nil error is a failure outcome with
// the error text as the step's error message. Implementations must treat
// the input map as read-only.
type Task interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Info is the introspection view of a registered task.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
