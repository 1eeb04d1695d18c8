package provision

import "fmt"

// PersistenceError wraps a store failure (unreachable store, constraint violation).
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("provision: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigurationError reports malformed environment input.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provision: invalid %s %q: %v", e.Field, e.Value, e.Err)
}
func (e *ConfigurationError) Unwrap() error { return e.Err }
