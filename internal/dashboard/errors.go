package dashboard

import "fmt"

// ConfigError rejects an operator-supplied setting without changing any state.
type ConfigError struct {
	Field string
	Value int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %d (must be greater than zero)", e.Field, e.Value)
}
