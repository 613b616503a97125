package domain

import (
	"errors"
	"fmt"
)

// ErrPolicyRejected marks a deliberate no-op: the trade was evaluated and
// declined by policy (price impact, floor/ceiling, deviation below
// threshold). It is not an execution failure and must not be retried in a
// tight loop.
var ErrPolicyRejected = errors.New("rejected by policy")

// ErrNotFound marks a missing record in any repository.
var ErrNotFound = errors.New("not found")

// ConfigError marks an invalid configuration. It is fatal to the
// construction that raised it and to nothing else.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// IsConfigError reports whether err is a construction-time config failure.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
