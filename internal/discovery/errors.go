package discovery

import (
	"errors"
	"fmt"
)

// ErrNoTargets is returned when the resolved target address set is empty.
var ErrNoTargets = errors.New("no target addresses to scan")

// ConfigurationError reports a target configuration the scanner cannot work
// with. It is fatal to discovery but not to the process.
type ConfigurationError struct {
	Reason string
	Err    error
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func noTargets(reason string) error {
	return &ConfigurationError{Reason: reason, Err: ErrNoTargets}
}
