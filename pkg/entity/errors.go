package entity

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a requested record does not exist. It is
// propagated to the caller and is not a system fault: adapters never log
// it as an error.
type NotFoundError struct {
	Type Type
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Type, e.ID)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ConfigurationError reports missing or contradictory configuration, such
// as selecting the neon backend without its connection settings. It is
// fatal and surfaced immediately rather than masked by a fallback: a
// broken deployment must not look like "no data".
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// BackendCallError reports a network, HTTP, or backend-reported failure
// for a single entity operation. Correctness-critical paths propagate it;
// best-effort paths (audit, cache population, aggregate reads) swallow it
// after logging.
type BackendCallError struct {
	Backend   Backend
	Operation string
	Err       error
}

func (e *BackendCallError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Operation, e.Err)
}

func (e *BackendCallError) Unwrap() error { return e.Err }
