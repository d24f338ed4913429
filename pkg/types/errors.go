package types

import (
	"fmt"
)

// ErrNotFound signals that a source holds nothing for a request.
type ErrNotFound string

func (err ErrNotFound) Error() string {
	return string(err)
}

var (
	// ErrSamplesNotFound is returned when a source has no samples for a range.
	ErrSamplesNotFound = ErrNotFound("No samples returned")
)

// InvalidRangeError is returned for ranges with non-positive ends or a start
// after the end. Nothing is computed for such a range.
type InvalidRangeError struct {
	Start  int64
	End    int64
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid time range [%d, %d): %s", e.Start, e.End, e.Reason)
}

// ConfigurationError is returned for unrecognized intervals, units or
// settings. There is no fallback value.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func NewConfigurationError(field, value, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Value: value, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}

	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
