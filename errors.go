package preload

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrQueueClosed is returned when operations are attempted on a queue
	// that has been shut down.
	ErrQueueClosed = errors.New(`preload: queue is closed`)

	// ErrUnknownKind indicates no adapter is registered for a resource kind,
	// and no loader override was provided.
	ErrUnknownKind = errors.New(`preload: no adapter for kind`)

	// ErrMissingField indicates a configuration field required by the
	// resource kind was not set.
	ErrMissingField = errors.New(`preload: missing required field`)

	// ErrUnsupportedMode indicates the kind cannot be loaded using the
	// requested mode (e.g. JSON in sync mode).
	ErrUnsupportedMode = errors.New(`preload: unsupported mode`)

	// ErrAborted is the cause recorded for items that were aborted.
	ErrAborted = errors.New(`preload: aborted`)

	// ErrTimeout is the cause recorded for items that timed out.
	ErrTimeout = errors.New(`preload: timeout`)

	// ErrNotProcessed is the settlement reason used when an item was
	// processed without a recorded error, but never reached the loaded
	// state (e.g. the load default was prevented).
	ErrNotProcessed = errors.New(`preload: item did not load`)
)

// ConfigError is returned by [Queue.Fetch] when an item cannot be
// constructed. Configuration errors are never retried.
type ConfigError struct {
	Err   error
	Kind  string
	Field string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	switch {
	case e.Field != ``:
		return fmt.Sprintf(`preload: invalid %q config: %s: %v`, e.Kind, e.Field, e.Err)
	default:
		return fmt.Sprintf(`preload: invalid %q config: %v`, e.Kind, e.Err)
	}
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// StatusError is recorded when a fetch completes with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf(`preload: unexpected status %d fetching %s`, e.StatusCode, e.URL)
}

// LoadError is the rejection reason of an item's settlement promise.
type LoadError struct {
	Err  error
	Item *Item
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	name := e.Item.String()
	if e.Err == nil {
		return fmt.Sprintf(`preload: %s failed`, name)
	}
	return fmt.Sprintf(`preload: %s failed: %v`, name, e.Err)
}

// Unwrap returns the recorded item error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking listener, adapter, or
// plugin initializer.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf(`preload: panic: %v`, e.Value)
}

// Unwrap returns the panic value, if it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func missingField(kind, field string) error {
	return &ConfigError{Kind: kind, Field: field, Err: ErrMissingField}
}

func unsupportedMode(kind, field string) error {
	return &ConfigError{Kind: kind, Field: field, Err: ErrUnsupportedMode}
}
