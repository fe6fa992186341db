package manager

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Start unless the manager is Stopped.
var ErrAlreadyRunning = errors.New("capture already running")

// ConfigurationError rejects a start attempt before any capture resource is
// acquired.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// CaptureSourceError reports a packet source that could not be opened or
// failed while running. It ends the session.
type CaptureSourceError struct {
	Op  string
	Err error
}

func (e *CaptureSourceError) Error() string {
	return fmt.Sprintf("capture source %s: %v", e.Op, e.Err)
}

func (e *CaptureSourceError) Unwrap() error {
	return e.Err
}
