package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrRunning indicates Start on a running pipeline.
	ErrRunning = errors.New("pipeline already running")
	// ErrNotRunning indicates an operation which needs a running pipeline.
	ErrNotRunning = errors.New("pipeline not running")
	// ErrInvalidArgument indicates an empty payload or unset destination.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTimeout indicates the send completion did not arrive in time.
	ErrTimeout = errors.New("send timeout")
	// ErrSendFailed indicates the driver reported a failed transmission.
	ErrSendFailed = errors.New("send failed")
)

// DriverError wraps an error returned by the radio driver.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("radio %s: %v", e.Op, e.Err)
}

// Unwrap returns the driver error.
func (e *DriverError) Unwrap() error {
	return e.Err
}

func driverErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DriverError{Op: op, Err: err}
}
