package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is the class of all rejected input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownKey indicates a key outside the schema.
	ErrUnknownKey = fmt.Errorf("%w: unknown key", ErrInvalidArgument)
	// ErrMalformedLine indicates a csv line which is not key=value.
	ErrMalformedLine = fmt.Errorf("%w: malformed line", ErrInvalidArgument)
	// ErrInvalidValue indicates a value which cannot be stored in its field.
	ErrInvalidValue = fmt.Errorf("%w: invalid value", ErrInvalidArgument)
	// ErrEmptyPayload indicates an empty csv document.
	ErrEmptyPayload = fmt.Errorf("%w: empty payload", ErrInvalidArgument)

	// ErrInvalidSize indicates a text value longer than its field capacity.
	ErrInvalidSize = errors.New("value too large")
	// ErrBufferTooSmall indicates the csv output does not fit.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// LineError reports the csv line which failed.
type LineError struct {
	Line int
	Key  string
	Err  error
}

func (e *LineError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("line %d (%s): %v", e.Line, e.Key, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}
