package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrShortPacket indicates fewer bytes than a header.
	ErrShortPacket = errors.New("short packet")
	// ErrInvalidHeader indicates an INVALID type or out of range fields.
	ErrInvalidHeader = errors.New("invalid header")
	// ErrPayloadTooLarge indicates a payload over MaxPayload.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// LengthError indicates the declared payload length exceeds the bytes received.
type LengthError struct {
	Declared int
	Actual   int
}

// Error implements error.
func (e *LengthError) Error() string {
	return fmt.Sprintf("declared length %d, got %d", e.Declared, e.Actual)
}
