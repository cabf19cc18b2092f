package radio

import "errors"

var (
	// ErrNotInitialized indicates the driver is not initialized.
	ErrNotInitialized = errors.New("radio not initialized")
	// ErrAlreadyInitialized indicates Init was called twice.
	ErrAlreadyInitialized = errors.New("radio already initialized")
	// ErrPeerNotFound indicates the destination is not in the peer table.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrPeerExists indicates the peer is already in the peer table.
	ErrPeerExists = errors.New("peer exists")
	// ErrFrameTooLarge indicates the payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrEmptyFrame indicates an empty payload.
	ErrEmptyFrame = errors.New("empty frame")
)

// CheckPayload validates the size of an outgoing payload.
func CheckPayload(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFrame
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	return nil
}
