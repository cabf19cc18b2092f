package closer

import (
	"errors"
	"fmt"
)

var (
	// ErrNilStack indicates an operation on a nil Stack.
	ErrNilStack = errors.New("nil closer stack")
	// ErrNilFunc indicates a nil undo action.
	ErrNilFunc = errors.New("nil undo action")
	// ErrDestroyed indicates the Stack has been destroyed.
	ErrDestroyed = errors.New("closer stack destroyed")
)

// UndoError reports the first failed undo action of a Drain.
type UndoError struct {
	What string
	Err  error
}

// Error implements error.
func (e *UndoError) Error() string {
	return fmt.Sprintf("undo %s: %v", e.What, e.Err)
}

// Unwrap returns the error of the undo action.
func (e *UndoError) Unwrap() error {
	return e.Err
}
