package nvs

import "errors"

// MaxKeyLen is the longest accepted key.
const MaxKeyLen = 32

var (
	// ErrNotFound indicates the key does not exist in the namespace.
	ErrNotFound = errors.New("nvs: not found")
	// ErrTypeMismatch indicates the key holds a value of another kind.
	ErrTypeMismatch = errors.New("nvs: type mismatch")
	// ErrReadOnly indicates a write on a read-only handle.
	ErrReadOnly = errors.New("nvs: read only")
	// ErrClosed indicates use of a closed handle.
	ErrClosed = errors.New("nvs: handle closed")
	// ErrInvalidKey indicates an empty or too long key.
	ErrInvalidKey = errors.New("nvs: invalid key")
	// ErrInvalidNamespace indicates an empty or too long namespace.
	ErrInvalidNamespace = errors.New("nvs: invalid namespace")
)

// IsNotFound tells if err indicates a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func checkNamespace(ns string) error {
	if ns == "" || len(ns) > MaxKeyLen {
		return ErrInvalidNamespace
	}
	return nil
}
