// Package nvs is the non-volatile key/value storage used by the settings store.
//
// Storage is partitioned into namespaces. A Handle opened on a namespace stages
// writes until Commit.
package nvs

// Mode is the access mode of a Handle.
type Mode int

// Access modes.
const (
	ReadOnly Mode = iota
	ReadWrite
)

// Kind is the type of a stored value.
type Kind uint8

// Value kinds.
const (
	KindString Kind = iota + 1
	KindU8
)

// Backend opens namespaces.
type Backend interface {
	Open(namespace string, mode Mode) (Handle, error)
}

// Handle accesses a single namespace.
// Get methods return ErrNotFound if the key is absent.
type Handle interface {
	GetString(key string) (string, error)
	SetString(key, value string) error
	GetU8(key string) (uint8, error)
	SetU8(key string, value uint8) error
	Erase(key string) error
	Commit() error
	Close() error
}

type entry struct {
	Kind Kind   `cbor:"1,keyasint"`
	Str  string `cbor:"2,keyasint,omitempty"`
	U8   uint8  `cbor:"3,keyasint,omitempty"`
}

type namespaces map[string]map[string]entry

func (n namespaces) lookup(ns, key string) (entry, bool) {
	e, ok := n[ns][key]
	return e, ok
}

// apply merges staged changes. A nil change erases the key.
func (n namespaces) apply(ns string, changes map[string]*entry) {
	tbl := n[ns]
	if tbl == nil {
		tbl = make(map[string]entry)
		n[ns] = tbl
	}
	for key, e := range changes {
		if e == nil {
			delete(tbl, key)
		} else {
			tbl[key] = *e
		}
	}
}

func (n namespaces) clone() namespaces {
	c := make(namespaces, len(n))
	for ns, tbl := range n {
		t := make(map[string]entry, len(tbl))
		for k, v := range tbl {
			t[k] = v
		}
		c[ns] = t
	}
	return c
}

// store is what a handle needs from its backend.
type store interface {
	lookup(ns, key string) (entry, bool, error)
	commit(ns string, changes map[string]*entry) error
}

type handle struct {
	store   store
	ns      string
	mode    Mode
	pending map[string]*entry
	closed  bool
}

func newHandle(s store, ns string, mode Mode) *handle {
	return &handle{store: s, ns: ns, mode: mode, pending: make(map[string]*entry)}
}

func (h *handle) get(key string, kind Kind) (entry, error) {
	if h.closed {
		return entry{}, ErrClosed
	}
	if e, staged := h.pending[key]; staged {
		if e == nil {
			return entry{}, ErrNotFound
		}
		if e.Kind != kind {
			return entry{}, ErrTypeMismatch
		}
		return *e, nil
	}
	e, ok, err := h.store.lookup(h.ns, key)
	if err != nil {
		return entry{}, err
	}
	if !ok {
		return entry{}, ErrNotFound
	}
	if e.Kind != kind {
		return entry{}, ErrTypeMismatch
	}
	return e, nil
}

func (h *handle) stage(key string, e *entry) error {
	if h.closed {
		return ErrClosed
	}
	if h.mode != ReadWrite {
		return ErrReadOnly
	}
	if key == "" || len(key) > MaxKeyLen {
		return ErrInvalidKey
	}
	h.pending[key] = e
	return nil
}

func (h *handle) GetString(key string) (string, error) {
	e, err := h.get(key, KindString)
	return e.Str, err
}

func (h *handle) SetString(key, value string) error {
	return h.stage(key, &entry{Kind: KindString, Str: value})
}

func (h *handle) GetU8(key string) (uint8, error) {
	e, err := h.get(key, KindU8)
	return e.U8, err
}

func (h *handle) SetU8(key string, value uint8) error {
	return h.stage(key, &entry{Kind: KindU8, U8: value})
}

func (h *handle) Erase(key string) error {
	return h.stage(key, nil)
}

func (h *handle) Commit() error {
	if h.closed {
		return ErrClosed
	}
	if len(h.pending) == 0 {
		return nil
	}
	if err := h.store.commit(h.ns, h.pending); err != nil {
		return err
	}
	h.pending = make(map[string]*entry)
	return nil
}

// Close discards uncommitted writes.
func (h *handle) Close() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	h.pending = nil
	return nil
}
