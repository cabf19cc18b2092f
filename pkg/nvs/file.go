package nvs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	fileEncMode cbor.EncMode
	fileDecMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	if fileEncMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("nvs: cbor encoder mode: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	if fileDecMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Sprintf("nvs: cbor decoder mode: %v", err))
	}
}

// File is a Backend persisted as a single CBOR document.
// Every commit rewrites the file atomically.
type File struct {
	path string

	lock   sync.Mutex
	data   namespaces
	loaded bool
}

// NewFile creates a File backend at path. The file is created on first commit.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Open implements Backend.
func (f *File) Open(namespace string, mode Mode) (Handle, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.loadLocked(); err != nil {
		return nil, err
	}
	if _, exists := f.data[namespace]; !exists && mode == ReadOnly {
		return nil, ErrNotFound
	}
	return newHandle(f, namespace, mode), nil
}

func (f *File) loadLocked() error {
	if f.loaded {
		return nil
	}
	raw, err := os.ReadFile(f.path)
	switch {
	case os.IsNotExist(err):
		f.data = make(namespaces)
	case err != nil:
		return err
	default:
		data := make(namespaces)
		if err := fileDecMode.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("nvs: decode %s: %w", f.path, err)
		}
		f.data = data
	}
	f.loaded = true
	return nil
}

func (f *File) lookup(ns, key string) (entry, bool, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.loadLocked(); err != nil {
		return entry{}, false, err
	}
	e, ok := f.data.lookup(ns, key)
	return e, ok, nil
}

func (f *File) commit(ns string, changes map[string]*entry) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.loadLocked(); err != nil {
		return err
	}
	next := f.data.clone()
	next.apply(ns, changes)
	raw, err := fileEncMode.Marshal(next)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(f.path, raw); err != nil {
		return err
	}
	f.data = next
	return nil
}

func writeFileAtomic(path string, raw []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
