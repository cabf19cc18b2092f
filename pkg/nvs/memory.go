package nvs

import "sync"

// Memory is a volatile Backend.
type Memory struct {
	lock sync.Mutex
	data namespaces

	openErr    error
	commitErr  error
	commitSkip int
	commits    int
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(namespaces)}
}

// Open implements Backend.
// Opening a missing namespace read-only returns ErrNotFound.
func (m *Memory) Open(namespace string, mode Mode) (Handle, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	if _, exists := m.data[namespace]; !exists && mode == ReadOnly {
		return nil, ErrNotFound
	}
	return newHandle(m, namespace, mode), nil
}

// Commits returns the number of successful commits.
func (m *Memory) Commits() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.commits
}

// FailOpen makes every Open fail with err. A nil err clears the fault.
func (m *Memory) FailOpen(err error) {
	m.lock.Lock()
	m.openErr = err
	m.lock.Unlock()
}

// FailNextCommit lets skip commits succeed and fails the one after with err.
// The fault fires once.
func (m *Memory) FailNextCommit(skip int, err error) {
	m.lock.Lock()
	m.commitSkip, m.commitErr = skip, err
	m.lock.Unlock()
}

func (m *Memory) lookup(ns, key string) (entry, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	e, ok := m.data.lookup(ns, key)
	return e, ok, nil
}

func (m *Memory) commit(ns string, changes map[string]*entry) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.commitErr != nil {
		if m.commitSkip == 0 {
			err := m.commitErr
			m.commitErr = nil
			return err
		}
		m.commitSkip--
	}
	m.data.apply(ns, changes)
	m.commits++
	return nil
}
