// Package closer sequences staged bring-up of subsystems.
//
// Every successful bring-up step registers its undo action on a Stack.
// Draining the Stack runs the undo actions in reverse registration order,
// so a failure at any step releases exactly what was acquired before it.
package closer

import (
	"sync"

	"github.com/golang/glog"
)

// Func is an undo action.
type Func func() error

type item struct {
	fn   Func
	what string
}

// Stack is a last-in-first-out list of undo actions.
// A nil *Stack rejects every operation with ErrNilStack.
type Stack struct {
	lock      sync.Mutex
	items     []item
	destroyed bool
}

// New creates an empty Stack.
func New() *Stack {
	return &Stack{}
}

// Push records an undo action labelled with what.
// When Push fails the action is not registered and the caller still owns the
// resource it would have released.
func (s *Stack) Push(fn Func, what string) error {
	if s == nil {
		return ErrNilStack
	}
	if fn == nil {
		return ErrNilFunc
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}
	s.items = append(s.items, item{fn: fn, what: what})
	return nil
}

// Defer runs step and, if it succeeds, registers undo for it.
// A failing step is logged and returned with nothing registered.
// If registration itself fails, undo is invoked right away so the
// resource acquired by step does not leak.
func (s *Stack) Defer(what string, step func() error, undo Func) error {
	if err := step(); err != nil {
		glog.Errorf("%s failed: %v", what, err)
		return err
	}
	if err := s.Push(undo, what); err != nil {
		if undo != nil {
			if uerr := undo(); uerr != nil {
				glog.Errorf("undo %s failed: %v", what, uerr)
			}
		}
		return err
	}
	return nil
}

// Len returns the number of registered undo actions.
func (s *Stack) Len() int {
	if s == nil {
		return 0
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.items)
}

// Drain invokes every undo action from the most recently pushed to the
// least recently pushed. All actions run even when some fail; the first
// failure is returned and later ones are logged. The Stack is empty and
// reusable afterwards.
func (s *Stack) Drain() error {
	if s == nil {
		return ErrNilStack
	}
	s.lock.Lock()
	items := s.items
	s.items = nil
	s.lock.Unlock()

	var first error
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		err := it.fn()
		if err == nil {
			continue
		}
		what := it.what
		if what == "" {
			what = "<unknown>"
		}
		if first == nil {
			first = &UndoError{What: what, Err: err}
		}
		glog.Errorf("closer failed: %s: %v", what, err)
	}
	return first
}

// Release moves all registered undo actions into a new Stack and leaves s
// empty. It hands the teardown of a completed bring-up to a longer-lived
// owner.
func (s *Stack) Release() *Stack {
	if s == nil {
		return nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	moved := &Stack{items: s.items}
	s.items = nil
	return moved
}

// Destroy discards remaining undo actions without invoking them.
// Push fails with ErrDestroyed afterwards.
func (s *Stack) Destroy() {
	if s == nil {
		glog.Warning("closer destroy called with nil stack")
		return
	}
	s.lock.Lock()
	s.items = nil
	s.destroyed = true
	s.lock.Unlock()
}

// With runs body with a fresh Stack. If body fails the Stack is drained.
// The Stack is always destroyed afterwards and body's result is returned.
func With(body func(*Stack) error) error {
	s := New()
	defer s.Destroy()
	err := body(s)
	if err != nil {
		s.Drain()
	}
	return err
}
