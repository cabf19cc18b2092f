package sh

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/robotalks/radiogw/pkg/nvs"
	"github.com/robotalks/radiogw/pkg/settings"
)

// ErrNotSupported indicates an operation the target cannot do.
var ErrNotSupported = errors.New("not supported by target")

// Target is a settings table reachable by the shell.
type Target interface {
	// Name describes the target for the prompt.
	Name() string
	Export() ([]byte, error)
	Import(csv []byte) error
}

// Clearer restores a key to its default.
type Clearer interface {
	Clear(key string) error
}

// Local is a settings file on this host.
type Local struct {
	Store *settings.Store
	path  string
}

// NewLocal opens the settings file at path.
func NewLocal(path, namespace string) (*Local, error) {
	store, err := settings.New(nvs.NewFile(path), settings.Options{Namespace: namespace})
	if err != nil {
		return nil, err
	}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Local{Store: store, path: path}, nil
}

// Name implements Target.
func (l *Local) Name() string { return l.path }

// Export implements Target.
func (l *Local) Export() ([]byte, error) { return l.Store.CSV() }

// Import implements Target.
func (l *Local) Import(csv []byte) error { return l.Store.UnmarshalCSV(csv) }

// Clear implements Clearer.
func (l *Local) Clear(key string) error { return l.Store.Clear(key) }

// ParseCSV splits an exported document into a map.
func ParseCSV(csv []byte) (map[string]string, error) {
	vals := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(csv))
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if text == "" {
			continue
		}
		key, val, ok := strings.Cut(text, "=")
		if !ok {
			return nil, &settings.LineError{Line: line, Err: settings.ErrMalformedLine}
		}
		vals[key] = val
	}
	return vals, scanner.Err()
}

// Get reads keys from t, all keys in schema order if none given.
func Get(t Target, keys ...string) ([][2]string, error) {
	if len(keys) == 0 {
		keys = settings.Keys()
	}
	csv, err := t.Export()
	if err != nil {
		return nil, err
	}
	vals, err := ParseCSV(csv)
	if err != nil {
		return nil, err
	}
	out := make([][2]string, 0, len(keys))
	for _, key := range keys {
		val, ok := vals[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", settings.ErrUnknownKey, key)
		}
		out = append(out, [2]string{key, val})
	}
	return out, nil
}

// Set writes pairs to t in a single import.
func Set(t Target, pairs map[string]string) error {
	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, key := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", key, pairs[key])
	}
	return t.Import(buf.Bytes())
}

// Clear restores key on t.
func Clear(t Target, key string) error {
	c, ok := t.(Clearer)
	if !ok {
		return ErrNotSupported
	}
	return c.Clear(key)
}
