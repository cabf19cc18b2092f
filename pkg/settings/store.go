// Package settings implements the fixed-schema runtime configuration of the
// gateway, persisted through an nvs.Backend.
//
// Every mutation is written and committed to storage before the in-memory
// copy changes, so a persistence failure never leaves the two diverged.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/radiogw/pkg/nvs"
)

// Options configures a Store.
type Options struct {
	// Namespace in storage, DefaultNamespace if empty.
	Namespace string
	// Defaults overrides the built-in defaults, keyed by setting key.
	Defaults map[string]string
}

// ChangeFunc is notified after a setting changed.
type ChangeFunc func(key, value string)

type value struct {
	text string
	u8   uint8
}

func (v value) format(f Field) string {
	if f.Kind == KindU8 {
		return strconv.FormatUint(uint64(v.u8), 10)
	}
	return v.text
}

// Store is the settings table.
type Store struct {
	backend   nvs.Backend
	namespace string
	defaults  []value

	lock     sync.RWMutex
	values   []value
	loaded   bool
	watchers []ChangeFunc
}

// BuiltinDefaults are used for keys not listed in Options.Defaults.
var BuiltinDefaults = map[string]string{
	KeyWiFiChannel:  "1",
	KeyMQTTURI:      "tcp://localhost:1883",
	KeyHTTPAuthUser: "admin",
}

// New creates a Store. Init must be called before use.
func New(backend nvs.Backend, opts Options) (*Store, error) {
	s := &Store{
		backend:   backend,
		namespace: opts.Namespace,
		defaults:  make([]value, len(Schema)),
	}
	if s.namespace == "" {
		s.namespace = DefaultNamespace
	}
	for n, f := range Schema {
		text, ok := opts.Defaults[f.Key]
		if !ok {
			text = BuiltinDefaults[f.Key]
		}
		v, err := parseValue(f, text)
		if err != nil {
			return nil, fmt.Errorf("default %s: %w", f.Key, err)
		}
		s.defaults[n] = v
	}
	for key := range opts.Defaults {
		if indexOf(key) < 0 {
			return nil, fmt.Errorf("default %s: %w", key, ErrUnknownKey)
		}
	}
	return s, nil
}

// Init loads defaults and overlays persisted values. It is idempotent.
func (s *Store) Init() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.initLocked()
}

func (s *Store) initLocked() error {
	if s.loaded {
		return nil
	}
	vals, err := s.load()
	if err != nil {
		glog.Errorf("settings: load %s: %v", s.namespace, err)
		return err
	}
	s.values, s.loaded = vals, true
	return nil
}

func (s *Store) load() ([]value, error) {
	vals := make([]value, len(s.defaults))
	copy(vals, s.defaults)
	h, err := s.backend.Open(s.namespace, nvs.ReadOnly)
	if nvs.IsNotFound(err) {
		return vals, nil
	}
	if err != nil {
		return nil, err
	}
	defer h.Close()
	for n, f := range Schema {
		switch f.Kind {
		case KindU8:
			u8, err := h.GetU8(f.Key)
			if nvs.IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Key, err)
			}
			vals[n].u8 = u8
		default:
			text, err := h.GetString(f.Key)
			if nvs.IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Key, err)
			}
			if len(text) > f.Capacity {
				return nil, fmt.Errorf("%s: %w", f.Key, ErrInvalidSize)
			}
			vals[n].text = text
		}
	}
	return vals, nil
}

// OnChange registers fn to be called after every successful change.
// fn is invoked without internal locks held.
func (s *Store) OnChange(fn ChangeFunc) {
	s.lock.Lock()
	s.watchers = append(s.watchers, fn)
	s.lock.Unlock()
}

func (s *Store) notify(changes [][2]string) {
	s.lock.RLock()
	watchers := s.watchers
	s.lock.RUnlock()
	for _, c := range changes {
		for _, fn := range watchers {
			fn(c[0], c[1])
		}
	}
}

// Get returns the live value of key as text.
func (s *Store) Get(key string) (string, error) {
	idx := indexOf(key)
	if idx < 0 {
		return "", ErrUnknownKey
	}
	if err := s.ensureLoaded(); err != nil {
		return "", err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.values[idx].format(Schema[idx]), nil
}

// Values returns a typed snapshot.
func (s *Store) Values() (Values, error) {
	if err := s.ensureLoaded(); err != nil {
		return Values{}, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	get := func(key string) value { return s.values[indexOf(key)] }
	return Values{
		WiFiSSID:         get(KeyWiFiSSID).text,
		WiFiPassword:     get(KeyWiFiPassword).text,
		WiFiChannel:      get(KeyWiFiChannel).u8,
		HTTPAuthUser:     get(KeyHTTPAuthUser).text,
		HTTPAuthPassword: get(KeyHTTPAuthPassword).text,
		MQTTURI:          get(KeyMQTTURI).text,
		MQTTUser:         get(KeyMQTTUser).text,
		MQTTPassword:     get(KeyMQTTPassword).text,
	}, nil
}

func (s *Store) ensureLoaded() error {
	s.lock.RLock()
	loaded := s.loaded
	s.lock.RUnlock()
	if loaded {
		return nil
	}
	return s.Init()
}

// Set validates text against the field of key, persists and commits it,
// and only then updates the live value.
func (s *Store) Set(key, text string) error {
	idx := indexOf(key)
	if idx < 0 {
		return ErrUnknownKey
	}
	v, err := parseValue(Schema[idx], text)
	if err != nil {
		return err
	}
	s.lock.Lock()
	if err = s.initLocked(); err == nil {
		err = s.setLocked(idx, v)
	}
	s.lock.Unlock()
	if err != nil {
		return err
	}
	s.notify([][2]string{{key, v.format(Schema[idx])}})
	return nil
}

func (s *Store) setLocked(idx int, v value) error {
	f := Schema[idx]
	h, err := s.backend.Open(s.namespace, nvs.ReadWrite)
	if err != nil {
		return err
	}
	defer h.Close()
	if f.Kind == KindU8 {
		err = h.SetU8(f.Key, v.u8)
	} else {
		err = h.SetString(f.Key, v.text)
	}
	if err == nil {
		err = h.Commit()
	}
	if err != nil {
		return fmt.Errorf("persist %s: %w", f.Key, err)
	}
	s.values[idx] = v
	glog.V(2).Infof("settings: %s updated", f.Key)
	return nil
}

// Clear erases the persisted value of key and reverts it to its default.
func (s *Store) Clear(key string) error {
	idx := indexOf(key)
	if idx < 0 {
		return ErrUnknownKey
	}
	s.lock.Lock()
	err := s.initLocked()
	if err == nil {
		err = s.clearLocked(key)
	}
	var text string
	if err == nil {
		text = s.values[idx].format(Schema[idx])
	}
	s.lock.Unlock()
	if err != nil {
		return err
	}
	s.notify([][2]string{{key, text}})
	return nil
}

func (s *Store) clearLocked(key string) error {
	h, err := s.backend.Open(s.namespace, nvs.ReadWrite)
	if err != nil {
		return err
	}
	err = h.Erase(key)
	if err == nil || nvs.IsNotFound(err) {
		err = h.Commit()
	}
	h.Close()
	if err != nil {
		return fmt.Errorf("erase %s: %w", key, err)
	}
	vals, err := s.load()
	if err != nil {
		return err
	}
	s.values = vals
	return nil
}

// parseValue validates text for f.
func parseValue(f Field, text string) (value, error) {
	// the csv form has no escaping for these
	if strings.ContainsAny(text, "\r\n=") {
		return value{}, ErrInvalidValue
	}
	if f.Kind == KindU8 {
		n, err := strconv.ParseUint(text, 10, 8)
		if err != nil {
			return value{}, ErrInvalidValue
		}
		return value{u8: uint8(n)}, nil
	}
	if len(text) > f.Capacity {
		return value{}, ErrInvalidSize
	}
	return value{text: text}, nil
}
