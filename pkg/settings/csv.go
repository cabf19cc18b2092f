package settings

import (
	"bytes"

	"github.com/golang/glog"
)

// MarshalCSV writes every setting as key=value\n into dst in schema order.
// If dst is too small, nothing counts as written and ErrBufferTooSmall is
// returned.
func (s *Store) MarshalCSV(dst []byte) (int, error) {
	out, err := s.appendCSV(nil)
	if err != nil {
		return 0, err
	}
	if len(out) > len(dst) {
		return 0, ErrBufferTooSmall
	}
	return copy(dst, out), nil
}

// CSV returns all settings as a csv document.
func (s *Store) CSV() ([]byte, error) {
	return s.appendCSV(nil)
}

func (s *Store) appendCSV(out []byte) ([]byte, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	for n, f := range Schema {
		out = append(out, f.Key...)
		out = append(out, '=')
		out = append(out, s.values[n].format(f)...)
		out = append(out, '\n')
	}
	return out, nil
}

type csvLine struct {
	line int
	idx  int
	val  value
}

func parseCSV(data []byte) ([]csvLine, error) {
	var lines []csvLine
	for num, raw := range bytes.Split(data, []byte{'\n'}) {
		raw = bytes.TrimSuffix(raw, []byte{'\r'})
		if len(raw) == 0 {
			continue
		}
		if bytes.Count(raw, []byte{'='}) != 1 {
			return nil, &LineError{Line: num + 1, Err: ErrMalformedLine}
		}
		eq := bytes.IndexByte(raw, '=')
		if eq == 0 {
			return nil, &LineError{Line: num + 1, Err: ErrMalformedLine}
		}
		key := string(raw[:eq])
		idx := indexOf(key)
		if idx < 0 {
			return nil, &LineError{Line: num + 1, Key: key, Err: ErrUnknownKey}
		}
		v, err := parseValue(Schema[idx], string(raw[eq+1:]))
		if err != nil {
			return nil, &LineError{Line: num + 1, Key: key, Err: err}
		}
		lines = append(lines, csvLine{line: num + 1, idx: idx, val: v})
	}
	return lines, nil
}

// UnmarshalCSV applies a csv document of key=value lines.
//
// Lines are separated by \n with an optional trailing \r, blank lines are
// skipped. The whole document is validated before anything is applied: a
// line without exactly one '=', with an empty or unknown key, or with a value
// which does not fit its field fails the call with a *LineError and no
// setting changes. Valid lines are then applied in order through the same
// path as Set. If persisting a line fails, lines already applied by this call
// are reverted and the persistence error is returned.
func (s *Store) UnmarshalCSV(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	lines, err := parseCSV(data)
	if err != nil {
		return err
	}

	s.lock.Lock()
	if err := s.initLocked(); err != nil {
		s.lock.Unlock()
		return err
	}
	type undo struct {
		idx  int
		prev value
	}
	var applied []undo
	for _, l := range lines {
		prev := s.values[l.idx]
		if err := s.setLocked(l.idx, l.val); err != nil {
			for n := len(applied) - 1; n >= 0; n-- {
				u := applied[n]
				if rerr := s.setLocked(u.idx, u.prev); rerr != nil {
					glog.Errorf("settings: revert %s: %v", Schema[u.idx].Key, rerr)
				}
			}
			s.lock.Unlock()
			return &LineError{Line: l.line, Key: Schema[l.idx].Key, Err: err}
		}
		applied = append(applied, undo{idx: l.idx, prev: prev})
	}
	changes := make([][2]string, 0, len(lines))
	for _, l := range lines {
		f := Schema[l.idx]
		changes = append(changes, [2]string{f.Key, l.val.format(f)})
	}
	s.lock.Unlock()

	s.notify(changes)
	return nil
}
