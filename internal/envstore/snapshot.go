package envstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Entry is one environment variable.
type Entry struct {
	Key   string
	Value string
}

// Snapshot is an immutable, ordered set of environment variables with unique
// names. The zero value is an empty snapshot.
type Snapshot struct {
	entries []Entry
	index   map[string]int
}

// FromPairs builds a snapshot keeping first-seen order. A repeated key keeps
// its original position and takes the last value.
func FromPairs(pairs ...Entry) Snapshot {
	s := Snapshot{index: make(map[string]int, len(pairs))}
	for _, p := range pairs {
		if p.Key == "" {
			continue
		}
		if i, ok := s.index[p.Key]; ok {
			s.entries[i].Value = p.Value
			continue
		}
		s.index[p.Key] = len(s.entries)
		s.entries = append(s.entries, p)
	}
	return s
}

// FromMap builds a snapshot ordered by key.
func FromMap(m map[string]string) Snapshot {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]Entry, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, Entry{Key: k, Value: m[k]})
	}
	return FromPairs(pairs...)
}

func (s Snapshot) Len() int { return len(s.entries) }

func (s Snapshot) Get(key string) (string, bool) {
	i, ok := s.index[key]
	if !ok {
		return "", false
	}
	return s.entries[i].Value, true
}

// Entries returns a copy of the entries in order.
func (s Snapshot) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

func (s Snapshot) Keys() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Key
	}
	return out
}

// Map returns a fresh map; mutating it does not affect the snapshot.
func (s Snapshot) Map() map[string]string {
	out := make(map[string]string, len(s.entries))
	for _, e := range s.entries {
		out[e.Key] = e.Value
	}
	return out
}

// With returns a copy of s with key set to value.
func (s Snapshot) With(key, value string) Snapshot {
	pairs := s.Entries()
	return FromPairs(append(pairs, Entry{Key: key, Value: value})...)
}

// Equal reports whether both snapshots hold the same variables, ignoring order.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s.entries) != len(o.entries) {
		return false
	}
	for _, e := range s.entries {
		if v, ok := o.Get(e.Key); !ok || v != e.Value {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the snapshot as a JSON object in entry order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = Snapshot{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("env snapshot: expected JSON object, got %v", tok)
	}
	var pairs []Entry
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var val string
		if err := dec.Decode(&val); err != nil {
			return err
		}
		pairs = append(pairs, Entry{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = FromPairs(pairs...)
	return nil
}
