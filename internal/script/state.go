// Package script is the story engine: the Script/Scene/Room state
// machines that drive each call, and the shard/integrate/reduce protocol
// that lets concurrent requests mutate shared script state without
// holding a lock across a whole call.
package script

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDataIntegrity flags a persisted state record missing required
// fields. Loads recover by filling defaults; the error is only logged.
var ErrDataIntegrity = errors.New("state record missing fields")

// State is the canonical shared state of one script: a set of named
// phone-number lists plus version/generation housekeeping. Version
// advances on every content change; generation only on admin restore.
type State struct {
	Version    int
	Generation int
	Lists      map[string][]string

	shape []string
}

// NewState returns an empty state whose fields are the given shape.
func NewState(shape []string) *State {
	s := &State{
		Lists: make(map[string][]string, len(shape)),
		shape: shape,
	}
	for _, field := range shape {
		s.Lists[field] = nil
	}
	return s
}

// HasField reports whether the shape includes the named list.
func (s *State) HasField(field string) bool {
	_, ok := s.Lists[field]
	return ok
}

// Contains reports whether value is present in the named list.
func (s *State) Contains(field, value string) bool {
	for _, v := range s.Lists[field] {
		if v == value {
			return true
		}
	}
	return false
}

// Clone returns a deep copy sharing no slices with the original.
func (s *State) Clone() *State {
	c := &State{
		Version:    s.Version,
		Generation: s.Generation,
		Lists:      make(map[string][]string, len(s.Lists)),
		shape:      s.shape,
	}
	for field, values := range s.Lists {
		c.Lists[field] = append([]string(nil), values...)
	}
	return c
}

// Equal compares list contents only; version and generation are
// housekeeping and do not make two states different.
func (s *State) Equal(other *State) bool {
	if len(s.Lists) != len(other.Lists) {
		return false
	}
	for field, values := range s.Lists {
		theirs, ok := other.Lists[field]
		if !ok || len(theirs) != len(values) {
			return false
		}
		for i := range values {
			if values[i] != theirs[i] {
				return false
			}
		}
	}
	return true
}

// MarshalJSON flattens the lists beside version and generation, matching
// the persisted wire form.
func (s *State) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(s.Lists)+2)
	flat["version"] = s.Version
	flat["generation"] = s.Generation
	for field, values := range s.Lists {
		if values == nil {
			values = []string{}
		}
		flat[field] = values
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flattened form. The shape must be installed
// afterwards via Reshape so missing fields gain defaults.
func (s *State) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	s.Lists = make(map[string][]string)
	for field, raw := range flat {
		switch field {
		case "version":
			if err := json.Unmarshal(raw, &s.Version); err != nil {
				return fmt.Errorf("state version: %w", err)
			}
		case "generation":
			if err := json.Unmarshal(raw, &s.Generation); err != nil {
				return fmt.Errorf("state generation: %w", err)
			}
		default:
			var values []string
			if err := json.Unmarshal(raw, &values); err != nil {
				return fmt.Errorf("state field %s: %w", field, err)
			}
			s.Lists[field] = values
		}
	}
	return nil
}

// Reshape constrains the state to the given shape: missing fields are
// added empty, unknown fields dropped. Returns ErrDataIntegrity when
// anything had to change so the caller can log it.
func (s *State) Reshape(shape []string) error {
	s.shape = shape
	dirty := false
	want := make(map[string]bool, len(shape))
	for _, field := range shape {
		want[field] = true
		if _, ok := s.Lists[field]; !ok {
			s.Lists[field] = nil
			dirty = true
		}
	}
	for field := range s.Lists {
		if !want[field] {
			delete(s.Lists, field)
			dirty = true
		}
	}
	if dirty {
		return ErrDataIntegrity
	}
	return nil
}
