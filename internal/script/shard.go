package script

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownField is returned when a shard operation names a list
	// that is not part of the state shape.
	ErrUnknownField = errors.New("unknown shared-state field")

	// ErrNotInField is returned by Move when a value is absent from the
	// source list in the shard's snapshot.
	ErrNotInField = errors.New("value not present in source field")
)

// Change is one recorded mutation of shared state. From empty means a
// plain append; To empty means a removal; otherwise values move between
// lists.
type Change struct {
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Values  []string `json:"values"`
	AtFront bool     `json:"at_front,omitempty"`
}

// ChangeSink integrates a batch of changes into canonical state. The
// Manager implements it; shards only hold this one capability so the
// shard/manager relationship stays one-directional.
type ChangeSink interface {
	Integrate(ctx context.Context, changes []Change) error
}

// Shard is a per-request view of shared state: a snapshot taken at
// creation plus a log of pending changes. Reads always reflect the
// snapshot; writes take effect only when the shard is integrated.
type Shard struct {
	snapshot *State
	changes  []Change
	sink     ChangeSink
}

// NewShard wraps a snapshot and a sink. Most callers get shards from the
// Manager rather than building them directly.
func NewShard(snapshot *State, sink ChangeSink) *Shard {
	return &Shard{snapshot: snapshot, sink: sink}
}

// Get returns a copy of the named list as of the shard's snapshot.
func (s *Shard) Get(field string) ([]string, error) {
	values, ok := s.snapshot.Lists[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return append([]string(nil), values...), nil
}

// Append records adding values to the back (or front) of a list.
func (s *Shard) Append(to string, atFront bool, values ...string) error {
	if !s.snapshot.HasField(to) {
		return fmt.Errorf("%w: %s", ErrUnknownField, to)
	}
	s.changes = append(s.changes, Change{To: to, Values: values, AtFront: atFront})
	return nil
}

// Move records moving values from one list to another. Every value must
// be present in the source list as of the snapshot; at integrate time
// values that have since left the source are silently skipped.
func (s *Shard) Move(from, to string, atFront bool, values ...string) error {
	if !s.snapshot.HasField(from) {
		return fmt.Errorf("%w: %s", ErrUnknownField, from)
	}
	if !s.snapshot.HasField(to) {
		return fmt.Errorf("%w: %s", ErrUnknownField, to)
	}
	for _, v := range values {
		if !s.snapshot.Contains(from, v) {
			return fmt.Errorf("%w: %s in %s", ErrNotInField, v, from)
		}
	}
	s.changes = append(s.changes, Change{From: from, To: to, Values: values, AtFront: atFront})
	return nil
}

// Remove records dropping values from a list entirely. Like Move, every
// value must be present as of the snapshot; values that have since left
// are skipped at integrate time.
func (s *Shard) Remove(from string, values ...string) error {
	if !s.snapshot.HasField(from) {
		return fmt.Errorf("%w: %s", ErrUnknownField, from)
	}
	for _, v := range values {
		if !s.snapshot.Contains(from, v) {
			return fmt.Errorf("%w: %s in %s", ErrNotInField, v, from)
		}
	}
	s.changes = append(s.changes, Change{From: from, Values: values})
	return nil
}

// Changes returns a copy of the pending change log.
func (s *Shard) Changes() []Change {
	return append([]Change(nil), s.changes...)
}

// Integrate hands the pending changes to the sink. It is the only way
// shard writes reach canonical state.
func (s *Shard) Integrate(ctx context.Context) error {
	return s.sink.Integrate(ctx, s.changes)
}

// apply replays one change onto a state, returning whether anything
// moved. Values missing from the source list are ignored.
func apply(state *State, change Change) bool {
	moved := false
	for _, value := range change.Values {
		if change.From != "" {
			if !state.Contains(change.From, value) {
				continue
			}
			state.Lists[change.From] = remove(state.Lists[change.From], value)
		}
		if change.To == "" {
			moved = true
			continue
		}
		if change.AtFront {
			state.Lists[change.To] = append([]string{value}, state.Lists[change.To]...)
		} else {
			state.Lists[change.To] = append(state.Lists[change.To], value)
		}
		moved = true
	}
	return moved
}

func remove(values []string, value string) []string {
	kept := values[:0]
	for _, v := range values {
		if v != value {
			kept = append(kept, v)
		}
	}
	return kept
}
