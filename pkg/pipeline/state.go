package pipeline

import (
	"fmt"
	"reflect"
	"sort"
)

// Key is a typed handle into a State. Declaring keys as package-level
// variables gives every state slot a checked type without a central
// registry:
//
//	var KeyChunks = pipeline.NewKey[[]common.Chunk]("chunks")
//
// Two keys with the same name must carry the same type; State rejects
// writes that would change the type of an existing slot.
type Key[T any] struct {
	name string
}

// NewKey declares a typed state key. The name is the identifier operators
// list in Requires and Produces.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the key's string identifier.
func (k Key[T]) Name() string { return k.name }

// State is the shared context a pipeline run threads through its
// operators: an ordered mapping from string keys to typed values. A state
// is created fresh per run and never shared across concurrent runs.
//
// While an operator runs, the engine arms a write guard so the operator
// can only set keys it declared as produced. Outside of a run (seeding the
// initial state, inspecting results) writes are unrestricted.
type State struct {
	id     string
	values map[string]any
	types  map[string]reflect.Type
	order  []string

	// write guard, armed by the engine for the duration of one operator
	guardOp string
	guard   map[string]bool
}

// NewState creates an empty state. The id identifies the work item in
// error logs (a document id, a query id); it may be empty.
func NewState(id string) *State {
	return &State{
		id:     id,
		values: make(map[string]any),
		types:  make(map[string]reflect.Type),
	}
}

// ID returns the work-item identifier the state was created with.
func (s *State) ID() string { return s.id }

// Has reports whether the key has been set.
func (s *State) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns all set keys in insertion order.
func (s *State) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Get reads a typed value from the state. Reading a key that was never
// set is an error; so is reading through a key whose type disagrees with
// the stored value.
func Get[T any](s *State, key Key[T]) (T, error) {
	var zero T
	v, ok := s.values[key.name]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrKeyNotSet, key.name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q holds %T", ErrKeyType, key.name, v)
	}
	return t, nil
}

// Set writes a typed value into the state. While an operator's write
// guard is armed, setting a key the operator did not declare as produced
// fails with a ContractViolationError. Changing the type of an existing
// slot always fails.
func Set[T any](s *State, key Key[T], value T) error {
	if s.guard != nil && !s.guard[key.name] {
		return &ContractViolationError{
			Operator: s.guardOp,
			Key:      key.name,
			Reason:   "write to undeclared key",
		}
	}
	rt := reflect.TypeFor[T]()
	if prev, ok := s.types[key.name]; ok && prev != rt {
		return fmt.Errorf("%w: %q is %s, not %s", ErrKeyType, key.name, prev, rt)
	}
	if _, ok := s.values[key.name]; !ok {
		s.order = append(s.order, key.name)
	}
	s.values[key.name] = value
	s.types[key.name] = rt
	return nil
}

func (s *State) beginWrites(operator string, produced []string) {
	s.guardOp = operator
	s.guard = make(map[string]bool, len(produced))
	for _, k := range produced {
		s.guard[k] = true
	}
}

func (s *State) endWrites() {
	s.guardOp = ""
	s.guard = nil
}

// SortedStrings is a convenience for operators producing set-valued keys:
// it deduplicates and sorts, so repeated runs produce identical values.
func SortedStrings(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
