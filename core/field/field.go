// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package field describes the addressable fields of a state type with
// explicit (name, accessor) descriptors. Descriptors are the schema
// used for per-field change watching, binding construction and the
// structural diffs reported by the developer log; there is no runtime
// reflection over state values anywhere in the store.
package field

// Field describes one addressable field of a state type S.
//
// Get projects the field's value out of a state snapshot. Set returns a
// copy of the state with the field replaced; it must not mutate its
// argument. Set may be nil for watch-only projections over derived
// values.
type Field[S, T any] struct {
	Name string
	Get  func(S) T
	Set  func(S, T) S
}

// Accessor returns the type-erased accessor for this field, suitable
// for inclusion in a Schema.
func (f Field[S, T]) Accessor() Accessor[S] {
	get := f.Get
	return Accessor[S]{
		Name: f.Name,
		Get:  func(s S) interface{} { return get(s) },
	}
}

// Accessor is a type-erased (name, getter) pair used for structural
// diffing of two states of the same shape.
type Accessor[S any] struct {
	Name string
	Get  func(S) interface{}
}

// Schema enumerates the diffable fields of a state type, in the order
// deltas should be reported.
type Schema[S any] []Accessor[S]

// Delta records one changed field between two states.
type Delta struct {
	Name string
	Old  interface{}
	New  interface{}
}

// Diff returns the fields whose values differ between old and new, in
// schema order. Field values are compared by interface equality, which
// mirrors the value-equality contract that state types must satisfy.
func Diff[S any](schema Schema[S], old, new S) []Delta {
	var deltas []Delta
	for _, a := range schema {
		oldValue, newValue := a.Get(old), a.Get(new)
		if oldValue != newValue {
			deltas = append(deltas, Delta{Name: a.Name, Old: oldValue, New: newValue})
		}
	}
	return deltas
}
