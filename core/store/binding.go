// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	"github.com/juju/errors"

	"github.com/juju/unistate/core/devlog"
	"github.com/juju/unistate/core/field"
)

// Binding provides two-way access to a single state field. Get always
// reads the current snapshot; Set funnels through the same
// copy-modify-replace path as SetField, so binding writes obey the
// single-writer discipline like every other mutation.
type Binding[T any] struct {
	name string
	get  func() T
	set  func(T) error
}

// Bind derives a binding over the given field. The field must carry a
// setter.
func Bind[S, T any](st *Store[S], f field.Field[S, T]) Binding[T] {
	return Binding[T]{
		name: f.Name,
		get: func() T {
			return f.Get(st.Snapshot())
		},
		set: func(value T) error {
			devlog.BindingWrite(st.origin, st.stateName, f.Name, value)
			return errors.Trace(SetField(st, f, value, false))
		},
	}
}

// Name returns the bound field's name.
func (b Binding[T]) Name() string {
	return b.name
}

// Get reads the bound field from the current snapshot.
func (b Binding[T]) Get() T {
	return b.get()
}

// Set writes the bound field through the store's mutation path.
func (b Binding[T]) Set(value T) error {
	return errors.Trace(b.set(value))
}
