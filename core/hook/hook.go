// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hook defines the identifiers naming the persistent reactive
// subscriptions owned by a store.
package hook

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Hook names a single persistent subscription. The set of hooks a store
// owns is declared up front; each is activated exactly once when the
// store is constructed.
type Hook string

// String is part of fmt.Stringer.
func (h Hook) String() string {
	return string(h)
}

// Declarations is the finite set of hooks declared by the collaborator
// that owns a store.
type Declarations []Hook

// Validate returns an error if the declarations cannot be activated.
// Duplicate identifiers are a configuration error, not a runtime
// condition: activating the same hook twice would violate the
// exactly-once subscription contract.
func (d Declarations) Validate() error {
	seen := set.NewStrings()
	for _, h := range d {
		if h == "" {
			return errors.NotValidf("empty hook name")
		}
		if seen.Contains(string(h)) {
			return errors.NotValidf("duplicate hook %q", h)
		}
		seen.Add(string(h))
	}
	return nil
}

// Contains reports whether the given hook is declared.
func (d Declarations) Contains(h Hook) bool {
	for _, candidate := range d {
		if candidate == h {
			return true
		}
	}
	return false
}
