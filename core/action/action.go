// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package action defines the values dispatched against a store to
// describe intended state transitions.
package action

import (
	"fmt"
	"strings"
)

// Action describes an intended state transition. Any value will do;
// the store hands it unmodified to the registered handler.
type Action interface{}

// Canceller is implemented by actions that take part in single-flight
// cancellation. Dispatching an action whose cancellation key matches
// that of an in-flight task cancels the earlier task before the new
// one starts.
type Canceller interface {
	// CancelKey identifies the mutual-exclusion group for this action.
	// An empty key is treated as anonymous.
	CancelKey() string
}

// Key returns the cancellation key for the given action, or the empty
// string if the action does not participate in cancellation.
func Key(a Action) string {
	if c, ok := a.(Canceller); ok {
		return c.CancelKey()
	}
	return ""
}

// Name returns a stable, human-readable name for an action, used by the
// developer log and the test recorder. Pointer indirection is stripped
// so that dispatching *T and T report the same name.
func Name(a Action) string {
	if a == nil {
		return "nil"
	}
	return strings.TrimLeft(fmt.Sprintf("%T", a), "*")
}
