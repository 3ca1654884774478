// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	"github.com/juju/collections/set"

	"github.com/juju/unistate/core/action"
	"github.com/juju/unistate/core/hook"
)

// Topics published on a store's hub. Every event carries the origin of
// the publishing store, so hubs can be bridged or multiplexed without
// losing attribution.
const (
	// DispatchedTopic carries a Dispatched event immediately before
	// the handler for an action begins running.
	DispatchedTopic = "unistate.dispatched"

	// StateChangedTopic carries a Changed event after every mutation,
	// in mutation order.
	StateChangedTopic = "unistate.state-changed"

	// HookFiredTopic carries a HookFired event for every value a hook
	// pipeline produces through its store handle.
	HookFiredTopic = "unistate.hook-fired"
)

// Dispatched is published before an action's handler starts. Observers
// subscribed to the same hub are guaranteed to see it ahead of any
// state change the handler causes.
type Dispatched struct {
	Origin string
	Name   string
	Key    string
	Action action.Action
}

// Changed is published after every mutation. Previous is only
// meaningful when HasPrevious is true; before the first mutation there
// is no previous state and every projection counts as changed. Forced
// names the fields whose watchers must redeliver even an unchanged
// value for this mutation.
type Changed[S any] struct {
	Origin      string
	Previous    S
	Current     S
	HasPrevious bool
	Forced      set.Strings
}

// HookFired correlates one value produced by a hook pipeline to the
// hook identifier and store instance that produced it.
type HookFired struct {
	Origin string
	Hook   hook.Hook
	Value  interface{}
}
