// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package store implements a unidirectional state container: a typed,
// observable store that serializes all mutation through a single loop,
// dispatches asynchronous actions with cooperative cancellation, and
// activates long-lived hook subscriptions at construction.
//
// The loop goroutine is the coordination context. It owns the current
// and previous state values and all dispatch bookkeeping; every
// mutation funnels through it, so off-context mutation is structurally
// impossible rather than merely asserted against. Handlers and hook
// pipelines run on their own goroutines and re-enter the store only
// through the same serialized path.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/unistate/core/action"
	"github.com/juju/unistate/core/devlog"
	"github.com/juju/unistate/core/field"
	"github.com/juju/unistate/core/hook"
)

var logger = loggo.GetLogger("unistate.store")

// ErrStopped is returned by mutation and dispatch operations once the
// store is dying or dead. Mutating a torn-down store is a contract
// violation on the caller's part; it is reported, never silently
// swallowed.
var ErrStopped = errors.New("store is stopped")

// Handler is the single registered action handler. It runs on its own
// goroutine with the task's cancellation context; after any suspension
// point it must check the context and stop mutating state once
// cancelled. Domain failures are the handler's responsibility to encode
// as state. A non-nil return other than the task's own cancellation is
// treated as a programming error and kills the store.
type Handler[S any] func(ctx context.Context, a action.Action, st *Store[S]) error

// SubscriptionFactory produces the persistent subscription for one
// declared hook. It is invoked exactly once per hook before New
// returns. The returned worker lives until the store is torn down or
// the hooks are explicitly deactivated.
type SubscriptionFactory[S any] func(h hook.Hook, st *Hooked[S]) (worker.Worker, error)

// Config holds a store's direct dependencies.
type Config[S any] struct {
	// Name tags all hub traffic and developer-log output from this
	// store. Combined with a per-instance id to form the origin.
	Name string

	// Initial is the state value the store starts from.
	Initial S

	// Handler receives every dispatched action.
	Handler Handler[S]

	// Schema enumerates the diffable fields of S. Optional; without it
	// the developer log cannot report per-field diffs.
	Schema field.Schema[S]

	// Hooks declares the finite set of persistent subscriptions.
	Hooks hook.Declarations

	// NewSubscription activates one declared hook. Required when Hooks
	// is non-empty.
	NewSubscription SubscriptionFactory[S]
}

// Validate returns an error if the config cannot start a store.
func (c Config[S]) Validate() error {
	if c.Name == "" {
		return errors.NotValidf("empty Name")
	}
	if c.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if err := c.Hooks.Validate(); err != nil {
		return errors.Trace(err)
	}
	if len(c.Hooks) > 0 && c.NewSubscription == nil {
		return errors.NotValidf("nil NewSubscription with declared hooks")
	}
	return nil
}

// Store is a single-writer state container. It implements
// worker.Worker; killing it cancels all pending tasks and releases
// every hook subscription.
type Store[S any] struct {
	catacomb catacomb.Catacomb
	config   Config[S]
	hub      *pubsub.SimpleHub

	id        string
	origin    string
	stateName string

	// requests carries closures executed by the loop goroutine, which
	// serializes every mutation and all dispatch bookkeeping.
	requests chan func()

	// mu guards the snapshot values only, so reads never wait on the
	// loop. Writes happen exclusively on the loop.
	mu       sync.Mutex
	current  S
	previous S
	everSet  bool

	// Owned by the loop.
	keyed  map[string]*task
	anon   map[uint64]*task
	lastID uint64

	hookMu  sync.Mutex
	runners []*hookRunner
}

// New constructs a store from the given config, activating every
// declared hook before returning. A hook factory failure tears the
// store back down and is returned to the caller.
func New[S any](config Config[S]) (*Store[S], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	id := uuid.New().String()
	st := &Store[S]{
		config: config,
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("unistate.hub"),
		}),
		id:        id,
		origin:    fmt.Sprintf("%s#%s", config.Name, id[:8]),
		stateName: fmt.Sprintf("%T", config.Initial),
		requests:  make(chan func()),
		current:   config.Initial,
		keyed:     make(map[string]*task),
		anon:      make(map[uint64]*task),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &st.catacomb,
		Work: st.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	devlog.Initial(st.origin, st.stateName, fmt.Sprintf("%+v", config.Initial))
	if err := st.activateHooks(); err != nil {
		st.Kill()
		_ = st.Wait()
		return nil, errors.Trace(err)
	}
	return st, nil
}

// Kill is part of the worker.Worker interface.
func (s *Store[S]) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *Store[S]) Wait() error {
	return s.catacomb.Wait()
}

// Hub exposes the store's event hub. The testing surface and the
// developer-log bridge subscribe here; subscriptions only ever see
// future events, never a replay.
func (s *Store[S]) Hub() *pubsub.SimpleHub {
	return s.hub
}

// Origin identifies this store instance in hub traffic and the
// developer log.
func (s *Store[S]) Origin() string {
	return s.origin
}

// Snapshot returns the current state. It has no side effects, never
// blocks on the loop, and keeps working after teardown.
func (s *Store[S]) Snapshot() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Previous returns the state immediately before the most recent
// mutation, and whether a mutation has happened at all.
func (s *Store[S]) Previous() (S, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous, s.everSet
}

// Set replaces the whole state: previous becomes the old current, the
// argument becomes current, and a Changed event is published. Returns
// ErrStopped once the store is dying.
func (s *Store[S]) Set(newState S) error {
	return s.run(func() {
		s.apply(newState, nil)
	})
}

// SetField performs a copy-modify-replace of one field through the
// store's loop. With force set, the resulting notification carries the
// field's name so its watchers redeliver even an unchanged value; this
// is the escape hatch for deliberately re-triggering side effects.
func SetField[S, T any](st *Store[S], f field.Field[S, T], value T, force bool) error {
	if f.Set == nil {
		return errors.NotValidf("field %q without setter", f.Name)
	}
	return st.run(func() {
		var forced set.Strings
		if force {
			forced = set.NewStrings(f.Name)
		}
		st.apply(f.Set(st.Snapshot(), value), forced)
	})
}

// Report returns introspection data in the dependency-engine style:
// identity, hook count and pending task counts.
func (s *Store[S]) Report() map[string]interface{} {
	report := map[string]interface{}{
		"origin":     s.origin,
		"state-type": s.stateName,
		"hooks":      len(s.config.Hooks),
	}
	err := s.run(func() {
		report["pending-keyed"] = len(s.keyed)
		report["pending-anonymous"] = len(s.anon)
	})
	if err != nil {
		report["stopped"] = true
	}
	return report
}

// run executes op on the loop goroutine and waits for it to complete.
// Operations submitted to a dying store fail with ErrStopped.
func (s *Store[S]) run(op func()) error {
	done := make(chan struct{})
	select {
	case s.requests <- func() {
		op()
		close(done)
	}:
	case <-s.catacomb.Dying():
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-s.catacomb.Dying():
		return ErrStopped
	}
}

func (s *Store[S]) loop() error {
	defer s.teardown()
	for {
		select {
		case <-s.catacomb.Dying():
			return s.catacomb.ErrDying()
		case op := <-s.requests:
			op()
		}
	}
}

// apply performs the actual mutation. It only ever runs on the loop.
func (s *Store[S]) apply(newState S, forced set.Strings) {
	s.mu.Lock()
	prev := s.current
	had := s.everSet
	s.previous = prev
	s.everSet = true
	s.current = newState
	s.mu.Unlock()

	s.hub.Publish(StateChangedTopic, Changed[S]{
		Origin:      s.origin,
		Previous:    prev,
		Current:     newState,
		HasPrevious: had,
		Forced:      forced,
	})

	if len(s.config.Schema) > 0 {
		if deltas := field.Diff(s.config.Schema, prev, newState); len(deltas) > 0 {
			devlog.Diff(s.origin, s.stateName, deltas)
		}
	}
}

// teardown runs on the loop goroutine as it exits: every pending task
// is cancelled and every hook subscription released.
func (s *Store[S]) teardown() {
	for _, t := range s.keyed {
		t.tomb.Kill(nil)
	}
	for _, t := range s.anon {
		t.tomb.Kill(nil)
	}
	s.Deactivate()
}
