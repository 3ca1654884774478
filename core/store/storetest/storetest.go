// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storetest makes the free-running parts of a store
// deterministically testable: an accumulating recorder over a store's
// hub, gocheck checkers for field watchers, and a helper that activates
// a store and awaits one specific hook's first firing.
package storetest

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/juju/unistate/core/action"
	"github.com/juju/unistate/core/hook"
	"github.com/juju/unistate/core/store"
)

// Recorder accumulates, in delivery order, every state value observed
// and every action dispatched over a store's lifetime, plus all hook
// firings. Subscription starts at construction; earlier events are not
// replayed.
type Recorder[S any] struct {
	clock  clock.Clock
	unsubs []func()

	mu      sync.Mutex
	states  []S
	actions []action.Action
	firings []store.HookFired
}

// NewRecorder subscribes a recorder to the store's hub. The clock
// drives WaitFor polling.
func NewRecorder[S any](st *store.Store[S], clk clock.Clock) *Recorder[S] {
	r := &Recorder[S]{clock: clk}
	hub := st.Hub()
	r.unsubs = append(r.unsubs,
		hub.Subscribe(store.StateChangedTopic, func(_ string, data interface{}) {
			change, ok := data.(store.Changed[S])
			if !ok {
				return
			}
			r.mu.Lock()
			r.states = append(r.states, change.Current)
			r.mu.Unlock()
		}),
		hub.Subscribe(store.DispatchedTopic, func(_ string, data interface{}) {
			dispatched, ok := data.(store.Dispatched)
			if !ok {
				return
			}
			r.mu.Lock()
			r.actions = append(r.actions, dispatched.Action)
			r.mu.Unlock()
		}),
		hub.Subscribe(store.HookFiredTopic, func(_ string, data interface{}) {
			fired, ok := data.(store.HookFired)
			if !ok {
				return
			}
			r.mu.Lock()
			r.firings = append(r.firings, fired)
			r.mu.Unlock()
		}),
	)
	return r
}

// Close releases the recorder's hub subscriptions.
func (r *Recorder[S]) Close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
}

// States returns a copy of every state value observed so far.
func (r *Recorder[S]) States() []S {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]S(nil), r.states...)
}

// Actions returns a copy of every action dispatched so far.
func (r *Recorder[S]) Actions() []action.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]action.Action(nil), r.actions...)
}

// Firings returns a copy of every hook firing observed so far.
func (r *Recorder[S]) Firings() []store.HookFired {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.HookFired(nil), r.firings...)
}

// FiringsFor returns the firings correlated to one hook identifier.
func (r *Recorder[S]) FiringsFor(h hook.Hook) []store.HookFired {
	var matched []store.HookFired
	for _, f := range r.Firings() {
		if f.Hook == h {
			matched = append(matched, f)
		}
	}
	return matched
}

// WaitFor polls until the predicate passes or the timeout expires.
func (r *Recorder[S]) WaitFor(pred func(*Recorder[S]) bool, timeout time.Duration) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			if pred(r) {
				return nil
			}
			return errors.New("condition not met")
		},
		Attempts:    -1,
		Delay:       10 * time.Millisecond,
		MaxDuration: timeout,
		Clock:       r.clock,
	})
	return errors.Trace(err)
}

// WaitForHook constructs a store from the supplied config, runs the
// trigger (an external event of the caller's choosing), and awaits the
// first HookFired correlated to the given hook identifier. On timeout
// the store is torn down and a Timeout error returned; otherwise the
// caller owns the returned store.
func WaitForHook[S any](
	config store.Config[S], h hook.Hook, trigger func(*store.Store[S]),
	clk clock.Clock, timeout time.Duration,
) (*store.Store[S], store.HookFired, error) {
	st, err := store.New(config)
	if err != nil {
		return nil, store.HookFired{}, errors.Trace(err)
	}
	fired := make(chan store.HookFired, 1)
	unsub := st.Hub().Subscribe(store.HookFiredTopic, func(_ string, data interface{}) {
		f, ok := data.(store.HookFired)
		if !ok || f.Hook != h {
			return
		}
		select {
		case fired <- f:
		default:
		}
	})
	defer unsub()

	trigger(st)

	select {
	case f := <-fired:
		return st, f, nil
	case <-clk.After(timeout):
		st.Kill()
		_ = st.Wait()
		return nil, store.HookFired{}, errors.Timeoutf("waiting for hook %q to fire", h)
	}
}
