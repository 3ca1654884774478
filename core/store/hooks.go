// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"

	"github.com/juju/unistate/core/action"
	"github.com/juju/unistate/core/devlog"
	"github.com/juju/unistate/core/field"
	"github.com/juju/unistate/core/hook"
)

// Hooked is the hook-scoped mutable store handle passed to a
// subscription factory. Every mutation or dispatch made through it
// publishes a HookFired event first, so all pipeline output is
// correlated to the hook identifier and store instance that produced it
// without the pipeline plumbing any reporting itself. Report covers
// outputs that are neither mutations nor dispatches.
type Hooked[S any] struct {
	store *Store[S]
	hook  hook.Hook
}

// Hook returns the identifier this handle is scoped to.
func (h *Hooked[S]) Hook() hook.Hook {
	return h.hook
}

// Store returns the underlying store, for snapshot access and watcher
// construction. Mutations made directly through it are not correlated
// to the hook.
func (h *Hooked[S]) Store() *Store[S] {
	return h.store
}

// Snapshot returns the store's current state.
func (h *Hooked[S]) Snapshot() S {
	return h.store.Snapshot()
}

// Report publishes a HookFired event carrying an arbitrary value
// produced by this hook's pipeline.
func (h *Hooked[S]) Report(value interface{}) {
	h.store.hub.Publish(HookFiredTopic, HookFired{
		Origin: h.store.origin,
		Hook:   h.hook,
		Value:  value,
	})
	devlog.HookFired(h.store.origin, h.store.stateName, h.hook.String(), value)
}

// Set replaces the whole state on behalf of this hook.
func (h *Hooked[S]) Set(newState S) error {
	h.Report(newState)
	return errors.Trace(h.store.Set(newState))
}

// Dispatch feeds an action back into the owning store. Re-entrant
// dispatch from a hook callback is processed as an ordinary new
// dispatch and cannot deadlock: the bookkeeping is serialized on the
// store loop, which never blocks on hook pipelines.
func (h *Hooked[S]) Dispatch(a action.Action) error {
	h.Report(a)
	return errors.Trace(h.store.Dispatch(a))
}

// DispatchAndWait is the awaitable form of Dispatch.
func (h *Hooked[S]) DispatchAndWait(ctx context.Context, a action.Action) error {
	h.Report(a)
	return errors.Trace(h.store.DispatchAndWait(ctx, a))
}

// SetHookField performs a field write on behalf of a hook, correlated
// like every other hook output.
func SetHookField[S, T any](h *Hooked[S], f field.Field[S, T], value T, force bool) error {
	h.Report(value)
	return errors.Trace(SetField(h.store, f, value, force))
}

// hookRunner owns one activated subscription. The release is guarded so
// that explicit deactivation followed by store teardown still releases
// the underlying worker exactly once.
type hookRunner struct {
	hook   hook.Hook
	worker worker.Worker
	once   sync.Once
}

func (r *hookRunner) release() {
	r.once.Do(func() {
		if err := worker.Stop(r.worker); err != nil {
			logger.Errorf("stopping hook %q subscription: %v", r.hook, err)
		}
	})
}

// monitor logs a subscription that stops of its own accord. The
// activation contract assumes hook pipelines are effectively infinite;
// early termination silently ends that hook's effect for the remaining
// store lifetime, and must not take the store down with it.
func (r *hookRunner) monitor() {
	if err := r.worker.Wait(); err != nil {
		logger.Errorf("hook %q subscription ended: %v", r.hook, err)
	}
}

// activateHooks invokes the subscription factory exactly once per
// declared hook. Called during New, before construction completes.
func (s *Store[S]) activateHooks() error {
	for _, h := range s.config.Hooks {
		w, err := s.config.NewSubscription(h, &Hooked[S]{store: s, hook: h})
		if err != nil {
			return errors.Annotatef(err, "activating hook %q", h)
		}
		if w == nil {
			return errors.NotValidf("nil subscription for hook %q", h)
		}
		r := &hookRunner{hook: h, worker: w}
		s.hookMu.Lock()
		s.runners = append(s.runners, r)
		s.hookMu.Unlock()
		go r.monitor()
	}
	return nil
}

// Deactivate releases every hook subscription without disturbing the
// store's mutation and dispatch surface. Store teardown calls it too;
// either way each subscription is released exactly once.
func (s *Store[S]) Deactivate() {
	s.hookMu.Lock()
	runners := make([]*hookRunner, len(s.runners))
	copy(runners, s.runners)
	s.hookMu.Unlock()
	for _, r := range runners {
		r.release()
	}
}
