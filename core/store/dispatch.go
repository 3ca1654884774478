// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	"context"

	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/juju/unistate/core/action"
	"github.com/juju/unistate/core/devlog"
)

// task is one in-flight asynchronous unit of work for a dispatched
// action. Its tomb's context is the cooperative cancellation token
// handed to the handler.
type task struct {
	tomb   tomb.Tomb
	id     uint64
	key    string
	action action.Action
}

// Dispatch schedules the action's handler and returns once the task is
// registered; it does not wait for the handler to run. Returns
// ErrStopped once the store is dying.
func (s *Store[S]) Dispatch(a action.Action) error {
	_, err := s.dispatch(a)
	return errors.Trace(err)
}

// DispatchAndWait dispatches through the same internal routine and then
// waits for the task to finish. Completion and cancellation both return
// nil; cancellation is not an error. The context only bounds the wait,
// not the task.
func (s *Store[S]) DispatchAndWait(ctx context.Context, a action.Action) error {
	t, err := s.dispatch(a)
	if err != nil {
		return errors.Trace(err)
	}
	select {
	case <-t.tomb.Dead():
		if err := t.tomb.Err(); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Trace(err)
		}
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// Cancel looks up the in-flight task sharing the action's cancellation
// key and cancels it, reporting whether one was found. Actions without
// a key have nothing to look up.
func (s *Store[S]) Cancel(a action.Action) (bool, error) {
	key := action.Key(a)
	if key == "" {
		return false, nil
	}
	var found bool
	err := s.run(func() {
		if t := s.keyed[key]; t != nil {
			t.tomb.Kill(nil)
			found = true
		}
	})
	return found, errors.Trace(err)
}

func (s *Store[S]) dispatch(a action.Action) (*task, error) {
	var t *task
	err := s.run(func() {
		t = s.startTask(a)
	})
	return t, errors.Trace(err)
}

// startTask runs on the loop. The ordering here is load-bearing: a
// keyed predecessor is cancelled before anything else happens, and the
// Dispatched event is published before the handler goroutine starts, so
// hub observers always see the dispatch ahead of its effects.
func (s *Store[S]) startTask(a action.Action) *task {
	key := action.Key(a)
	if key != "" {
		if prior := s.keyed[key]; prior != nil {
			prior.tomb.Kill(nil)
		}
	}

	s.lastID++
	t := &task{
		id:     s.lastID,
		key:    key,
		action: a,
	}

	s.hub.Publish(DispatchedTopic, Dispatched{
		Origin: s.origin,
		Name:   action.Name(a),
		Key:    key,
		Action: a,
	})
	devlog.Dispatched(s.origin, s.stateName, action.Name(a), key)

	ctx := t.tomb.Context(nil)
	handler := s.config.Handler
	t.tomb.Go(func() error {
		return handler(ctx, a, s)
	})

	if key != "" {
		s.keyed[key] = t
	} else {
		s.anon[t.id] = t
	}
	go s.reap(t)
	return t
}

// reap waits for a task to finish, evicts it from the pending tables,
// and escalates handler failures. Eviction is explicit for keyed and
// anonymous tasks alike; completed tasks are never retained.
func (s *Store[S]) reap(t *task) {
	err := t.tomb.Wait()
	// The eviction no-ops with ErrStopped during teardown, when the
	// loop has already discarded its tables.
	_ = s.run(func() {
		if t.key != "" {
			if s.keyed[t.key] == t {
				delete(s.keyed, t.key)
			}
		} else {
			delete(s.anon, t.id)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		// The engine has no error channel. A handler that lets a
		// failure escape instead of encoding it as state is a
		// programming error, fatal to the owning store.
		logger.Criticalf("%s: action %q handler failed: %v", s.origin, action.Name(t.action), err)
		s.catacomb.Kill(errors.Annotatef(err, "action %q handler", action.Name(t.action)))
	}
}
