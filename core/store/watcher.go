// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/juju/unistate/core/field"
)

// FieldWatcher is a duplicate-suppressing stream over one projection of
// a store's state. It implements worker.Worker; killing it releases the
// underlying hub subscription.
type FieldWatcher[T comparable] struct {
	tomb  tomb.Tomb
	unsub func()

	out chan T

	// mu guards pending, which preserves mutation order: values are
	// queued by the hub subscriber and drained by the loop, so nothing
	// is coalesced or dropped however slow the consumer is.
	mu      sync.Mutex
	pending []T
	signal  chan struct{}
}

// Watch derives a per-field stream from the store's change stream. The
// returned watcher emits the field's value after a mutation only when
// it differs from the previous state's value, when the mutation forced
// this field, or when no previous state existed yet. Only mutations
// after the call are observed; there is no replay of the current state.
func Watch[S any, T comparable](st *Store[S], f field.Field[S, T]) *FieldWatcher[T] {
	w := &FieldWatcher[T]{
		out:    make(chan T),
		signal: make(chan struct{}, 1),
	}
	get, name := f.Get, f.Name
	w.unsub = st.hub.Subscribe(StateChangedTopic, func(topic string, data interface{}) {
		change, ok := data.(Changed[S])
		if !ok {
			logger.Criticalf("programming error: topic data expected Changed, got %T", data)
			return
		}
		value := get(change.Current)
		if change.HasPrevious && !change.Forced.Contains(name) && get(change.Previous) == value {
			return
		}
		w.mu.Lock()
		w.pending = append(w.pending, value)
		w.mu.Unlock()
		select {
		case w.signal <- struct{}{}:
		default:
		}
	})
	w.tomb.Go(w.loop)
	return w
}

// Changes returns the channel delivering projected values, one per
// unsuppressed mutation, in mutation order.
func (w *FieldWatcher[T]) Changes() <-chan T {
	return w.out
}

// Kill is part of the worker.Worker interface.
func (w *FieldWatcher[T]) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *FieldWatcher[T]) Wait() error {
	return w.tomb.Wait()
}

func (w *FieldWatcher[T]) loop() error {
	defer w.unsub()
	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case <-w.signal:
		}
		for {
			w.mu.Lock()
			if len(w.pending) == 0 {
				w.mu.Unlock()
				break
			}
			next := w.pending[0]
			w.pending = w.pending[1:]
			w.mu.Unlock()

			select {
			case w.out <- next:
			case <-w.tomb.Dying():
				return tomb.ErrDying
			}
		}
	}
}
