// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"
	"gopkg.in/tomb.v2"

	"github.com/juju/unistate/core/action"
	"github.com/juju/unistate/core/hook"
	"github.com/juju/unistate/core/store"
	"github.com/juju/unistate/core/store/storetest"
)

type HooksSuite struct {
	baseSuite
}

var _ = gc.Suite(&HooksSuite{})

func (s *HooksSuite) TestActivationExactlyOncePerHook(c *gc.C) {
	var (
		mu          sync.Mutex
		activations = make(map[hook.Hook]int)
	)
	s.newStore(c, store.Config[appState]{
		Hooks: hook.Declarations{"password-changed", "message-received"},
		NewSubscription: func(h hook.Hook, _ *store.Hooked[appState]) (worker.Worker, error) {
			mu.Lock()
			activations[h]++
			mu.Unlock()
			return workertest.NewErrorWorker(nil), nil
		},
	})
	mu.Lock()
	defer mu.Unlock()
	c.Check(activations, jc.DeepEquals, map[hook.Hook]int{
		"password-changed": 1,
		"message-received": 1,
	})
}

func (s *HooksSuite) TestHookFiresExactlyOnMatchingEvent(c *gc.C) {
	sourceA := make(chan string)
	sourceB := make(chan string)

	st := s.newStore(c, store.Config[appState]{
		Hooks: hook.Declarations{"hook-a", "hook-b"},
		NewSubscription: func(h hook.Hook, hooked *store.Hooked[appState]) (worker.Worker, error) {
			if h == "hook-a" {
				return newChanHook(sourceA, hooked), nil
			}
			return newChanHook(sourceB, hooked), nil
		},
	})
	rec := storetest.NewRecorder(st, clock.WallClock)
	defer rec.Close()

	select {
	case sourceA <- "from-a":
	case <-time.After(testing.LongWait):
		c.Fatal("hook-a source never consumed the event")
	}

	waitFor(c, func() bool {
		return len(rec.FiringsFor("hook-a")) == 1
	})
	c.Check(rec.FiringsFor("hook-b"), gc.HasLen, 0)

	fired := rec.FiringsFor("hook-a")[0]
	c.Check(fired.Hook, gc.Equals, hook.Hook("hook-a"))
	c.Check(fired.Origin, gc.Equals, st.Origin())
	c.Check(fired.Value, gc.Equals, action.Action(setFoo{value: "from-a"}))

	// The dispatched action went through the ordinary path.
	waitFor(c, func() bool {
		return st.Snapshot().Foo == "from-a"
	})
}

func (s *HooksSuite) TestReentrantDispatchWhileOuterInFlight(c *gc.C) {
	type poke struct{}
	source := make(chan string)
	innerRan := make(chan struct{})

	st := s.newStore(c, store.Config[appState]{
		Handler: func(ctx context.Context, a action.Action, st *store.Store[appState]) error {
			switch act := a.(type) {
			case poke:
				// Trigger the hook's source while this dispatch is
				// still in flight, then wait for the hook-dispatched
				// action to land.
				select {
				case source <- "via-hook":
				case <-ctx.Done():
					return ctx.Err()
				}
				select {
				case <-innerRan:
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			case setFoo:
				err := store.SetField(st, fooField, act.value, false)
				close(innerRan)
				return err
			}
			return nil
		},
		Hooks: hook.Declarations{"relay"},
		NewSubscription: func(_ hook.Hook, hooked *store.Hooked[appState]) (worker.Worker, error) {
			return newChanHook(source, hooked), nil
		},
	})

	c.Assert(st.DispatchAndWait(context.Background(), poke{}), jc.ErrorIsNil)
	c.Check(st.Snapshot().Foo, gc.Equals, "via-hook")
}

// watchHook subscribes a field watcher and reports each delivery,
// modelling a "password changed" style pipeline.
type watchHook struct {
	tomb    tomb.Tomb
	watcher *store.FieldWatcher[string]
	hooked  *store.Hooked[appState]
}

func newWatchHook(hooked *store.Hooked[appState]) worker.Worker {
	h := &watchHook{
		watcher: store.Watch(hooked.Store(), fooField),
		hooked:  hooked,
	}
	h.tomb.Go(h.loop)
	return h
}

func (h *watchHook) Kill() {
	h.watcher.Kill()
	h.tomb.Kill(nil)
}

func (h *watchHook) Wait() error {
	return h.tomb.Wait()
}

func (h *watchHook) loop() error {
	defer h.watcher.Kill()
	for {
		select {
		case <-h.tomb.Dying():
			return tomb.ErrDying
		case value := <-h.watcher.Changes():
			h.hooked.Report(value)
		}
	}
}

func (s *HooksSuite) TestStateProjectionHook(c *gc.C) {
	st := s.newStore(c, store.Config[appState]{
		Initial: appState{Foo: "foo", Bar: 123},
		Hooks:   hook.Declarations{"foo-changed"},
		NewSubscription: func(_ hook.Hook, hooked *store.Hooked[appState]) (worker.Worker, error) {
			return newWatchHook(hooked), nil
		},
	})
	rec := storetest.NewRecorder(st, clock.WallClock)
	defer rec.Close()

	// The first mutation counts as changed for every projection.
	c.Assert(st.Set(appState{Foo: "foo", Bar: 123}), jc.ErrorIsNil)
	waitFor(c, func() bool {
		return len(rec.FiringsFor("foo-changed")) == 1
	})

	// An unrelated mutation must not fire the hook; a foo change must.
	c.Assert(store.SetField(st, barField, 124, false), jc.ErrorIsNil)
	c.Assert(store.SetField(st, fooField, "secret", false), jc.ErrorIsNil)
	waitFor(c, func() bool {
		return len(rec.FiringsFor("foo-changed")) == 2
	})

	firings := rec.FiringsFor("foo-changed")
	c.Check(firings[0].Value, gc.Equals, interface{}("foo"))
	c.Check(firings[1].Value, gc.Equals, interface{}("secret"))
}

// countingWorker records how many times it is killed.
type countingWorker struct {
	tomb  tomb.Tomb
	kills atomic.Int64
}

func newCountingWorker() *countingWorker {
	w := &countingWorker{}
	w.tomb.Go(func() error {
		<-w.tomb.Dying()
		return tomb.ErrDying
	})
	return w
}

func (w *countingWorker) Kill() {
	w.kills.Add(1)
	w.tomb.Kill(nil)
}

func (w *countingWorker) Wait() error {
	return w.tomb.Wait()
}

func (s *HooksSuite) TestTeardownReleasesEverySubscriptionOnce(c *gc.C) {
	workers := make(map[hook.Hook]*countingWorker)
	st := s.newStore(c, store.Config[appState]{
		Hooks: hook.Declarations{"one", "two"},
		NewSubscription: func(h hook.Hook, _ *store.Hooked[appState]) (worker.Worker, error) {
			w := newCountingWorker()
			workers[h] = w
			return w, nil
		},
	})

	workertest.CleanKill(c, st)
	for h, w := range workers {
		c.Check(w.kills.Load(), gc.Equals, int64(1), gc.Commentf("hook %q", h))
	}
}

func (s *HooksSuite) TestDeactivateThenTeardownReleasesOnce(c *gc.C) {
	workers := make(map[hook.Hook]*countingWorker)
	st := s.newStore(c, store.Config[appState]{
		Hooks: hook.Declarations{"one", "two"},
		NewSubscription: func(h hook.Hook, _ *store.Hooked[appState]) (worker.Worker, error) {
			w := newCountingWorker()
			workers[h] = w
			return w, nil
		},
	})

	st.Deactivate()
	// The mutation surface survives deactivation.
	c.Assert(st.Set(appState{Foo: "still alive"}), jc.ErrorIsNil)

	workertest.CleanKill(c, st)
	for h, w := range workers {
		c.Check(w.kills.Load(), gc.Equals, int64(1), gc.Commentf("hook %q", h))
	}
}

func (s *HooksSuite) TestHookWorkerFailureDoesNotKillStore(c *gc.C) {
	st := s.newStore(c, store.Config[appState]{
		Hooks: hook.Declarations{"doomed"},
		NewSubscription: func(hook.Hook, *store.Hooked[appState]) (worker.Worker, error) {
			w := workertest.NewErrorWorker(errors.New("pipeline source failed"))
			go w.Kill()
			return w, nil
		},
	})

	// The failed hook silently stops; the store keeps working.
	c.Assert(st.Set(appState{Foo: "after failure"}), jc.ErrorIsNil)
	c.Check(st.Snapshot().Foo, gc.Equals, "after failure")
	workertest.CheckAlive(c, st)
}

func (s *HooksSuite) TestFactoryErrorFailsConstruction(c *gc.C) {
	released := newCountingWorker()
	_, err := store.New(store.Config[appState]{
		Name:    "app",
		Handler: appHandler,
		Hooks:   hook.Declarations{"good", "bad"},
		NewSubscription: func(h hook.Hook, _ *store.Hooked[appState]) (worker.Worker, error) {
			if h == "bad" {
				return nil, errors.New("no source available")
			}
			return released, nil
		},
	})
	c.Assert(err, gc.ErrorMatches, `activating hook "bad": no source available`)

	// The earlier activation is unwound.
	select {
	case <-released.tomb.Dead():
	case <-time.After(testing.LongWait):
		c.Fatal("surviving hook subscription not released")
	}
}

func (s *HooksSuite) TestWaitForHookHelper(c *gc.C) {
	source := make(chan string, 1)
	config := store.Config[appState]{
		Name:    "app",
		Handler: appHandler,
		Hooks:   hook.Declarations{"relay"},
		NewSubscription: func(_ hook.Hook, hooked *store.Hooked[appState]) (worker.Worker, error) {
			return newChanHook(source, hooked), nil
		},
	}

	st, fired, err := storetest.WaitForHook(config, "relay", func(*store.Store[appState]) {
		source <- "triggered"
	}, clock.WallClock, testing.LongWait)
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, st)

	c.Check(fired.Hook, gc.Equals, hook.Hook("relay"))
	c.Check(fired.Origin, gc.Equals, st.Origin())
}

func (s *HooksSuite) TestWaitForHookTimeout(c *gc.C) {
	config := store.Config[appState]{
		Name:    "app",
		Handler: appHandler,
		Hooks:   hook.Declarations{"silent"},
		NewSubscription: func(_ hook.Hook, hooked *store.Hooked[appState]) (worker.Worker, error) {
			return newChanHook(make(chan string), hooked), nil
		},
	}

	_, _, err := storetest.WaitForHook(config, "silent", func(*store.Store[appState]) {},
		clock.WallClock, testing.ShortWait)
	c.Check(err, jc.Satisfies, errors.IsTimeout)
}
