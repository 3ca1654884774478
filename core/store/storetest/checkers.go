// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storetest

import (
	"time"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/unistate/core/store"
)

// WatcherC wraps a field watcher with change-stream assertions.
type WatcherC[T comparable] struct {
	c       *gc.C
	watcher *store.FieldWatcher[T]
}

// NewWatcherC returns assertion helpers for the given watcher.
func NewWatcherC[T comparable](c *gc.C, w *store.FieldWatcher[T]) WatcherC[T] {
	return WatcherC[T]{c: c, watcher: w}
}

// AssertOneChange fails unless exactly the expected value arrives
// within LongWait, with nothing further behind it.
func (wc WatcherC[T]) AssertOneChange(expected T) {
	select {
	case value, ok := <-wc.watcher.Changes():
		wc.c.Assert(ok, jc.IsTrue)
		wc.c.Check(value, gc.Equals, expected)
	case <-time.After(testing.LongWait):
		wc.c.Fatalf("watcher did not emit after %s", testing.LongWait)
	}
	wc.AssertNoChange()
}

// AssertChanges drains and returns the next n values, failing on
// starvation.
func (wc WatcherC[T]) AssertChanges(n int) []T {
	values := make([]T, 0, n)
	for i := 0; i < n; i++ {
		select {
		case value := <-wc.watcher.Changes():
			values = append(values, value)
		case <-time.After(testing.LongWait):
			wc.c.Fatalf("watcher emitted %d of %d values after %s", i, n, testing.LongWait)
		}
	}
	return values
}

// AssertNoChange fails if any value arrives within ShortWait.
func (wc WatcherC[T]) AssertNoChange() {
	select {
	case value := <-wc.watcher.Changes():
		wc.c.Fatalf("watcher emitted unexpected value %v", value)
	case <-time.After(testing.ShortWait):
	}
}

// AssertStops kills the watcher and fails unless it stops cleanly.
func (wc WatcherC[T]) AssertStops() {
	workertest.CleanKill(wc.c, wc.watcher)
}
