// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package devlog is the developer-log surface: an optional global sink
// receiving human-readable text for initial states, dispatched actions,
// state diffs, hook firings and binding-induced mutations. It is purely
// observational; stores emit entries synchronously but nothing here may
// influence mutation ordering or outcomes.
package devlog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/loggo/v2"

	"github.com/juju/unistate/core/field"
)

var logger = loggo.GetLogger("unistate.devlog")

// Kind classifies an entry.
type Kind string

const (
	KindInitial  Kind = "initial"
	KindDispatch Kind = "dispatch"
	KindDiff     Kind = "diff"
	KindHook     Kind = "hook"
	KindBinding  Kind = "binding"
)

// Entry is one developer-log line.
type Entry struct {
	Origin    string
	StateType string
	Kind      Kind
	Message   string
}

// Sink receives entries that pass the filter.
type Sink interface {
	Write(Entry)
}

// loggoSink is the default sink.
type loggoSink struct{}

func (loggoSink) Write(e Entry) {
	logger.Debugf("%s [%s] %s", e.Origin, e.Kind, e.Message)
}

type filterMode int

const (
	filterAll filterMode = iota
	filterInclude
	filterExclude
)

// Filter restricts output by declared state type name.
type Filter struct {
	mode  filterMode
	names set.Strings
}

// All passes every state type.
func All() Filter {
	return Filter{mode: filterAll}
}

// Include passes only the named state types.
func Include(names ...string) Filter {
	return Filter{mode: filterInclude, names: set.NewStrings(names...)}
}

// Exclude passes everything but the named state types.
func Exclude(names ...string) Filter {
	return Filter{mode: filterExclude, names: set.NewStrings(names...)}
}

func (f Filter) pass(stateType string) bool {
	switch f.mode {
	case filterInclude:
		return f.names.Contains(stateType)
	case filterExclude:
		return !f.names.Contains(stateType)
	}
	return true
}

var (
	mu     sync.Mutex
	sink   Sink = loggoSink{}
	filter      = All()
)

// SetSink routes subsequent entries to the given sink. A nil sink
// restores the default.
func SetSink(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	if s == nil {
		sink = loggoSink{}
		return
	}
	sink = s
}

// SetFilter installs a state-type filter for subsequent entries.
func SetFilter(f Filter) {
	mu.Lock()
	defer mu.Unlock()
	filter = f
}

// Reset restores the default sink and an all-pass filter.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	sink = loggoSink{}
	filter = All()
}

func emit(origin, stateType string, kind Kind, message string) {
	mu.Lock()
	target, f := sink, filter
	mu.Unlock()
	if !f.pass(stateType) {
		return
	}
	target.Write(Entry{
		Origin:    origin,
		StateType: stateType,
		Kind:      kind,
		Message:   message,
	})
}

// Initial reports the state a store was constructed with.
func Initial(origin, stateType, rendering string) {
	emit(origin, stateType, KindInitial, fmt.Sprintf("initial state %s", rendering))
}

// Dispatched reports one dispatched action.
func Dispatched(origin, stateType, name, key string) {
	if key == "" {
		emit(origin, stateType, KindDispatch, fmt.Sprintf("dispatched %s", name))
		return
	}
	emit(origin, stateType, KindDispatch, fmt.Sprintf("dispatched %s (key %q)", name, key))
}

// Diff reports the fields changed by one mutation.
func Diff(origin, stateType string, deltas []field.Delta) {
	parts := make([]string, len(deltas))
	for i, d := range deltas {
		parts[i] = fmt.Sprintf("%s: %v -> %v", d.Name, d.Old, d.New)
	}
	emit(origin, stateType, KindDiff, strings.Join(parts, ", "))
}

// HookFired reports one value produced by a hook pipeline.
func HookFired(origin, stateType, hook string, value interface{}) {
	emit(origin, stateType, KindHook, fmt.Sprintf("hook %s fired: %v", hook, value))
}

// BindingWrite reports a binding-induced mutation.
func BindingWrite(origin, stateType, field string, value interface{}) {
	emit(origin, stateType, KindBinding, fmt.Sprintf("binding wrote %s = %v", field, value))
}
