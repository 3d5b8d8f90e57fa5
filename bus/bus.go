// Copyright 2026 The Logfan Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bus is the record dispatch fabric of the engine.
//
// Every transport and service is just a subscriber: the façade publishes a
// finished record under "log:ingest", the bus invokes every handler
// subscribed to that event in subscription order, and each handler's failure
// is confined to that handler. A panicking subscriber is reported to the
// diagnostic channel and counted; the remaining subscribers still run and
// the publisher never sees the failure. Emit returns once all handlers have
// been invoked, not once their asynchronous work has completed; handlers
// that perform I/O hand off to their own queues and goroutines.
package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/metrics"
	"logfan.dev/logfan/record"
)

// Ingest is the reserved event name under which every published record is
// dispatched. Enrichment events follow the "log:<suffix>" convention and
// carry an augmented clone, never the original.
const Ingest = "log:ingest"

// Handler receives dispatched records. Records are read-only: a handler
// that wants to change one must clone it and publish the clone under a
// distinct event name.
type Handler func(*record.Record)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	event string
	owner string
	fn    Handler
	once  bool
	fired atomic.Bool // set when a once subscription has been consumed
}

// Bus fans records out to subscribers with per-handler failure isolation.
//
// Subscription mutation (On/Off) is expected during setup and teardown, not
// concurrently with steady-state dispatch; the lock makes interleaved use
// memory-safe, but dispatch order relative to a concurrent On is
// unspecified.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription

	diag    *diag.Channel
	metrics *metrics.Set
}

// New creates a bus reporting handler failures to dc and counting them on
// ms. Both may be nil.
func New(dc *diag.Channel, ms *metrics.Set) *Bus {
	return &Bus{
		subs:    make(map[string][]*Subscription),
		diag:    dc,
		metrics: ms,
	}
}

// On subscribes h to event. The owner name attributes handler failures in
// diagnostics and metrics; plugins get it filled in automatically by the
// registry's per-plugin core.
func (b *Bus) On(owner, event string, h Handler) *Subscription {
	return b.subscribe(owner, event, h, false)
}

// Once subscribes h to event for a single delivery.
func (b *Bus) Once(owner, event string, h Handler) *Subscription {
	return b.subscribe(owner, event, h, true)
}

func (b *Bus) subscribe(owner, event string, h Handler, once bool) *Subscription {
	sub := &Subscription{event: event, owner: owner, fn: h, once: once}
	b.mu.Lock()
	b.subs[event] = append(b.subs[event], sub)
	b.mu.Unlock()
	return sub
}

// Off removes a subscription. Removing an already-removed or foreign
// subscription is a no-op.
func (b *Bus) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.event]
	for i, s := range list {
		if s == sub {
			b.subs[sub.event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit dispatches rec to every handler subscribed to event, in subscription
// order. Handler panics are isolated: reported, counted, and swallowed so
// that later handlers and the publisher are unaffected.
func (b *Bus) Emit(event string, rec *record.Record) {
	b.mu.RLock()
	list := b.subs[event]
	// Snapshot so a handler subscribing or unsubscribing mid-dispatch does
	// not perturb this dispatch.
	snapshot := make([]*Subscription, len(list))
	copy(snapshot, list)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if sub.once {
			if !sub.fired.CompareAndSwap(false, true) {
				continue
			}
			b.Off(sub)
		}
		b.invoke(sub, event, rec)
	}
}

func (b *Bus) invoke(sub *Subscription, event string, rec *record.Record) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.PluginErrorsTotal.WithLabelValues(sub.owner).Inc()
			}
			b.diag.Error("bus", "handler panic isolated", map[string]any{
				"owner": sub.owner,
				"event": event,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	sub.fn(rec)
}

// SubscriberCount returns the number of handlers subscribed to event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

// Reset drops all subscriptions. Called by the façade at shutdown after
// plugins have been stopped.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]*Subscription)
}
