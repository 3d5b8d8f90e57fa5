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

// Package plugin defines the contract between the engine and its output
// plugins.
//
// A plugin is either a Transport (ships records somewhere: console, file,
// email, kafka, dashboard) or a Service (adds behavior on top of the
// stream: analysis, archival). The set is closed on purpose: the registry
// never probes for capabilities at runtime, it only distinguishes the two
// kinds. A plugin communicates exclusively through the Core handed to its
// Init: the event bus surface plus the engine's level methods. It must not
// reach into queue or context internals.
package plugin

import (
	"context"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/metrics"
	"logfan.dev/logfan/record"
)

// Kind distinguishes the two plugin capability variants.
type Kind string

const (
	// KindTransport ships records to an output destination.
	KindTransport Kind = "transport"
	// KindService consumes and enriches the record stream.
	KindService Kind = "service"
)

// Plugin is implemented by every transport and service.
//
// Init is called synchronously at registration time. An Init error aborts
// engine startup: running with partially wired observability is worse than
// a loud failure to start.
type Plugin interface {
	// Name uniquely identifies the plugin within an engine.
	Name() string

	// Kind reports whether this is a transport or a service.
	Kind() Kind

	// Init subscribes the plugin to the events it consumes and starts any
	// background workers it needs.
	Init(core Core) error
}

// Shutdowner is implemented by plugins with teardown work (flushing queues,
// closing files, stopping servers). Shutdown is awaited by the engine, in
// reverse registration order, with per-plugin failure isolation.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Core is the engine surface available to a plugin. Each registered plugin
// receives its own Core; subscriptions made through it are attributed to the
// plugin in diagnostics and metrics.
//
// On and Once must only be called from Init, which the engine runs inside
// its registration critical section. Calling them later, from a handler or
// a plugin goroutine, races with registration bookkeeping.
type Core interface {
	// On subscribes to an event. See bus.Ingest for the reserved ingest
	// event; enrichment events follow the "log:<suffix>" convention.
	On(event string, h bus.Handler) *bus.Subscription

	// Once subscribes for a single delivery. Init-only, like On.
	Once(event string, h bus.Handler) *bus.Subscription

	// Off removes a subscription made through this core.
	Off(sub *bus.Subscription)

	// Emit publishes a record under an event name. Enriching plugins emit
	// clones under distinct names, never the record they received.
	Emit(event string, rec *record.Record)

	// Diag is the engine's side channel for the plugin's own failures.
	// It never re-enters the pipeline.
	Diag() *diag.Channel

	// Metrics exposes the engine's counter set, notably the per-component
	// dropped-records counter.
	Metrics() *metrics.Set

	// Level methods publish through the full pipeline. Plugins should use
	// Diag, not these, to report their own I/O failures.
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
