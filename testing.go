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

package logfan

import (
	"sync"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/record"
)

// CaptureTransport is a transport that stores every dispatched record in
// memory. It exists for tests and examples: assert on what actually came
// out of the pipeline instead of string-matching formatted output.
type CaptureTransport struct {
	name   string
	events []string

	mu      sync.Mutex
	records []*record.Record
}

// NewCaptureTransport creates a capture transport subscribed to the given
// events, defaulting to the ingest event.
func NewCaptureTransport(events ...string) *CaptureTransport {
	return NewNamedCaptureTransport("capture", events...)
}

// NewNamedCaptureTransport creates a capture transport with an explicit
// plugin name, for engines holding more than one.
func NewNamedCaptureTransport(name string, events ...string) *CaptureTransport {
	if len(events) == 0 {
		events = []string{bus.Ingest}
	}
	return &CaptureTransport{name: name, events: events}
}

// Name implements [plugin.Plugin].
func (t *CaptureTransport) Name() string { return t.name }

// Kind implements [plugin.Plugin].
func (t *CaptureTransport) Kind() plugin.Kind { return plugin.KindTransport }

// Init implements [plugin.Plugin].
func (t *CaptureTransport) Init(core plugin.Core) error {
	for _, event := range t.events {
		core.On(event, t.capture)
	}
	return nil
}

func (t *CaptureTransport) capture(rec *record.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
}

// Records returns a snapshot of captured records in dispatch order.
func (t *CaptureTransport) Records() []*record.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*record.Record, len(t.records))
	copy(out, t.records)
	return out
}

// Len returns the number of captured records.
func (t *CaptureTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Reset discards captured records.
func (t *CaptureTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
}

// NewTestLogger creates an engine wired to a fresh capture transport, at
// debug level so every record is observable.
func NewTestLogger() (*Logger, *CaptureTransport) {
	capture := NewCaptureTransport()
	logger := MustNew(
		WithDebugLevel(),
		WithPlugins(capture),
	)
	return logger, capture
}

var _ plugin.Plugin = (*CaptureTransport)(nil)
