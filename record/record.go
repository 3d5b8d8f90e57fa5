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

package record

import (
	"os"
	"time"
)

// hostname and pid are resolved once per process. Every record produced by
// this process carries the same values, so there is no reason to pay the
// os.Hostname syscall on the hot logging path.
var (
	hostname, _ = os.Hostname()
	pid         = os.Getpid()
)

// Record is the immutable unit of data flowing through the engine.
//
// A Record is built by a logger level method, published to the bus under
// "log:ingest", and from that point on must be treated as read-only by every
// subscriber. Plugins that want to enrich a record (for example with an
// analysis result) clone it, fill the Extra slot of the clone, and publish
// the clone under a distinct event name. Mutating a record after publish
// would change it under the feet of other subscribers mid-dispatch.
type Record struct {
	// Timestamp is wall-clock unix milliseconds at creation time.
	Timestamp int64 `json:"timestamp"`

	Level    Level  `json:"level"`
	Hostname string `json:"hostname"`
	PID      int    `json:"pid"`
	Message  string `json:"message"`

	// Meta holds caller-supplied structured attributes, already sanitized.
	Meta map[string]any `json:"meta,omitempty"`

	// Context holds the ambient key/value overlay captured from the active
	// context frames at the moment the record was built.
	Context map[string]any `json:"context,omitempty"`

	// Err is the normalized error attached to the record, if any.
	Err *ErrInfo `json:"error,omitempty"`

	// Extra is the open extension slot for enrichment plugins. It is always
	// nil on freshly ingested records; only enriched clones carry it.
	Extra map[string]any `json:"extra,omitempty"`
}

// ErrInfo is the normalized {name, message, stack} form of an error.
type ErrInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// New builds a record with timestamp, hostname and pid filled in.
func New(level Level, msg string) *Record {
	return &Record{
		Timestamp: time.Now().UnixMilli(),
		Level:     level,
		Hostname:  hostname,
		PID:       pid,
		Message:   msg,
	}
}

// Clone returns a copy of the record suitable for enrichment.
//
// Top-level maps are copied so the clone can gain Extra entries without
// touching the original; nested values are shared because records are
// read-only after publish, so sharing is safe.
func (r *Record) Clone() *Record {
	c := *r
	if r.Meta != nil {
		c.Meta = make(map[string]any, len(r.Meta))
		for k, v := range r.Meta {
			c.Meta[k] = v
		}
	}
	if r.Context != nil {
		c.Context = make(map[string]any, len(r.Context))
		for k, v := range r.Context {
			c.Context[k] = v
		}
	}
	if r.Extra != nil {
		c.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	if r.Err != nil {
		e := *r.Err
		c.Err = &e
	}
	return &c
}
