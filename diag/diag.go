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

// Package diag is the engine's side channel for reporting its own failures.
//
// A logging pipeline cannot log its own bugs through itself without risk of
// an infinite self-logging loop, so internal failures go to this minimal,
// pipeline-independent sink instead. The channel is opt-in via the
// LOGFAN_DIAG environment variable ("stderr" or a file path); when disabled
// every report is a cheap no-op.
package diag

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// EnvVar enables the diagnostic channel: "stderr", or a file path that is
// opened in append mode.
const EnvVar = "LOGFAN_DIAG"

// Channel is a sink for internal pipeline failure reports. The zero value
// and a nil *Channel are valid disabled channels.
type Channel struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

type entry struct {
	Timestamp int64          `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// FromEnv builds a channel according to EnvVar. An unset or empty variable
// yields a disabled channel; an unopenable path degrades to stderr rather
// than failing engine construction over a diagnostics toggle.
func FromEnv() *Channel {
	target := os.Getenv(EnvVar)
	if target == "" {
		return &Channel{}
	}
	if target == "stderr" {
		return &Channel{w: os.Stderr}
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &Channel{w: os.Stderr}
	}
	return &Channel{w: f, closer: f}
}

// NewWriter builds an enabled channel writing to w. Intended for tests and
// hosts that manage their own diagnostics destination.
func NewWriter(w io.Writer) *Channel {
	return &Channel{w: w}
}

// Enabled reports whether reports go anywhere.
func (c *Channel) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w != nil
}

// Error reports an internal failure from a component.
func (c *Channel) Error(component, msg string, meta map[string]any) {
	c.report("error", component, msg, meta)
}

// Warn reports a degraded-but-continuing condition from a component.
func (c *Channel) Warn(component, msg string, meta map[string]any) {
	c.report("warn", component, msg, meta)
}

func (c *Channel) report(level, component, msg string, meta map[string]any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Checked under the lock so a concurrent Close cannot nil the writer
	// between the check and the write.
	if c.w == nil {
		return
	}
	line, err := json.Marshal(entry{
		Timestamp: time.Now().UnixMilli(),
		Level:     level,
		Component: component,
		Message:   msg,
		Meta:      meta,
	})
	if err != nil {
		return
	}
	line = append(line, '\n')
	c.w.Write(line) //nolint:errcheck // nowhere left to report a diag write failure
}

// Close releases the underlying file when the channel owns one.
func (c *Channel) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.closer.Close()
	c.closer = nil
	c.w = nil
	return err
}
