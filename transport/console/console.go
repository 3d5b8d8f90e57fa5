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

// Package console is the terminal output transport.
//
// It renders records as compact human-readable lines with per-level colors,
// or as JSON lines for aggregation. Writes are synchronous: terminal output
// is fast enough that a queue would only add reordering. The writer handle
// is captured at construction, before any console interception rebinds the
// process-wide print defaults, so an intercepting engine can still print.
package console

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/record"
)

// Analyzed is the enrichment event carrying analysis-augmented clones.
const Analyzed = "log:analyzed"

type styleSet struct {
	levels map[record.Level]lipgloss.Style
	dim    lipgloss.Style
	key    lipgloss.Style
	msg    lipgloss.Style
}

func defaultStyles() styleSet {
	return styleSet{
		levels: map[record.Level]lipgloss.Style{
			record.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Bold(true),
			record.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
			record.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
			record.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
			record.LevelFatal: lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true),
		},
		dim: lipgloss.NewStyle().Faint(true),
		key: lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		msg: lipgloss.NewStyle(),
	}
}

// Transport writes records to a terminal or any io.Writer.
type Transport struct {
	name   string
	events []string
	json   bool
	color  bool
	styles styleSet

	mu  sync.Mutex
	out io.Writer

	diag *diag.Channel
}

// Option configures the console transport.
type Option func(*Transport)

// WithWriter redirects output. Defaults to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(t *Transport) { t.out = w }
}

// WithJSON switches output to one JSON document per line.
func WithJSON() Option {
	return func(t *Transport) { t.json = true }
}

// WithColor toggles ANSI styling. Defaults to on; styling degrades
// automatically on non-terminal writers.
func WithColor(enabled bool) Option {
	return func(t *Transport) { t.color = enabled }
}

// WithEvents replaces the subscribed event set. Defaults to the ingest
// stream plus analysis-augmented clones.
func WithEvents(events ...string) Option {
	return func(t *Transport) { t.events = events }
}

// New creates a console transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		name:   "console",
		events: []string{bus.Ingest, Analyzed},
		color:  true,
		styles: defaultStyles(),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements [plugin.Plugin].
func (t *Transport) Name() string { return t.name }

// Kind implements [plugin.Plugin].
func (t *Transport) Kind() plugin.Kind { return plugin.KindTransport }

// Init implements [plugin.Plugin].
func (t *Transport) Init(core plugin.Core) error {
	t.diag = core.Diag()
	for _, event := range t.events {
		core.On(event, func(rec *record.Record) { t.write(event, rec) })
	}
	return nil
}

func (t *Transport) write(event string, rec *record.Record) {
	var line string
	if t.json {
		data, err := json.Marshal(rec)
		if err != nil {
			t.diag.Error(t.name, "encode failed", map[string]any{"error": err.Error()})
			return
		}
		line = string(data) + "\n"
	} else {
		line = t.format(event, rec)
	}

	t.mu.Lock()
	_, err := io.WriteString(t.out, line)
	t.mu.Unlock()
	if err != nil {
		t.diag.Error(t.name, "write failed", map[string]any{"error": err.Error()})
	}
}

func (t *Transport) format(event string, rec *record.Record) string {
	var b strings.Builder

	ts := time.UnixMilli(rec.Timestamp).Format("15:04:05.000")
	b.WriteString(t.render(t.styles.dim, ts))
	b.WriteByte(' ')

	level := fmt.Sprintf("%-5s", strings.ToUpper(rec.Level.String()))
	b.WriteString(t.render(t.styles.levels[rec.Level], level))
	b.WriteByte(' ')

	b.WriteString(t.render(t.styles.msg, rec.Message))

	if event == Analyzed {
		b.WriteByte(' ')
		b.WriteString(t.render(t.styles.dim, "(analyzed)"))
	}

	t.appendPairs(&b, rec.Context)
	t.appendPairs(&b, rec.Meta)
	t.appendPairs(&b, rec.Extra)

	if rec.Err != nil {
		b.WriteByte(' ')
		b.WriteString(t.render(t.styles.levels[record.LevelError], rec.Err.Name+": "+rec.Err.Message))
		if rec.Err.Stack != "" {
			b.WriteByte('\n')
			b.WriteString(t.render(t.styles.dim, indent(rec.Err.Stack)))
		}
	}

	b.WriteByte('\n')
	return b.String()
}

// appendPairs writes key=value pairs in sorted key order so output is
// stable across runs.
func (t *Transport) appendPairs(b *strings.Builder, m map[string]any) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(t.render(t.styles.key, k))
		b.WriteByte('=')
		b.WriteString(fmt.Sprint(m[k]))
	}
}

func (t *Transport) render(style lipgloss.Style, s string) string {
	if !t.color {
		return s
	}
	return style.Render(s)
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

var _ plugin.Plugin = (*Transport)(nil)
