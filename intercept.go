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
	"bytes"
	"context"
	"log"
	"log/slog"
	"strconv"
	"sync"

	"github.com/valyala/fastjson"

	"logfan.dev/logfan/record"
)

// ConsoleGuard rebinds the process-wide print bindings (the stdlib log
// default logger and the slog default) so that code logging through them
// feeds the pipeline instead of writing directly to their outputs.
//
// The guard is an explicit adapter object holding all captured state; it
// never rebinds anything at package load time. Recursion safety: the
// engine's own transports write to output handles captured before install
// and never call the log or slog packages, so a record fanning out can
// never re-enter the guard. If the adapter itself fails, it falls back to
// writing the original bytes to the originally captured writer; a
// pipeline bug must never swallow output from unrelated application code.
type ConsoleGuard struct {
	logger *Logger

	mu     sync.Mutex
	active bool

	// captured stdlib log state
	prevWriter logWriter
	prevFlags  int
	prevPrefix string

	// captured slog default
	prevSlog *slog.Logger
}

// logWriter is the io.Writer subset we capture from the log package.
type logWriter interface {
	Write(p []byte) (int, error)
}

func newConsoleGuard(l *Logger) *ConsoleGuard {
	return &ConsoleGuard{logger: l}
}

// Install captures the current bindings and replaces them with adapters.
// A second call while active is a no-op.
func (g *ConsoleGuard) Install() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return
	}

	g.prevWriter = log.Writer()
	g.prevFlags = log.Flags()
	g.prevPrefix = log.Prefix()
	g.prevSlog = slog.Default()

	// Flags and prefix off: the adapter receives the raw message text and
	// the record model carries its own timestamp.
	log.SetFlags(0)
	log.SetPrefix("")
	log.SetOutput(&lineAdapter{guard: g})
	slog.SetDefault(slog.New(&slogAdapter{guard: g}))

	g.active = true
}

// Uninstall restores the captured bindings exactly as they were. A no-op
// when not active.
func (g *ConsoleGuard) Uninstall() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active {
		return
	}

	log.SetOutput(g.prevWriter)
	log.SetFlags(g.prevFlags)
	log.SetPrefix(g.prevPrefix)
	slog.SetDefault(g.prevSlog)

	g.prevWriter = nil
	g.prevSlog = nil
	g.active = false
}

// IsActive reports whether the guard currently holds the bindings.
func (g *ConsoleGuard) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *ConsoleGuard) capturedSlog() *slog.Logger {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prevSlog
}

// fallbackWrite sends the original bytes to the originally captured writer.
func (g *ConsoleGuard) fallbackWrite(p []byte) {
	g.mu.Lock()
	w := g.prevWriter
	g.mu.Unlock()
	if w != nil {
		w.Write(p) //nolint:errcheck // last-resort path, nowhere to report
	}
}

// lineAdapter receives the stdlib log package's formatted output one line
// per Write and routes it through the engine's internal publish path.
type lineAdapter struct {
	guard *ConsoleGuard
}

func (a *lineAdapter) Write(p []byte) (n int, err error) {
	defer func() {
		// Any failure in the pipeline degrades to the captured writer so
		// application code calling log.Printf still sees its output.
		if r := recover(); r != nil {
			a.guard.fallbackWrite(p)
			n, err = len(p), nil
		}
	}()

	line := bytes.TrimRight(p, "\n")
	parsed := parseLine(line)

	l := a.guard.logger
	l.publish(context.Background(), parsed.level, parsed.message, parsed.meta, parsed.errInfo)
	return len(p), nil
}

// parsedLine is the explicit two-variant result of trying to read a print
// line as structured data: either the JSON fields were lifted out, or the
// line degraded to a plain-text message. Degrading is an expected outcome,
// not an error.
type parsedLine struct {
	level   record.Level
	message string
	meta    map[string]any
	errInfo *record.ErrInfo
	plain   bool
}

var lineParserPool = sync.Pool{
	New: func() any { return &fastjson.Parser{} },
}

// parseLine lifts a JSON object line into message/level/meta/error fields.
// A JSON array lands under positional keys; anything unparseable becomes a
// plain-text message at info level.
func parseLine(line []byte) parsedLine {
	out := parsedLine{level: record.LevelInfo, message: string(line), plain: true}

	parser := lineParserPool.Get().(*fastjson.Parser)
	defer lineParserPool.Put(parser)

	v, err := parser.ParseBytes(line)
	if err != nil {
		return out
	}

	switch v.Type() {
	case fastjson.TypeObject:
		obj, _ := v.Object()
		meta := make(map[string]any, obj.Len())
		out.message = ""
		obj.Visit(func(key []byte, val *fastjson.Value) {
			switch string(key) {
			case "message", "msg":
				out.message = string(val.GetStringBytes())
			case "level":
				if lvl, perr := record.ParseLevel(string(val.GetStringBytes())); perr == nil {
					out.level = lvl
				}
			case "error":
				if info := errInfoFromJSON(val); info != nil {
					out.errInfo = info
					return
				}
				meta["error"] = jsonValue(val)
			default:
				meta[string(key)] = jsonValue(val)
			}
		})
		if len(meta) > 0 {
			out.meta = meta
		}
		out.plain = false
	case fastjson.TypeArray:
		arr, _ := v.Array()
		meta := make(map[string]any, len(arr))
		for i, elem := range arr {
			meta[strconv.Itoa(i)] = jsonValue(elem)
		}
		out.message = ""
		out.meta = meta
		out.plain = false
	}
	return out
}

// errInfoFromJSON recognizes a {name, message, ...} error object.
func errInfoFromJSON(v *fastjson.Value) *record.ErrInfo {
	if v.Type() != fastjson.TypeObject {
		return nil
	}
	name := v.GetStringBytes("name")
	msg := v.GetStringBytes("message")
	if name == nil && msg == nil {
		return nil
	}
	return &record.ErrInfo{
		Name:    string(name),
		Message: string(msg),
		Stack:   string(v.GetStringBytes("stack")),
	}
}

// jsonValue converts a fastjson value into the generic Go form the
// sanitizer walks.
func jsonValue(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeNull:
		return nil
	case fastjson.TypeObject:
		obj, _ := v.Object()
		m := make(map[string]any, obj.Len())
		obj.Visit(func(key []byte, val *fastjson.Value) {
			m[string(key)] = jsonValue(val)
		})
		return m
	case fastjson.TypeArray:
		arr, _ := v.Array()
		s := make([]any, len(arr))
		for i, elem := range arr {
			s[i] = jsonValue(elem)
		}
		return s
	}
	return v.String()
}

// slogAdapter maps records logged through the slog default into the
// pipeline. Attr groups flatten into dotted keys.
type slogAdapter struct {
	guard  *ConsoleGuard
	prefix string
	attrs  []slog.Attr
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	return levelFromSlog(level) >= h.guard.logger.Level()
}

func (h *slogAdapter) Handle(ctx context.Context, r slog.Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			// Degrade to the captured slog handler rather than dropping.
			if prev := h.guard.capturedSlog(); prev != nil {
				err = prev.Handler().Handle(ctx, r)
			}
		}
	}()

	meta := make(map[string]any, r.NumAttrs()+len(h.attrs))
	var errInfo *record.ErrInfo
	collect := func(key string, v slog.Value) {
		if e, ok := v.Any().(error); ok && e != nil && errInfo == nil {
			errInfo = record.NormalizeError(e)
			return
		}
		meta[key] = v.Any()
	}
	// Attrs accumulated by WithAttrs already carry their prefix; only the
	// record's own attrs get the current group prefix.
	for _, a := range h.attrs {
		collect(a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(h.prefix+a.Key, a.Value)
		return true
	})
	if len(meta) == 0 {
		meta = nil
	}

	h.guard.logger.publish(ctx, levelFromSlog(r.Level), r.Message, meta, errInfo)
	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		merged = append(merged, a)
	}
	return &slogAdapter{guard: h.guard, prefix: h.prefix, attrs: merged}
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogAdapter{guard: h.guard, prefix: h.prefix + name + ".", attrs: h.attrs}
}

func levelFromSlog(level slog.Level) record.Level {
	switch {
	case level >= slog.LevelError:
		return record.LevelError
	case level >= slog.LevelWarn:
		return record.LevelWarn
	case level >= slog.LevelInfo:
		return record.LevelInfo
	default:
		return record.LevelDebug
	}
}
