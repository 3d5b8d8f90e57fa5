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
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/logctx"
	"logfan.dev/logfan/metrics"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/record"
	"logfan.dev/logfan/sanitize"
)

// Logger is the engine's public entry point: level methods build records,
// the sanitizer redacts them, and the bus fans them out to registered
// plugins.
//
// Thread-safety: all public methods are safe for concurrent use. The level
// threshold is read atomically on the hot path; the mutex guards plugin
// registration and shutdown only. Registering plugins concurrently with
// steady-state dispatch is undefined behavior; wire plugins during setup.
type Logger struct {
	level atomic.Int32

	sanitizer *sanitize.Sanitizer
	bus       *bus.Bus
	diag      *diag.Channel
	metrics   *metrics.Set
	guard     *ConsoleGuard

	// Registry state. Plugins are owned by the registry for their
	// registered lifetime; shutdown walks them in reverse order.
	mu         sync.Mutex
	plugins    []plugin.Plugin
	byName     map[string]struct{}
	pluginSubs map[string][]*bus.Subscription

	isShutDown atomic.Bool

	// construction-time settings
	sanitizeCfg      sanitize.Config
	interceptConsole bool
	initialPlugins   []plugin.Plugin
	diagOverride     *diag.Channel
}

// New constructs an engine. Configuration errors and plugin Init errors are
// fatal: a logger that silently starts half-wired is worse than one that
// refuses to start.
func New(opts ...Option) (*Logger, error) {
	l := &Logger{
		byName:     make(map[string]struct{}),
		pluginSubs: make(map[string][]*bus.Subscription),
		sanitizeCfg: sanitize.Config{
			RedactKeys: DefaultRedactKeys(),
		},
	}
	l.level.Store(int32(record.LevelInfo))

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	l.sanitizer = sanitize.New(l.sanitizeCfg)
	l.metrics = metrics.NewSet()
	if l.diagOverride != nil {
		l.diag = l.diagOverride
	} else {
		l.diag = diag.FromEnv()
	}
	l.bus = bus.New(l.diag, l.metrics)
	l.guard = newConsoleGuard(l)

	for _, p := range l.initialPlugins {
		if err := l.Use(p); err != nil {
			return nil, err
		}
	}
	l.initialPlugins = nil

	if l.interceptConsole {
		l.guard.Install()
	}
	return l, nil
}

// MustNew constructs an engine or panics on error.
func MustNew(opts ...Option) *Logger {
	l, err := New(opts...)
	if err != nil {
		panic("logfan initialization failed: " + err.Error())
	}
	return l
}

// DefaultRedactKeys returns the key names redacted when no sanitization
// config is supplied.
func DefaultRedactKeys() []string {
	return []string{"password", "token", "secret", "api_key", "authorization"}
}

// Use registers a plugin and calls its Init synchronously. A duplicate name
// or an Init error leaves the engine exactly as it was and returns the
// error; New treats that as fatal during construction.
func (l *Logger) Use(p plugin.Plugin) error {
	if p == nil {
		return ErrNilPlugin
	}
	if l.isShutDown.Load() {
		return ErrShutdown
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	name := p.Name()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPlugin)
	}
	if _, dup := l.byName[name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicatePlugin, name)
	}

	core := &pluginCore{logger: l, name: name}
	if err := core.init(p); err != nil {
		// Roll the plugin's subscriptions back so a failed Init leaves no
		// half-wired handlers behind.
		for _, sub := range l.pluginSubs[name] {
			l.bus.Off(sub)
		}
		delete(l.pluginSubs, name)
		return fmt.Errorf("plugin %q init: %w", name, err)
	}

	l.byName[name] = struct{}{}
	l.plugins = append(l.plugins, p)
	return nil
}

// Shutdown stops the engine: console interception is removed, plugins are
// shut down in reverse registration order (each awaited, each isolated so
// one failure never prevents the next from being awaited), then the bus and
// diagnostic channel are released. Level method calls after Shutdown are
// silently dropped.
func (l *Logger) Shutdown(ctx context.Context) error {
	if !l.isShutDown.CompareAndSwap(false, true) {
		return nil
	}

	l.guard.Uninstall()

	l.mu.Lock()
	plugins := l.plugins
	l.plugins = nil
	l.mu.Unlock()

	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		sd, ok := p.(plugin.Shutdowner)
		if !ok {
			continue
		}
		if err := shutdownIsolated(ctx, sd); err != nil {
			errs = append(errs, fmt.Errorf("plugin %q shutdown: %w", p.Name(), err))
		}
	}

	l.bus.Reset()
	if err := l.diag.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// shutdownIsolated converts a panicking Shutdown into an error so the
// remaining plugins still get their turn.
func shutdownIsolated(ctx context.Context, sd plugin.Shutdowner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sd.Shutdown(ctx)
}

// RunInContext installs overlay as the ambient context for the duration of
// fn: every record produced with the context passed to fn carries the
// merged overlay, and the caller's view is restored when fn returns. See
// package logctx for the propagation contract.
func (l *Logger) RunInContext(ctx context.Context, overlay map[string]any, fn func(context.Context) error) error {
	return logctx.Run(ctx, overlay, fn)
}

// Level returns the current minimum level.
func (l *Logger) Level() record.Level {
	return record.Level(l.level.Load())
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level record.Level) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, int(level))
	}
	l.level.Store(int32(level))
	return nil
}

// Guard returns the console interception guard. Install is driven by the
// WithConsoleInterception option or by the host calling Install directly.
func (l *Logger) Guard() *ConsoleGuard {
	return l.guard
}

// Diag returns the engine's diagnostic channel.
func (l *Logger) Diag() *diag.Channel {
	return l.diag
}

// Metrics returns the engine's counter set, including the per-component
// dropped-records counters.
func (l *Logger) Metrics() *metrics.Set {
	return l.metrics
}

// Bus exposes the dispatch bus for hosts that subscribe ad hoc handlers
// outside the plugin contract (tests, one-off taps).
func (l *Logger) Bus() *bus.Bus {
	return l.bus
}

// Level methods. Each is non-blocking (Emit returns once handlers have
// been invoked) and never panics or returns an error to the caller:
// application code calling a level method must never be made to handle a
// logging-pipeline failure.

// Debug logs at debug level with slog-style alternating key/value args.
func (l *Logger) Debug(msg string, args ...any) { l.log(context.Background(), record.LevelDebug, msg, args) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.log(context.Background(), record.LevelInfo, msg, args) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.log(context.Background(), record.LevelWarn, msg, args) }

// Error logs at error level. A bare error argument, or an error value under
// the "error" key, is normalized into the record's error field.
func (l *Logger) Error(msg string, args ...any) { l.log(context.Background(), record.LevelError, msg, args) }

// Fatal logs at fatal level. Being a library, the engine does not exit the
// process; that decision belongs to the host.
func (l *Logger) Fatal(msg string, args ...any) { l.log(context.Background(), record.LevelFatal, msg, args) }

// DebugContext logs at debug level, capturing ambient metadata from ctx.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, record.LevelDebug, msg, args)
}

// InfoContext logs at info level, capturing ambient metadata from ctx.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, record.LevelInfo, msg, args)
}

// WarnContext logs at warn level, capturing ambient metadata from ctx.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, record.LevelWarn, msg, args)
}

// ErrorContext logs at error level, capturing ambient metadata from ctx.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, record.LevelError, msg, args)
}

// FatalContext logs at fatal level, capturing ambient metadata from ctx.
func (l *Logger) FatalContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, record.LevelFatal, msg, args)
}

// log parses args and runs the publish pipeline. Any internal failure is
// degraded to a diagnostic report rather than escaping to the caller.
func (l *Logger) log(ctx context.Context, level record.Level, msg string, args []any) {
	defer func() {
		if r := recover(); r != nil {
			l.diag.Error("logger", "level method panic suppressed", map[string]any{
				"panic": fmt.Sprint(r),
			})
		}
	}()

	if l.isShutDown.Load() {
		return
	}
	if level < l.Level() {
		return
	}

	meta, errInfo := buildMeta(args)
	l.publish(ctx, level, msg, meta, errInfo)
}

// publish is the internal, console-independent publish path: it is shared
// by the level methods and the console guard, and never touches the global
// print bindings the guard may have replaced.
func (l *Logger) publish(ctx context.Context, level record.Level, msg string, meta map[string]any, errInfo *record.ErrInfo) {
	if l.isShutDown.Load() || level < l.Level() {
		return
	}

	rec := record.New(level, msg)

	// Error normalization already happened; sanitization runs over the
	// normalized form too, so redaction rules naming the error fields
	// ("message", "stack") apply to them as well.
	if errInfo != nil {
		rec.Err = sanitizeErrInfo(l.sanitizer, errInfo)
	}
	if len(meta) > 0 {
		rec.Meta, _ = l.sanitizer.Sanitize(meta).(map[string]any)
	}
	if cv := logctx.From(ctx); len(cv) > 0 {
		rec.Context, _ = l.sanitizer.Sanitize(cv).(map[string]any)
	}

	l.metrics.RecordsTotal.WithLabelValues(level.String()).Inc()
	l.bus.Emit(bus.Ingest, rec)
}

// sanitizeErrInfo runs the sanitizer over the normalized error triple so
// pattern rules apply to its fields as well.
func sanitizeErrInfo(s *sanitize.Sanitizer, info *record.ErrInfo) *record.ErrInfo {
	m, ok := s.Sanitize(map[string]any{
		"name":    info.Name,
		"message": info.Message,
		"stack":   info.Stack,
	}).(map[string]any)
	if !ok {
		return info
	}
	out := &record.ErrInfo{}
	out.Name, _ = m["name"].(string)
	out.Message, _ = m["message"].(string)
	out.Stack, _ = m["stack"].(string)
	return out
}

// buildMeta converts slog-style variadic args into a meta map plus an
// optional normalized error:
//
//   - "key", value pairs populate meta
//   - a bare error becomes the record's error (first one wins)
//   - an error under the "error" key likewise
//   - a bare map merges shallowly into meta
//   - anything else dangling lands under its positional index
func buildMeta(args []any) (map[string]any, *record.ErrInfo) {
	if len(args) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(args)/2+1)
	var errInfo *record.ErrInfo

	for i := 0; i < len(args); {
		switch arg := args[i].(type) {
		case string:
			if i+1 >= len(args) {
				meta[strconv.Itoa(i)] = arg
				i++
				continue
			}
			val := args[i+1]
			if err, ok := val.(error); ok && err != nil {
				if arg == "error" && errInfo == nil {
					errInfo = record.NormalizeError(err)
				} else {
					meta[arg] = err.Error()
				}
			} else {
				meta[arg] = val
			}
			i += 2
		case error:
			if arg != nil && errInfo == nil {
				errInfo = record.NormalizeError(arg)
			} else if arg != nil {
				meta[strconv.Itoa(i)] = arg.Error()
			}
			i++
		case map[string]any:
			for k, v := range arg {
				meta[k] = v
			}
			i++
		default:
			meta[strconv.Itoa(i)] = arg
			i++
		}
	}
	if len(meta) == 0 {
		meta = nil
	}
	return meta, errInfo
}

// pluginCore is the per-plugin view of the engine. Subscriptions made
// through it carry the plugin's name for failure attribution and are
// tracked so a failed Init can be rolled back. On and Once touch
// l.pluginSubs without locking; they run inside Use's critical section
// only (the Init-only contract on plugin.Core).
type pluginCore struct {
	logger *Logger
	name   string
}

func (c *pluginCore) init(p plugin.Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Init(c)
}

func (c *pluginCore) On(event string, h bus.Handler) *bus.Subscription {
	sub := c.logger.bus.On(c.name, event, h)
	c.logger.pluginSubs[c.name] = append(c.logger.pluginSubs[c.name], sub)
	return sub
}

func (c *pluginCore) Once(event string, h bus.Handler) *bus.Subscription {
	sub := c.logger.bus.Once(c.name, event, h)
	c.logger.pluginSubs[c.name] = append(c.logger.pluginSubs[c.name], sub)
	return sub
}

func (c *pluginCore) Off(sub *bus.Subscription) {
	c.logger.bus.Off(sub)
}

func (c *pluginCore) Emit(event string, rec *record.Record) {
	c.logger.bus.Emit(event, rec)
}

func (c *pluginCore) Diag() *diag.Channel { return c.logger.diag }

func (c *pluginCore) Metrics() *metrics.Set { return c.logger.metrics }

func (c *pluginCore) Debug(msg string, args ...any) { c.logger.Debug(msg, args...) }
func (c *pluginCore) Info(msg string, args ...any)  { c.logger.Info(msg, args...) }
func (c *pluginCore) Warn(msg string, args ...any)  { c.logger.Warn(msg, args...) }
func (c *pluginCore) Error(msg string, args ...any) { c.logger.Error(msg, args...) }
