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
	"fmt"
	"regexp"

	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/record"
	"logfan.dev/logfan/sanitize"
)

// Option is a functional option for configuring the engine. Options that
// receive invalid input return an error from New rather than deferring the
// failure to the first log call.
type Option func(*Logger) error

// WithLevel sets the minimum level. Records below it are built and
// discarded without dispatch.
func WithLevel(level record.Level) Option {
	return func(l *Logger) error {
		if !level.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidLevel, int(level))
		}
		l.level.Store(int32(level))
		return nil
	}
}

// WithDebugLevel enables debug logging.
func WithDebugLevel() Option {
	return WithLevel(record.LevelDebug)
}

// WithSanitization replaces the whole sanitization config. The config is
// immutable once the engine is constructed.
func WithSanitization(cfg sanitize.Config) Option {
	return func(l *Logger) error {
		l.sanitizeCfg = cfg
		return nil
	}
}

// WithRedactKeys appends exact-match (case-insensitive) redacted key names
// to the default set.
func WithRedactKeys(keys ...string) Option {
	return func(l *Logger) error {
		l.sanitizeCfg.RedactKeys = append(l.sanitizeCfg.RedactKeys, keys...)
		return nil
	}
}

// WithRedactPatterns appends regular expressions tested against raw key
// text.
func WithRedactPatterns(patterns ...string) Option {
	return func(l *Logger) error {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("redact pattern %q: %w", p, err)
			}
			l.sanitizeCfg.RedactPatterns = append(l.sanitizeCfg.RedactPatterns, re)
		}
		return nil
	}
}

// WithMaskRune sets the character repeated to mask redacted values.
func WithMaskRune(r rune) Option {
	return func(l *Logger) error {
		l.sanitizeCfg.MaskRune = r
		return nil
	}
}

// WithPlugins registers plugins during construction, in order. An Init
// failure aborts New.
func WithPlugins(plugins ...plugin.Plugin) Option {
	return func(l *Logger) error {
		l.initialPlugins = append(l.initialPlugins, plugins...)
		return nil
	}
}

// WithConsoleInterception installs the console guard as the last step of
// construction, rebinding the process-wide log and slog defaults into the
// pipeline. Shutdown restores them.
func WithConsoleInterception() Option {
	return func(l *Logger) error {
		l.interceptConsole = true
		return nil
	}
}

// WithDiagChannel overrides the environment-driven diagnostic channel.
// Useful for tests and for hosts that own their diagnostics destination.
func WithDiagChannel(c *diag.Channel) Option {
	return func(l *Logger) error {
		l.diagOverride = c
		return nil
	}
}
