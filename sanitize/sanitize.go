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

// Package sanitize redacts sensitive values from arbitrarily nested metadata.
//
// Sanitization is a pure transformation: the input is never mutated, and the
// same input always yields the same output. Keys are matched against a fixed
// rule set (exact case-insensitive names and regular expression patterns);
// matching values are replaced by a mask string of the same display length.
// Masked length intentionally reveals original length as a debugging
// tradeoff.
package sanitize

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// DefaultMask is the mask rune used when none is configured.
const DefaultMask = '*'

// Circular is the sentinel placed where an ancestor cycle was detected.
// It replaces the repeated object so traversal terminates on cyclic graphs.
var Circular = map[string]any{"[Circular]": true}

// Config declares what the sanitizer redacts. It is immutable once compiled
// into a Sanitizer.
type Config struct {
	// RedactKeys are key names matched by exact case-insensitive equality.
	RedactKeys []string

	// RedactPatterns are tested against the raw key text.
	RedactPatterns []*regexp.Regexp

	// MaskRune is the character repeated to mask a redacted value.
	// Zero means DefaultMask.
	MaskRune rune
}

// Sanitizer applies a compiled redaction config to values.
type Sanitizer struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
	mask     rune
}

// New compiles a Config into a Sanitizer.
func New(cfg Config) *Sanitizer {
	s := &Sanitizer{
		exact:    make(map[string]struct{}, len(cfg.RedactKeys)),
		patterns: cfg.RedactPatterns,
		mask:     cfg.MaskRune,
	}
	if s.mask == 0 {
		s.mask = DefaultMask
	}
	for _, k := range cfg.RedactKeys {
		s.exact[strings.ToLower(k)] = struct{}{}
	}
	return s
}

// Sanitize returns a redacted copy of v. Non-map, non-slice input is
// returned unchanged. The visiting set used for cycle detection is scoped to
// this call: siblings that share a value are each fully sanitized, only a
// value that is its own ancestor is short-circuited.
func (s *Sanitizer) Sanitize(v any) any {
	return s.walk(v, make(map[uintptr]struct{}))
}

// Matches reports whether the key triggers redaction.
func (s *Sanitizer) Matches(key string) bool {
	if _, ok := s.exact[strings.ToLower(key)]; ok {
		return true
	}
	for _, p := range s.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

// Mask renders the mask string for a value: one mask rune per character of
// the value's display form.
func (s *Sanitizer) Mask(v any) string {
	return strings.Repeat(string(s.mask), len([]rune(fmt.Sprint(v))))
}

func (s *Sanitizer) walk(v any, visiting map[uintptr]struct{}) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		id := reflect.ValueOf(val).Pointer()
		if _, on := visiting[id]; on {
			return Circular
		}
		visiting[id] = struct{}{}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = s.sanitizeEntry(k, elem, visiting)
		}
		delete(visiting, id)
		return out
	case []any:
		id := reflect.ValueOf(val).Pointer()
		if _, on := visiting[id]; on {
			return Circular
		}
		visiting[id] = struct{}{}
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = s.walk(elem, visiting)
		}
		delete(visiting, id)
		return out
	}

	// Values of other composite types (typed maps with string keys, typed
	// slices) are converted to the generic forms and walked; everything else
	// passes through unchanged.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		id := rv.Pointer()
		if _, on := visiting[id]; on {
			return Circular
		}
		visiting[id] = struct{}{}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			out[k] = s.sanitizeEntry(k, iter.Value().Interface(), visiting)
		}
		delete(visiting, id)
		return out
	case reflect.Slice:
		id := rv.Pointer()
		if _, on := visiting[id]; on {
			return Circular
		}
		visiting[id] = struct{}{}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			out[i] = s.walk(rv.Index(i).Interface(), visiting)
		}
		delete(visiting, id)
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return v
		}
		id := rv.Pointer()
		if _, on := visiting[id]; on {
			return Circular
		}
		visiting[id] = struct{}{}
		out := s.walk(rv.Elem().Interface(), visiting)
		delete(visiting, id)
		return out
	}
	return v
}

// sanitizeEntry applies the per-key redaction rule: matched keys are masked
// (nil passes through, absence of a value is not sensitive), composite
// values recurse, scalars pass through.
func (s *Sanitizer) sanitizeEntry(key string, v any, visiting map[uintptr]struct{}) any {
	if v == nil {
		return nil
	}
	if s.Matches(key) {
		return s.Mask(v)
	}
	return s.walk(v, visiting)
}
