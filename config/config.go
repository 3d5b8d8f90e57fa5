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

// Package config loads an engine definition from a YAML or JSON document
// and builds a fully wired engine from it.
//
// Loading runs in fixed stages: decode the document, validate it against a
// JSON schema, merge defaults under it, apply environment overrides, then
// bind it to the typed File. Every stage failure carries its source and
// operation, so a bad config names the exact place it went wrong instead of
// failing at the first log call.
package config

import (
	"bytes"
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cast"
)

// Environment variables overriding the document.
const (
	EnvLevel = "LOGFAN_LEVEL"
	EnvDiag  = "LOGFAN_DIAG"
)

// File is the typed form of a config document.
type File struct {
	Level            string       `config:"level"`
	InterceptConsole bool         `config:"intercept_console"`
	Diagnostics      string       `config:"diagnostics"`
	Sanitization     Sanitization `config:"sanitization"`
	Transports       []PluginSpec `config:"transports"`
	Services         []PluginSpec `config:"services"`
}

// Sanitization mirrors the engine's redaction settings.
type Sanitization struct {
	RedactKeys     []string `config:"redact_keys"`
	RedactPatterns []string `config:"redact_patterns"`
	MaskCharacter  string   `config:"mask_character"`
}

// PluginSpec names a plugin and carries its plugin-specific settings.
type PluginSpec struct {
	Name    string         `config:"name"`
	Options map[string]any `config:",remain"`
}

func defaults() map[string]any {
	return map[string]any{
		"level": "info",
	}
}

// Load reads and parses a config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(path, "load", err)
	}
	f, err := Parse(data)
	if err != nil {
		if cerr, ok := err.(*Error); ok && cerr.Source == "document" {
			cerr.Source = path
		}
		return nil, err
	}
	return f, nil
}

// Parse decodes, validates, and binds a config document. YAML input covers
// JSON input too.
func Parse(data []byte) (*File, error) {
	values := map[string]any{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, NewError("document", "decode", err)
		}
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, NewError("json-schema", "compile", err)
	}
	if err := schema.Validate(normalize(values)); err != nil {
		return nil, NewError("json-schema", "validate", err)
	}

	if err := mergo.Map(&values, defaults()); err != nil {
		return nil, NewError("defaults", "merge", err)
	}
	applyEnvOverrides(values)

	f := &File{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		WeaklyTypedInput: true,
		Result:           f,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, NewError("binding", "bind", err)
	}
	if err := dec.Decode(values); err != nil {
		return nil, NewError("binding", "bind", err)
	}
	return f, nil
}

// applyEnvOverrides lets the environment win over the document for the
// settings operators flip most often.
func applyEnvOverrides(values map[string]any) {
	if v, err := cast.ToStringE(os.Getenv(EnvLevel)); err == nil && v != "" {
		values["level"] = v
	}
	if v, err := cast.ToStringE(os.Getenv(EnvDiag)); err == nil && v != "" {
		values["diagnostics"] = v
	}
}

// normalize converts YAML-decoded values into the JSON value shapes the
// schema validator expects.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalize(elem)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = normalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalize(elem)
		}
		return out
	case int:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
