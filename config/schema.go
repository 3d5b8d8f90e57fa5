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

package config

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaJSON is the structural contract a config document must satisfy
// before any decoding happens. Plugin entries only need a name here; their
// per-plugin fields are checked when the plugin is built.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "level": {
      "type": "string",
      "enum": ["debug", "info", "warn", "warning", "error", "fatal"]
    },
    "intercept_console": {"type": "boolean"},
    "diagnostics": {"type": "string"},
    "sanitization": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "redact_keys": {"type": "array", "items": {"type": "string"}},
        "redact_patterns": {"type": "array", "items": {"type": "string"}},
        "mask_character": {"type": "string", "minLength": 1, "maxLength": 1}
      }
    },
    "transports": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {"name": {"type": "string"}}
      }
    },
    "services": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {"name": {"type": "string"}}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("logfan.schema.json", doc); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("logfan.schema.json")
	})
	return schemaCompiled, schemaErr
}
