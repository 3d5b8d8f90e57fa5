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

import "errors"

// Sentinel errors for [errors.Is] checks. Level methods never return these;
// they never return errors at all. The sentinels surface from construction,
// registration, and shutdown paths only.
var (
	// ErrShutdown indicates the engine has been shut down and no longer
	// accepts plugins. Records logged after shutdown are silently dropped,
	// which is not an error condition.
	ErrShutdown = errors.New("engine is shut down")

	// ErrInvalidLevel indicates a level outside debug..fatal.
	ErrInvalidLevel = errors.New("invalid log level")

	// ErrNilPlugin indicates Use was called with a nil plugin.
	ErrNilPlugin = errors.New("plugin is nil")

	// ErrInvalidPlugin indicates a plugin violating the contract, such as
	// an empty name.
	ErrInvalidPlugin = errors.New("invalid plugin")

	// ErrDuplicatePlugin indicates a plugin name already registered on
	// this engine.
	ErrDuplicatePlugin = errors.New("duplicate plugin name")
)
