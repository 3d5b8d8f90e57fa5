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

package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DirProvider stores archives as files in a local directory.
type DirProvider struct {
	Dir string
}

// NewDirProvider creates a provider writing into dir, creating it if
// needed.
func NewDirProvider(dir string) (*DirProvider, error) {
	if dir == "" {
		return nil, errors.New("archive service: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive service: %w", err)
	}
	return &DirProvider{Dir: dir}, nil
}

// Store implements [Provider]. The write goes through a temporary file and
// a rename so a crash mid-write never leaves a truncated archive behind.
func (p *DirProvider) Store(_ context.Context, name string, data []byte) error {
	final := filepath.Join(p.Dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

var _ Provider = (*DirProvider)(nil)
