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

package console

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logfan.dev/logfan"
	"logfan.dev/logfan/record"
)

func newEngine(t *testing.T, opts ...Option) (*logfan.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts = append([]Option{WithWriter(&buf), WithColor(false)}, opts...)
	logger := logfan.MustNew(
		logfan.WithDebugLevel(),
		logfan.WithPlugins(New(opts...)),
	)
	t.Cleanup(func() { logger.Shutdown(context.Background()) }) //nolint:errcheck
	return logger, &buf
}

func TestTransport_HumanLine(t *testing.T) {
	t.Parallel()

	logger, buf := newEngine(t)
	logger.Warn("cache slow", "latency_ms", 120)

	out := buf.String()
	assert.Contains(t, out, "WARN ")
	assert.Contains(t, out, "cache slow")
	assert.Contains(t, out, "latency_ms=120")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestTransport_PairsAreSorted(t *testing.T) {
	t.Parallel()

	logger, buf := newEngine(t)
	logger.Info("m", "zebra", 1, "apple", 2)

	out := buf.String()
	assert.Less(t, strings.Index(out, "apple="), strings.Index(out, "zebra="))
}

func TestTransport_ErrorRendering(t *testing.T) {
	t.Parallel()

	logger, buf := newEngine(t)
	logger.Error("save failed", "error", errFixed{})

	out := buf.String()
	assert.Contains(t, out, "errFixed: boom")
	assert.Contains(t, out, "    frame0", "stack lines are indented")
}

type errFixed struct{}

func (errFixed) Error() string { return "boom" }
func (errFixed) Stack() string { return "frame0\nframe1" }

func TestTransport_JSONMode(t *testing.T) {
	t.Parallel()

	logger, buf := newEngine(t, WithJSON())
	logger.Info("structured", "k", "v")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "structured", got["message"])
	assert.Equal(t, "info", got["level"])
	assert.Equal(t, "v", got["meta"].(map[string]any)["k"])
}

func TestTransport_AnalyzedEventMarked(t *testing.T) {
	t.Parallel()

	logger, buf := newEngine(t)
	rec := record.New(record.LevelError, "analyzed clone")
	rec.Extra = map[string]any{"analysis": "likely oom"}
	logger.Bus().Emit(Analyzed, rec)

	out := buf.String()
	assert.Contains(t, out, "(analyzed)")
	assert.Contains(t, out, "analysis=likely oom")
}

func TestTransport_DefaultEventSet(t *testing.T) {
	t.Parallel()

	tr := New()
	assert.Equal(t, "console", tr.Name())
	assert.Equal(t, []string{"log:ingest", Analyzed}, tr.events)
}
