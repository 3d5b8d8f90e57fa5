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
	"errors"
	"log"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logfan.dev/logfan/record"
)

// The guard tests rebind the process-wide log and slog defaults, so they
// run sequentially (no t.Parallel) and restore everything they touch.

func newGuardedLogger(t *testing.T) (*Logger, *CaptureTransport) {
	t.Helper()
	logger, capture := NewTestLogger()
	logger.Guard().Install()
	t.Cleanup(func() {
		logger.Guard().Uninstall()
		logger.Shutdown(context.Background()) //nolint:errcheck
	})
	return logger, capture
}

func TestConsoleGuard_InstallUninstallRestoresExactState(t *testing.T) {
	origOut, origFlags, origPrefix := log.Writer(), log.Flags(), log.Prefix()
	prevSlog := slog.Default()
	defer func() {
		log.SetOutput(origOut)
		log.SetFlags(origFlags)
		log.SetPrefix(origPrefix)
		slog.SetDefault(prevSlog)
	}()

	var prevOut bytes.Buffer
	log.SetOutput(&prevOut)
	log.SetFlags(log.Lshortfile)
	log.SetPrefix("app: ")

	logger, _ := NewTestLogger()
	defer logger.Shutdown(context.Background())
	guard := logger.Guard()

	assert.False(t, guard.IsActive())
	guard.Install()
	assert.True(t, guard.IsActive())
	assert.Zero(t, log.Flags())
	assert.Empty(t, log.Prefix())
	assert.NotSame(t, prevSlog, slog.Default())

	// Second install while active changes nothing.
	guard.Install()
	assert.True(t, guard.IsActive())

	guard.Uninstall()
	assert.False(t, guard.IsActive())
	assert.Same(t, &prevOut, log.Writer().(*bytes.Buffer))
	assert.Equal(t, log.Lshortfile, log.Flags())
	assert.Equal(t, "app: ", log.Prefix())
	assert.Same(t, prevSlog, slog.Default())

	// Uninstall when inactive is a no-op.
	guard.Uninstall()
	assert.Equal(t, "app: ", log.Prefix())
}

func TestConsoleGuard_PlainLineBecomesInfoRecord(t *testing.T) {
	_, capture := newGuardedLogger(t)

	log.Print("legacy subsystem starting")

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, record.LevelInfo, recs[0].Level)
	assert.Equal(t, "legacy subsystem starting", recs[0].Message)
	assert.Nil(t, recs[0].Meta)
}

func TestConsoleGuard_JSONObjectLineIsLifted(t *testing.T) {
	_, capture := newGuardedLogger(t)

	log.Print(`{"level":"warn","msg":"cache slow","latency_ms":120,"error":{"name":"TimeoutError","message":"deadline exceeded"}}`)

	recs := capture.Records()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, record.LevelWarn, rec.Level)
	assert.Equal(t, "cache slow", rec.Message)
	assert.Equal(t, float64(120), rec.Meta["latency_ms"])
	require.NotNil(t, rec.Err)
	assert.Equal(t, "TimeoutError", rec.Err.Name)
	assert.Equal(t, "deadline exceeded", rec.Err.Message)
}

func TestConsoleGuard_JSONArrayLineGetsPositionalKeys(t *testing.T) {
	_, capture := newGuardedLogger(t)

	log.Print(`["alpha", 2, true]`)

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Message)
	assert.Equal(t, "alpha", recs[0].Meta["0"])
	assert.Equal(t, float64(2), recs[0].Meta["1"])
	assert.Equal(t, true, recs[0].Meta["2"])
}

func TestConsoleGuard_InterceptedLinesAreSanitized(t *testing.T) {
	_, capture := newGuardedLogger(t)

	log.Print(`{"msg":"login","password":"hunter22"}`)

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "********", recs[0].Meta["password"])
}

func TestLineAdapter_FallsBackToCapturedWriterOnPipelineFailure(t *testing.T) {
	var fallback bytes.Buffer
	// A guard with no engine behind it makes the publish path fail hard;
	// the adapter must hand the original bytes to the captured writer.
	g := newConsoleGuard(nil)
	g.prevWriter = &fallback
	adapter := &lineAdapter{guard: g}

	n, err := adapter.Write([]byte("must not be lost\n"))
	require.NoError(t, err)
	assert.Equal(t, len("must not be lost\n"), n)
	assert.Equal(t, "must not be lost\n", fallback.String())
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		plain   bool
		level   record.Level
		message string
	}{
		{name: "plain text", line: "hello there", plain: true, level: record.LevelInfo, message: "hello there"},
		{name: "bare number degrades to plain", line: "42", plain: true, level: record.LevelInfo, message: "42"},
		{name: "object with level", line: `{"level":"error","message":"bad"}`, level: record.LevelError, message: "bad"},
		{name: "object with unknown level keeps info", line: `{"level":"loud","message":"hm"}`, level: record.LevelInfo, message: "hm"},
		{name: "object without message", line: `{"k":"v"}`, level: record.LevelInfo, message: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseLine([]byte(tc.line))
			assert.Equal(t, tc.plain, got.plain)
			assert.Equal(t, tc.level, got.level)
			assert.Equal(t, tc.message, got.message)
		})
	}
}

func TestSlogAdapter_RoutesDefaultSlogIntoPipeline(t *testing.T) {
	logger, capture := newGuardedLogger(t)

	slog.Warn("pool exhausted", "size", 10)

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, record.LevelWarn, recs[0].Level)
	assert.Equal(t, "pool exhausted", recs[0].Message)
	assert.Equal(t, int64(10), recs[0].Meta["size"])

	// Threshold filtering applies before dispatch.
	capture.Reset()
	require.NoError(t, logger.SetLevel(record.LevelError))
	slog.Info("below threshold")
	assert.Zero(t, capture.Len())
}

func TestSlogAdapter_GroupsFlattenToDottedKeys(t *testing.T) {
	_, capture := newGuardedLogger(t)

	slog.With("request_id", "r1").WithGroup("db").Info("query done", "rows", 3)

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "r1", recs[0].Meta["request_id"])
	assert.Equal(t, int64(3), recs[0].Meta["db.rows"])
}

func TestSlogAdapter_ErrorAttrIsNormalized(t *testing.T) {
	_, capture := newGuardedLogger(t)

	slog.Error("write failed", "error", errors.New("disk full"))

	recs := capture.Records()
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Err)
	assert.Equal(t, "disk full", recs[0].Err.Message)
	assert.NotContains(t, recs[0].Meta, "error")
}
