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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/record"
	"logfan.dev/logfan/sanitize"
)

func TestLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	logger, capture := NewTestLogger()
	defer logger.Shutdown(context.Background())

	require.NoError(t, logger.SetLevel(record.LevelWarn))

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")
	logger.Fatal("f")

	recs := capture.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, record.LevelWarn, recs[0].Level)
	assert.Equal(t, record.LevelError, recs[1].Level)
	assert.Equal(t, record.LevelFatal, recs[2].Level)
}

func TestLogger_SetLevelRejectsInvalid(t *testing.T) {
	t.Parallel()

	logger, _ := NewTestLogger()
	defer logger.Shutdown(context.Background())

	err := logger.SetLevel(record.Level(99))
	require.ErrorIs(t, err, ErrInvalidLevel)
	assert.Equal(t, record.LevelDebug, logger.Level(), "failed change must not alter the threshold")
}

func TestLogger_MetaPairs(t *testing.T) {
	t.Parallel()

	logger, capture := NewTestLogger()
	defer logger.Shutdown(context.Background())

	logger.Info("order placed", "order_id", 42, "customer", "acme")

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "order placed", recs[0].Message)
	assert.Equal(t, 42, recs[0].Meta["order_id"])
	assert.Equal(t, "acme", recs[0].Meta["customer"])
}

func TestLogger_BareMapMergesIntoMeta(t *testing.T) {
	t.Parallel()

	logger, capture := NewTestLogger()
	defer logger.Shutdown(context.Background())

	logger.Info("m", map[string]any{"a": 1, "b": 2}, "c", 3)

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Meta["a"])
	assert.Equal(t, 2, recs[0].Meta["b"])
	assert.Equal(t, 3, recs[0].Meta["c"])
}

func TestLogger_DanglingArgsGetPositionalKeys(t *testing.T) {
	t.Parallel()

	logger, capture := NewTestLogger()
	defer logger.Shutdown(context.Background())

	logger.Info("m", "lonely")

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "lonely", recs[0].Meta["0"])
}

func TestLogger_ErrorNormalization(t *testing.T) {
	t.Parallel()

	t.Run("bare error argument", func(t *testing.T) {
		t.Parallel()
		logger, capture := NewTestLogger()
		defer logger.Shutdown(context.Background())

		logger.Error("save failed", errors.New("disk full"))

		recs := capture.Records()
		require.Len(t, recs, 1)
		require.NotNil(t, recs[0].Err)
		assert.Equal(t, "error", recs[0].Err.Name)
		assert.Equal(t, "disk full", recs[0].Err.Message)
		assert.NotEmpty(t, recs[0].Err.Stack)
	})

	t.Run("error under the error key", func(t *testing.T) {
		t.Parallel()
		logger, capture := NewTestLogger()
		defer logger.Shutdown(context.Background())

		logger.Error("save failed", "error", errors.New("disk full"), "attempt", 3)

		recs := capture.Records()
		require.Len(t, recs, 1)
		require.NotNil(t, recs[0].Err)
		assert.Equal(t, "disk full", recs[0].Err.Message)
		assert.Equal(t, 3, recs[0].Meta["attempt"])
		assert.NotContains(t, recs[0].Meta, "error")
	})

	t.Run("first error wins", func(t *testing.T) {
		t.Parallel()
		logger, capture := NewTestLogger()
		defer logger.Shutdown(context.Background())

		logger.Error("m", errors.New("first"), errors.New("second"))

		recs := capture.Records()
		require.Len(t, recs, 1)
		assert.Equal(t, "first", recs[0].Err.Message)
		assert.Equal(t, "second", recs[0].Meta["1"], "later errors fall back to positional meta")
	})

	t.Run("non-error value under error key stays meta", func(t *testing.T) {
		t.Parallel()
		logger, capture := NewTestLogger()
		defer logger.Shutdown(context.Background())

		logger.Error("m", "error", "just a string")

		recs := capture.Records()
		require.Len(t, recs, 1)
		assert.Nil(t, recs[0].Err)
		assert.Equal(t, "just a string", recs[0].Meta["error"])
	})
}

func TestLogger_SanitizationAppliesToMetaAndContext(t *testing.T) {
	t.Parallel()

	capture := NewCaptureTransport()
	logger := MustNew(
		WithDebugLevel(),
		WithPlugins(capture),
	)
	defer logger.Shutdown(context.Background())

	require.NoError(t, logger.RunInContext(context.Background(),
		map[string]any{"token": "tok-12345", "request_id": "r1"},
		func(ctx context.Context) error {
			logger.InfoContext(ctx, "login", "password", "hunter22", "user", "ana")
			return nil
		}))

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, strings.Repeat(string(sanitize.DefaultMask), len("hunter22")), recs[0].Meta["password"])
	assert.Equal(t, "ana", recs[0].Meta["user"])
	assert.Equal(t, strings.Repeat(string(sanitize.DefaultMask), len("tok-12345")), recs[0].Context["token"])
	assert.Equal(t, "r1", recs[0].Context["request_id"])
}

func TestLogger_SanitizationCoversNormalizedError(t *testing.T) {
	t.Parallel()

	capture := NewCaptureTransport()
	logger := MustNew(
		WithDebugLevel(),
		WithRedactKeys("stack"),
		WithPlugins(capture),
	)
	defer logger.Shutdown(context.Background())

	logger.Error("auth failed", errors.New("token rejected"))

	recs := capture.Records()
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].Err)
	assert.Equal(t, "token rejected", recs[0].Err.Message)
	assert.NotContains(t, recs[0].Err.Stack, ".go",
		"a redact rule naming the stack field must mask the captured stack")
}

func TestLogger_ContextValuesAbsentOutsideRun(t *testing.T) {
	t.Parallel()

	logger, capture := NewTestLogger()
	defer logger.Shutdown(context.Background())

	logger.InfoContext(context.Background(), "plain")

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Context)
}

// panicPlugin subscribes a handler that always panics.
type panicPlugin struct{}

func (panicPlugin) Name() string      { return "hostile" }
func (panicPlugin) Kind() plugin.Kind { return plugin.KindTransport }
func (panicPlugin) Init(core plugin.Core) error {
	core.On(bus.Ingest, func(*record.Record) { panic("kaboom") })
	return nil
}

func TestLogger_PluginPanicIsolated(t *testing.T) {
	t.Parallel()

	var diagBuf bytes.Buffer
	capture := NewCaptureTransport()
	logger := MustNew(
		WithDebugLevel(),
		WithDiagChannel(diag.NewWriter(&diagBuf)),
		WithPlugins(panicPlugin{}, capture),
	)
	defer logger.Shutdown(context.Background())

	require.NotPanics(t, func() { logger.Info("still flowing") })

	require.Equal(t, 1, capture.Len(), "healthy plugin must receive the record despite the panic")
	assert.Contains(t, diagBuf.String(), "hostile")
	assert.Contains(t, diagBuf.String(), "kaboom")
}

type initFailPlugin struct{ subscribeFirst bool }

func (initFailPlugin) Name() string      { return "failing" }
func (initFailPlugin) Kind() plugin.Kind { return plugin.KindService }
func (p initFailPlugin) Init(core plugin.Core) error {
	if p.subscribeFirst {
		core.On(bus.Ingest, func(*record.Record) {})
	}
	return errors.New("no backend available")
}

func TestLogger_UseInitFailureRollsBack(t *testing.T) {
	t.Parallel()

	logger, _ := NewTestLogger()
	defer logger.Shutdown(context.Background())

	before := logger.Bus().SubscriberCount(bus.Ingest)
	err := logger.Use(initFailPlugin{subscribeFirst: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `plugin "failing" init`)
	assert.Equal(t, before, logger.Bus().SubscriberCount(bus.Ingest),
		"a failed init must leave no handlers behind")

	// The name is free again after the failure.
	require.Error(t, logger.Use(initFailPlugin{}))
	assert.NotErrorIs(t, logger.Use(initFailPlugin{}), ErrDuplicatePlugin)
}

func TestLogger_UseRejectsBadPlugins(t *testing.T) {
	t.Parallel()

	logger, _ := NewTestLogger()
	defer logger.Shutdown(context.Background())

	require.ErrorIs(t, logger.Use(nil), ErrNilPlugin)

	err := logger.Use(NewCaptureTransport())
	require.ErrorIs(t, err, ErrDuplicatePlugin, "test logger already holds a capture plugin")
}

func TestNew_InitFailureAbortsConstruction(t *testing.T) {
	t.Parallel()

	_, err := New(WithPlugins(initFailPlugin{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backend available")
}

func TestNew_InvalidOptionAborts(t *testing.T) {
	t.Parallel()

	_, err := New(WithRedactPatterns(`[unclosed`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	_, err = New(WithLevel(record.Level(-3)))
	require.ErrorIs(t, err, ErrInvalidLevel)
}

type trackingShutdownPlugin struct {
	name  string
	order *[]string
	fail  bool
}

func (p *trackingShutdownPlugin) Name() string           { return p.name }
func (p *trackingShutdownPlugin) Kind() plugin.Kind      { return plugin.KindService }
func (p *trackingShutdownPlugin) Init(plugin.Core) error { return nil }
func (p *trackingShutdownPlugin) Shutdown(context.Context) error {
	*p.order = append(*p.order, p.name)
	if p.fail {
		return errors.New(p.name + " refused")
	}
	return nil
}

func TestLogger_ShutdownReverseOrderAndIsolation(t *testing.T) {
	t.Parallel()

	var order []string
	logger := MustNew(WithPlugins(
		&trackingShutdownPlugin{name: "first", order: &order},
		&trackingShutdownPlugin{name: "second", order: &order, fail: true},
		&trackingShutdownPlugin{name: "third", order: &order},
	))

	err := logger.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second refused")
	assert.Equal(t, []string{"third", "second", "first"}, order,
		"shutdown walks plugins in reverse registration order, past failures")
}

func TestLogger_ShutdownIdempotentAndDropsLateRecords(t *testing.T) {
	t.Parallel()

	logger, capture := NewTestLogger()
	require.NoError(t, logger.Shutdown(context.Background()))
	require.NoError(t, logger.Shutdown(context.Background()))

	logger.Info("after the lights went out")
	assert.Zero(t, capture.Len())

	require.ErrorIs(t, logger.Use(NewCaptureTransport()), ErrShutdown)
}

func TestLogger_EmitNeverPanicsOnCallerMistakes(t *testing.T) {
	t.Parallel()

	logger, capture := NewTestLogger()
	defer logger.Shutdown(context.Background())

	require.NotPanics(t, func() {
		logger.Info("weird args", 3.14, nil, struct{ X int }{1})
	})
	assert.Equal(t, 1, capture.Len())
}

func TestLogger_CustomMaskRune(t *testing.T) {
	t.Parallel()

	capture := NewCaptureTransport()
	logger := MustNew(
		WithDebugLevel(),
		WithMaskRune('#'),
		WithPlugins(capture),
	)
	defer logger.Shutdown(context.Background())

	logger.Info("m", "secret", "abc")

	recs := capture.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "###", recs[0].Meta["secret"])
}
