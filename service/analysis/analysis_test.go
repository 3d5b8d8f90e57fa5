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

package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logfan.dev/logfan"
	"logfan.dev/logfan/record"
)

type fakeAnalyzer struct {
	calls  atomic.Int64
	result string
	err    error
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ *record.Record) (string, error) {
	a.calls.Add(1)
	return a.result, a.err
}

func newEngine(t *testing.T, analyzer Analyzer, opts ...Option) (*logfan.Logger, *logfan.CaptureTransport) {
	t.Helper()
	svc, err := New(analyzer, opts...)
	require.NoError(t, err)
	capture := logfan.NewCaptureTransport(Analyzed)
	logger := logfan.MustNew(
		logfan.WithDebugLevel(),
		logfan.WithPlugins(svc, capture),
	)
	t.Cleanup(func() { logger.Shutdown(context.Background()) }) //nolint:errcheck
	return logger, capture
}

func TestService_RepublishesAugmentedClone(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{result: "likely oom"}
	logger, capture := newEngine(t, analyzer)

	ingested := logfan.NewNamedCaptureTransport("ingest-capture")
	require.NoError(t, logger.Use(ingested))

	logger.Error("worker crashed", "pid", 42)

	assert.Eventually(t, func() bool { return capture.Len() == 1 }, time.Second, 5*time.Millisecond)
	clone := capture.Records()[0]
	assert.Equal(t, "worker crashed", clone.Message)
	assert.Equal(t, "likely oom", clone.Extra["analysis"])
	assert.Equal(t, false, clone.Extra["analysis_cached"])

	// The ingest-stream record is untouched.
	require.Equal(t, 1, ingested.Len())
	assert.Nil(t, ingested.Records()[0].Extra)
}

func TestService_IgnoresBenignRecords(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{result: "n/a"}
	logger, capture := newEngine(t, analyzer)

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	require.NoError(t, logger.Shutdown(context.Background()))

	assert.Zero(t, capture.Len())
	assert.Zero(t, analyzer.calls.Load())
}

func TestService_CacheHitSkipsAnalyzer(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{result: "disk full"}
	logger, capture := newEngine(t, analyzer)

	logger.Error("same failure", errors.New("no space left on device"))
	logger.Error("same failure", errors.New("no space left on device"))

	assert.Eventually(t, func() bool { return capture.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), analyzer.calls.Load(), "identical signatures must hit the cache")
	assert.Equal(t, true, capture.Records()[1].Extra["analysis_cached"])
}

func TestService_AnalyzerFailureProducesNoClone(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{err: errors.New("model unavailable")}
	logger, capture := newEngine(t, analyzer)

	logger.Error("boom")
	require.NoError(t, logger.Shutdown(context.Background()))

	assert.Zero(t, capture.Len())
}

func TestSigCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := newSigCache(2)
	c.put("a", "1")
	c.put("b", "2")
	c.get("a")
	c.put("c", "3")

	_, ok := c.get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}

func TestSignature(t *testing.T) {
	t.Parallel()

	withErr := record.New(record.LevelError, "varying message")
	withErr.Err = &record.ErrInfo{Name: "error", Message: "no space left"}
	assert.Equal(t, "error: no space left", signature(withErr))

	plain := record.New(record.LevelFatal, "flat failure")
	assert.Equal(t, "fatal: flat failure", signature(plain))
}

func TestHTTPAnalyzer(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
			w.Write([]byte(`{"analysis":"cosmic rays"}`)) //nolint:errcheck
		}))
		defer srv.Close()

		a, err := NewHTTPAnalyzer(srv.URL, "key-1")
		require.NoError(t, err)
		got, err := a.Analyze(context.Background(), record.New(record.LevelError, "x"))
		require.NoError(t, err)
		assert.Equal(t, "cosmic rays", got)
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		a, err := NewHTTPAnalyzer(srv.URL, "")
		require.NoError(t, err)
		_, err = a.Analyze(context.Background(), record.New(record.LevelError, "x"))
		require.Error(t, err)
	})

	t.Run("empty endpoint rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewHTTPAnalyzer("", "")
		require.Error(t, err)
	})
}
