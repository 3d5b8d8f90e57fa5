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

package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FillsProcessIdentity(t *testing.T) {
	t.Parallel()

	before := time.Now().UnixMilli()
	rec := New(LevelInfo, "hello")
	after := time.Now().UnixMilli()

	host, _ := os.Hostname()
	assert.Equal(t, host, rec.Hostname)
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.Equal(t, LevelInfo, rec.Level)
	assert.Equal(t, "hello", rec.Message)
	assert.GreaterOrEqual(t, rec.Timestamp, before)
	assert.LessOrEqual(t, rec.Timestamp, after)
	assert.Nil(t, rec.Extra, "fresh records never carry an extra slot")
}

func TestClone_IndependentTopLevelMaps(t *testing.T) {
	t.Parallel()

	rec := New(LevelError, "boom")
	rec.Meta = map[string]any{"k": "v"}
	rec.Context = map[string]any{"request_id": "r1"}
	rec.Err = &ErrInfo{Name: "error", Message: "boom"}

	c := rec.Clone()
	c.Meta["k2"] = "v2"
	c.Context["c2"] = "v2"
	c.Extra = map[string]any{"analysis": "ok"}
	c.Err.Message = "rewritten"

	assert.NotContains(t, rec.Meta, "k2")
	assert.NotContains(t, rec.Context, "c2")
	assert.Nil(t, rec.Extra)
	assert.Equal(t, "boom", rec.Err.Message)
	assert.Equal(t, "v", c.Meta["k"])
}

func TestRecord_JSONShape(t *testing.T) {
	t.Parallel()

	rec := New(LevelWarn, "disk almost full")
	rec.Meta = map[string]any{"free_mb": 12}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "warn", got["level"])
	assert.Equal(t, "disk almost full", got["message"])
	assert.Contains(t, got, "timestamp")
	assert.NotContains(t, got, "error", "empty error must be omitted")
	assert.NotContains(t, got, "extra", "empty extra must be omitted")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "debug", want: LevelDebug},
		{in: "INFO", want: LevelInfo},
		{in: " warn ", want: LevelWarn},
		{in: "warning", want: LevelWarn},
		{in: "error", want: LevelError},
		{in: "fatal", want: LevelFatal},
		{in: "verbose", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLevel(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLevel_Order(t *testing.T) {
	t.Parallel()

	assert.Less(t, LevelDebug, LevelInfo)
	assert.Less(t, LevelInfo, LevelWarn)
	assert.Less(t, LevelWarn, LevelError)
	assert.Less(t, LevelError, LevelFatal)
}

func TestLevel_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(LevelError)
	require.NoError(t, err)
	assert.Equal(t, `"error"`, string(data))

	var l Level
	require.NoError(t, json.Unmarshal([]byte(`"fatal"`), &l))
	assert.Equal(t, LevelFatal, l)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &l))
}

type inventoryError struct{ sku string }

func (e *inventoryError) Error() string { return "sku not found: " + e.sku }

type stackedError struct{}

func (stackedError) Error() string { return "stacked" }
func (stackedError) Stack() string { return "frame0\nframe1" }

func TestNormalizeError(t *testing.T) {
	t.Parallel()

	t.Run("nil error", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, NormalizeError(nil))
	})

	t.Run("stdlib error gets generic name and captured stack", func(t *testing.T) {
		t.Parallel()
		info := NormalizeError(errors.New("plain failure"))
		require.NotNil(t, info)
		assert.Equal(t, "error", info.Name)
		assert.Equal(t, "plain failure", info.Message)
		assert.Contains(t, info.Stack, "record_test.go", "stack should point at the normalization call site")
	})

	t.Run("wrapped error keeps the outermost message", func(t *testing.T) {
		t.Parallel()
		info := NormalizeError(fmt.Errorf("saving order: %w", errors.New("disk full")))
		assert.Equal(t, "error", info.Name)
		assert.Equal(t, "saving order: disk full", info.Message)
	})

	t.Run("custom error type names itself", func(t *testing.T) {
		t.Parallel()
		info := NormalizeError(&inventoryError{sku: "A-17"})
		assert.Equal(t, "inventoryError", info.Name)
		assert.Equal(t, "sku not found: A-17", info.Message)
	})

	t.Run("error carrying its own stack wins over capture", func(t *testing.T) {
		t.Parallel()
		info := NormalizeError(stackedError{})
		assert.Equal(t, "frame0\nframe1", info.Stack)
	})
}
