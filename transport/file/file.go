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

// Package file writes records to a JSON-lines file with size-based rotation.
//
// The bus handler never touches the filesystem: it enqueues into a bounded
// queue and returns immediately, rejecting when the queue is full so a slow
// or stuck disk can never stall the publishing goroutine. A single writer
// goroutine drains the queue, rotates the file when it exceeds the size
// limit, compresses rotated files, and prunes old backups.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/metrics"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/queue"
	"logfan.dev/logfan/record"
)

// Compression selects how rotated backups are compressed.
type Compression string

const (
	CompressNone Compression = "none"
	CompressGzip Compression = "gzip"
	CompressZstd Compression = "zstd"
)

const (
	defaultMaxSize    = 10 << 20 // 10 MiB
	defaultMaxBackups = 5
	backupTimeLayout  = "2006-01-02T15-04-05.000"
)

// ErrNoPath is returned when the transport is built without a target file.
var ErrNoPath = errors.New("file transport: path is required")

// Transport appends records to a rotating JSON-lines file.
type Transport struct {
	name        string
	path        string
	maxSize     int64
	maxBackups  int
	compression Compression
	queueCap    int

	q      *queue.Queue[*record.Record]
	notify chan struct{}
	done   chan struct{}
	closed chan struct{}

	f    *os.File
	size int64

	diag    *diag.Channel
	metrics *metrics.Set
}

// Option configures the file transport.
type Option func(*Transport)

// WithMaxSize sets the rotation threshold in bytes.
func WithMaxSize(n int64) Option {
	return func(t *Transport) { t.maxSize = n }
}

// WithMaxBackups sets how many rotated files are kept.
func WithMaxBackups(n int) Option {
	return func(t *Transport) { t.maxBackups = n }
}

// WithCompression selects backup compression.
func WithCompression(c Compression) Option {
	return func(t *Transport) { t.compression = c }
}

// WithQueueCapacity bounds the intake queue.
func WithQueueCapacity(n int) Option {
	return func(t *Transport) { t.queueCap = n }
}

// New creates a file transport writing to path.
func New(path string, opts ...Option) (*Transport, error) {
	if path == "" {
		return nil, ErrNoPath
	}
	t := &Transport{
		name:        "file",
		path:        path,
		maxSize:     defaultMaxSize,
		maxBackups:  defaultMaxBackups,
		compression: CompressNone,
		queueCap:    queue.DefaultCapacity,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	switch t.compression {
	case CompressNone, CompressGzip, CompressZstd:
	default:
		return nil, fmt.Errorf("file transport: unknown compression %q", t.compression)
	}
	t.q = queue.New[*record.Record](t.queueCap)
	return t, nil
}

// Name implements [plugin.Plugin].
func (t *Transport) Name() string { return t.name }

// Kind implements [plugin.Plugin].
func (t *Transport) Kind() plugin.Kind { return plugin.KindTransport }

// Init implements [plugin.Plugin]. It opens the target file and starts the
// writer goroutine; an unopenable file aborts engine startup.
func (t *Transport) Init(core plugin.Core) error {
	t.diag = core.Diag()
	t.metrics = core.Metrics()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("file transport: %w", err)
	}
	if err := t.open(); err != nil {
		return err
	}

	core.On(bus.Ingest, t.enqueue)
	go t.run()
	return nil
}

func (t *Transport) enqueue(rec *record.Record) {
	if !t.q.Enqueue(rec) {
		if t.metrics != nil {
			t.metrics.DroppedTotal.WithLabelValues(t.name).Inc()
		}
		return
	}
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *Transport) run() {
	defer close(t.closed)
	for {
		select {
		case <-t.notify:
			t.drain()
		case <-t.done:
			t.drain()
			return
		}
	}
}

func (t *Transport) drain() {
	for {
		rec, ok := t.q.Dequeue()
		if !ok {
			return
		}
		t.writeRecord(rec)
	}
}

func (t *Transport) writeRecord(rec *record.Record) {
	line, err := json.Marshal(rec)
	if err != nil {
		t.diag.Error(t.name, "encode failed", map[string]any{"error": err.Error()})
		return
	}
	line = append(line, '\n')

	if t.size+int64(len(line)) > t.maxSize && t.size > 0 {
		if err := t.rotate(); err != nil {
			t.diag.Error(t.name, "rotation failed", map[string]any{"error": err.Error()})
		}
	}

	n, err := t.f.Write(line)
	t.size += int64(n)
	if err != nil {
		t.diag.Error(t.name, "write failed", map[string]any{"error": err.Error()})
	}
}

func (t *Transport) open() error {
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("file transport: open %s: %w", t.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("file transport: stat %s: %w", t.path, err)
	}
	t.f = f
	t.size = info.Size()
	return nil
}

// rotate closes the live file, moves it aside under a timestamped name,
// compresses the backup, prunes old backups, and reopens a fresh file.
func (t *Transport) rotate() error {
	if err := t.f.Close(); err != nil {
		return err
	}
	backup := t.backupName(time.Now())
	if err := os.Rename(t.path, backup); err != nil {
		return err
	}
	if t.compression != CompressNone {
		if err := t.compress(backup); err != nil {
			t.diag.Warn(t.name, "backup compression failed, keeping uncompressed", map[string]any{
				"backup": backup,
				"error":  err.Error(),
			})
		}
	}
	t.prune()
	return t.open()
}

func (t *Transport) backupName(now time.Time) string {
	dir := filepath.Dir(t.path)
	base := filepath.Base(t.path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, now.Format(backupTimeLayout), ext))
}

func (t *Transport) compress(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	var (
		dstPath string
		encode  func(io.Writer) (io.WriteCloser, error)
	)
	switch t.compression {
	case CompressGzip:
		dstPath = path + ".gz"
		encode = func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil }
	case CompressZstd:
		dstPath = path + ".zst"
		encode = func(w io.Writer) (io.WriteCloser, error) { return zstd.NewWriter(w) }
	default:
		return nil
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	enc, err := encode(dst)
	if err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return err
	}
	return os.Remove(path)
}

// prune removes the oldest backups beyond the retention count. Backup names
// embed their rotation time, so lexical order is chronological order.
func (t *Transport) prune() {
	backups := t.listBackups()
	if len(backups) <= t.maxBackups {
		return
	}
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-t.maxBackups] {
		if err := os.Remove(old); err != nil {
			t.diag.Warn(t.name, "backup removal failed", map[string]any{
				"backup": old,
				"error":  err.Error(),
			})
		}
	}
}

func (t *Transport) listBackups() []string {
	dir := filepath.Dir(t.path)
	base := filepath.Base(t.path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	prefix := stem + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if name == base || e.IsDir() {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out
}

// Shutdown implements [plugin.Shutdowner]: the writer drains the queue,
// then the file is synced and closed.
func (t *Transport) Shutdown(ctx context.Context) error {
	close(t.done)
	select {
	case <-t.closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := t.f.Sync(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}

// Dropped reports how many records the intake queue rejected.
func (t *Transport) Dropped() uint64 { return t.q.Dropped() }

var (
	_ plugin.Plugin     = (*Transport)(nil)
	_ plugin.Shutdowner = (*Transport)(nil)
)
