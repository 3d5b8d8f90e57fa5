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

// Package archive periodically exports the record stream for long-term
// retention.
//
// Records accumulate in a bounded window between runs; on each scheduled
// run the window is drained, encoded (JSON lines or msgpack), optionally
// compressed, and handed to a storage Provider under a unique name. A full
// window rejects new records and counts the drops, so archival memory use
// is capped no matter how fast the stream runs.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/metrics"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/queue"
	"logfan.dev/logfan/record"
)

// Codec selects the archive encoding.
type Codec string

const (
	CodecJSONLines Codec = "jsonl"
	CodecMsgpack   Codec = "msgpack"
)

// Compression selects how archives are compressed.
type Compression string

const (
	CompressNone Compression = "none"
	CompressGzip Compression = "gzip"
	CompressZstd Compression = "zstd"
)

const (
	defaultInterval   = time.Hour
	defaultWindowSize = 50000
)

// ErrNoProvider is returned when the service is built without storage.
var ErrNoProvider = errors.New("archive service: provider is required")

// Provider stores a finished archive object.
type Provider interface {
	Store(ctx context.Context, name string, data []byte) error
}

// Service is the archival plugin.
type Service struct {
	name        string
	provider    Provider
	interval    time.Duration
	codec       Codec
	compression Compression
	windowSize  int

	window    *queue.Queue[*record.Record]
	scheduler *gocron.Scheduler

	diag    *diag.Channel
	metrics *metrics.Set
}

// Option configures the archive service.
type Option func(*Service)

// WithInterval sets how often the window is exported.
func WithInterval(d time.Duration) Option {
	return func(s *Service) { s.interval = d }
}

// WithCodec selects the archive encoding. Defaults to JSON lines.
func WithCodec(c Codec) Option {
	return func(s *Service) { s.codec = c }
}

// WithCompression selects archive compression. Defaults to gzip.
func WithCompression(c Compression) Option {
	return func(s *Service) { s.compression = c }
}

// WithWindowSize bounds how many records accumulate between runs.
func WithWindowSize(n int) Option {
	return func(s *Service) { s.windowSize = n }
}

// New creates an archive service storing through provider.
func New(provider Provider, opts ...Option) (*Service, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	s := &Service{
		name:        "archive",
		provider:    provider,
		interval:    defaultInterval,
		codec:       CodecJSONLines,
		compression: CompressGzip,
		windowSize:  defaultWindowSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	switch s.codec {
	case CodecJSONLines, CodecMsgpack:
	default:
		return nil, fmt.Errorf("archive service: unknown codec %q", s.codec)
	}
	switch s.compression {
	case CompressNone, CompressGzip, CompressZstd:
	default:
		return nil, fmt.Errorf("archive service: unknown compression %q", s.compression)
	}
	s.window = queue.New[*record.Record](s.windowSize)
	return s, nil
}

// Name implements [plugin.Plugin].
func (s *Service) Name() string { return s.name }

// Kind implements [plugin.Plugin].
func (s *Service) Kind() plugin.Kind { return plugin.KindService }

// Init implements [plugin.Plugin].
func (s *Service) Init(core plugin.Core) error {
	s.diag = core.Diag()
	s.metrics = core.Metrics()

	core.On(bus.Ingest, s.collect)

	s.scheduler = gocron.NewScheduler(time.UTC)
	if _, err := s.scheduler.Every(s.interval).Do(s.export); err != nil {
		return fmt.Errorf("archive service: schedule: %w", err)
	}
	s.scheduler.StartAsync()
	return nil
}

func (s *Service) collect(rec *record.Record) {
	if !s.window.Enqueue(rec) && s.metrics != nil {
		s.metrics.DroppedTotal.WithLabelValues(s.name).Inc()
	}
}

// export drains the window into one archive object. An empty window
// produces nothing.
func (s *Service) export() {
	var batch []*record.Record
	for {
		rec, ok := s.window.Dequeue()
		if !ok {
			break
		}
		batch = append(batch, rec)
	}
	if len(batch) == 0 {
		return
	}

	data, err := s.encode(batch)
	if err != nil {
		s.diag.Error(s.name, "encode failed", map[string]any{
			"records": len(batch),
			"error":   err.Error(),
		})
		return
	}

	name := s.objectName(time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.provider.Store(ctx, name, data); err != nil {
		s.diag.Error(s.name, "store failed", map[string]any{
			"archive": name,
			"records": len(batch),
			"error":   err.Error(),
		})
	}
}

func (s *Service) encode(batch []*record.Record) ([]byte, error) {
	var buf bytes.Buffer

	var sink io.Writer = &buf
	var finish func() error
	switch s.compression {
	case CompressGzip:
		gw := gzip.NewWriter(&buf)
		sink, finish = gw, gw.Close
	case CompressZstd:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		sink, finish = zw, zw.Close
	default:
		finish = func() error { return nil }
	}

	switch s.codec {
	case CodecMsgpack:
		enc := msgpack.NewEncoder(sink)
		for _, rec := range batch {
			if err := enc.Encode(rec); err != nil {
				return nil, err
			}
		}
	default:
		enc := json.NewEncoder(sink)
		for _, rec := range batch {
			if err := enc.Encode(rec); err != nil {
				return nil, err
			}
		}
	}

	if err := finish(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// objectName builds a unique, sortable archive name: timestamp first for
// lexical chronology, uuid for uniqueness across concurrent engines.
func (s *Service) objectName(now time.Time) string {
	name := fmt.Sprintf("%s-%s", now.UTC().Format("2006-01-02T15-04-05"), uuid.NewString())
	switch s.codec {
	case CodecMsgpack:
		name += ".msgpack"
	default:
		name += ".jsonl"
	}
	switch s.compression {
	case CompressGzip:
		name += ".gz"
	case CompressZstd:
		name += ".zst"
	}
	return name
}

// Export runs one archival pass immediately, outside the schedule.
func (s *Service) Export() { s.export() }

// Shutdown implements [plugin.Shutdowner]: the scheduler stops and the
// remaining window is exported so no collected record is lost.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.export()
	return nil
}

// Dropped reports how many records the window rejected.
func (s *Service) Dropped() uint64 { return s.window.Dropped() }

var (
	_ plugin.Plugin     = (*Service)(nil)
	_ plugin.Shutdowner = (*Service)(nil)
)
