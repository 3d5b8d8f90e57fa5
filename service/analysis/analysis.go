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

// Package analysis enriches severe records with an automated diagnosis.
//
// For each Error or Fatal record, the service asks an Analyzer for an
// explanation and republishes an augmented clone under "log:analyzed". The
// original record is never touched: transports subscribed to the ingest
// stream see it unchanged, and only subscribers of the enrichment event see
// the diagnosis. Results are cached by error signature so a crash loop asks
// the analyzer once, not once per occurrence.
package analysis

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/record"
)

// Analyzed is the event carrying analysis-augmented clones.
const Analyzed = "log:analyzed"

const (
	defaultCacheSize = 256
	defaultTimeout   = 30 * time.Second
)

// ErrNoAnalyzer is returned when the service is built without an analyzer.
var ErrNoAnalyzer = errors.New("analysis service: analyzer is required")

// Analyzer produces a diagnosis for a record. Implementations are called
// from a worker goroutine, one request at a time.
type Analyzer interface {
	Analyze(ctx context.Context, rec *record.Record) (string, error)
}

// Service is the analysis plugin.
type Service struct {
	name     string
	analyzer Analyzer
	minLevel record.Level
	timeout  time.Duration

	cache *sigCache

	work   chan *record.Record
	done   chan struct{}
	closed chan struct{}

	core plugin.Core
	diag *diag.Channel
}

// Option configures the analysis service.
type Option func(*Service)

// WithMinLevel sets the lowest level that is analyzed. Defaults to Error.
func WithMinLevel(level record.Level) Option {
	return func(s *Service) { s.minLevel = level }
}

// WithCacheSize bounds the signature cache.
func WithCacheSize(n int) Option {
	return func(s *Service) { s.cache = newSigCache(n) }
}

// WithTimeout bounds a single analyzer call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// New creates an analysis service backed by the given analyzer.
func New(analyzer Analyzer, opts ...Option) (*Service, error) {
	if analyzer == nil {
		return nil, ErrNoAnalyzer
	}
	s := &Service{
		name:     "analysis",
		analyzer: analyzer,
		minLevel: record.LevelError,
		timeout:  defaultTimeout,
		cache:    newSigCache(defaultCacheSize),
		work:     make(chan *record.Record, 64),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements [plugin.Plugin].
func (s *Service) Name() string { return s.name }

// Kind implements [plugin.Plugin].
func (s *Service) Kind() plugin.Kind { return plugin.KindService }

// Init implements [plugin.Plugin].
func (s *Service) Init(core plugin.Core) error {
	s.core = core
	s.diag = core.Diag()

	core.On(bus.Ingest, s.intake)
	go s.worker()
	return nil
}

func (s *Service) intake(rec *record.Record) {
	if rec.Level < s.minLevel {
		return
	}
	select {
	case s.work <- rec:
	default:
		// Analysis is best-effort enrichment; backpressure never reaches
		// the dispatch path.
	}
}

func (s *Service) worker() {
	defer close(s.closed)
	for {
		select {
		case rec := <-s.work:
			s.analyze(rec)
		case <-s.done:
			for {
				select {
				case rec := <-s.work:
					s.analyze(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) analyze(rec *record.Record) {
	sig := signature(rec)
	result, hit := s.cache.get(sig)
	if !hit {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		var err error
		result, err = s.analyzer.Analyze(ctx, rec)
		cancel()
		if err != nil {
			s.diag.Error(s.name, "analyze failed", map[string]any{
				"signature": sig,
				"error":     err.Error(),
			})
			return
		}
		s.cache.put(sig, result)
	}

	clone := rec.Clone()
	if clone.Extra == nil {
		clone.Extra = make(map[string]any, 2)
	}
	clone.Extra["analysis"] = result
	clone.Extra["analysis_cached"] = hit
	s.core.Emit(Analyzed, clone)
}

// signature collapses equivalent failures into one cache key: same error
// type and message, or same message text when no error is attached.
func signature(rec *record.Record) string {
	if rec.Err != nil {
		return rec.Err.Name + ": " + rec.Err.Message
	}
	return rec.Level.String() + ": " + rec.Message
}

// Shutdown implements [plugin.Shutdowner]: queued work is finished before
// the engine stops.
func (s *Service) Shutdown(ctx context.Context) error {
	close(s.done)
	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sigCache is a small LRU keyed by error signature.
type sigCache struct {
	mu    sync.Mutex
	max   int
	order *list.List
	byKey map[string]*list.Element
}

type cacheEntry struct {
	key   string
	value string
}

func newSigCache(max int) *sigCache {
	if max < 1 {
		max = 1
	}
	return &sigCache{
		max:   max,
		order: list.New(),
		byKey: make(map[string]*list.Element, max),
	}
}

func (c *sigCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.byKey[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

func (c *sigCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byKey[key]; ok {
		el.Value.(*cacheEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	c.byKey[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
	if c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.byKey, oldest.Value.(*cacheEntry).key)
	}
}

var (
	_ plugin.Plugin     = (*Service)(nil)
	_ plugin.Shutdowner = (*Service)(nil)
)
