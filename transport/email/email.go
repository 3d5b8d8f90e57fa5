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

// Package email notifies operators about Error and Fatal records.
//
// Records are accumulated and flushed as one message per batch, either when
// the batch is full or when the flush interval elapses, whichever comes
// first. Sends pass through a token-bucket rate limiter so a crash loop
// produces a trickle of mails instead of a flood; batches the limiter
// rejects are dropped and counted.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/metrics"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/record"
)

const (
	defaultBatchSize     = 25
	defaultFlushInterval = 30 * time.Second
	defaultSendsPerHour  = 12
)

// ErrNoSender is returned when the transport is built without a sender.
var ErrNoSender = errors.New("email transport: sender is required")

// Message is a rendered notification ready for delivery.
type Message struct {
	Subject string
	Body    string
}

// Sender delivers a rendered message. Implementations must be safe for
// calls from the flush goroutine.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Transport batches severe records into operator notifications.
type Transport struct {
	name          string
	sender        Sender
	minLevel      record.Level
	batchSize     int
	flushInterval time.Duration
	limiter       *rate.Limiter
	subjectPrefix string

	mu    sync.Mutex
	batch []*record.Record

	ticker *time.Ticker
	notify chan struct{}
	done   chan struct{}
	closed chan struct{}

	diag    *diag.Channel
	metrics *metrics.Set
}

// Option configures the email transport.
type Option func(*Transport)

// WithBatchSize sets how many records trigger an immediate flush.
func WithBatchSize(n int) Option {
	return func(t *Transport) { t.batchSize = n }
}

// WithFlushInterval sets the maximum time a record waits before delivery.
func WithFlushInterval(d time.Duration) Option {
	return func(t *Transport) { t.flushInterval = d }
}

// WithMinLevel sets the lowest level that is mailed. Defaults to Error.
func WithMinLevel(level record.Level) Option {
	return func(t *Transport) { t.minLevel = level }
}

// WithSendsPerHour caps delivery frequency. Bursts up to two sends are
// allowed so a first failure and its follow-up both get out promptly.
func WithSendsPerHour(n int) Option {
	return func(t *Transport) {
		t.limiter = rate.NewLimiter(rate.Limit(float64(n)/3600), 2)
	}
}

// WithSubjectPrefix prepends an identifier to every subject line.
func WithSubjectPrefix(prefix string) Option {
	return func(t *Transport) { t.subjectPrefix = prefix }
}

// New creates an email transport delivering through sender.
func New(sender Sender, opts ...Option) (*Transport, error) {
	if sender == nil {
		return nil, ErrNoSender
	}
	t := &Transport{
		name:          "email",
		sender:        sender,
		minLevel:      record.LevelError,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		limiter:       rate.NewLimiter(rate.Limit(float64(defaultSendsPerHour)/3600), 2),
		notify:        make(chan struct{}, 1),
		done:          make(chan struct{}),
		closed:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name implements [plugin.Plugin].
func (t *Transport) Name() string { return t.name }

// Kind implements [plugin.Plugin].
func (t *Transport) Kind() plugin.Kind { return plugin.KindTransport }

// Init implements [plugin.Plugin].
func (t *Transport) Init(core plugin.Core) error {
	t.diag = core.Diag()
	t.metrics = core.Metrics()
	t.ticker = time.NewTicker(t.flushInterval)

	core.On(bus.Ingest, t.collect)
	go t.flusher()
	return nil
}

func (t *Transport) collect(rec *record.Record) {
	if rec.Level < t.minLevel {
		return
	}
	t.mu.Lock()
	t.batch = append(t.batch, rec)
	full := len(t.batch) >= t.batchSize
	t.mu.Unlock()

	// Delivery is the flusher goroutine's job. The handler only signals it,
	// so a slow SMTP server never stalls dispatch.
	if full {
		select {
		case t.notify <- struct{}{}:
		default:
		}
	}
}

func (t *Transport) flusher() {
	defer close(t.closed)
	for {
		select {
		case <-t.notify:
			t.flush()
		case <-t.ticker.C:
			t.flush()
		case <-t.done:
			t.ticker.Stop()
			t.flush()
			return
		}
	}
}

// flush takes the current batch and delivers it as one message. A batch
// the rate limiter rejects is dropped whole and counted: during a flood
// the operator's mailbox is the resource being protected.
func (t *Transport) flush() {
	t.mu.Lock()
	batch := t.batch
	t.batch = nil
	t.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if !t.limiter.Allow() {
		if t.metrics != nil {
			t.metrics.DroppedTotal.WithLabelValues(t.name).Add(float64(len(batch)))
		}
		t.diag.Warn(t.name, "rate limit exceeded, batch dropped", map[string]any{
			"records": len(batch),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.sender.Send(ctx, render(t.subjectPrefix, batch)); err != nil {
		if t.metrics != nil {
			t.metrics.DroppedTotal.WithLabelValues(t.name).Add(float64(len(batch)))
		}
		t.diag.Error(t.name, "send failed", map[string]any{
			"records": len(batch),
			"error":   err.Error(),
		})
	}
}

// render folds a batch into a single plain-text message.
func render(prefix string, batch []*record.Record) Message {
	worst := batch[0].Level
	for _, rec := range batch[1:] {
		if rec.Level > worst {
			worst = rec.Level
		}
	}

	subject := fmt.Sprintf("[%s] %d record(s), worst %s: %s",
		batch[0].Hostname, len(batch), worst, batch[0].Message)
	if prefix != "" {
		subject = prefix + " " + subject
	}

	var b strings.Builder
	for _, rec := range batch {
		fmt.Fprintf(&b, "%s %s %s\n",
			time.UnixMilli(rec.Timestamp).Format(time.RFC3339),
			strings.ToUpper(rec.Level.String()),
			rec.Message)
		for k, v := range rec.Meta {
			fmt.Fprintf(&b, "  %s=%v\n", k, v)
		}
		if rec.Err != nil {
			fmt.Fprintf(&b, "  %s: %s\n", rec.Err.Name, rec.Err.Message)
			if rec.Err.Stack != "" {
				b.WriteString(indent(rec.Err.Stack))
			}
		}
		b.WriteByte('\n')
	}
	return Message{Subject: subject, Body: b.String()}
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Flush delivers any pending batch immediately, subject to the rate limit.
func (t *Transport) Flush() { t.flush() }

// Shutdown implements [plugin.Shutdowner]: pending records are flushed
// before the engine finishes stopping.
func (t *Transport) Shutdown(ctx context.Context) error {
	close(t.done)
	select {
	case <-t.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ plugin.Plugin     = (*Transport)(nil)
	_ plugin.Shutdowner = (*Transport)(nil)
)
