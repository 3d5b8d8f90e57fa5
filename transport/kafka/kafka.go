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

// Package kafka forwards records to a Kafka topic for downstream
// aggregation.
//
// Like the file transport, the bus handler only enqueues: a forwarder
// goroutine drains the bounded queue in batches and writes them to the
// topic, so broker latency or an outage never blocks the publishing
// goroutine. Overflow rejects and counts.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"logfan.dev/logfan/bus"
	"logfan.dev/logfan/diag"
	"logfan.dev/logfan/metrics"
	"logfan.dev/logfan/plugin"
	"logfan.dev/logfan/queue"
	"logfan.dev/logfan/record"
)

const (
	defaultBatchMax  = 100
	defaultLingerFor = 250 * time.Millisecond
	writeTimeout     = 10 * time.Second
)

// ErrNoBrokers is returned when the transport is built without brokers or
// a topic.
var ErrNoBrokers = errors.New("kafka transport: brokers and topic are required")

// Writer is the topic-writing subset of kafka-go's Writer, extracted so
// tests can run without a broker.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Transport ships records to a Kafka topic.
type Transport struct {
	name     string
	writer   Writer
	batchMax int
	linger   time.Duration
	queueCap int

	q      *queue.Queue[*record.Record]
	notify chan struct{}
	done   chan struct{}
	closed chan struct{}

	diag    *diag.Channel
	metrics *metrics.Set
}

// Option configures the kafka transport.
type Option func(*Transport)

// WithBatchMax caps how many records go into one WriteMessages call.
func WithBatchMax(n int) Option {
	return func(t *Transport) { t.batchMax = n }
}

// WithLinger sets how long the forwarder waits to fill a batch after the
// first record arrives.
func WithLinger(d time.Duration) Option {
	return func(t *Transport) { t.linger = d }
}

// WithQueueCapacity bounds the intake queue.
func WithQueueCapacity(n int) Option {
	return func(t *Transport) { t.queueCap = n }
}

// WithWriter replaces the topic writer. Used by tests and by hosts that
// tune their own kafka-go Writer.
func WithWriter(w Writer) Option {
	return func(t *Transport) { t.writer = w }
}

// New creates a kafka transport producing to topic on the given brokers.
func New(brokers []string, topic string, opts ...Option) (*Transport, error) {
	t := &Transport{
		name:     "kafka",
		batchMax: defaultBatchMax,
		linger:   defaultLingerFor,
		queueCap: queue.DefaultCapacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.writer == nil {
		if len(brokers) == 0 || topic == "" {
			return nil, ErrNoBrokers
		}
		t.writer = &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.LeastBytes{},
			BatchTimeout: t.linger,
		}
	}
	t.q = queue.New[*record.Record](t.queueCap)
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
			// Let a batch accumulate before the first write.
			if t.linger > 0 {
				select {
				case <-time.After(t.linger):
				case <-t.done:
				}
			}
			t.forward()
		case <-t.done:
			t.forward()
			return
		}
	}
}

// forward drains the queue in batches of at most batchMax per write.
func (t *Transport) forward() {
	for {
		batch := t.nextBatch()
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := t.writer.WriteMessages(ctx, batch...)
		cancel()
		if err != nil {
			if t.metrics != nil {
				t.metrics.DroppedTotal.WithLabelValues(t.name).Add(float64(len(batch)))
			}
			t.diag.Error(t.name, "produce failed", map[string]any{
				"records": len(batch),
				"error":   err.Error(),
			})
		}
	}
}

func (t *Transport) nextBatch() []kafkago.Message {
	var batch []kafkago.Message
	for len(batch) < t.batchMax {
		rec, ok := t.q.Dequeue()
		if !ok {
			break
		}
		value, err := json.Marshal(rec)
		if err != nil {
			t.diag.Error(t.name, "encode failed", map[string]any{"error": err.Error()})
			continue
		}
		batch = append(batch, kafkago.Message{
			// Hostname keys the partition so one producer's records stay
			// ordered within a partition.
			Key:   []byte(rec.Hostname),
			Value: value,
			Time:  time.UnixMilli(rec.Timestamp),
		})
	}
	return batch
}

// Shutdown implements [plugin.Shutdowner]: pending records are forwarded,
// then the writer is closed.
func (t *Transport) Shutdown(ctx context.Context) error {
	close(t.done)
	select {
	case <-t.closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	return t.writer.Close()
}

// Dropped reports how many records the intake queue rejected.
func (t *Transport) Dropped() uint64 { return t.q.Dropped() }

var (
	_ plugin.Plugin     = (*Transport)(nil)
	_ plugin.Shutdowner = (*Transport)(nil)
)
