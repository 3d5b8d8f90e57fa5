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

// Package queue provides a fixed-capacity FIFO buffer with reject-on-full
// backpressure.
//
// The queue decouples producer bursts from consumer throughput anywhere in
// the pipeline: a transport's event handler enqueues and returns, and the
// transport's writer goroutine drains at its own pace. Enqueue on a full
// queue rejects the new item instead of evicting the oldest, preserving
// FIFO guarantees and giving the caller an explicit drop signal. No
// operation blocks.
package queue

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 10000

// Queue is a bounded FIFO ring buffer. All methods are safe for concurrent
// use and O(1).
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int // index of the oldest item
	tail    int // index of the next free slot
	size    int
	dropped atomic.Uint64
}

// New creates a queue with the given capacity. Capacity <= 0 selects
// DefaultCapacity.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{items: make([]T, capacity)}
}

// Enqueue appends item and reports success. A full queue rejects the item,
// increments the drop counter, and returns false.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	if q.size == len(q.items) {
		q.mu.Unlock()
		q.dropped.Add(1)
		return false
	}
	q.items[q.tail] = item
	q.tail = (q.tail + 1) % len(q.items)
	q.size++
	q.mu.Unlock()
	return true
}

// Dequeue removes and returns the oldest item. ok is false when the queue
// is empty.
func (q *Queue[T]) Dequeue() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return item, false
	}
	var zero T
	item = q.items[q.head]
	q.items[q.head] = zero // release the slot's reference
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return item, true
}

// Size returns the number of buffered items.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int {
	return len(q.items)
}

// IsEmpty reports whether the queue holds no items.
func (q *Queue[T]) IsEmpty() bool {
	return q.Size() == 0
}

// IsFull reports whether the queue is at capacity.
func (q *Queue[T]) IsFull() bool {
	return q.Size() == len(q.items)
}

// Utilization returns size/capacity in [0, 1].
func (q *Queue[T]) Utilization() float64 {
	return float64(q.Size()) / float64(len(q.items))
}

// Dropped returns the number of items rejected by Enqueue since creation.
// Drops are silent by policy; the counter makes them observable.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Clear resets the queue without retaining references to cleared items.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.head, q.tail, q.size = 0, 0, 0
}
