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

// Package logctx carries ambient log metadata on a context.Context.
//
// A frame is a key/value overlay installed for a dynamic extent of work.
// Frames nest: a child frame's keys override the parent's on conflict, and
// discarding the child context reverts to the parent view. Because frames
// ride the context, two concurrent units of work can never observe each
// other's overlay: isolation falls out of context immutability rather than
// any shared mutable slot. The cost of this design is that crossing a
// goroutine boundary requires passing the context explicitly, which is the
// idiomatic contract for request-scoped data in Go anyway.
package logctx

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey struct{}

// frame is one overlay in the parent-linked chain. Frames are immutable
// after creation; merging happens at read time.
type frame struct {
	parent *frame
	kv     map[string]any
	depth  int // number of frames in the chain, for merge pre-sizing
}

// With returns a context carrying the current frame chain extended by
// overlay. A nil or empty overlay returns ctx unchanged.
func With(ctx context.Context, overlay map[string]any) context.Context {
	if len(overlay) == 0 {
		return ctx
	}
	parent, _ := ctx.Value(ctxKey{}).(*frame)
	kv := make(map[string]any, len(overlay))
	for k, v := range overlay {
		kv[k] = v
	}
	f := &frame{parent: parent, kv: kv, depth: 1}
	if parent != nil {
		f.depth = parent.depth + 1
	}
	return context.WithValue(ctx, ctxKey{}, f)
}

// Run installs overlay for the duration of fn. The context passed to fn
// carries the extended frame chain; when Run returns, normally or with an
// error, the caller's own ctx is untouched, so the previous view is
// restored simply by continuing to use it.
func Run(ctx context.Context, overlay map[string]any, fn func(context.Context) error) error {
	return fn(With(ctx, overlay))
}

// From returns the merged view of all frames on ctx, child keys winning
// over parents. When the context also carries an active OpenTelemetry span,
// trace_id and span_id are lifted into the result for correlation. The
// returned map is a fresh copy owned by the caller; nil means no ambient
// metadata at all.
func From(ctx context.Context) map[string]any {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(ctxKey{}).(*frame)

	var merged map[string]any
	if f != nil {
		// Ancestors first so descendants overwrite on conflict.
		chain := make([]*frame, 0, f.depth)
		for cur := f; cur != nil; cur = cur.parent {
			chain = append(chain, cur)
		}
		merged = make(map[string]any, len(chain)*2)
		for i := len(chain) - 1; i >= 0; i-- {
			for k, v := range chain[i].kv {
				merged[k] = v
			}
		}
	}

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		if merged == nil {
			merged = make(map[string]any, 2)
		}
		sc := span.SpanContext()
		merged["trace_id"] = sc.TraceID().String()
		merged["span_id"] = sc.SpanID().String()
	}
	return merged
}
