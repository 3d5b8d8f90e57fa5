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

// Package logfan is an embeddable log-ingestion and distribution engine.
//
// Application code emits structured records through the engine's level
// methods; the engine enriches them with ambient context, redacts sensitive
// metadata, and fans them out to independently failing output plugins.
// Every transport and service is just a subscriber to the same dispatch
// contract: one plugin crashing never costs another plugin its record, and
// never surfaces to the code that logged.
//
// # Basic Usage
//
//	logger := logfan.MustNew(
//	    logfan.WithLevel(record.LevelInfo),
//	    logfan.WithPlugins(console.New()),
//	)
//	defer logger.Shutdown(context.Background())
//
//	logger.Info("service started", "port", 8080)
//	logger.Error("request failed", "error", err, "user_id", userID)
//
// # Ambient Context
//
// A host can attach metadata to every record produced during a unit of work
// without threading it through each call:
//
//	logger.RunInContext(ctx, map[string]any{"request_id": id}, func(ctx context.Context) error {
//	    logger.InfoContext(ctx, "handling request") // carries request_id
//	    return process(ctx)                         // so does anything below
//	})
//
// Context frames ride context.Context, so isolation between concurrent
// requests is inherited from the context mechanism itself. Crossing a
// goroutine boundary means passing the context, as Go request-scoped data
// always does.
//
// # Plugins
//
// A plugin is a Transport (console, file, email, kafka, dashboard) or a
// Service (analysis, archive). Plugins register with Use or WithPlugins;
// an Init failure aborts startup because a half-wired logging pipeline is
// worse than a loud refusal to start. Enrichment plugins publish augmented
// clones under derived event names ("log:analyzed") and never mutate a
// record in flight.
//
// # Sanitization
//
// Keys matching the redaction rules (exact case-insensitive names or
// patterns) have their values masked with one mask character per character
// of the original's display form. The sanitizer recurses through nested
// maps and slices and is safe on cyclic values.
//
// # Console Interception
//
// WithConsoleInterception rebinds the stdlib log and slog defaults so
// legacy print-style logging feeds the pipeline too. The guard is
// reversible, idempotent, and falls back to the original output if the
// pipeline misbehaves.
//
// # Failure Policy
//
// Level methods never block, never panic, and never return errors. Full
// queues reject new records and count the drops (see Metrics). Internal
// failures go to the diagnostic side channel (LOGFAN_DIAG env var), which
// never re-enters the pipeline.
package logfan
