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

// Package metrics exposes the engine's operational counters as Prometheus
// metrics.
//
// Each engine owns a private registry rather than registering on the
// Prometheus default: multiple engines can coexist in one process, and a
// host that already populates the default registry never sees surprise
// collectors. The dashboard transport serves the registry via its /metrics
// endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds the engine's counters, all registered on a private registry.
type Set struct {
	registry *prometheus.Registry

	// RecordsTotal counts records published to the bus, by level.
	RecordsTotal *prometheus.CounterVec

	// DroppedTotal counts records rejected by bounded queues, by component.
	// Drops are silent by policy; this counter is the observable signal.
	DroppedTotal *prometheus.CounterVec

	// PluginErrorsTotal counts isolated handler failures, by plugin.
	PluginErrorsTotal *prometheus.CounterVec
}

// NewSet creates the counter set on a fresh private registry.
func NewSet() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logfan",
			Name:      "records_total",
			Help:      "Records published to the dispatch bus.",
		}, []string{"level"}),
		DroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logfan",
			Name:      "dropped_records_total",
			Help:      "Records rejected by full bounded queues.",
		}, []string{"component"}),
		PluginErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logfan",
			Name:      "plugin_errors_total",
			Help:      "Handler failures isolated during dispatch.",
		}, []string{"plugin"}),
	}
	s.registry.MustRegister(s.RecordsTotal, s.DroppedTotal, s.PluginErrorsTotal)
	return s
}

// Registry returns the private registry, for hosts that want to add their
// own collectors next to the engine's.
func (s *Set) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
