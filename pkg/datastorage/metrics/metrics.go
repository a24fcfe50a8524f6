/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the data-store's Prometheus instrumentation. All label
// values recorded against these must first pass through the
// Sanitize* helpers in helpers.go.
type Metrics struct {
	AuditTracesTotal   *prometheus.CounterVec
	AuditLagSeconds    *prometheus.HistogramVec
	WriteDuration      *prometheus.HistogramVec
	ValidationFailures *prometheus.CounterVec
}

// NewMetricsWithRegistry builds a Metrics struct and registers it
// against registry, so tests can use a throwaway registry instead of
// the global one.
func NewMetricsWithRegistry(namespace, subsystem string, registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuditTracesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "audit_traces_total",
			Help:      "Total number of audit trace events recorded by the data store, by service and status.",
		}, []string{"service", "status"}),

		AuditLagSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "audit_lag_seconds",
			Help:      "Time between an event occurring and its audit trace being written, by service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),

		WriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "write_duration_seconds",
			Help:      "Duration of writes to the data store, by table.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table"}),

		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "validation_failures_total",
			Help:      "Total number of validation failures, by field and reason.",
		}, []string{"field", "reason"}),
	}

	registry.MustRegister(m.AuditTracesTotal, m.AuditLagSeconds, m.WriteDuration, m.ValidationFailures)
	return m
}
