// Copyright (c) 2026 ToeiRei
// Bandward - SecureBand device trust and audit core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package metrics holds the Prometheus collectors of the trust core. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bandward"

type Metrics struct {
	registry *prometheus.Registry

	authAttempts   *prometheus.CounterVec
	auditAppends   *prometheus.CounterVec
	appendDuration prometheus.Histogram
	violations     *prometheus.CounterVec
	forensic       prometheus.Gauge
	clockJumps     prometheus.Counter
}

// New registers every collector on a fresh registry together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Device authentication attempts by internal outcome.",
		}, []string{"outcome"}),
		auditAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "appends_total",
			Help:      "Ledger append attempts by result.",
		}, []string{"result"}),
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "append_duration_seconds",
			Help:      "Time spent appending one ledger entry, retries included.",
			Buckets:   prometheus.DefBuckets,
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "integrity_violations_total",
			Help:      "Violations reported by integrity verification runs.",
		}, []string{"kind"}),
		forensic: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forensic",
			Name:      "lock_enabled",
			Help:      "1 while the forensic lock is engaged.",
		}),
		clockJumps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nonce",
			Name:      "clock_jumps_total",
			Help:      "Wall clock discontinuities seen by the sliding nonce window.",
		}),
	}
	reg.MustRegister(
		m.authAttempts, m.auditAppends, m.appendDuration, m.violations, m.forensic, m.clockJumps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// AuthOutcome counts one authentication attempt; outcome is "success" or the
// internal failure kind.
func (m *Metrics) AuthOutcome(outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuditAppend(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.auditAppends.WithLabelValues(result).Inc()
	m.appendDuration.Observe(d.Seconds())
}

func (m *Metrics) Violation(kind string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(kind).Inc()
}

func (m *Metrics) ForensicEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.forensic.Set(1)
		return
	}
	m.forensic.Set(0)
}

func (m *Metrics) ClockJump() {
	if m == nil {
		return
	}
	m.clockJumps.Inc()
}
