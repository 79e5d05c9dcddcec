// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// Metrics exports bridge activity to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	pollCycles   *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	connected    *prometheus.GaugeVec
	events       *prometheus.CounterVec
	commands     *prometheus.CounterVec
	pushes       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pollCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "megastat_poll_cycles_total",
				Help: "Bulk poll cycles by result (ok, error, skipped)",
			},
			[]string{"device", "result"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "megastat_poll_duration_seconds",
				Help:    "Duration of successful bulk poll requests",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"device"},
		),
		connected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "megastat_device_connected",
				Help: "Whether the last bulk poll of the device succeeded (1) or failed (0)",
			},
			[]string{"device"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "megastat_events_total",
				Help: "Published events by signal",
			},
			[]string{"device", "signal"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "megastat_commands_total",
				Help: "Outbound commands by result (ok, rejected, error)",
			},
			[]string{"device", "result"},
		),
		pushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "megastat_push_notifications_total",
				Help: "Push notifications received from the device",
			},
			[]string{"device"},
		),
	}
	reg.MustRegister(m.pollCycles, m.pollDuration, m.connected, m.events, m.commands, m.pushes)
	return m
}

func (m *Metrics) observeCycle(device, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(device, result).Inc()
	if result == "ok" {
		m.pollDuration.WithLabelValues(device).Observe(d.Seconds())
	}
}

func (m *Metrics) setConnected(device string, ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.connected.WithLabelValues(device).Set(v)
}

func (m *Metrics) countEvent(device string, signal megad.Signal) {
	if m == nil {
		return
	}
	name := string(signal)
	if signal == megad.SignalPrimary {
		name = "primary"
	}
	m.events.WithLabelValues(device, name).Inc()
}

func (m *Metrics) countCommand(device, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(device, result).Inc()
}

func (m *Metrics) countPush(device string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(device).Inc()
}
