// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"
	"time"

	"github.com/Thermoquad/megastat/pkg/bridge"
	"github.com/Thermoquad/megastat/pkg/megad"
	"github.com/Thermoquad/megastat/pkg/stream"
)

// ============================================================
// Port inference
// ============================================================

func TestInferredConfig(t *testing.T) {
	tests := []struct {
		name  string
		token string
		kind  megad.Kind
	}{
		{"input with counter", "OFF/7", megad.DigitalInput},
		{"output", "ON", megad.DigitalOutput},
		{"unconnected", "", megad.Unconfigured},
		{"dht", "temp:21.5/hum:40", megad.DigitalSensor},
		{"adc", "512", megad.AnalogInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := inferredConfig(3, tt.token)
			if cfg.Kind != tt.kind {
				t.Errorf("inferredConfig(%q).Kind = %v, want %v", tt.token, cfg.Kind, tt.kind)
			}
			if cfg.Index != 3 || cfg.ID != "p3" {
				t.Errorf("inferredConfig(%q) = index %d id %q, want 3 p3", tt.token, cfg.Index, cfg.ID)
			}
		})
	}
}

func TestPortConfig_PrefersConfigured(t *testing.T) {
	configured := megad.PortSettings{Type: megad.TypeOutput, Mode: megad.OutputPWM, Name: "dimmer"}.Config(5, megad.Windows{})
	target := &deviceTarget{ports: []megad.PortConfig{configured}}

	if got := target.portConfig(5, "ON/3"); got.ID != "p5_dimmer" {
		t.Errorf("portConfig(5) ID = %q, want p5_dimmer", got.ID)
	}
	if got := target.portConfig(6, "ON/3"); got.Kind != megad.DigitalInput {
		t.Errorf("portConfig(6) Kind = %v, want inferred input", got.Kind)
	}
}

func TestSendTarget(t *testing.T) {
	defer func() { sendCounter, sendPWM = false, false }()
	target := &deviceTarget{}

	cfg, sig := sendTarget(target, 7)
	if cfg.Kind != megad.DigitalOutput || cfg.IsPWM() || sig != megad.SignalPrimary {
		t.Errorf("default send target = %v pwm=%v %q, want switch output", cfg.Kind, cfg.IsPWM(), sig)
	}

	sendPWM = true
	cfg, _ = sendTarget(target, 7)
	if !cfg.IsPWM() {
		t.Error("--pwm send target is not a PWM output")
	}

	sendPWM, sendCounter = false, true
	cfg, sig = sendTarget(target, 7)
	if cfg.Kind != megad.DigitalInput || sig != megad.SignalCounter {
		t.Errorf("--counter send target = %v %q, want input counter", cfg.Kind, sig)
	}
}

// ============================================================
// Formatting
// ============================================================

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "0 seconds"},
		{999, "0 seconds"},
		{1000, "1 second"},
		{61000, "1 minute, 1 second"},
		{2 * 3600 * 1000, "2 hours"},
		{(26*3600 + 5*60 + 9) * 1000, "1 day, 2 hours"},
	}

	for _, tt := range tests {
		if got := formatUptime(tt.ms); got != tt.want {
			t.Errorf("formatUptime(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

// ============================================================
// Monitor model
// ============================================================

func TestMonitorModel_ApplyEvent(t *testing.T) {
	m := initialMonitorModel(&connectionManager{}, "ws://test")
	now := time.Now()

	m.applyEvent(bridge.Event{Device: "hall", ID: "p0", Port: 0, Value: false, Ack: true, Time: now})
	m.applyEvent(bridge.Event{Device: "hall", ID: "p1", Port: 1, Value: 12.5, Ack: true, Time: now})
	m.applyEvent(bridge.Event{Device: "hall", ID: "p0", Port: 0, Value: true, Ack: true, Time: now})
	m.updateSignalList()

	if len(m.signals) != 2 {
		t.Fatalf("signals = %d, want 2", len(m.signals))
	}
	if m.signals[0].value != true {
		t.Errorf("p0 value = %v, want true", m.signals[0].value)
	}
	if m.eventCount != 3 {
		t.Errorf("eventCount = %d, want 3", m.eventCount)
	}
	if sel := m.selectedSignal(); sel == nil || sel.id != "p0" {
		t.Errorf("selected = %+v, want p0", sel)
	}
}

func TestMonitorModel_ConnectivityLogged(t *testing.T) {
	m := initialMonitorModel(&connectionManager{}, "ws://test")
	m.applyEvent(bridge.Event{Device: "hall", ID: bridge.ConnectionID, Port: -1, Value: false, Ack: true})

	if len(m.log) != 1 || !m.log[0].isError {
		t.Fatalf("log = %+v, want one error entry", m.log)
	}
}

func TestMonitorModel_HandleResult(t *testing.T) {
	m := initialMonitorModel(&connectionManager{}, "ws://test")
	m.pending[4] = "hall/p7 = on"

	m.handleResult(stream.Result{Request: 4, OK: false, Error: "rejected"})

	if m.failedCommands != 1 {
		t.Errorf("failedCommands = %d, want 1", m.failedCommands)
	}
	if _, ok := m.pending[4]; ok {
		t.Error("request 4 still pending")
	}
	if last := m.log[len(m.log)-1]; last.message != "Failed hall/p7 = on: rejected" {
		t.Errorf("log message = %q", last.message)
	}
}

func TestMonitorModel_SendWithoutConnection(t *testing.T) {
	m := initialMonitorModel(&connectionManager{}, "ws://test")
	m.applyEvent(bridge.Event{Device: "hall", ID: "p7", Port: 7, Value: false, Ack: true})
	m.updateSignalList()

	m.sendCommand()

	if m.commandCount != 0 {
		t.Errorf("commandCount = %d, want 0", m.commandCount)
	}
	if last := m.log[len(m.log)-1]; !last.isError {
		t.Errorf("last log entry = %+v, want error", last)
	}
}
