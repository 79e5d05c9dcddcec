// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"testing"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// ============================================================
// Registry Tests
// ============================================================

func TestRegistry_Idempotence(t *testing.T) {
	adc := port(14, megad.PortSettings{Type: megad.TypeADC, Factor: 0.1})
	r := NewRegistry([]megad.PortConfig{adc})

	rd := adc.Decode("512")
	if _, changed := r.Apply(14, rd); !changed {
		t.Fatalf("first reading must be a change")
	}
	if _, changed := r.Apply(14, rd); changed {
		t.Errorf("identical reading must be NoChange")
	}
}

func TestRegistry_DetectsEachChannel(t *testing.T) {
	in := port(2, megad.PortSettings{Type: megad.TypeInput, Mode: megad.ModePressRelease})
	r := NewRegistry([]megad.PortConfig{in})

	r.Apply(2, in.Decode("OFF/3"))

	tests := []struct {
		name      string
		token     string
		primary   bool
		quality   bool
		secondary bool
	}{
		{name: "counter only", token: "OFF/4", secondary: true},
		{name: "primary only", token: "ON/4", primary: true},
		{name: "quality only", token: "NA", primary: true, quality: true},
		{name: "same again", token: "NA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, changed := r.Apply(2, in.Decode(tt.token))
			if changed != (tt.primary || tt.quality || tt.secondary) {
				t.Fatalf("changed: expected %v, got %v", !changed, changed)
			}
			if cs.PrimaryChanged != tt.primary || cs.QualityChanged != tt.quality || cs.SecondaryChanged != tt.secondary {
				t.Errorf("unexpected change set %+v", cs)
			}
		})
	}
}

func TestRegistry_PreviousIsImmediatePredecessor(t *testing.T) {
	in := momentary(1)
	r := NewRegistry([]megad.PortConfig{in})

	cs, _ := r.Apply(1, in.Decode("OFF"))
	if !cs.Initial() {
		t.Errorf("first reading must be initial")
	}
	cs, _ = r.Apply(1, in.Decode("ON"))
	if !cs.Rising() || cs.Previous != 0 {
		t.Errorf("expected rising edge from 0, got %+v", cs)
	}
	cs, _ = r.Apply(1, in.Decode("OFF"))
	if !cs.Falling() || cs.Previous != 1 {
		t.Errorf("expected falling edge from 1, got %+v", cs)
	}
	st, _ := r.State(1)
	if st.Previous != 1 || st.Raw != 0 {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestRegistry_AnalogTolerance(t *testing.T) {
	adc := port(14, megad.PortSettings{Type: megad.TypeADC})
	r := NewRegistry([]megad.PortConfig{adc})

	r.Apply(14, megad.Reading{Kind: megad.AnalogInput, Primary: 1.0})
	if _, changed := r.Apply(14, megad.Reading{Kind: megad.AnalogInput, Primary: 1.0 + 1e-12}); changed {
		t.Errorf("sub-epsilon difference must not be a change")
	}
	if _, changed := r.Apply(14, megad.Reading{Kind: megad.AnalogInput, Primary: 1.001}); !changed {
		t.Errorf("expected change")
	}
}

func TestRegistry_UnconfiguredIgnored(t *testing.T) {
	nc := port(5, megad.Unconnected())
	r := NewRegistry([]megad.PortConfig{nc})

	if _, changed := r.Apply(5, megad.Decode(megad.Unconfigured, "ON")); changed {
		t.Errorf("unconfigured port must not change")
	}
	if _, changed := r.Apply(9, megad.Decode(megad.DigitalInput, "ON")); changed {
		t.Errorf("unknown index must not change")
	}
	if _, ok := r.Config(5); ok {
		t.Errorf("unconfigured port must not resolve")
	}
}

func TestRegistry_Resolve(t *testing.T) {
	in := port(3, megad.PortSettings{Type: megad.TypeInput, Mode: megad.ModePressRelease, Name: "hall switch", LongPress: true})
	r := NewRegistry([]megad.PortConfig{in})

	tests := []struct {
		id     string
		signal megad.Signal
		ok     bool
	}{
		{"p3_hall_switch", megad.SignalPrimary, true},
		{"p3_hall_switch_long", megad.SignalLong, true},
		{"p3_hall_switch_counter", megad.SignalCounter, true},
		{"p3_hall_switch_double", "", false},
		{"p3", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			cfg, signal, ok := r.Resolve(tt.id)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && (signal != tt.signal || cfg.Index != 3) {
				t.Errorf("expected port 3 signal %q, got port %d signal %q", tt.signal, cfg.Index, signal)
			}
		})
	}
}
