// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/megastat/pkg/megad"
)

const sampleConfig = `{
  "pollInterval": 0,
  "longPress": 1000,
  "doublePress": 500,
  "mqtt": {"broker": "tcp://broker:1883", "prefix": "home"},
  "devices": [
    {
      "address": "192.168.0.14",
      "password": "sec",
      "ports": [
        {"pty": 0, "m": 1, "long": true, "double": true, "name": "hall switch"},
        {"pty": 1, "m": 1, "factor": 0},
        {"pty": 9},
        {"pty": 2, "factor": 0.1}
      ]
    },
    {"name": "garage", "address": "192.168.0.15", "password": "sec", "ports": []}
  ]
}`

// ============================================================
// Load Tests
// ============================================================

func TestParse_Defaults(t *testing.T) {
	var logs bytes.Buffer
	cfg, err := Parse([]byte(sampleConfig), zerolog.New(&logs))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Listen != DefaultListen {
		t.Errorf("expected listen %q, got %q", DefaultListen, cfg.Listen)
	}
	if cfg.PollDuration() != 5*time.Second {
		t.Errorf("expected 5s poll interval, got %v", cfg.PollDuration())
	}
	if cfg.RequestDuration() != 5*time.Second {
		t.Errorf("expected 5s request timeout, got %v", cfg.RequestDuration())
	}
	if cfg.Devices[0].Name != "megad0" {
		t.Errorf("expected generated name megad0, got %q", cfg.Devices[0].Name)
	}

	ports := cfg.Devices[0].Ports
	if ports[1].Factor != 1 {
		t.Errorf("expected factor 0 replaced by 1, got %v", ports[1].Factor)
	}
	if ports[2].Type != megad.TypeUnconnected {
		t.Errorf("expected unknown pty to become unconnected, got %d", ports[2].Type)
	}
	if !strings.Contains(logs.String(), "poll interval") || !strings.Contains(logs.String(), "unknown port type") {
		t.Errorf("expected default warnings, got %s", logs.String())
	}
}

func TestPortConfigs(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), zerolog.Nop())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	configs := cfg.Devices[0].PortConfigs(cfg.Windows())
	if len(configs) != 4 {
		t.Fatalf("expected 4 configs, got %d", len(configs))
	}

	in := configs[0]
	if in.ID != "p0_hall_switch" || !in.LongPress || !in.DoublePress {
		t.Errorf("unexpected input config %+v", in)
	}
	if configs[1].Kind != megad.DigitalOutput || !configs[1].IsPWM() {
		t.Errorf("expected PWM output, got %+v", configs[1])
	}
	if configs[2].Kind != megad.Unconfigured {
		t.Errorf("expected unconfigured port, got %v", configs[2].Kind)
	}
	if configs[3].Kind != megad.AnalogInput || configs[3].Factor != 0.1 {
		t.Errorf("unexpected ADC config %+v", configs[3])
	}
}

func TestPortConfigs_WindowsDisabled(t *testing.T) {
	cfg, err := Parse([]byte(`{"devices":[{"address":"h","ports":[{"pty":0,"m":1,"long":true,"double":true}]}]}`), zerolog.Nop())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	in := cfg.Devices[0].PortConfigs(cfg.Windows())[0]
	if in.LongPress || in.DoublePress {
		t.Errorf("gestures must be disabled without windows, got %+v", in)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"missing address", `{"devices":[{"name":"a"}]}`},
		{"duplicate names", `{"devices":[{"name":"a","address":"h1"},{"name":"a","address":"h2"}]}`},
		{"too many ports", `{"devices":[{"address":"h","ports":[{},{},{},{},{},{},{},{},{},{},{},{},{},{},{},{},{}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.config), zerolog.Nop())
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParse_MQTTWithoutBroker(t *testing.T) {
	cfg, err := Parse([]byte(`{"mqtt":{"prefix":"home"}}`), zerolog.Nop())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MQTT != nil {
		t.Errorf("expected MQTT disabled, got %+v", cfg.MQTT)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "megastat.json")
	cfg := Default()
	cfg.Devices = []Device{{
		Name:     "hall",
		Address:  "192.168.0.14",
		Password: "sec",
		Ports:    []megad.PortSettings{{Type: megad.TypeOutput, Factor: 1}, megad.Unconnected()},
	}}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, ok := loaded.Lookup("hall")
	if !ok {
		t.Fatal("expected device hall")
	}
	if len(d.Ports) != 2 || d.Ports[1].Type != megad.TypeUnconnected {
		t.Errorf("unexpected ports %+v", d.Ports)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "none.json"), zerolog.Nop()); err == nil {
		t.Error("expected error for missing file")
	}
}
