// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/megastat/pkg/bridge"
	"github.com/Thermoquad/megastat/pkg/megad"
)

// ============================================================
// Codec Tests
// ============================================================

func TestEventFrame(t *testing.T) {
	at := time.UnixMilli(1760000000123)
	tests := []struct {
		name  string
		event bridge.Event
	}{
		{"bool", bridge.Event{Device: "megad0", ID: "p1", Port: 1, Value: true, Ack: true, Time: at}},
		{"number", bridge.Event{Device: "megad0", ID: "a6", Port: 14, Value: 51.2, Ack: true, Time: at}},
		{"string", bridge.Event{Device: "megad0", ID: "p3", Port: 3, Value: "0A1B2C", Time: at}},
		{"signal", bridge.Event{Device: "hall", ID: "p2_counter", Port: 2, Signal: megad.SignalCounter, Value: 27.0, Time: at}},
		{"quality", bridge.Event{Device: "hall", ID: "p4", Port: 4, Value: 0.0, Quality: megad.QualitySensorAbsent, Time: at}},
		{"connection", bridge.Event{Device: "hall", ID: bridge.ConnectionID, Port: -1, Value: false, Ack: true, Time: at}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEvent(tt.event)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			frameType, payload, err := ParseFrame(data)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if frameType != FrameEvent {
				t.Fatalf("expected event frame, got 0x%02X", frameType)
			}
			got, err := DecodeEvent(payload)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Device != tt.event.Device || got.ID != tt.event.ID || got.Port != tt.event.Port ||
				got.Signal != tt.event.Signal || got.Ack != tt.event.Ack || got.Quality != tt.event.Quality {
				t.Errorf("expected %+v, got %+v", tt.event, got)
			}
			if got.Value != tt.event.Value {
				t.Errorf("expected value %v (%T), got %v (%T)", tt.event.Value, tt.event.Value, got.Value, got.Value)
			}
			if !got.Time.Equal(at) {
				t.Errorf("expected time %v, got %v", at, got.Time)
			}
		})
	}
}

func TestCommandFrame_ValueTypes(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected string
	}{
		{"text", "toggle", "toggle"},
		{"bool", true, "true"},
		{"integer", uint64(128), "128"},
		{"float", 21.5, "21.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeFrame(FrameCommand, map[int]interface{}{
				CommandKeyDevice:  "megad0",
				CommandKeyID:      "p7",
				CommandKeyValue:   tt.value,
				CommandKeyRequest: uint64(9),
			})
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			_, payload, err := ParseFrame(data)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			cmd, err := DecodeCommand(payload)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if cmd.Value != tt.expected || cmd.Request != 9 || cmd.ID != "p7" {
				t.Errorf("expected value %q request 9, got %+v", tt.expected, cmd)
			}
		})
	}
}

func TestParseFrame_Invalid(t *testing.T) {
	mustMarshal := func(v interface{}) []byte {
		data, err := cbor.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0xFF, 0x00}},
		{"not array", mustMarshal(map[int]int{1: 2})},
		{"wrong length", mustMarshal([]interface{}{uint64(1)})},
		{"type not uint", mustMarshal([]interface{}{"event", nil})},
		{"type out of range", mustMarshal([]interface{}{uint64(300), nil})},
		{"string keys", mustMarshal([]interface{}{uint64(1), map[string]int{"a": 1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseFrame(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeCommand_Missing(t *testing.T) {
	if _, err := DecodeCommand(map[int]interface{}{CommandKeyID: "p1", CommandKeyValue: "1"}); err == nil {
		t.Error("expected error without device")
	}
	if _, err := DecodeCommand(map[int]interface{}{CommandKeyDevice: "d", CommandKeyID: "p1"}); err == nil {
		t.Error("expected error without value")
	}
}

// ============================================================
// Hub Tests
// ============================================================

type fakeCommander struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeCommander) Command(ctx context.Context, device, id, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, device+"/"+id+"="+value)
	return f.err
}

func newTestHub(t *testing.T, cmd Commander, snapshot []bridge.Event) (*Hub, *Conn) {
	t.Helper()
	hub := NewHub(HubOptions{
		Devices:   []string{"megad0"},
		Version:   "test",
		Snapshot:  func() []bridge.Event { return snapshot },
		Commander: cmd,
		Logger:    zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dial(context.Background(), url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
		srv.Close()
	})
	return hub, conn
}

func readFrame(t *testing.T, conn *Conn, expected uint8) map[int]interface{} {
	t.Helper()
	conn.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frameType, payload, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frameType != expected {
		t.Fatalf("expected frame 0x%02X, got 0x%02X", expected, frameType)
	}
	return payload
}

func TestHub_HelloAndSnapshot(t *testing.T) {
	snapshot := []bridge.Event{
		{Device: "megad0", ID: bridge.ConnectionID, Port: -1, Value: true, Ack: true},
		{Device: "megad0", ID: "p7", Port: 7, Value: true, Ack: true},
	}
	_, conn := newTestHub(t, nil, snapshot)

	hello := DecodeHello(readFrame(t, conn, FrameHello))
	if len(hello.Devices) != 1 || hello.Devices[0] != "megad0" || hello.Version != "test" {
		t.Errorf("unexpected hello %+v", hello)
	}
	for _, want := range snapshot {
		e, err := DecodeEvent(readFrame(t, conn, FrameEvent))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if e.ID != want.ID || e.Value != want.Value {
			t.Errorf("expected %s=%v, got %s=%v", want.ID, want.Value, e.ID, e.Value)
		}
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub, conn := newTestHub(t, nil, nil)
	readFrame(t, conn, FrameHello)

	hub.Emit(bridge.Event{Device: "megad0", ID: "p1_long", Port: 1, Signal: megad.SignalLong, Value: true, Ack: true})

	e, err := DecodeEvent(readFrame(t, conn, FrameEvent))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.ID != "p1_long" || e.Signal != megad.SignalLong || e.Value != true {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestHub_Command(t *testing.T) {
	cmd := &fakeCommander{}
	_, conn := newTestHub(t, cmd, nil)
	readFrame(t, conn, FrameHello)

	request, err := conn.SendCommand("megad0", "p7", "on")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	res := DecodeResult(readFrame(t, conn, FrameResult))
	if res.Request != request || !res.OK || res.Error != "" {
		t.Errorf("unexpected result %+v", res)
	}

	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	if len(cmd.calls) != 1 || cmd.calls[0] != "megad0/p7=on" {
		t.Errorf("unexpected calls %v", cmd.calls)
	}
}

func TestHub_CommandError(t *testing.T) {
	cmd := &fakeCommander{err: errors.New("unknown or read-only port")}
	_, conn := newTestHub(t, cmd, nil)
	readFrame(t, conn, FrameHello)

	request, err := conn.SendCommand("megad0", "a6", "1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	res := DecodeResult(readFrame(t, conn, FrameResult))
	if res.Request != request || res.OK || !strings.Contains(res.Error, "read-only") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHub_CommandsUnsupported(t *testing.T) {
	_, conn := newTestHub(t, nil, nil)
	readFrame(t, conn, FrameHello)

	if _, err := conn.SendCommand("megad0", "p7", "on"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if res := DecodeResult(readFrame(t, conn, FrameResult)); res.OK {
		t.Errorf("expected failure without commander, got %+v", res)
	}
}

func TestDial_InvalidScheme(t *testing.T) {
	if _, err := Dial(context.Background(), "http://localhost/ws", DialOptions{}); err == nil {
		t.Error("expected scheme error")
	}
}
