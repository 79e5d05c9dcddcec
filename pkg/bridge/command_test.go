// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// ============================================================
// Command Tests
// ============================================================

func newCommandBridge(t *testing.T) (*Bridge, *recorder, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice()
	b, rec, _ := newTestBridge(t, dev,
		momentary(1),
		port(2, megad.PortSettings{Type: megad.TypeInput, Mode: megad.ModePressRelease}),
		port(7, megad.PortSettings{Type: megad.TypeOutput, Name: "lamp"}),
		port(10, megad.PortSettings{Type: megad.TypeOutput, Mode: megad.OutputPWM, Factor: 0.5}),
		port(14, megad.PortSettings{Type: megad.TypeADC}),
	)
	return b, rec, dev
}

func TestCommand_Switch(t *testing.T) {
	b, rec, dev := newCommandBridge(t)

	if err := b.Command(context.Background(), "p7_lamp", "on"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent := dev.sent(); len(sent) != 1 || sent[0] != "cmd 7:1" {
		t.Errorf("unexpected requests %v", sent)
	}
	events := rec.byID("p7_lamp")
	if len(events) != 1 || events[0].Value != true || !events[0].Ack {
		t.Errorf("expected acknowledged true, got %v", events)
	}

	// Confirming the same value again still publishes an acknowledgement
	b.Command(context.Background(), "p7_lamp", "1")
	expectValues(t, rec, "p7_lamp", true, true)
}

func TestCommand_Toggle(t *testing.T) {
	b, rec, dev := newCommandBridge(t)
	dev.ports[7] = "ON"

	if err := b.Command(context.Background(), "p7_lamp", "toggle"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := dev.sent()
	if len(sent) != 2 || sent[0] != "cmd 7:2" || sent[1] != "get 7" {
		t.Errorf("expected command followed by port read, got %v", sent)
	}
	expectValues(t, rec, "p7_lamp", true)
}

func TestCommand_PWMScaledAndClamped(t *testing.T) {
	b, rec, dev := newCommandBridge(t)

	b.Command(context.Background(), "p10", "50")
	b.Command(context.Background(), "p10", "500")

	sent := dev.sent()
	if len(sent) != 2 || sent[0] != "cmd 10:100" || sent[1] != "cmd 10:255" {
		t.Errorf("unexpected requests %v", sent)
	}
	expectValues(t, rec, "p10", 50.0, 127.5)
}

func TestCommand_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		value string
		err   error
	}{
		{name: "unknown id", id: "p99", value: "1", err: megad.ErrUnknownOrReadOnlyPort},
		{name: "input primary", id: "p1", value: "1", err: megad.ErrUnknownOrReadOnlyPort},
		{name: "adc", id: "a6", value: "1", err: megad.ErrUnknownOrReadOnlyPort},
		{name: "out of range", id: "p7_lamp", value: "3", err: megad.ErrInvalidCommandValue},
		{name: "not a number", id: "p7_lamp", value: "bright", err: megad.ErrInvalidCommandValue},
		{name: "negative counter", id: "p2_counter", value: "-1", err: megad.ErrInvalidCommandValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, rec, dev := newCommandBridge(t)
			err := b.Command(context.Background(), tt.id, tt.value)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if !IsRejection(err) {
				t.Errorf("expected a rejection")
			}
			if sent := dev.sent(); len(sent) != 0 {
				t.Errorf("device must not be contacted, got %v", sent)
			}
			if events := rec.all(); len(events) != 0 {
				t.Errorf("nothing must be published, got %v", events)
			}
			if b.Statistics().RejectedCommands != 1 {
				t.Errorf("expected one rejected command")
			}
		})
	}
}

func TestCommand_CounterReset(t *testing.T) {
	b, rec, dev := newCommandBridge(t)
	in := port(2, megad.PortSettings{Type: megad.TypeInput, Mode: megad.ModePressRelease})
	b.process(2, in.Decode("OFF/41"))

	if err := b.Command(context.Background(), "p2_counter", "0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent := dev.sent(); len(sent) != 1 || sent[0] != "cnt 2=0" {
		t.Errorf("unexpected requests %v", sent)
	}
	expectValues(t, rec, "p2_counter", 41.0, 0.0)

	st, _ := b.reg.State(2)
	if st.Secondary == nil || *st.Secondary != 0 {
		t.Errorf("counter state not updated: %v", st.Secondary)
	}
}

func TestCommand_DeviceFailure(t *testing.T) {
	b, rec, dev := newCommandBridge(t)
	dev.err = megad.ErrDeviceUnreachable

	err := b.Command(context.Background(), "p7_lamp", "1")
	if !errors.Is(err, megad.ErrDeviceUnreachable) {
		t.Fatalf("expected ErrDeviceUnreachable, got %v", err)
	}
	if IsRejection(err) {
		t.Errorf("device failure is not a rejection")
	}
	if events := rec.all(); len(events) != 0 {
		t.Errorf("failed command must not publish, got %v", events)
	}
}

func TestInstances_Command(t *testing.T) {
	b, _, dev := newCommandBridge(t)
	in := NewInstances(b)

	if err := in.Command(context.Background(), "0", "p7_lamp", "0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := in.Command(context.Background(), "megad9", "p7_lamp", "0"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}
	if len(dev.sent()) != 1 {
		t.Errorf("expected exactly one request, got %v", dev.sent())
	}
}
