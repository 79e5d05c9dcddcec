// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// ============================================================
// Push Tests
// ============================================================

func newPushServer(t *testing.T) (*httptest.Server, *Bridge, *recorder, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice()
	b, rec, _ := newTestBridge(t, dev,
		momentary(1),
		port(3, megad.PortSettings{Type: megad.TypeSensor, Device: megad.SensorIButton}),
		port(14, megad.PortSettings{Type: megad.TypeADC, Factor: 0.1}),
	)
	router := mux.NewRouter()
	NewPushHandler(NewInstances(b), zerolog.Nop()).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, b, rec, dev
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestPush_MomentaryInput(t *testing.T) {
	srv, b, rec, dev := newPushServer(t)

	status, body := get(t, srv.URL+"/megad0/?pt=1&prettyPrint=1")
	if status != http.StatusOK || body != "OK" {
		t.Fatalf("expected 200 OK, got %d %q", status, body)
	}
	b.bgWG.Wait()

	expectValues(t, rec, "p1", true)
	if sent := dev.sent(); len(sent) != 0 {
		t.Errorf("momentary push must not read the device, got %v", sent)
	}

	// A second push is again a rising edge
	get(t, srv.URL+"/megad0/?pt=1")
	b.bgWG.Wait()
	expectValues(t, rec, "p1", true, true)
}

func TestPush_IButton(t *testing.T) {
	srv, b, rec, _ := newPushServer(t)

	for i := 0; i < 2; i++ {
		if status, _ := get(t, srv.URL+"/0/?pt=3&ib=0A1B2C3D4E5F"); status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		b.bgWG.Wait()
	}
	expectValues(t, rec, "p3", "0A1B2C3D4E5F", "0A1B2C3D4E5F")
}

func TestPush_AnalogTriggersRead(t *testing.T) {
	srv, b, rec, dev := newPushServer(t)
	dev.ports[14] = "512"

	if status, _ := get(t, srv.URL+"/megad0/?pt=14"); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	b.bgWG.Wait()

	if sent := dev.sent(); len(sent) != 1 || sent[0] != "get 14" {
		t.Errorf("expected a port read, got %v", sent)
	}
	expectValues(t, rec, "a6", 51.2)
}

func TestPush_Errors(t *testing.T) {
	srv, _, _, _ := newPushServer(t)

	tests := []struct {
		name string
		path string
	}{
		{"unknown device", "/megad9/?pt=1"},
		{"unconfigured port", "/megad0/?pt=9"},
		{"missing port", "/megad0/"},
		{"malformed port", "/megad0/?pt=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, srv.URL+tt.path)
			if status != http.StatusInternalServerError {
				t.Errorf("expected 500, got %d", status)
			}
			if body == "" {
				t.Errorf("expected a descriptive body")
			}
		})
	}
}

func TestNotify_Forwarded(t *testing.T) {
	_, b, rec, _ := newPushServer(t)
	in := NewInstances(b)

	if err := in.Notify(context.Background(), "megad0", Notification{Port: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectValues(t, rec, "p1", true)

	err := in.Notify(context.Background(), "megad0", Notification{Port: 12})
	if !errors.Is(err, megad.ErrUnknownOrReadOnlyPort) {
		t.Errorf("expected ErrUnknownOrReadOnlyPort, got %v", err)
	}
}
