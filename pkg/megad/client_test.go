// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package megad

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// ============================================================
// Test Board
// ============================================================

// queryLog records the raw queries a test board received
type queryLog struct {
	mu      sync.Mutex
	queries []string
}

func (l *queryLog) add(q string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, q)
}

func (l *queryLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.queries...)
}

// newTestBoard starts an HTTP server that records queries under /sec/ and
// answers them with respond.
func newTestBoard(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*Client, *queryLog) {
	t.Helper()
	log := &queryLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sec/" {
			http.NotFound(w, r)
			return
		}
		log.add(r.URL.RawQuery)
		respond(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "sec"), log
}

func TestClient_PollAll(t *testing.T) {
	c, queries := newTestBoard(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ON;OFF;27/3;NA"))
	})

	tokens, err := c.PollAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"ON", "OFF", "27/3", "NA"}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	for i := range expected {
		if tokens[i] != expected[i] {
			t.Errorf("token %d: expected %q, got %q", i, expected[i], tokens[i])
		}
	}
	if got := queries.all(); len(got) != 1 || got[0] != "cmd=all" {
		t.Errorf("expected cmd=all, got %v", got)
	}
}

func TestClient_Queries(t *testing.T) {
	c, queries := newTestBoard(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	ctx := context.Background()

	c.PollOne(ctx, 3)
	c.SendCommand(ctx, 7, 1)
	c.SendCounterReset(ctx, 2, 0)
	c.ReadInternalTemperature(ctx)
	c.ReadPortPage(ctx, 5)
	c.ReadDevicePage(ctx)

	expected := []string{"pt=3&cmd=get", "cmd=7:1", "pt=2&cnt=0", "tget=1", "pt=5", "cf=1"}
	got := queries.all()
	if len(got) != len(expected) {
		t.Fatalf("expected %d queries, got %v", len(expected), got)
	}
	for i, q := range expected {
		if got[i] != q {
			t.Errorf("query %d: expected %q, got %q", i, q, got[i])
		}
	}
}

func TestClient_HTTPError(t *testing.T) {
	c, _ := newTestBoard(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})

	_, err := c.PollAll(context.Background())
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Fatalf("expected ErrDeviceUnreachable, got %v", err)
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected RequestError with status 401, got %v", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(addr, "sec").PollOne(context.Background(), 1)
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Errorf("expected ErrDeviceUnreachable, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sec", WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.PollAll(context.Background())
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Errorf("expected ErrDeviceUnreachable, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout not applied, took %s", time.Since(start))
	}
}

func TestClient_EmptyBulkResponse(t *testing.T) {
	c, _ := newTestBoard(t, func(w http.ResponseWriter, r *http.Request) {})

	if _, err := c.PollAll(context.Background()); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestClient_Address(t *testing.T) {
	c := NewClient("192.168.0.14:8080", "sec")
	if c.Address() != "192.168.0.14:8080" {
		t.Errorf("expected address with port, got %q", c.Address())
	}
	if c.Host() != "192.168.0.14" {
		t.Errorf("expected bare host, got %q", c.Host())
	}
}
