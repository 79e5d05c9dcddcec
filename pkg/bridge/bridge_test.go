// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// ============================================================
// Fake Clock
// ============================================================

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock fires timers only from Advance, in deadline order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{c: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// ============================================================
// Fake Device
// ============================================================

type fakeDevice struct {
	mu       sync.Mutex
	tokens   []string
	err      error
	ports    map[int]string
	temp     string
	commands []string
	block    chan struct{}
	entered  chan struct{}
}

func newFakeDevice(tokens ...string) *fakeDevice {
	return &fakeDevice{tokens: tokens, ports: map[int]string{}}
}

func (d *fakeDevice) set(tokens []string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens, d.err = tokens, err
}

func (d *fakeDevice) PollAll(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	block, entered := d.block, d.entered
	tokens, err := d.tokens, d.err
	d.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return tokens, err
}

func (d *fakeDevice) PollOne(ctx context.Context, index int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, fmt.Sprintf("get %d", index))
	return d.ports[index], d.err
}

func (d *fakeDevice) SendCommand(ctx context.Context, index, value int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, fmt.Sprintf("cmd %d:%d", index, value))
	return "Done", d.err
}

func (d *fakeDevice) SendCounterReset(ctx context.Context, index, value int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, fmt.Sprintf("cnt %d=%d", index, value))
	return "Done", d.err
}

func (d *fakeDevice) ReadInternalTemperature(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, "tget")
	return d.temp, d.err
}

func (d *fakeDevice) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// ============================================================
// Recording Sink
// ============================================================

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) byID(id string) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.ID == id {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) values(id string) []interface{} {
	var out []interface{}
	for _, e := range r.byID(id) {
		out = append(out, e.Value)
	}
	return out
}

func (r *recorder) ids() []string {
	seen := map[string]bool{}
	for _, e := range r.all() {
		seen[e.ID] = true
	}
	var out []string
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// ============================================================
// Helpers
// ============================================================

var testWindows = megad.Windows{LongPress: time.Second, DoublePress: 500 * time.Millisecond}

func port(index int, s megad.PortSettings) megad.PortConfig {
	return s.Config(index, testWindows)
}

func momentary(index int) megad.PortConfig {
	return port(index, megad.PortSettings{Type: megad.TypeInput, Mode: megad.ModePress})
}

func newTestBridge(t *testing.T, dev Device, ports ...megad.PortConfig) (*Bridge, *recorder, *fakeClock) {
	t.Helper()
	rec := &recorder{}
	clock := newFakeClock()
	b := New(Options{
		Name:    "megad0",
		Device:  dev,
		Ports:   ports,
		Windows: testWindows,
		Sink:    rec,
		Clock:   clock,
		Logger:  zerolog.Nop(),
	})
	return b, rec, clock
}

func expectValues(t *testing.T, rec *recorder, id string, expected ...interface{}) {
	t.Helper()
	got := rec.values(id)
	if len(got) != len(expected) {
		t.Fatalf("%s: expected %v, got %v", id, expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("%s event %d: expected %v, got %v", id, i, expected[i], got[i])
		}
	}
}

// ============================================================
// Snapshot Tests
// ============================================================

func TestSnapshot(t *testing.T) {
	out := port(7, megad.PortSettings{Type: megad.TypeOutput})
	dht := port(4, megad.PortSettings{Type: megad.TypeSensor, Device: megad.SensorDHT22})
	b, _, _ := newTestBridge(t, newFakeDevice(), out, dht)

	b.process(7, out.Decode("ON"))
	b.process(4, dht.Decode("temp:21.5/hum:40"))

	events := map[string]interface{}{}
	for _, e := range b.Snapshot() {
		events[e.ID] = e.Value
	}
	if events[ConnectionID] != false {
		t.Errorf("expected disconnected in snapshot, got %v", events[ConnectionID])
	}
	if events["p7"] != true || events["p4"] != 21.5 || events["p4_humidity"] != 40.0 {
		t.Errorf("unexpected snapshot %v", events)
	}
}

func TestFanout(t *testing.T) {
	a, c := &recorder{}, &recorder{}
	Fanout{a, nil, c}.Emit(Event{ID: "p1"})
	if len(a.all()) != 1 || len(c.all()) != 1 {
		t.Errorf("expected both sinks to receive the event")
	}
}
