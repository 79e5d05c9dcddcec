// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"time"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// ConnectionID is the identifier of a device's connectivity signal.
const ConnectionID = "info.connection"

// Event is one value published by a bridge.
type Event struct {
	Device  string
	ID      string
	Port    int // -1 for device level signals
	Signal  megad.Signal
	Value   interface{} // bool, float64 or string
	Ack     bool
	Quality megad.Quality
	Time    time.Time
}

// Sink receives events. Emit is called with the registry lock held and
// must not block or call back into the bridge.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Fanout delivers each event to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
