// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// PulseWidth is how long a click stays true before it is reset.
const PulseWidth = 100 * time.Millisecond

// debouncer turns edges of digital inputs into click, double click and long
// press signals. Every method runs with lock held; timer callbacks acquire
// it themselves and drop out when their slot was retired or their timer was
// replaced.
type debouncer struct {
	lock    sync.Locker
	clock   Clock
	windows megad.Windows
	emit    func(s *portSlot, signal megad.Signal, value interface{})
	log     zerolog.Logger
}

// edge handles a primary change of a digital input.
func (d *debouncer) edge(s *portSlot, cs ChangeSet) {
	cfg := s.cfg

	switch {
	case cs.Rising():
		if !cfg.LongPress {
			d.click(s)
			return
		}
		if s.long != nil {
			d.log.Warn().Str("port", cfg.ID).Msg("Rising edge while long press timer is running, ignoring")
			return
		}
		s.longFired = false
		s.long = d.after(s, d.windows.LongPress, func(ref *timerRef) {
			if s.long != ref {
				return
			}
			s.long = nil
			s.longFired = true
			d.emit(s, megad.SignalLong, true)
		})

	case cs.Falling():
		if !cfg.LongPress {
			return
		}
		switch {
		case s.long != nil:
			s.long.stop()
			s.long = nil
			d.click(s)
		case s.longFired:
			s.longFired = false
			d.emit(s, megad.SignalLong, false)
		}
	}
}

// click runs the short click sequence, deferring to the double click window
// when enabled.
func (d *debouncer) click(s *portSlot) {
	if !s.cfg.DoublePress {
		d.pulse(s, megad.SignalPrimary)
		return
	}
	if s.double != nil {
		s.double.stop()
		s.double = nil
		d.pulse(s, megad.SignalDouble)
		return
	}
	s.double = d.after(s, d.windows.DoublePress, func(ref *timerRef) {
		if s.double != ref {
			return
		}
		s.double = nil
		d.pulse(s, megad.SignalPrimary)
	})
}

// pulse emits true now and false after PulseWidth. Resets are only cancelled
// when the port is retired.
func (d *debouncer) pulse(s *portSlot, signal megad.Signal) {
	d.emit(s, signal, true)
	ref := &timerRef{}
	s.pulses[ref] = struct{}{}
	ref.timer = d.clock.AfterFunc(PulseWidth, func() {
		d.lock.Lock()
		defer d.lock.Unlock()
		if s.retired {
			return
		}
		if _, ok := s.pulses[ref]; !ok {
			return
		}
		delete(s.pulses, ref)
		d.emit(s, signal, false)
	})
}

func (d *debouncer) after(s *portSlot, wait time.Duration, fire func(ref *timerRef)) *timerRef {
	ref := &timerRef{}
	ref.timer = d.clock.AfterFunc(wait, func() {
		d.lock.Lock()
		defer d.lock.Unlock()
		if s.retired {
			return
		}
		fire(ref)
	})
	return ref
}
