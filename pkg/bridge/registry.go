// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"math"
	"sort"
	"sync"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// analogEpsilon is the tolerance below which two analog readings are equal.
const analogEpsilon = 1e-9

// PortState is the last known value of a port.
type PortState struct {
	Raw         float64
	Text        string
	Known       bool // at least one reading has been applied
	Previous    float64
	HasPrevious bool
	Secondary   *float64
	Quality     megad.Quality
}

// ClickState is the gesture state of a digital input.
type ClickState int

const (
	Idle ClickState = iota
	ArmedLong
	LongFired
	ArmedDouble
)

func (s ClickState) String() string {
	switch s {
	case ArmedLong:
		return "ARMED_LONG"
	case LongFired:
		return "LONG_FIRED"
	case ArmedDouble:
		return "ARMED_DOUBLE"
	}
	return "IDLE"
}

type timerRef struct {
	timer Timer
}

func (t *timerRef) stop() {
	if t != nil && t.timer != nil {
		t.timer.Stop()
	}
}

// portSlot owns the state and timers of one configured port. A slot is
// never reused: reconfiguration retires it and allocates a new one.
type portSlot struct {
	cfg       megad.PortConfig
	state     PortState
	long      *timerRef
	double    *timerRef
	longFired bool
	pulses    map[*timerRef]struct{}
	retired   bool
}

func (s *portSlot) clickState() ClickState {
	switch {
	case s.long != nil:
		return ArmedLong
	case s.longFired:
		return LongFired
	case s.double != nil:
		return ArmedDouble
	}
	return Idle
}

func (s *portSlot) retire() {
	s.retired = true
	s.long.stop()
	s.double.stop()
	for p := range s.pulses {
		p.stop()
	}
	s.long, s.double, s.pulses = nil, nil, nil
	s.longFired = false
}

// ChangeSet describes what a reading changed on a port.
type ChangeSet struct {
	Config           megad.PortConfig
	PrimaryChanged   bool
	QualityChanged   bool
	SecondaryChanged bool
	Previous         float64
	HasPrevious      bool
	Current          float64
	Text             string
	Secondary        *float64
	Quality          megad.Quality
	Synthetic        bool // built from a push rather than a reading
}

// Changed reports whether anything changed.
func (c ChangeSet) Changed() bool {
	return c.PrimaryChanged || c.QualityChanged || c.SecondaryChanged
}

// Initial reports whether this is the first reading of the port.
func (c ChangeSet) Initial() bool { return !c.HasPrevious }

// Rising reports an off to on transition of the primary value.
func (c ChangeSet) Rising() bool {
	return c.PrimaryChanged && c.HasPrevious && c.Previous == 0 && c.Current != 0
}

// Falling reports an on to off transition of the primary value.
func (c ChangeSet) Falling() bool {
	return c.PrimaryChanged && c.HasPrevious && c.Previous != 0 && c.Current == 0
}

type signalRef struct {
	index  int
	signal megad.Signal
}

// Registry holds the configuration and state of every port of one board.
// All state transitions happen under its mutex.
type Registry struct {
	mu    sync.Mutex
	slots []*portSlot
	ids   map[string]signalRef
}

// NewRegistry creates a registry configured with ports.
func NewRegistry(ports []megad.PortConfig) *Registry {
	r := &Registry{}
	r.configureLocked(ports)
	return r
}

// Configure replaces the port set. Timers of retired ports are cancelled
// before their state is released.
func (r *Registry) Configure(ports []megad.PortConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configureLocked(ports)
}

func (r *Registry) configureLocked(ports []megad.PortConfig) {
	for _, s := range r.slots {
		if s != nil {
			s.retire()
		}
	}

	size := 0
	for _, p := range ports {
		if p.Index+1 > size {
			size = p.Index + 1
		}
	}
	r.slots = make([]*portSlot, size)
	r.ids = make(map[string]signalRef)

	for _, p := range ports {
		if p.Index < 0 {
			continue
		}
		r.slots[p.Index] = &portSlot{cfg: p, pulses: map[*timerRef]struct{}{}}
		for _, sig := range p.Signals() {
			r.ids[p.SignalID(sig)] = signalRef{index: p.Index, signal: sig}
		}
	}
}

func (r *Registry) slotLocked(index int) *portSlot {
	if index < 0 || index >= len(r.slots) {
		return nil
	}
	return r.slots[index]
}

// Config returns the configuration of port index.
func (r *Registry) Config(index int) (megad.PortConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slotLocked(index)
	if s == nil || s.cfg.Kind == megad.Unconfigured {
		return megad.PortConfig{}, false
	}
	return s.cfg, true
}

// Configs returns every configured port in index order.
func (r *Registry) Configs() []megad.PortConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []megad.PortConfig
	for _, s := range r.slots {
		if s != nil && s.cfg.Kind != megad.Unconfigured {
			out = append(out, s.cfg)
		}
	}
	return out
}

// Resolve maps a public identifier to its port and signal.
func (r *Registry) Resolve(id string) (megad.PortConfig, megad.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.ids[id]
	if !ok {
		return megad.PortConfig{}, "", false
	}
	s := r.slotLocked(ref.index)
	if s == nil {
		return megad.PortConfig{}, "", false
	}
	return s.cfg, ref.signal, true
}

// IDs returns every public identifier, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// State returns the last known state of port index.
func (r *Registry) State(index int) (PortState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slotLocked(index)
	if s == nil || !s.state.Known {
		return PortState{}, false
	}
	return s.state, true
}

// ClickState returns the gesture state of port index.
func (r *Registry) ClickState(index int) ClickState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.slotLocked(index); s != nil {
		return s.clickState()
	}
	return Idle
}

// Has reports whether any port of the given kind is configured.
func (r *Registry) Has(kind megad.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasLocked(kind)
}

func (r *Registry) hasLocked(kind megad.Kind) bool {
	for _, s := range r.slots {
		if s != nil && s.cfg.Kind == kind {
			return true
		}
	}
	return false
}

// Apply records a reading for port index and reports whether it changed
// the port's state.
func (r *Registry) Apply(index int, rd megad.Reading) (ChangeSet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, cs, ok := r.applyLocked(index, rd)
	return cs, ok
}

func (r *Registry) applyLocked(index int, rd megad.Reading) (*portSlot, ChangeSet, bool) {
	s := r.slotLocked(index)
	if s == nil || s.cfg.Kind == megad.Unconfigured {
		return nil, ChangeSet{}, false
	}
	st := &s.state

	primaryChanged := !st.Known || !samePrimary(s.cfg, st.Raw, rd.Primary) || st.Text != rd.Text
	qualityChanged := st.Known && st.Quality != rd.Quality
	secondaryChanged := rd.Secondary != nil &&
		(st.Secondary == nil || !sameSecondary(s.cfg, *st.Secondary, *rd.Secondary))

	if !primaryChanged && !qualityChanged && !secondaryChanged {
		return s, ChangeSet{}, false
	}

	cs := ChangeSet{
		Config:           s.cfg,
		PrimaryChanged:   primaryChanged,
		QualityChanged:   qualityChanged,
		SecondaryChanged: secondaryChanged,
		Previous:         st.Raw,
		HasPrevious:      st.Known,
		Current:          rd.Primary,
		Text:             rd.Text,
		Quality:          rd.Quality,
	}

	st.Previous, st.HasPrevious = st.Raw, st.Known
	st.Raw, st.Text, st.Known = rd.Primary, rd.Text, true
	st.Quality = rd.Quality
	if rd.Secondary != nil {
		v := *rd.Secondary
		st.Secondary = &v
	}
	if st.Secondary != nil {
		v := *st.Secondary
		cs.Secondary = &v
	}
	return s, cs, true
}

// synthesizeLocked forces an off to on edge on a push-notified input.
func (r *Registry) synthesizeLocked(index int) (*portSlot, ChangeSet, bool) {
	s := r.slotLocked(index)
	if s == nil || s.cfg.Kind != megad.DigitalInput {
		return nil, ChangeSet{}, false
	}
	st := &s.state
	st.Previous, st.HasPrevious = 0, true
	st.Raw, st.Known = 1, true
	st.Quality = megad.QualityGood

	cs := ChangeSet{
		Config:         s.cfg,
		PrimaryChanged: true,
		Previous:       0,
		HasPrevious:    true,
		Current:        1,
		Synthetic:      true,
	}
	return s, cs, true
}

// forceLocked applies a reading and reports it as a primary change even when
// the value is unchanged, so repeated key reads are still published.
func (r *Registry) forceLocked(index int, rd megad.Reading) (*portSlot, ChangeSet, bool) {
	s, cs, changed := r.applyLocked(index, rd)
	if s == nil {
		return nil, ChangeSet{}, false
	}
	if !changed {
		cs = ChangeSet{
			Config:      s.cfg,
			Previous:    s.state.Raw,
			HasPrevious: true,
			Current:     s.state.Raw,
			Text:        s.state.Text,
			Quality:     s.state.Quality,
		}
	}
	cs.PrimaryChanged = true
	cs.Synthetic = true
	return s, cs, true
}

func samePrimary(cfg megad.PortConfig, a, b float64) bool {
	if cfg.IsAnalog() {
		return math.Abs(a-b) <= analogEpsilon
	}
	return a == b
}

func sameSecondary(cfg megad.PortConfig, a, b float64) bool {
	if cfg.HasHumidity() {
		return math.Abs(a-b) <= analogEpsilon
	}
	return a == b
}
