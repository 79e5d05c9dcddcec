// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge mirrors the ports of a MegaD-328 board as published signals.
//
// A Bridge owns the port registry of one board. Its poller reads the board
// on a fixed interval, push notifications trigger immediate updates, and
// commands are validated, sent and confirmed through the same registry.
// Every state change is delivered to a Sink as an Event.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// Default timings
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultRequestTimeout = megad.DefaultTimeout
)

// Device is the board API a bridge depends on. *megad.Client implements it.
type Device interface {
	PollAll(ctx context.Context) ([]string, error)
	PollOne(ctx context.Context, index int) (string, error)
	SendCommand(ctx context.Context, index, value int) (string, error)
	SendCounterReset(ctx context.Context, index, value int) (string, error)
	ReadInternalTemperature(ctx context.Context) (string, error)
}

// Options configures a Bridge.
type Options struct {
	Name           string
	Device         Device
	Ports          []megad.PortConfig
	Windows        megad.Windows
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Sink           Sink
	Clock          Clock
	Logger         zerolog.Logger
	Metrics        *Metrics
}

// Bridge connects one board to a Sink.
type Bridge struct {
	name           string
	device         Device
	reg            *Registry
	deb            *debouncer
	poller         *Poller
	sink           Sink
	clock          Clock
	log            zerolog.Logger
	metrics        *Metrics
	requestTimeout time.Duration

	connected bool // guarded by reg.mu

	statsMu sync.Mutex
	stats   *Statistics

	bgMu  sync.Mutex
	bgCtx context.Context
	bgWG  sync.WaitGroup
}

// New creates a bridge. It does not contact the device until Run.
func New(opts Options) *Bridge {
	if opts.Sink == nil {
		opts.Sink = Discard
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	b := &Bridge{
		name:           opts.Name,
		device:         opts.Device,
		reg:            NewRegistry(opts.Ports),
		sink:           opts.Sink,
		clock:          opts.Clock,
		log:            opts.Logger.With().Str("device", opts.Name).Logger(),
		metrics:        opts.Metrics,
		requestTimeout: opts.RequestTimeout,
		stats:          NewStatistics(),
		bgCtx:          context.Background(),
	}
	b.deb = &debouncer{
		lock:    &b.reg.mu,
		clock:   b.clock,
		windows: opts.Windows,
		emit:    b.emitSlotLocked,
		log:     b.log,
	}
	b.poller = &Poller{b: b, interval: opts.PollInterval}
	return b
}

// Name returns the device name used in events.
func (b *Bridge) Name() string { return b.name }

// Registry returns the port registry.
func (b *Bridge) Registry() *Registry { return b.reg }

// Poller returns the poller.
func (b *Bridge) Poller() *Poller { return b.poller }

// Reconfigure replaces the port set, cancelling every pending timer.
func (b *Bridge) Reconfigure(ports []megad.PortConfig) {
	b.reg.Configure(ports)
	b.log.Info().Int("ports", len(ports)).Msg("Ports reconfigured")
}

// Connected reports the connectivity of the last bulk poll.
func (b *Bridge) Connected() bool {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	return b.connected
}

// Statistics returns a snapshot of the bridge counters.
func (b *Bridge) Statistics() Statistics {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	s := *b.stats
	s.CalculateRates()
	return s
}

func (b *Bridge) record(f func(s *Statistics)) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	f(b.stats)
}

// Run announces the device as disconnected and polls it until ctx is
// cancelled. Background work started by push notifications is awaited
// before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	b.bgMu.Lock()
	b.bgCtx = ctx
	b.bgMu.Unlock()

	b.announce()
	b.log.Info().
		Int("ports", len(b.reg.Configs())).
		Dur("interval", b.poller.interval).
		Msg("Bridge started")

	err := b.poller.Run(ctx)
	b.bgWG.Wait()
	b.log.Info().Msg("Bridge stopped")
	return err
}

// background runs f outside the caller's goroutine, bound to the Run context.
func (b *Bridge) background(f func(ctx context.Context)) {
	b.bgMu.Lock()
	ctx := b.bgCtx
	b.bgMu.Unlock()

	b.bgWG.Add(1)
	go func() {
		defer b.bgWG.Done()
		f(ctx)
	}()
}

func (b *Bridge) announce() {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	b.connected = false
	b.metrics.setConnected(b.name, false)
	b.emitLocked(Event{ID: ConnectionID, Port: -1, Value: false})
}

// observeConnectivity records the outcome of a bulk poll and publishes
// only transitions.
func (b *Bridge) observeConnectivity(ok bool) {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	b.metrics.setConnected(b.name, ok)
	if b.connected == ok {
		return
	}
	b.connected = ok
	if ok {
		b.log.Info().Msg("Device connected")
	} else {
		b.log.Warn().Msg("Device disconnected")
	}
	b.emitLocked(Event{ID: ConnectionID, Port: -1, Value: ok})
}

func (b *Bridge) emitLocked(e Event) {
	e.Device = b.name
	e.Ack = true
	if e.Time.IsZero() {
		e.Time = b.clock.Now()
	}
	b.metrics.countEvent(b.name, e.Signal)
	b.sink.Emit(e)
}

func (b *Bridge) emitSlotLocked(s *portSlot, signal megad.Signal, value interface{}) {
	b.emitLocked(Event{
		ID:      s.cfg.SignalID(signal),
		Port:    s.cfg.Index,
		Signal:  signal,
		Value:   value,
		Quality: s.state.Quality,
	})
}

// process applies a reading and publishes what changed.
func (b *Bridge) process(index int, rd megad.Reading) bool {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	s, cs, ok := b.reg.applyLocked(index, rd)
	if !ok {
		return false
	}
	b.routeLocked(s, cs)
	return true
}

// routeLocked publishes a change set. Digital input edges go through the
// debouncer; every other kind is published directly.
func (b *Bridge) routeLocked(s *portSlot, cs ChangeSet) {
	cfg := s.cfg

	switch cfg.Kind {
	case megad.DigitalInput:
		switch {
		case cs.PrimaryChanged && cs.Initial():
			b.log.Debug().Str("port", cfg.ID).Float64("value", cs.Current).Msg("Discovered input state")
		case cs.PrimaryChanged:
			b.deb.edge(s, cs)
		case cs.QualityChanged:
			b.emitSlotLocked(s, megad.SignalPrimary, cs.Current != 0)
		}
		if cs.Secondary != nil && (cs.SecondaryChanged || cs.QualityChanged) {
			b.emitSlotLocked(s, megad.SignalCounter, *cs.Secondary)
		}

	case megad.DigitalSensor:
		if cfg.IsIButton() {
			if cs.PrimaryChanged || cs.QualityChanged {
				b.emitSlotLocked(s, megad.SignalPrimary, cs.Text)
			}
			return
		}
		if cs.PrimaryChanged || cs.QualityChanged {
			b.emitSlotLocked(s, megad.SignalPrimary, cfg.Scale(cs.Current))
		}
		if cfg.HasHumidity() && cs.Secondary != nil && (cs.SecondaryChanged || cs.QualityChanged) {
			b.emitSlotLocked(s, megad.SignalHumidity, *cs.Secondary)
		}

	case megad.DigitalOutput, megad.AnalogInput, megad.InternalSensor:
		if cs.PrimaryChanged || cs.QualityChanged {
			b.emitSlotLocked(s, megad.SignalPrimary, primaryValue(cfg, cs.Current))
		}
	}
}

func primaryValue(cfg megad.PortConfig, raw float64) interface{} {
	if cfg.IsBoolean() {
		return raw != 0
	}
	return cfg.Scale(raw)
}

// Snapshot returns the current value of every known signal, for clients
// that connect after the values were published.
func (b *Bridge) Snapshot() []Event {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()

	now := b.clock.Now()
	events := []Event{{Device: b.name, ID: ConnectionID, Port: -1, Value: b.connected, Ack: true, Time: now}}
	for _, s := range b.reg.slots {
		if s == nil || !s.state.Known || s.cfg.Kind == megad.Unconfigured {
			continue
		}
		cfg, st := s.cfg, s.state
		add := func(signal megad.Signal, value interface{}) {
			events = append(events, Event{
				Device:  b.name,
				ID:      cfg.SignalID(signal),
				Port:    cfg.Index,
				Signal:  signal,
				Value:   value,
				Ack:     true,
				Quality: st.Quality,
				Time:    now,
			})
		}

		switch {
		case cfg.IsIButton():
			add(megad.SignalPrimary, st.Text)
		case cfg.Kind == megad.DigitalInput:
			if st.Secondary != nil {
				add(megad.SignalCounter, *st.Secondary)
			}
		default:
			add(megad.SignalPrimary, primaryValue(cfg, st.Raw))
			if cfg.HasHumidity() && st.Secondary != nil {
				add(megad.SignalHumidity, *st.Secondary)
			}
		}
	}
	return events
}
