// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// ErrCycleInProgress is returned when a poll cycle is requested while the
// previous one is still waiting for the device.
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// Poller reads the board on a fixed interval. At most one cycle runs at a
// time; a tick that would overlap is skipped.
type Poller struct {
	b        *Bridge
	interval time.Duration
	busy     atomic.Bool
}

// Interval returns the poll interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Cycle(ctx)
		}()
	}

	start()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start()
		}
	}
}

// Cycle performs one bulk poll. Device failures are folded into
// connectivity and returned for logging; the next cycle retries.
func (p *Poller) Cycle(ctx context.Context) error {
	b := p.b
	if !p.busy.CompareAndSwap(false, true) {
		b.log.Warn().Msg("Previous poll cycle still running, skipping")
		b.metrics.observeCycle(b.name, "skipped", 0)
		b.record(func(s *Statistics) { s.RecordSkipped() })
		return ErrCycleInProgress
	}
	defer p.busy.Store(false)

	reqCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	started := time.Now()
	tokens, err := b.device.PollAll(reqCtx)
	if err != nil {
		b.log.Warn().Err(err).Msg("Bulk poll failed")
		b.metrics.observeCycle(b.name, "error", 0)
		b.record(func(s *Statistics) { s.RecordCycle(0, 0, 0, err) })
		b.observeConnectivity(false)
		return err
	}
	b.metrics.observeCycle(b.name, "ok", time.Since(started))
	b.observeConnectivity(true)

	malformed, changes := p.applyTokens(tokens)

	if b.reg.Has(megad.InternalSensor) {
		if c, err := p.readInternal(reqCtx); err != nil {
			b.log.Warn().Err(err).Msg("Internal temperature read failed")
		} else {
			changes += c
		}
	}

	b.record(func(s *Statistics) { s.RecordCycle(len(tokens), malformed, changes, nil) })
	return nil
}

func (p *Poller) applyTokens(tokens []string) (malformed, changes int) {
	b := p.b
	for i, token := range tokens {
		cfg, ok := b.reg.Config(i)
		if !ok || cfg.Kind == megad.InternalSensor {
			continue
		}
		rd := cfg.Decode(token)
		if rd.Malformed {
			malformed++
			b.log.Debug().Str("port", cfg.ID).Str("token", token).Msg("Malformed token, decoded as 0")
		}
		if b.process(i, rd) {
			changes++
		}
	}
	return malformed, changes
}

// readInternal reads the board temperature and routes it to every internal
// sensor port.
func (p *Poller) readInternal(ctx context.Context) (int, error) {
	b := p.b
	token, err := b.device.ReadInternalTemperature(ctx)
	if err != nil {
		return 0, err
	}
	changes := 0
	for _, cfg := range b.reg.Configs() {
		if cfg.Kind != megad.InternalSensor {
			continue
		}
		if b.process(cfg.Index, cfg.Decode(token)) {
			changes++
		}
	}
	return changes, nil
}

// PollOne reads a single port and publishes the result.
func (b *Bridge) PollOne(ctx context.Context, index int) error {
	cfg, ok := b.reg.Config(index)
	if !ok {
		return fmt.Errorf("%w: port %d", megad.ErrUnknownOrReadOnlyPort, index)
	}

	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	var token string
	var err error
	if cfg.Kind == megad.InternalSensor {
		token, err = b.device.ReadInternalTemperature(ctx)
	} else {
		token, err = b.device.PollOne(ctx, index)
	}
	if err != nil {
		b.log.Warn().Err(err).Str("port", cfg.ID).Msg("Port read failed")
		return err
	}
	b.process(index, cfg.Decode(token))
	return nil
}
