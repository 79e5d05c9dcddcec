// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// Command parses value and writes it to the signal named id. Unknown or
// read-only signals and invalid values are rejected without contacting the
// device. On success the confirmed value is published with Ack set.
func (b *Bridge) Command(ctx context.Context, id, value string) error {
	cfg, signal, ok := b.reg.Resolve(id)
	if !ok || !cfg.Writable(signal) {
		err := fmt.Errorf("%w: %s", megad.ErrUnknownOrReadOnlyPort, id)
		b.log.Error().Err(err).Msg("Command rejected")
		b.finishCommand(true, err)
		return err
	}

	v, err := megad.ParseCommandValue(value)
	if err != nil {
		b.log.Error().Err(err).Str("id", id).Msg("Command rejected")
		b.finishCommand(true, err)
		return err
	}
	return b.CommandValue(ctx, cfg, signal, v)
}

// CommandValue writes an already parsed value to one signal of a port.
func (b *Bridge) CommandValue(ctx context.Context, cfg megad.PortConfig, signal megad.Signal, value float64) error {
	if !cfg.Writable(signal) {
		err := fmt.Errorf("%w: %s", megad.ErrUnknownOrReadOnlyPort, cfg.SignalID(signal))
		b.finishCommand(true, err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	if signal == megad.SignalCounter {
		return b.resetCounter(ctx, cfg, value)
	}

	raw, clamped, err := megad.EncodeCommand(cfg, value)
	if err != nil {
		b.log.Error().Err(err).Str("port", cfg.ID).Msg("Command rejected")
		b.finishCommand(true, err)
		return err
	}
	if clamped {
		b.log.Warn().Str("port", cfg.ID).Float64("value", value).Int("raw", raw).Msg("Command value clamped to output range")
	}

	b.log.Debug().Str("port", cfg.ID).Int("raw", raw).Msg("Sending command")
	if _, err := b.device.SendCommand(ctx, cfg.Index, raw); err != nil {
		b.log.Warn().Err(err).Str("port", cfg.ID).Msg("Command failed")
		b.finishCommand(false, err)
		return err
	}
	b.finishCommand(false, nil)

	if raw == megad.CommandToggle && !cfg.IsPWM() {
		return b.PollOne(ctx, cfg.Index)
	}

	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	s, cs, changed := b.reg.applyLocked(cfg.Index, megad.Reading{Kind: cfg.Kind, Primary: float64(raw)})
	if s == nil {
		return nil
	}
	if changed {
		b.routeLocked(s, cs)
	} else {
		b.emitSlotLocked(s, megad.SignalPrimary, primaryValue(cfg, float64(raw)))
	}
	return nil
}

func (b *Bridge) resetCounter(ctx context.Context, cfg megad.PortConfig, value float64) error {
	n, err := megad.EncodeCounter(value)
	if err != nil {
		b.log.Error().Err(err).Str("port", cfg.ID).Msg("Counter reset rejected")
		b.finishCommand(true, err)
		return err
	}
	if _, err := b.device.SendCounterReset(ctx, cfg.Index, n); err != nil {
		b.log.Warn().Err(err).Str("port", cfg.ID).Msg("Counter reset failed")
		b.finishCommand(false, err)
		return err
	}
	b.finishCommand(false, nil)

	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	s := b.reg.slotLocked(cfg.Index)
	if s == nil || s.retired {
		return nil
	}
	count := float64(n)
	s.state.Secondary = &count
	b.emitSlotLocked(s, megad.SignalCounter, count)
	return nil
}

func (b *Bridge) finishCommand(rejected bool, err error) {
	result := "ok"
	switch {
	case rejected:
		result = "rejected"
	case err != nil:
		result = "error"
	}
	b.metrics.countCommand(b.name, result)
	b.record(func(s *Statistics) { s.RecordCommand(rejected, err) })
}

// IsRejection reports whether err is a command rejection that never reached
// the device.
func IsRejection(err error) bool {
	return errors.Is(err, megad.ErrInvalidCommandValue) || errors.Is(err, megad.ErrUnknownOrReadOnlyPort)
}
