// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"fmt"

	"github.com/Thermoquad/megastat/pkg/megad"
)

// Notification is a single-port push from the board, or a message
// forwarded from another instance.
type Notification struct {
	Port  int
	Value string // iButton key when present
}

// Accepts reports whether a notification for port index can be handled.
func (b *Bridge) Accepts(index int) bool {
	_, ok := b.reg.Config(index)
	return ok
}

// Notify handles a push. Momentary inputs get a synthetic press and key
// readers take the pushed key; every other port is re-read from the device.
func (b *Bridge) Notify(ctx context.Context, n Notification) error {
	cfg, ok := b.reg.Config(n.Port)
	if !ok {
		return fmt.Errorf("%w: port %d", megad.ErrUnknownOrReadOnlyPort, n.Port)
	}
	b.metrics.countPush(b.name)
	b.record(func(s *Statistics) { s.RecordPush() })

	b.log.Debug().Str("port", cfg.ID).Str("value", n.Value).Msg("Push notification")

	switch {
	case cfg.IsMomentary():
		b.reg.mu.Lock()
		defer b.reg.mu.Unlock()
		if s, cs, ok := b.reg.synthesizeLocked(n.Port); ok {
			b.deb.edge(s, cs)
		}
		return nil

	case cfg.IsIButton():
		b.reg.mu.Lock()
		defer b.reg.mu.Unlock()
		if s, cs, ok := b.reg.forceLocked(n.Port, megad.DecodeIButton(n.Value)); ok {
			b.routeLocked(s, cs)
		}
		return nil
	}

	return b.PollOne(ctx, n.Port)
}

// NotifyAsync validates a push and handles it in the background, so the
// board gets its answer without waiting for a follow-up read.
func (b *Bridge) NotifyAsync(n Notification) error {
	if !b.Accepts(n.Port) {
		return fmt.Errorf("%w: port %d", megad.ErrUnknownOrReadOnlyPort, n.Port)
	}
	b.background(func(ctx context.Context) {
		if err := b.Notify(ctx, n); err != nil {
			b.log.Warn().Err(err).Int("port", n.Port).Msg("Push handling failed")
		}
	})
	return nil
}
