// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

var ErrUnknownDevice = errors.New("unknown device")

// Instances is the set of bridges served by one process. Devices are
// addressed by name or by their position in the set.
type Instances struct {
	list   []*Bridge
	byName map[string]*Bridge
}

// NewInstances creates a set from bridges in order.
func NewInstances(bridges ...*Bridge) *Instances {
	in := &Instances{byName: make(map[string]*Bridge, len(bridges))}
	for _, b := range bridges {
		in.list = append(in.list, b)
		in.byName[b.Name()] = b
	}
	return in
}

// All returns every bridge in order.
func (in *Instances) All() []*Bridge { return in.list }

// Lookup finds a bridge by name or numeric index.
func (in *Instances) Lookup(device string) (*Bridge, bool) {
	if b, ok := in.byName[device]; ok {
		return b, true
	}
	if i, err := strconv.Atoi(device); err == nil && i >= 0 && i < len(in.list) {
		return in.list[i], true
	}
	return nil, false
}

// Command routes a command to the named device.
func (in *Instances) Command(ctx context.Context, device, id, value string) error {
	b, ok := in.Lookup(device)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, device)
	}
	return b.Command(ctx, id, value)
}

// Notify forwards a notification to the named device.
func (in *Instances) Notify(ctx context.Context, device string, n Notification) error {
	b, ok := in.Lookup(device)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, device)
	}
	return b.Notify(ctx, n)
}

// Snapshot returns the current signals of every device.
func (in *Instances) Snapshot() []Event {
	var events []Event
	for _, b := range in.list {
		events = append(events, b.Snapshot()...)
	}
	return events
}

// Run runs every bridge until ctx is cancelled.
func (in *Instances) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, b := range in.list {
		wg.Add(1)
		go func(b *Bridge) {
			defer wg.Done()
			b.Run(ctx)
		}(b)
	}
	wg.Wait()
	return ctx.Err()
}
