// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package megad

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultWritePace is the pause between two configuration writes. Boards
// reboot their port logic after each write and drop requests that arrive
// too quickly.
const DefaultWritePace = time.Second

var ErrNoLocalAddress = errors.New("no local address on the device subnet")

// escapeComponent escapes a scenario string the way the board's web UI does.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(strings.TrimSpace(s)), "+", "%20")
}

// PortQuery builds the pn= query that writes the settings of one port. It
// reports false for the internal sensor port, which is not configurable.
func PortQuery(index int, s PortSettings) (string, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%d", QueryWrite, index)

	ecmd := s.Ecmd
	if ecmd == "ð=" {
		ecmd = ""
	}

	switch s.Type {
	case TypeInput:
		fmt.Fprintf(&b, "&pty=0&m=%d&ecmd=%s&eth=%s", s.Mode, escapeComponent(ecmd), escapeComponent(s.Eth))
		if s.NAF == 1 {
			b.WriteString("&naf=1")
		}
		if s.Misc == 1 {
			b.WriteString("&misc=1")
		}
		if s.Device == 1 {
			b.WriteString("&d=1")
		}

	case TypeOutput:
		d, _ := clampRound(float64(s.Device), 0, MaxPWMValue)
		fmt.Fprintf(&b, "&pty=1&m=%d&d=%d", s.Mode, d)
		if s.Mode == OutputPWM && s.Misc == 1 {
			fmt.Fprintf(&b, "&misc=1&m2=%d", s.Mode2)
		}

	case TypeADC:
		cfg := s.Config(index, Windows{})
		misc, _ := EncodeThreshold(cfg, s.Misc)
		fmt.Fprintf(&b, "&pty=2&m=%d&misc=%d&hst=%d&ecmd=%s&eth=%s",
			s.Mode, misc, s.Hysteresis, escapeComponent(ecmd), escapeComponent(s.Eth))
		if s.NAF == 1 {
			b.WriteString("&naf=1")
		}

	case TypeSensor:
		fmt.Fprintf(&b, "&pty=3&d=%d", s.Device)
		if s.Device == SensorOneWire {
			fmt.Fprintf(&b, "&m=%d&misc=%s&hst=%d&ecmd=%s&eth=%s",
				s.Mode, FormatRaw(s.Misc), s.Hysteresis, escapeComponent(ecmd), escapeComponent(s.Eth))
			if s.NAF == 1 {
				b.WriteString("&naf=1")
			}
		}

	case TypeInternal:
		return "", false

	default:
		b.WriteString("&pty=255")
	}
	return b.String(), true
}

// WriteResult reports the outcome of writing one port.
type WriteResult struct {
	Index   int
	Query   string
	Skipped bool
	Err     error
}

// Writer pushes configuration to a board.
type Writer struct {
	Client *Client
	Pace   time.Duration // pause between port writes
}

// WritePorts writes every port's settings sequentially, pausing Pace
// between writes. It stops early only when ctx is cancelled.
func (w *Writer) WritePorts(ctx context.Context, ports []PortSettings) []WriteResult {
	c, pace := w.Client, w.Pace
	results := make([]WriteResult, 0, len(ports))
	for i, s := range ports {
		query, ok := PortQuery(i, s)
		if !ok {
			results = append(results, WriteResult{Index: i, Skipped: true})
			continue
		}
		_, err := c.Write(ctx, query)
		results = append(results, WriteResult{Index: i, Query: query, Err: err})

		if ctx.Err() != nil {
			return results
		}
		if pace > 0 && i < len(ports)-1 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(pace):
			}
		}
	}
	return results
}

// DeviceUpdate describes a change to the device page. When neither Address
// nor Password is set the board is pointed at this host instead.
type DeviceUpdate struct {
	Address    string
	Password   string
	ServerIP   string // detected from the local interfaces when empty
	ServerPort int
	Script     string
}

// DeviceQuery builds the cf=1 query for update against a board currently
// reachable at host with password.
func DeviceQuery(host, password string, update DeviceUpdate) (string, error) {
	var b strings.Builder
	b.WriteString(QueryConfig + "=1")

	if update.Address != "" && update.Address != host {
		b.WriteString("&eip=" + update.Address)
	}
	if update.Password != "" && update.Password != password {
		b.WriteString("&pwd=" + update.Password)
	}

	if update.Address == "" && update.Password == "" {
		sip := update.ServerIP
		if sip == "" {
			var err error
			if sip, err = LocalAddressFor(host); err != nil {
				return "", err
			}
		}
		b.WriteString("&sip=" + sip)
		if update.ServerPort != 0 {
			b.WriteString(":" + strconv.Itoa(update.ServerPort))
		}
		b.WriteString("&sct=" + escapeComponent(update.Script))
	}
	return b.String(), nil
}

// WriteDevice applies a device page update and returns the query sent.
func (w *Writer) WriteDevice(ctx context.Context, update DeviceUpdate) (string, error) {
	query, err := DeviceQuery(w.Client.Host(), w.Client.Password(), update)
	if err != nil {
		return "", err
	}
	if _, err := w.Client.Write(ctx, query); err != nil {
		return query, err
	}
	return query, nil
}

// classfulMask returns the default mask for an IPv4 address class.
func classfulMask(ip net.IP) net.IPMask {
	switch {
	case ip[0] >= 192:
		return net.CIDRMask(24, 32)
	case ip[0] >= 128:
		return net.CIDRMask(16, 32)
	}
	return net.CIDRMask(8, 32)
}

// LocalAddressFor finds the local IPv4 address on the same classful subnet
// as host, so the board can push notifications back to it.
func LocalAddressFor(host string) (string, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "127.0.0.1", nil
	}
	target := net.ParseIP(host).To4()
	if target == nil {
		return "", fmt.Errorf("%w: %q is not an IPv4 address", ErrNoLocalAddress, host)
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		local := ipnet.IP.To4()
		if local == nil {
			continue
		}
		if sameClassfulNet(local, target) {
			return local.String(), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoLocalAddress, host)
}

func sameClassfulNet(local, target net.IP) bool {
	mask := classfulMask(local)
	return local.Mask(mask).Equal(target.Mask(mask))
}
