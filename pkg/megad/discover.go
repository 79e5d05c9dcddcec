// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package megad

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"
)

// BroadcastAddresses returns the x.y.z.255 address of every non-loopback
// IPv4 interface.
func BroadcastAddresses() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var result []net.IP
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil {
			continue
		}
		result = append(result, net.IPv4(ip[0], ip[1], ip[2], 255))
	}
	return result, nil
}

// Discover broadcasts a discovery request on every local IPv4 subnet and
// collects the addresses of boards that answer within window.
func Discover(ctx context.Context, window time.Duration) ([]string, error) {
	targets, err := BroadcastAddresses()
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: DiscoverySource})
	if err != nil {
		return nil, fmt.Errorf("bind discovery socket: %w", err)
	}
	defer conn.Close()

	for _, ip := range targets {
		dst := &net.UDPAddr{IP: ip, Port: DiscoveryPort}
		if _, err := conn.WriteToUDP(discoveryRequest, dst); err != nil {
			return nil, fmt.Errorf("send discovery to %s: %w", ip, err)
		}
	}

	return collectReplies(ctx, conn, window)
}

func collectReplies(ctx context.Context, conn *net.UDPConn, window time.Duration) ([]string, error) {
	deadline := time.Now().Add(window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	buf := make([]byte, 512)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return nil, fmt.Errorf("read discovery reply: %w", err)
		}
		if n > 0 && buf[0] == discoveryRequest[0] {
			seen[addr.IP.String()] = true
		}
		if ctx.Err() != nil {
			break
		}
	}

	devices := make([]string, 0, len(seen))
	for ip := range seen {
		devices = append(devices, ip)
	}
	sort.Strings(devices)
	return devices, nil
}
