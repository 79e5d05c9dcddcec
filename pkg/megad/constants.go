// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package megad provides a Go implementation of the MegaD-328 HTTP query protocol.
//
// The MegaD-328 is an Ethernet I/O board that exposes its ports through plain
// HTTP GET requests under a per-device password path. This package provides
// the value codec for port tokens, the device client, the HTML configuration
// page reader and writer, and UDP discovery.
package megad

import "time"

// Port counts
const (
	MaxPorts       = 16 // MegaD-328 ports 0..15
	ADCPortOffset  = 8  // Ports 14 and 15 are called a6/a7 on the board
	FirstADCPort   = 14
	MaxPWMValue    = 255
	MaxThreshold   = 1023
	CommandToggle  = 2
	DefaultTimeout = 5 * time.Second
)

// Port types as reported in the pty field of the port page
const (
	TypeInput       = 0
	TypeOutput      = 1
	TypeADC         = 2
	TypeSensor      = 3
	TypeInternal    = 4
	TypeUnconnected = 255
)

// Input modes (m field of an input port)
const (
	ModePress        = 0 // P: board reports the press
	ModePressRelease = 1 // P&R: board reports both edges and counts
	ModeRelease      = 2 // R: board reports the release
)

// Output modes (m field of an output port)
const (
	OutputSwitch = 0
	OutputPWM    = 1
)

// Digital sensor subtypes (d field of a pty=3 port)
const (
	SensorNone    = 0
	SensorDHT11   = 1
	SensorDHT22   = 2
	SensorOneWire = 3
	SensorIButton = 4
)

// Query keys understood by the board
const (
	QueryCommand = "cmd"
	QueryPort    = "pt"
	QueryCounter = "cnt"
	QueryTemp    = "tget"
	QueryConfig  = "cf"
	QueryWrite   = "pn"
	QueryIButton = "ib"
)

// Token literals
const (
	TokenOn           = "ON"
	TokenOff          = "OFF"
	TokenNotAvailable = "NA"
)

// Discovery
const (
	DiscoveryPort   = 52000
	DiscoverySource = 42000
	DiscoveryWindow = 2 * time.Second
)

// discoveryRequest is the broadcast datagram that makes boards answer with their address.
var discoveryRequest = []byte{0xAA, 0x00, 0x0C}
