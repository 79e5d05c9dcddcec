// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stream serves bridge events to websocket clients as CBOR frames
// and accepts commands over the same connection.
//
// Every frame is a two element CBOR array: [frame_type, payload_map], with
// small integer keys in the payload map.
package stream

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/megastat/pkg/bridge"
	"github.com/Thermoquad/megastat/pkg/megad"
)

// Frame types
const (
	FrameEvent   uint8 = 0x01
	FrameCommand uint8 = 0x02
	FrameResult  uint8 = 0x03
	FrameHello   uint8 = 0x04
)

// Event frame keys
const (
	EventKeyDevice  = 0
	EventKeyID      = 1
	EventKeyPort    = 2
	EventKeySignal  = 3
	EventKeyValue   = 4
	EventKeyAck     = 5
	EventKeyQuality = 6
	EventKeyTime    = 7
)

// Command frame keys
const (
	CommandKeyDevice  = 0
	CommandKeyID      = 1
	CommandKeyValue   = 2
	CommandKeyRequest = 3
)

// Result frame keys
const (
	ResultKeyRequest = 0
	ResultKeyOK      = 1
	ResultKeyError   = 2
)

// Hello frame keys
const (
	HelloKeyDevices = 0
	HelloKeyVersion = 1
)

// Command is a command frame sent by a client.
type Command struct {
	Device  string
	ID      string
	Value   string
	Request uint64
}

// Result answers a command frame.
type Result struct {
	Request uint64
	OK      bool
	Error   string
}

// Hello is the first frame a client receives.
type Hello struct {
	Devices []string
	Version string
}

// EncodeFrame builds a CBOR frame: [frame_type, payload_map]
func EncodeFrame(frameType uint8, payload map[int]interface{}) ([]byte, error) {
	var msg interface{}
	if len(payload) == 0 {
		msg = []interface{}{uint64(frameType), nil}
	} else {
		msg = []interface{}{uint64(frameType), payload}
	}
	return cbor.Marshal(msg)
}

// ParseFrame parses a CBOR frame.
// Returns the frame type and decoded payload map (nil for empty payloads)
func ParseFrame(data []byte) (frameType uint8, payload map[int]interface{}, err error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR frame")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}

	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	switch v := msg[0].(type) {
	case uint64:
		if v > 255 {
			return 0, nil, fmt.Errorf("frame type out of range: %d", v)
		}
		frameType = uint8(v)
	default:
		return 0, nil, fmt.Errorf("expected uint for frame type, got %T", msg[0])
	}

	if msg[1] == nil {
		return frameType, nil, nil
	}

	switch v := msg[1].(type) {
	case map[interface{}]interface{}:
		payload = make(map[int]interface{}, len(v))
		for key, val := range v {
			switch k := key.(type) {
			case uint64:
				payload[int(k)] = val
			case int64:
				payload[int(k)] = val
			default:
				return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
			}
		}
	default:
		return 0, nil, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}

	return frameType, payload, nil
}

// EncodeEvent encodes a bridge event as an event frame.
func EncodeEvent(e bridge.Event) ([]byte, error) {
	return EncodeFrame(FrameEvent, map[int]interface{}{
		EventKeyDevice:  e.Device,
		EventKeyID:      e.ID,
		EventKeyPort:    int64(e.Port),
		EventKeySignal:  string(e.Signal),
		EventKeyValue:   e.Value,
		EventKeyAck:     e.Ack,
		EventKeyQuality: uint64(e.Quality),
		EventKeyTime:    e.Time.UnixMilli(),
	})
}

// DecodeEvent decodes the payload of an event frame.
func DecodeEvent(m map[int]interface{}) (bridge.Event, error) {
	var e bridge.Event
	var ok bool

	if e.Device, ok = GetMapString(m, EventKeyDevice); !ok {
		return e, fmt.Errorf("event frame without device")
	}
	if e.ID, ok = GetMapString(m, EventKeyID); !ok {
		return e, fmt.Errorf("event frame without id")
	}
	port, _ := GetMapInt(m, EventKeyPort)
	e.Port = int(port)
	signal, _ := GetMapString(m, EventKeySignal)
	e.Signal = megad.Signal(signal)
	e.Ack, _ = GetMapBool(m, EventKeyAck)
	if q, ok := GetMapUint(m, EventKeyQuality); ok {
		e.Quality = megad.Quality(q)
	}
	if ms, ok := GetMapInt(m, EventKeyTime); ok {
		e.Time = time.UnixMilli(ms)
	}

	switch v := m[EventKeyValue].(type) {
	case bool, string:
		e.Value = v
	case nil:
		return e, fmt.Errorf("event frame without value")
	default:
		f, ok := GetMapFloat(m, EventKeyValue)
		if !ok {
			return e, fmt.Errorf("unsupported event value type %T", v)
		}
		e.Value = f
	}
	return e, nil
}

// EncodeCommand encodes a command frame.
func EncodeCommand(c Command) ([]byte, error) {
	return EncodeFrame(FrameCommand, map[int]interface{}{
		CommandKeyDevice:  c.Device,
		CommandKeyID:      c.ID,
		CommandKeyValue:   c.Value,
		CommandKeyRequest: c.Request,
	})
}

// DecodeCommand decodes the payload of a command frame.
func DecodeCommand(m map[int]interface{}) (Command, error) {
	var c Command
	var ok bool

	if c.Device, ok = GetMapString(m, CommandKeyDevice); !ok {
		return c, fmt.Errorf("command frame without device")
	}
	if c.ID, ok = GetMapString(m, CommandKeyID); !ok {
		return c, fmt.Errorf("command frame without id")
	}

	// Clients may send the value as text, a number or a boolean
	switch v := m[CommandKeyValue].(type) {
	case string:
		c.Value = v
	case bool:
		c.Value = fmt.Sprint(v)
	case nil:
		return c, fmt.Errorf("command frame without value")
	default:
		f, ok := GetMapFloat(m, CommandKeyValue)
		if !ok {
			return c, fmt.Errorf("unsupported command value type %T", v)
		}
		c.Value = megad.FormatRaw(f)
	}

	c.Request, _ = GetMapUint(m, CommandKeyRequest)
	return c, nil
}

// EncodeResult encodes a result frame.
func EncodeResult(r Result) ([]byte, error) {
	payload := map[int]interface{}{
		ResultKeyRequest: r.Request,
		ResultKeyOK:      r.OK,
	}
	if r.Error != "" {
		payload[ResultKeyError] = r.Error
	}
	return EncodeFrame(FrameResult, payload)
}

// DecodeResult decodes the payload of a result frame.
func DecodeResult(m map[int]interface{}) Result {
	var r Result
	r.Request, _ = GetMapUint(m, ResultKeyRequest)
	r.OK, _ = GetMapBool(m, ResultKeyOK)
	r.Error, _ = GetMapString(m, ResultKeyError)
	return r
}

// EncodeHello encodes a hello frame.
func EncodeHello(h Hello) ([]byte, error) {
	devices := make([]interface{}, len(h.Devices))
	for i, d := range h.Devices {
		devices[i] = d
	}
	return EncodeFrame(FrameHello, map[int]interface{}{
		HelloKeyDevices: devices,
		HelloKeyVersion: h.Version,
	})
}

// DecodeHello decodes the payload of a hello frame.
func DecodeHello(m map[int]interface{}) Hello {
	var h Hello
	h.Version, _ = GetMapString(m, HelloKeyVersion)
	if list, ok := m[HelloKeyDevices].([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				h.Devices = append(h.Devices, s)
			}
		}
	}
	return h
}

// Map value extraction helpers

// GetMapString extracts a string from a CBOR map by key
func GetMapString(m map[int]interface{}, key int) (string, bool) {
	if m == nil {
		return "", false
	}
	if val, ok := m[key].(string); ok {
		return val, true
	}
	return "", false
}

// GetMapUint extracts a uint64 from a CBOR map by key
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	if m == nil {
		return 0, false
	}
	switch val := m[key].(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

// GetMapInt extracts an int64 from a CBOR map by key
func GetMapInt(m map[int]interface{}, key int) (int64, bool) {
	if m == nil {
		return 0, false
	}
	switch val := m[key].(type) {
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	}
	return 0, false
}

// GetMapFloat extracts a float64 from a CBOR map by key
func GetMapFloat(m map[int]interface{}, key int) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch val := m[key].(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// GetMapBool extracts a bool from a CBOR map by key
func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	if m == nil {
		return false, false
	}
	if val, ok := m[key].(bool); ok {
		return val, true
	}
	return false, false
}
