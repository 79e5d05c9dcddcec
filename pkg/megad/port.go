// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package megad

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// Kind is the role a port plays on the board.
type Kind uint8

const (
	Unconfigured Kind = iota
	DigitalInput
	DigitalOutput
	AnalogInput
	DigitalSensor
	InternalSensor
)

// KindFromType maps a pty field value to a Kind.
func KindFromType(pty int) Kind {
	switch pty {
	case TypeInput:
		return DigitalInput
	case TypeOutput:
		return DigitalOutput
	case TypeADC:
		return AnalogInput
	case TypeSensor:
		return DigitalSensor
	case TypeInternal:
		return InternalSensor
	}
	return Unconfigured
}

// Type returns the pty field value for the kind.
func (k Kind) Type() int {
	switch k {
	case DigitalInput:
		return TypeInput
	case DigitalOutput:
		return TypeOutput
	case AnalogInput:
		return TypeADC
	case DigitalSensor:
		return TypeSensor
	case InternalSensor:
		return TypeInternal
	}
	return TypeUnconnected
}

func (k Kind) String() string {
	switch k {
	case DigitalInput:
		return "IN"
	case DigitalOutput:
		return "OUT"
	case AnalogInput:
		return "ADC"
	case DigitalSensor:
		return "DSEN"
	case InternalSensor:
		return "I2C"
	}
	return "NC"
}

// Signal names one of the values a port publishes. The empty signal is the
// port's primary value.
type Signal string

const (
	SignalPrimary  Signal = ""
	SignalLong     Signal = "long"
	SignalDouble   Signal = "double"
	SignalCounter  Signal = "counter"
	SignalHumidity Signal = "humidity"
)

// Windows holds the adapter-wide click timing. A zero window disables the
// corresponding gesture on every port.
type Windows struct {
	LongPress   time.Duration
	DoublePress time.Duration
}

// PortConfig is the immutable per-port configuration the bridge works with.
type PortConfig struct {
	Index       int
	ID          string
	Name        string
	Role        string
	Kind        Kind
	Mode        int // m field; input or output mode depending on Kind
	Sensor      int // d field of a digital sensor
	Factor      float64
	Offset      float64
	LongPress   bool
	DoublePress bool
}

// IsBoolean reports whether the port carries an on/off value.
func (c PortConfig) IsBoolean() bool {
	switch c.Kind {
	case DigitalInput:
		return c.Mode != ModePressRelease
	case DigitalOutput:
		return c.Mode != OutputPWM
	}
	return false
}

// IsMomentary reports whether the port is a push-button input that only
// reports presses.
func (c PortConfig) IsMomentary() bool {
	return c.Kind == DigitalInput && c.Mode != ModePressRelease
}

// IsPWM reports whether the port is a dimmable output.
func (c PortConfig) IsPWM() bool {
	return c.Kind == DigitalOutput && c.Mode == OutputPWM
}

// IsAnalog reports whether the port value is a measured quantity.
func (c PortConfig) IsAnalog() bool {
	switch c.Kind {
	case AnalogInput, InternalSensor:
		return true
	case DigitalSensor:
		return c.Sensor != SensorIButton
	case DigitalOutput:
		return c.Mode == OutputPWM
	}
	return false
}

// IsIButton reports whether the port is a 1-Wire key reader.
func (c PortConfig) IsIButton() bool {
	return c.Kind == DigitalSensor && c.Sensor == SensorIButton
}

// HasHumidity reports whether the port's sensor reports relative humidity.
func (c PortConfig) HasHumidity() bool {
	return c.Kind == DigitalSensor && (c.Sensor == SensorDHT11 || c.Sensor == SensorDHT22)
}

// Signals lists every signal the port publishes, primary first.
func (c PortConfig) Signals() []Signal {
	switch c.Kind {
	case DigitalInput:
		signals := []Signal{SignalPrimary}
		if c.LongPress {
			signals = append(signals, SignalLong)
		}
		if c.DoublePress {
			signals = append(signals, SignalDouble)
		}
		return append(signals, SignalCounter)
	case DigitalSensor:
		if c.HasHumidity() {
			return []Signal{SignalPrimary, SignalHumidity}
		}
		return []Signal{SignalPrimary}
	case DigitalOutput, AnalogInput, InternalSensor:
		return []Signal{SignalPrimary}
	}
	return nil
}

// Writable reports whether a signal accepts commands.
func (c PortConfig) Writable(s Signal) bool {
	switch {
	case c.Kind == DigitalOutput && s == SignalPrimary:
		return true
	case c.Kind == DigitalInput && s == SignalCounter:
		return true
	}
	return false
}

// SignalID returns the public identifier of one of the port's signals.
func (c PortConfig) SignalID(s Signal) string {
	if s == SignalPrimary {
		return c.ID
	}
	return c.ID + "_" + string(s)
}

// Scale converts a raw device value into engineering units.
func (c PortConfig) Scale(raw float64) float64 {
	factor := c.Factor
	if factor == 0 {
		factor = 1
	}
	return math.Round((raw*factor+c.Offset)*1000) / 1000
}

// Unscale converts an engineering value back into raw device units.
func (c PortConfig) Unscale(v float64) float64 {
	factor := c.Factor
	if factor == 0 {
		factor = 1
	}
	return (v - c.Offset) / factor
}

var nameSanitizer = regexp.MustCompile(`[\s.]`)

// PortID builds the stable identifier of a port: p<N>, or a<N-8> for the
// two ADC-only ports, followed by the sanitized name.
func PortID(index int, name string) string {
	id := fmt.Sprintf("p%d", index)
	if index == FirstADCPort || index == FirstADCPort+1 {
		id = fmt.Sprintf("a%d", index-ADCPortOffset)
	}
	if name != "" {
		id += "_" + nameSanitizer.ReplaceAllString(name, "_")
	}
	return id
}

// PortSettings is the stored and device-side configuration of one port,
// named after the fields of the board's port page.
type PortSettings struct {
	Type       int     `json:"pty"`
	Mode       int     `json:"m"`
	Device     int     `json:"d"`
	Misc       float64 `json:"misc"`
	Mode2      int     `json:"m2,omitempty"`
	NAF        int     `json:"naf,omitempty"`
	Hysteresis int     `json:"hst,omitempty"`
	Ecmd       string  `json:"ecmd,omitempty"`
	Eth        string  `json:"eth,omitempty"`
	Name       string  `json:"name,omitempty"`
	Role       string  `json:"role,omitempty"`
	Factor     float64 `json:"factor,omitempty"`
	Offset     float64 `json:"offset,omitempty"`
	LongPress  bool    `json:"long,omitempty"`
	Double     bool    `json:"double,omitempty"`
}

// Unconnected returns settings for a port that is not wired.
func Unconnected() PortSettings {
	return PortSettings{Type: TypeUnconnected}
}

// Config resolves the settings of port index into a PortConfig. Click
// gestures are only enabled when their adapter-wide window is set.
func (s PortSettings) Config(index int, w Windows) PortConfig {
	kind := KindFromType(s.Type)
	cfg := PortConfig{
		Index:  index,
		ID:     PortID(index, s.Name),
		Name:   s.Name,
		Role:   s.Role,
		Kind:   kind,
		Mode:   s.Mode,
		Factor: s.Factor,
		Offset: s.Offset,
	}
	if cfg.Factor == 0 {
		cfg.Factor = 1
	}
	if kind == DigitalSensor {
		cfg.Sensor = s.Device
	}
	if kind == DigitalInput {
		cfg.LongPress = s.LongPress && s.Mode == ModePressRelease && w.LongPress > 0
		cfg.DoublePress = s.Double && w.DoublePress > 0
	}
	return cfg
}
