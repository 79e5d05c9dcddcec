// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package megad

import (
	"fmt"
	"strings"
)

// FormatReading formats a decoded reading for a port into a human-readable string
func FormatReading(c PortConfig, r Reading) string {
	return fmt.Sprintf("%-16s %-4s %s", c.ID, c.Kind, FormatValue(c, r))
}

// FormatValue formats the value part of a reading
func FormatValue(c PortConfig, r Reading) string {
	var b strings.Builder

	switch {
	case r.Quality == QualitySensorAbsent:
		b.WriteString("NA (sensor absent)")
	case c.IsIButton():
		if r.Text == "" {
			b.WriteString("(no key)")
		} else {
			b.WriteString("key " + r.Text)
		}
	case c.IsBoolean():
		b.WriteString(FormatSwitch(r.Primary != 0))
	case c.IsPWM():
		fmt.Fprintf(&b, "%s (raw %s/%d)", FormatRaw(c.Scale(r.Primary)), FormatRaw(r.Primary), MaxPWMValue)
	case c.Kind == DigitalInput:
		b.WriteString(FormatRaw(r.Primary))
	default:
		b.WriteString(FormatRaw(c.Scale(r.Primary)))
	}

	if r.Secondary != nil {
		if c.HasHumidity() {
			fmt.Fprintf(&b, ", humidity %s%%", FormatRaw(*r.Secondary))
		} else {
			fmt.Fprintf(&b, ", count %s", FormatRaw(*r.Secondary))
		}
	}
	if r.Malformed {
		b.WriteString(" [malformed]")
	}
	return b.String()
}

// FormatSwitch returns the board's name for an on/off state
func FormatSwitch(on bool) string {
	if on {
		return TokenOn
	}
	return TokenOff
}

// FormatInputMode returns the human-readable name for an input mode
func FormatInputMode(m int) string {
	switch m {
	case ModePress:
		return "P"
	case ModePressRelease:
		return "P&R"
	case ModeRelease:
		return "R"
	default:
		return "UNKNOWN"
	}
}

// FormatSensor returns the human-readable name for a digital sensor subtype
func FormatSensor(d int) string {
	switch d {
	case SensorNone:
		return "NONE"
	case SensorDHT11:
		return "DHT11"
	case SensorDHT22:
		return "DHT22"
	case SensorOneWire:
		return "1WIRE"
	case SensorIButton:
		return "IBUTTON"
	default:
		return "UNKNOWN"
	}
}

// FormatPortConfig describes a port configuration on one line
func FormatPortConfig(c PortConfig) string {
	switch c.Kind {
	case DigitalInput:
		extra := ""
		if c.LongPress {
			extra += " long"
		}
		if c.DoublePress {
			extra += " double"
		}
		return fmt.Sprintf("%s IN mode=%s%s", c.ID, FormatInputMode(c.Mode), extra)
	case DigitalOutput:
		if c.IsPWM() {
			return fmt.Sprintf("%s OUT pwm factor=%s offset=%s", c.ID, FormatRaw(c.Factor), FormatRaw(c.Offset))
		}
		return fmt.Sprintf("%s OUT switch", c.ID)
	case AnalogInput:
		return fmt.Sprintf("%s ADC factor=%s offset=%s", c.ID, FormatRaw(c.Factor), FormatRaw(c.Offset))
	case DigitalSensor:
		return fmt.Sprintf("%s DSEN %s", c.ID, FormatSensor(c.Sensor))
	case InternalSensor:
		return fmt.Sprintf("%s I2C temperature", c.ID)
	}
	return fmt.Sprintf("%s NC", c.ID)
}
