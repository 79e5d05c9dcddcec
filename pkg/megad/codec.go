// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package megad

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Quality flags attached to a reading
type Quality uint8

const (
	QualityGood         Quality = 0x00
	QualitySensorAbsent Quality = 0x82
)

// Reading is one decoded port token.
type Reading struct {
	Kind      Kind
	Primary   float64
	Text      string   // iButton key, empty otherwise
	Secondary *float64 // counter or humidity when present
	Quality   Quality
	Malformed bool // primary part was not numeric and decoded as 0
}

// HasSecondary reports whether the token carried a secondary value.
func (r Reading) HasSecondary() bool { return r.Secondary != nil }

var (
	tempPattern   = regexp.MustCompile(`temp:([0-9.+-]+)`)
	humPattern    = regexp.MustCompile(`hum:([0-9.+-]+)`)
	numberPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// Decode converts a port token into a Reading. It never fails; tokens that
// cannot be parsed decode as 0 with Malformed set.
func Decode(kind Kind, token string) Reading {
	r := Reading{Kind: kind}
	token = strings.TrimSpace(token)

	parts := strings.Split(token, "/")
	primary := parts[0]

	if m := tempPattern.FindStringSubmatch(token); m != nil {
		primary = m[1]
		if h := humPattern.FindStringSubmatch(token); h != nil {
			if v, ok := parseNumber(h[1]); ok {
				r.Secondary = &v
			}
		}
	}

	// a/b tokens carry a counter in the second part
	if len(parts) > 1 && r.Secondary == nil {
		if v, ok := parseNumber(parts[1]); ok {
			count := math.Trunc(v)
			r.Secondary = &count
		}
	}

	switch strings.TrimSpace(primary) {
	case TokenOn:
		r.Primary = 1
	case TokenOff:
		r.Primary = 0
	case TokenNotAvailable:
		r.Primary = 0
		r.Quality = QualitySensorAbsent
	case "":
		r.Primary = 0
	default:
		v, ok := parseNumber(primary)
		if !ok {
			r.Malformed = true
		}
		r.Primary = v
	}

	return r
}

// DecodeIButton wraps a raw 1-Wire key token.
func DecodeIButton(token string) Reading {
	token = strings.TrimSpace(token)
	r := Reading{Kind: DigitalSensor, Text: token}
	if token == TokenNotAvailable {
		r.Text = ""
		r.Quality = QualitySensorAbsent
	}
	return r
}

// Decode converts a token according to the port's configuration: iButton
// readers keep the raw text and boolean ports are coerced to 0 or 1.
func (c PortConfig) Decode(token string) Reading {
	if c.IsIButton() {
		return DecodeIButton(token)
	}
	r := Decode(c.Kind, token)
	if c.IsBoolean() && r.Primary != 0 {
		r.Primary = 1
	}
	return r
}

// parseNumber parses the longest numeric prefix of s. It reports false, with
// a zero value, when s does not start with a number.
func parseNumber(s string) (float64, bool) {
	m := numberPattern.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseCommandValue parses a user supplied command value. Booleans and the
// word toggle are accepted alongside numbers.
func ParseCommandValue(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on":
		return 1, nil
	case "false", "off":
		return 0, nil
	case "toggle":
		return CommandToggle, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCommandValue, s)
	}
	return v, nil
}

// EncodeCommand converts an engineering value into the integer sent with
// cmd=N:V. Switch outputs accept only 0, 1 and 2 (toggle). PWM values are
// inverse-scaled, rounded and clamped to the output range; clamped reports
// whether clamping changed the value.
func EncodeCommand(c PortConfig, value float64) (raw int, clamped bool, err error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false, ErrInvalidCommandValue
	}
	if c.Kind != DigitalOutput {
		return 0, false, fmt.Errorf("%w: port %d is %s", ErrUnknownOrReadOnlyPort, c.Index, c.Kind)
	}
	if !c.IsPWM() {
		switch value {
		case 0, 1, CommandToggle:
			return int(value), false, nil
		}
		return 0, false, fmt.Errorf("%w: %v is not 0, 1 or 2", ErrInvalidCommandValue, value)
	}
	raw, clamped = clampRound(c.Unscale(value), 0, MaxPWMValue)
	return raw, clamped, nil
}

// EncodeCounter validates a counter reset value.
func EncodeCounter(value float64) (int, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 || value != math.Trunc(value) {
		return 0, fmt.Errorf("%w: counter must be a non-negative integer, got %v", ErrInvalidCommandValue, value)
	}
	return int(value), nil
}

// EncodeThreshold converts an ADC threshold from engineering units into the
// device's 10-bit range.
func EncodeThreshold(c PortConfig, value float64) (int, bool) {
	return clampRound(c.Unscale(value), 0, MaxThreshold)
}

func clampRound(v float64, lo, hi int) (int, bool) {
	r := math.Round(v)
	if r < float64(lo) {
		return lo, true
	}
	if r > float64(hi) {
		return hi, true
	}
	return int(r), false
}

// FormatRaw renders a float the way the board expects it in a query.
func FormatRaw(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
