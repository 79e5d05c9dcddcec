// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package megad

import (
	"fmt"
	"math"
)

// AnomalyType represents different kinds of port configuration problems
type AnomalyType int

const (
	AnomalyUnknownType AnomalyType = iota
	AnomalyInvalidMode
	AnomalyInvalidSensor
	AnomalyInvalidScale
	AnomalyInvalidThreshold
	AnomalyGestureIgnored
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyUnknownType:
		return "unknown_type"
	case AnomalyInvalidMode:
		return "invalid_mode"
	case AnomalyInvalidSensor:
		return "invalid_sensor"
	case AnomalyInvalidScale:
		return "invalid_scale"
	case AnomalyInvalidThreshold:
		return "invalid_threshold"
	case AnomalyGestureIgnored:
		return "gesture_ignored"
	}
	return fmt.Sprintf("anomaly(%d)", int(a))
}

// ValidationError represents a port settings validation failure
type ValidationError struct {
	Port    int
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return fmt.Sprintf("port %d: %s", v.Port, v.Message)
}

// ValidatePortSettings checks one port's settings for values the board or
// the bridge would not accept. Returns an empty slice when the settings are valid.
func ValidatePortSettings(index int, s PortSettings) []ValidationError {
	errors := []ValidationError{}

	switch s.Type {
	case TypeInput:
		if s.Mode < ModePress || s.Mode > ModeRelease {
			errors = append(errors, ValidationError{
				Port:    index,
				Type:    AnomalyInvalidMode,
				Message: fmt.Sprintf("invalid input mode m=%d (expected 0..2)", s.Mode),
				Details: map[string]interface{}{"m": s.Mode},
			})
		}
		if s.LongPress && s.Mode != ModePressRelease {
			errors = append(errors, ValidationError{
				Port:    index,
				Type:    AnomalyGestureIgnored,
				Message: "long press requires press and release mode (m=1)",
				Details: map[string]interface{}{"m": s.Mode},
			})
		}

	case TypeOutput:
		if s.Mode != OutputSwitch && s.Mode != OutputPWM {
			errors = append(errors, ValidationError{
				Port:    index,
				Type:    AnomalyInvalidMode,
				Message: fmt.Sprintf("invalid output mode m=%d (expected 0 or 1)", s.Mode),
				Details: map[string]interface{}{"m": s.Mode},
			})
		}

	case TypeADC:
		if s.Misc < 0 {
			errors = append(errors, ValidationError{
				Port:    index,
				Type:    AnomalyInvalidThreshold,
				Message: fmt.Sprintf("negative threshold misc=%v", s.Misc),
				Details: map[string]interface{}{"misc": s.Misc},
			})
		}

	case TypeSensor:
		if s.Device < SensorNone || s.Device > SensorIButton {
			errors = append(errors, ValidationError{
				Port:    index,
				Type:    AnomalyInvalidSensor,
				Message: fmt.Sprintf("invalid sensor type d=%d (expected 0..4)", s.Device),
				Details: map[string]interface{}{"d": s.Device},
			})
		}

	case TypeInternal, TypeUnconnected:

	default:
		errors = append(errors, ValidationError{
			Port:    index,
			Type:    AnomalyUnknownType,
			Message: fmt.Sprintf("unknown port type pty=%d", s.Type),
			Details: map[string]interface{}{"pty": s.Type},
		})
	}

	if math.IsNaN(s.Factor) || math.IsInf(s.Factor, 0) || math.IsNaN(s.Offset) || math.IsInf(s.Offset, 0) {
		errors = append(errors, ValidationError{
			Port:    index,
			Type:    AnomalyInvalidScale,
			Message: "factor and offset must be finite",
			Details: map[string]interface{}{"factor": s.Factor, "offset": s.Offset},
		})
	}

	return errors
}
