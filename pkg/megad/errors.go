// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package megad

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceUnreachable     = errors.New("device unreachable")
	ErrMalformedResponse     = errors.New("malformed response")
	ErrInvalidCommandValue   = errors.New("invalid command value")
	ErrUnknownOrReadOnlyPort = errors.New("unknown or read-only port")
)

// RequestError describes a failed request to a board. It always matches
// ErrDeviceUnreachable with errors.Is.
type RequestError struct {
	Op         string
	Query      string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %q: device answered HTTP %d", e.Op, e.Query, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s %q: %v", e.Op, e.Query, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Query, ErrDeviceUnreachable)
}

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) Is(target error) bool { return target == ErrDeviceUnreachable }
