// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"time"
)

// Statistics tracks poll cycle, command and push counters of one bridge
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalCycles      uint64
	SuccessfulCycles uint64
	FailedCycles     uint64
	SkippedCycles    uint64
	TokensDecoded    uint64
	MalformedTokens  uint64
	Changes          uint64
	Commands         uint64
	RejectedCommands uint64
	FailedCommands   uint64
	Pushes           uint64

	// Rates (calculated)
	CycleRate float64 // cycles/sec
	ErrorRate float64 // failed cycles/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// RecordCycle updates statistics after a poll cycle
func (s *Statistics) RecordCycle(tokens, malformed, changes int, err error) {
	s.TotalCycles++
	if err != nil {
		s.FailedCycles++
	} else {
		s.SuccessfulCycles++
		s.TokensDecoded += uint64(tokens)
		s.MalformedTokens += uint64(malformed)
		s.Changes += uint64(changes)
	}
	s.LastUpdateTime = time.Now()
}

// RecordSkipped counts a cycle that was skipped because the previous one was still running
func (s *Statistics) RecordSkipped() {
	s.SkippedCycles++
}

// RecordCommand counts an outbound command. Rejected commands never reached the device.
func (s *Statistics) RecordCommand(rejected bool, err error) {
	s.Commands++
	switch {
	case rejected:
		s.RejectedCommands++
	case err != nil:
		s.FailedCommands++
	}
}

// RecordPush counts an inbound push notification
func (s *Statistics) RecordPush() {
	s.Pushes++
}

// CalculateRates calculates cycle and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CycleRate = float64(s.TotalCycles) / elapsed
		s.ErrorRate = float64(s.FailedCycles) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var successPercent, failedPercent, malformedPercent float64
	if s.TotalCycles > 0 {
		successPercent = float64(s.SuccessfulCycles) * 100.0 / float64(s.TotalCycles)
		failedPercent = float64(s.FailedCycles) * 100.0 / float64(s.TotalCycles)
	}
	if s.TokensDecoded > 0 {
		malformedPercent = float64(s.MalformedTokens) * 100.0 / float64(s.TokensDecoded)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Poll Cycles:     %8d\n", s.TotalCycles)
	result += fmt.Sprintf("Successful:      %8d (%.1f%%)\n", s.SuccessfulCycles, successPercent)

	if s.FailedCycles > 0 {
		result += fmt.Sprintf("Failed:          %8d (%.1f%%)\n", s.FailedCycles, failedPercent)
	}
	if s.SkippedCycles > 0 {
		result += fmt.Sprintf("Skipped:         %8d\n", s.SkippedCycles)
	}
	result += fmt.Sprintf("Tokens:          %8d\n", s.TokensDecoded)
	if s.MalformedTokens > 0 {
		result += fmt.Sprintf("  Malformed:        %5d (%.1f%%)\n", s.MalformedTokens, malformedPercent)
	}
	result += fmt.Sprintf("Changes:         %8d\n", s.Changes)
	if s.Commands > 0 {
		result += fmt.Sprintf("Commands:        %8d\n", s.Commands)
		if s.RejectedCommands > 0 {
			result += fmt.Sprintf("  Rejected:         %5d\n", s.RejectedCommands)
		}
		if s.FailedCommands > 0 {
			result += fmt.Sprintf("  Failed:           %5d\n", s.FailedCommands)
		}
	}
	if s.Pushes > 0 {
		result += fmt.Sprintf("Pushes:          %8d\n", s.Pushes)
	}

	result += fmt.Sprintf("Cycle Rate:      %8.2f cycles/sec\n", s.CycleRate)
	result += fmt.Sprintf("Error Rate:      %8.2f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
