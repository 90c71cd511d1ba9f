// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"fmt"
	"time"
)

// Statistics counts transport traffic and guard decisions for a session
type Statistics struct {
	StartTime time.Time

	// Counters
	BitsWritten       uint64
	BitsSkipped       uint64
	RowReads          uint64
	MarginSweeps      uint64
	CRCChecks         uint64
	VerifyFailures    uint64
	EnvChecks         uint64
	EnvRejections     uint64
	RedundantFailures uint64
	ECCCorrections    uint64

	// Rates (calculated)
	WriteRate float64 // pulses/sec
	ReadRate  float64 // row reads/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// CalculateRates updates the per-second rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.WriteRate = float64(s.BitsWritten) / elapsed
		s.ReadRate = float64(s.RowReads) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)
	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Bits Written:    %8d (%.1f/s)\n", s.BitsWritten, s.WriteRate)
	result += fmt.Sprintf("Already Set:     %8d\n", s.BitsSkipped)
	result += fmt.Sprintf("Row Reads:       %8d (%.1f/s)\n", s.RowReads, s.ReadRate)
	result += fmt.Sprintf("Margin Sweeps:   %8d\n", s.MarginSweeps)
	result += fmt.Sprintf("Env Checks:      %8d\n", s.EnvChecks)

	if s.CRCChecks > 0 {
		result += fmt.Sprintf("CRC Checks:      %8d\n", s.CRCChecks)
	}
	if s.EnvRejections > 0 {
		result += fmt.Sprintf("Env Rejections:  %8d\n", s.EnvRejections)
	}
	if s.VerifyFailures > 0 {
		result += fmt.Sprintf("Verify Failures: %8d\n", s.VerifyFailures)
	}
	if s.RedundantFailures > 0 {
		result += fmt.Sprintf("Redundant Fails: %8d\n", s.RedundantFailures)
	}
	if s.ECCCorrections > 0 {
		result += fmt.Sprintf("ECC Corrections: %8d\n", s.ECCCorrections)
	}
	return result
}
