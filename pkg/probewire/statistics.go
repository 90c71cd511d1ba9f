// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probewire

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks link traffic and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets   uint64
	ValidPackets   uint64
	CRCErrors      uint64
	FramingErrors  uint64
	DecodeErrors   uint64
	UnknownTypes   uint64
	BadPayloads    uint64
	ErrorResponses uint64
	Timeouts       uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{StartTime: now, LastUpdateTime: now}
}

// Update counts one decoder result: a packet or a decode error
func (s *Statistics) Update(p *Packet, decodeErr error, validation []ValidationError) {
	s.TotalPackets++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrCRCMismatch) {
			s.CRCErrors++
		} else {
			s.FramingErrors++
		}
		return
	}

	if len(validation) == 0 {
		s.ValidPackets++
		if p != nil && p.IsError() {
			s.ErrorResponses++
		}
		return
	}
	for _, v := range validation {
		switch v.Type {
		case AnomalyUnknownType:
			s.UnknownTypes++
		case AnomalyDecodeError:
			s.DecodeErrors++
		default:
			s.BadPayloads++
		}
	}
}

// Errors returns the number of discarded or malformed packets
func (s *Statistics) Errors() uint64 {
	return s.CRCErrors + s.FramingErrors + s.DecodeErrors + s.UnknownTypes + s.BadPayloads
}

// CalculateRates updates the per-second rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)
	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d (%.1f/s)\n", s.TotalPackets, s.PacketRate)
	result += fmt.Sprintf("Valid Packets:   %8d\n", s.ValidPackets)
	result += fmt.Sprintf("CRC Errors:      %8d\n", s.CRCErrors)
	result += fmt.Sprintf("Framing Errors:  %8d\n", s.FramingErrors)

	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.UnknownTypes > 0 {
		result += fmt.Sprintf("Unknown Types:   %8d\n", s.UnknownTypes)
	}
	if s.BadPayloads > 0 {
		result += fmt.Sprintf("Bad Payloads:    %8d\n", s.BadPayloads)
	}
	if s.ErrorResponses > 0 {
		result += fmt.Sprintf("Error Replies:   %8d\n", s.ErrorResponses)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	result += fmt.Sprintf("Error Rate:      %8.2f/s\n", s.ErrorRate)
	return result
}
