// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Typed errors below match these with errors.Is.
var (
	ErrNullInput               = errors.New("missing input")
	ErrAddressOutOfRange       = errors.New("fuse address out of range")
	ErrRegionAlreadyProgrammed = errors.New("region already programmed")
	ErrIrreversibleBitRevert   = errors.New("request would clear a burned bit")
	ErrWriteDisabledByPolicy   = errors.New("write disabled by policy fuse")
	ErrReadDisabledByPolicy    = errors.New("read disabled by policy fuse")
	ErrEnvironmentOutOfRange   = errors.New("environment out of range")
	ErrVerificationFailed      = errors.New("verification failed")
	ErrTransportTimeout        = errors.New("transport timeout")
	ErrKeyCRCMismatch          = errors.New("key CRC mismatch")
	ErrBufferTooLarge          = errors.New("buffer too large for field")
	ErrUnsupportedField        = errors.New("field not supported by variant")
	ErrVariantMismatch         = errors.New("variant mismatch")
)

// AddressError reports an address outside the variant geometry or a reserved bit
type AddressError struct {
	Addr   BitAddress
	Reason string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("address %s: %s", e.Addr, e.Reason)
}

func (e *AddressError) Is(target error) bool { return target == ErrAddressOutOfRange }

// RevertError lists the field bits a request would have to clear
type RevertError struct {
	Field Field
	Bits  []int
}

func (e *RevertError) Error() string {
	shown := e.Bits
	suffix := ""
	if len(shown) > 16 {
		shown = shown[:16]
		suffix = fmt.Sprintf(" (+%d more)", len(e.Bits)-16)
	}
	parts := make([]string, len(shown))
	for i, b := range shown {
		parts[i] = fmt.Sprintf("%d", b)
	}
	return fmt.Sprintf("%s: request would clear burned bits [%s]%s", e.Field, strings.Join(parts, " "), suffix)
}

func (e *RevertError) Is(target error) bool { return target == ErrIrreversibleBitRevert }

// PolicyError reports an operation blocked by a burned policy fuse
type PolicyError struct {
	Field Field
	Op    Operation
	Bit   PolicyBit
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s %s blocked by %s", e.Field, e.Op, e.Bit)
}

func (e *PolicyError) Is(target error) bool {
	if e.Op == OpWrite {
		return target == ErrWriteDisabledByPolicy
	}
	return target == ErrReadDisabledByPolicy
}

// Quantity is a sampled environmental value
type Quantity uint8

const (
	QuantityTemperature Quantity = iota
	QuantityVCCAUX
	QuantityVCCINT
)

func (q Quantity) String() string {
	switch q {
	case QuantityTemperature:
		return "temperature"
	case QuantityVCCAUX:
		return "VCCAUX"
	case QuantityVCCINT:
		return "VCCINT"
	default:
		return fmt.Sprintf("quantity(%d)", uint8(q))
	}
}

// Unit returns the display unit of q
func (q Quantity) Unit() string {
	if q == QuantityTemperature {
		return "°C"
	}
	return "V"
}

// EnvironmentError reports a sample outside the safe range for an operation
type EnvironmentError struct {
	Quantity Quantity
	Op       Operation
	Value    float64
	Limit    Range
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("%s %s %.3f%s outside %s range %.3f..%.3f",
		e.Op, e.Quantity, e.Value, e.Quantity.Unit(), e.Op, e.Limit.Min, e.Limit.Max)
}

func (e *EnvironmentError) Is(target error) bool { return target == ErrEnvironmentOutOfRange }

// VerifyError reports a written bit that did not read back as 1
type VerifyError struct {
	Addr   BitAddress
	Margin Margin
	Row    uint32
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify %s at %s: row reads 0x%08X", e.Addr, e.Margin, e.Row)
}

func (e *VerifyError) Is(target error) bool { return target == ErrVerificationFailed }

// CRCError reports a hardware key CRC compare failure
type CRCError struct {
	Expected uint32
	Margin   Margin
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("key CRC 0x%08X does not match at %s", e.Expected, e.Margin)
}

func (e *CRCError) Is(target error) bool { return target == ErrKeyCRCMismatch }
