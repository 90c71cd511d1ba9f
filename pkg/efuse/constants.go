// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package efuse programs and verifies one-time-programmable eFuse arrays.
//
// The engine burns key material (AES key, user keys, RSA public key hash) and
// policy bits (read/write lockouts, secure boot enables) through an external
// bit transport. Every physical write and read is gated by an environmental
// guard, every written bit is verified at three sense margins, and a lockout
// layer re-derives permissions from the burned control bits before each
// operation. Bits only ever move from 0 to 1.
package efuse

import (
	"fmt"
	"strings"
)

// Variant identifies a chip family and its fuse geometry
type Variant uint8

const (
	VariantUnknown Variant = iota
	VariantZynq
	VariantUltraScale
	VariantUltraScalePlus
)

// String returns the variant name as accepted by ParseVariant
func (v Variant) String() string {
	switch v {
	case VariantZynq:
		return "zynq"
	case VariantUltraScale:
		return "ultrascale"
	case VariantUltraScalePlus:
		return "ultrascale+"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(v))
	}
}

// ParseVariant parses a variant name (case-insensitive)
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zynq", "7series", "zynq7000":
		return VariantZynq, nil
	case "ultrascale", "us":
		return VariantUltraScale, nil
	case "ultrascale+", "ultrascaleplus", "usp":
		return VariantUltraScalePlus, nil
	}
	return VariantUnknown, fmt.Errorf("unknown variant %q (use zynq, ultrascale or ultrascale+)", s)
}

// Margin selects the sense threshold of a row read
type Margin uint8

const (
	MarginNormal Margin = iota
	Margin1
	Margin2
)

// verifyMargins is the sweep every written bit must pass
var verifyMargins = [...]Margin{MarginNormal, Margin1, Margin2}

func (m Margin) String() string {
	switch m {
	case MarginNormal:
		return "normal"
	case Margin1:
		return "margin1"
	case Margin2:
		return "margin2"
	default:
		return fmt.Sprintf("margin(%d)", uint8(m))
	}
}

// Valid reports whether m is one of the three defined margins
func (m Margin) Valid() bool {
	return m <= Margin2
}

// Operation selects which environmental range applies
type Operation uint8

const (
	OpRead Operation = iota
	OpWrite
)

func (o Operation) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Field is a logical fuse region
type Field uint8

const (
	FieldAESKey Field = iota
	FieldUserKey
	FieldUserKey128
	FieldRSAHash
	FieldControl
	FieldSecure
)

func (f Field) String() string {
	switch f {
	case FieldAESKey:
		return "aes-key"
	case FieldUserKey:
		return "user-key"
	case FieldUserKey128:
		return "user-key-128"
	case FieldRSAHash:
		return "rsa-hash"
	case FieldControl:
		return "control"
	case FieldSecure:
		return "secure"
	default:
		return fmt.Sprintf("field(%d)", uint8(f))
	}
}

// Field sizes in bits
const (
	AESKeyBits        = 256
	UserKeyBits       = 32
	UserKey128Bits    = 128
	RSAHashBitsZynq   = 256
	RSAHashBitsSHA384 = 384
)

// Row geometry
const (
	RowBits          = 32
	HammingDataBits  = 26
	HammingParity    = 5
	HammingWordBits  = HammingDataBits + HammingParity
	hammingDataMask  = 1<<HammingDataBits - 1
	hammingWordMask  = 1<<HammingWordBits - 1
	parityShift      = HammingDataBits
	keyCRCPolynomial = 0x82F63B78
)

// CRCZeroKey is the key CRC of an all-zero 256-bit AES key
const CRCZeroKey = 0x6858A3D5

// JTAG IDCODE fields used for variant detection
const (
	idcodeManufacturerMask = 0x00000FFF
	idcodeXilinx           = 0x093
	idcodeFamilyShift      = 21
	idcodeFamilyMask       = 0x7F

	familySeries7         = 0x1B
	familyUltraScale      = 0x1C
	familyUltraScalePlus  = 0x25
	familyUltraScalePlusB = 0x24
)

// VariantFromIDCode maps a JTAG IDCODE to a chip family
func VariantFromIDCode(idcode uint32) Variant {
	if idcode&idcodeManufacturerMask != idcodeXilinx {
		return VariantUnknown
	}
	switch (idcode >> idcodeFamilyShift) & idcodeFamilyMask {
	case familySeries7:
		return VariantZynq
	case familyUltraScale:
		return VariantUltraScale
	case familyUltraScalePlus, familyUltraScalePlusB:
		return VariantUltraScalePlus
	}
	return VariantUnknown
}

// Representative IDCODEs for each variant, used by the simulator
const (
	IDCodeZynq7020      = 0x03727093
	IDCodeKU040         = 0x03822093
	IDCodeKU5P          = 0x04A62093
	IDCodeUnknownVendor = 0x0BA00477
)
