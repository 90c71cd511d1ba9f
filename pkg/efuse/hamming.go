// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import "math/bits"

// Codec is a Hamming(31,26) single-error-correcting code.
//
// Codeword bits 0..25 carry data, bits 26..30 carry parity. Data bit i sits at
// the i-th Hamming position in 1..31 that is not a power of two; parity bit y
// covers every data bit whose position has bit y set. A double error is
// indistinguishable from a single error and is miscorrected.
type Codec struct {
	parity   [HammingParity]uint32 // data-bit mask per parity bit
	position [32]int8              // syndrome -> codeword bit, -1 for none
}

// NewCodec builds the generator and syndrome tables
func NewCodec() *Codec {
	c := &Codec{}
	for i := range c.position {
		c.position[i] = -1
	}

	data := 0
	for pos := 1; pos <= HammingWordBits; pos++ {
		if bits.OnesCount(uint(pos)) == 1 {
			// power of two: parity bit log2(pos)
			c.position[pos] = int8(parityShift + bits.TrailingZeros(uint(pos)))
			continue
		}
		for y := 0; y < HammingParity; y++ {
			if pos&(1<<y) != 0 {
				c.parity[y] |= 1 << data
			}
		}
		c.position[pos] = int8(data)
		data++
	}
	return c
}

// defaultCodec is shared read-only by the engine
var defaultCodec = NewCodec()

// Parity returns the 5 parity bits for a 26-bit data block
func (c *Codec) Parity(data uint32) uint32 {
	data &= hammingDataMask
	var p uint32
	for y, mask := range c.parity {
		p |= uint32(bits.OnesCount32(data&mask)&1) << y
	}
	return p
}

// Encode returns the 31-bit codeword for a 26-bit data block
func (c *Codec) Encode(data uint32) uint32 {
	data &= hammingDataMask
	return data | c.Parity(data)<<parityShift
}

// Syndrome returns the 5-bit syndrome of a codeword; 0 means consistent
func (c *Codec) Syndrome(word uint32) uint8 {
	data := word & hammingDataMask
	stored := (word >> parityShift) & (1<<HammingParity - 1)
	return uint8(c.Parity(data) ^ stored)
}

// Decode corrects at most one flipped bit and returns the data block and the
// syndrome that was observed
func (c *Codec) Decode(word uint32) (uint32, uint8) {
	word &= hammingWordMask
	syn := c.Syndrome(word)
	if syn != 0 {
		if idx := c.position[syn]; idx >= 0 && idx < HammingWordBits {
			word ^= 1 << uint(idx)
		}
	}
	return word & hammingDataMask, syn
}

// CorrectedBit returns the codeword bit a syndrome points at, or -1
func (c *Codec) CorrectedBit(syndrome uint8) int {
	if syndrome == 0 || int(syndrome) >= len(c.position) {
		return -1
	}
	return int(c.position[syndrome])
}

// HammingEncode encodes with the package codec
func HammingEncode(data uint32) uint32 {
	return defaultCodec.Encode(data)
}

// HammingDecode decodes with the package codec
func HammingDecode(word uint32) (uint32, uint8) {
	return defaultCodec.Decode(word)
}
