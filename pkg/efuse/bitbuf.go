// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

// Key buffers are big-endian: bit 0 is the LSB of the last byte.

func bitOf(buf []byte, i int) bool {
	idx := len(buf) - 1 - i/8
	if idx < 0 {
		return false
	}
	return buf[idx]>>(i%8)&1 != 0
}

func setBit(buf []byte, i int) {
	idx := len(buf) - 1 - i/8
	if idx < 0 {
		return
	}
	buf[idx] |= 1 << (i % 8)
}

// bitsOf extracts width bits starting at first, LSB first
func bitsOf(buf []byte, first, width int) uint32 {
	var v uint32
	for i := 0; i < width; i++ {
		if bitOf(buf, first+i) {
			v |= 1 << i
		}
	}
	return v
}

// putBits stores width bits of v at first
func putBits(buf []byte, first, width int, v uint32) {
	for i := 0; i < width; i++ {
		if v&(1<<i) != 0 {
			setBit(buf, first+i)
		}
	}
}
