// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

// crcAddressBits is the width of the row tag folded after each word
const crcAddressBits = 5

// RowCRC folds one 32-bit key word and its row tag into crc, LSB first
func RowCRC(crc, word, addr uint32) uint32 {
	for i := 0; i < RowBits; i++ {
		crc = crcStep(crc, word)
		word >>= 1
	}
	for i := 0; i < crcAddressBits; i++ {
		crc = crcStep(crc, addr)
		addr >>= 1
	}
	return crc
}

func crcStep(crc, v uint32) uint32 {
	if (v^crc)&1 != 0 {
		return (crc >> 1) ^ keyCRCPolynomial
	}
	return crc >> 1
}

// KeyCRC computes the checksum the hardware derives from the AES key rows.
// Word j holds key bits 32j..32j+31 and is tagged j+1; words are folded from
// the most significant down.
func KeyCRC(key []byte) uint32 {
	words := keyWords(key, AESKeyBits/RowBits)
	var crc uint32
	for idx := len(words) - 1; idx >= 0; idx-- {
		crc = RowCRC(crc, words[idx], uint32(idx+1))
	}
	return crc
}

// keyWords splits a big-endian key into n little-endian-ordered 32-bit words.
// Missing high bytes read as zero.
func keyWords(key []byte, n int) []uint32 {
	words := make([]uint32, n)
	for i := 0; i < n*32; i++ {
		if bitOf(key, i) {
			words[i/32] |= 1 << (i % 32)
		}
	}
	return words
}
