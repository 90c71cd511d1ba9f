// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// parseHex accepts a hex string with optional 0x prefix and ':', ' ' or '_'
// separators. A leading '@' reads the string from a file.
func parseHex(s string) ([]byte, error) {
	if strings.HasPrefix(s, "@") {
		data, err := os.ReadFile(s[1:])
		if err != nil {
			return nil, err
		}
		s = string(data)
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(":", "", " ", "", "_", "", "\n", "", "\r", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("empty hex value")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex value: %w", err)
	}
	return b, nil
}

// parseCRC parses a 32-bit CRC in hex, with or without 0x
func parseCRC(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid CRC %q: %w", s, err)
	}
	return uint32(v), nil
}
