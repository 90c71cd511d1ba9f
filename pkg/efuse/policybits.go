// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// PolicyBit names a control or secure fuse
type PolicyBit uint8

// Control bits
const (
	CtrlAESReadDisable PolicyBit = iota
	CtrlUserKeyReadDisable
	CtrlSecureReadDisable
	CtrlRSAReadDisable
	CtrlUser128ReadDisable
	CtrlControlWriteDisable
	CtrlKeyWriteDisable
	CtrlUserKeyWriteDisable
	CtrlSecureWriteDisable
	CtrlRSAWriteDisable
	CtrlUser128WriteDisable
	CtrlForcePowerCycle
	CtrlJTAGChainDisable
	CtrlBBRAMKeyDisable
	CtrlForceAESOnly
)

// Secure bits
const (
	SecEncryptOnly PolicyBit = iota + 32
	SecRSAAuthEnable
	SecJTAGDisable
	SecTestAccessDisable
	SecDecryptOnlyEFuse
	SecBBRAMDisable
	SecPUFHelperLock
)

var policyBitNames = map[PolicyBit]string{
	CtrlAESReadDisable:      "aes-read-disable",
	CtrlUserKeyReadDisable:  "user-read-disable",
	CtrlSecureReadDisable:   "secure-read-disable",
	CtrlRSAReadDisable:      "rsa-read-disable",
	CtrlUser128ReadDisable:  "user128-read-disable",
	CtrlControlWriteDisable: "control-write-disable",
	CtrlKeyWriteDisable:     "key-write-disable",
	CtrlUserKeyWriteDisable: "user-write-disable",
	CtrlSecureWriteDisable:  "secure-write-disable",
	CtrlRSAWriteDisable:     "rsa-write-disable",
	CtrlUser128WriteDisable: "user128-write-disable",
	CtrlForcePowerCycle:     "force-pcycle-reconfig",
	CtrlJTAGChainDisable:    "jtag-chain-disable",
	CtrlBBRAMKeyDisable:     "bbram-key-disable",
	CtrlForceAESOnly:        "force-aes-only",
	SecEncryptOnly:          "encrypt-only",
	SecRSAAuthEnable:        "rsa-auth-enable",
	SecJTAGDisable:          "jtag-disable",
	SecTestAccessDisable:    "test-access-disable",
	SecDecryptOnlyEFuse:     "decrypt-only-efuse",
	SecBBRAMDisable:         "bbram-disable",
	SecPUFHelperLock:        "puf-helper-lock",
}

func (b PolicyBit) String() string {
	if name, ok := policyBitNames[b]; ok {
		return name
	}
	return fmt.Sprintf("policy-bit(%d)", uint8(b))
}

// IsSecure reports whether b lives in the secure row
func (b PolicyBit) IsSecure() bool {
	return b >= SecEncryptOnly
}

// ParsePolicyBit looks up a bit by its String name
func ParsePolicyBit(name string) (PolicyBit, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for b, n := range policyBitNames {
		if n == name {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown policy bit %q", name)
}

// PolicyBitNames lists every known bit name, sorted
func PolicyBitNames() []string {
	names := make([]string, 0, len(policyBitNames))
	for _, n := range policyBitNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PolicySet is a set of policy bits
type PolicySet uint64

// NewPolicySet builds a set from bits
func NewPolicySet(bits ...PolicyBit) PolicySet {
	var s PolicySet
	for _, b := range bits {
		s |= 1 << b
	}
	return s
}

// Has reports whether b is in the set
func (s PolicySet) Has(b PolicyBit) bool {
	return s&(1<<b) != 0
}

// With returns s plus bits
func (s PolicySet) With(bits ...PolicyBit) PolicySet {
	return s | NewPolicySet(bits...)
}

// Union returns every bit in s or o
func (s PolicySet) Union(o PolicySet) PolicySet {
	return s | o
}

// Without returns the bits of s that are not in o
func (s PolicySet) Without(o PolicySet) PolicySet {
	return s &^ o
}

// Empty reports whether no bit is set
func (s PolicySet) Empty() bool {
	return s == 0
}

// Bits returns the members in ascending order
func (s PolicySet) Bits() []PolicyBit {
	out := make([]PolicyBit, 0, bits.OnesCount64(uint64(s)))
	for v := uint64(s); v != 0; v &= v - 1 {
		out = append(out, PolicyBit(bits.TrailingZeros64(v)))
	}
	return out
}

// Control returns only the control-row members
func (s PolicySet) Control() PolicySet {
	return s & (1<<SecEncryptOnly - 1)
}

// Secure returns only the secure-row members
func (s PolicySet) Secure() PolicySet {
	return s &^ (1<<SecEncryptOnly - 1)
}

func (s PolicySet) String() string {
	if s == 0 {
		return "none"
	}
	names := make([]string, 0, 8)
	for _, b := range s.Bits() {
		names = append(names, b.String())
	}
	return strings.Join(names, ",")
}

// ParsePolicySet parses a comma-separated list of bit names
func ParsePolicySet(list string) (PolicySet, error) {
	var s PolicySet
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		b, err := ParsePolicyBit(part)
		if err != nil {
			return 0, err
		}
		s = s.With(b)
	}
	return s, nil
}
