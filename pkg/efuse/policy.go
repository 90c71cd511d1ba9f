// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"fmt"
	"math/bits"
)

// fieldJob is a validated, not yet executed, field program
type fieldJob struct {
	field  Field
	layout *FieldLayout
	rows   []rowWrite
	key    []byte

	policy     *PolicyLayout
	policyMask uint32 // primary bits still to burn

	// raw key bits the request wants cleared; the rest is still burned
	revert *RevertError
}

// burnedControl re-reads the control row; hardware state is authoritative
func (s *Session) burnedControl() (PolicySet, error) {
	row, err := s.readPolicyRow(&s.geo.Control)
	if err != nil {
		return 0, fmt.Errorf("read control row: %w", err)
	}
	return s.geo.Control.Decode(row), nil
}

// checkLocks fails if any of locks is burned
func (s *Session) checkLocks(f Field, op Operation, locks []PolicyBit) error {
	if len(locks) == 0 {
		return nil
	}
	burned, err := s.burnedControl()
	if err != nil {
		return err
	}
	for _, b := range locks {
		if burned.Has(b) {
			s.log.Info("operation blocked by policy fuse", "field", f, "op", op, "bit", b)
			return &PolicyError{Field: f, Op: op, Bit: b}
		}
	}
	return nil
}

// prepareKey validates a key field request against size, locks and the
// burned state. Nothing is written.
func (s *Session) prepareKey(f Field, buf []byte) (*fieldJob, error) {
	l, err := s.geo.Field(f)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%s: %w", f, ErrNullInput)
	}
	if len(buf) > l.Bytes() {
		return nil, fmt.Errorf("%s: %d bytes exceeds %d: %w", f, len(buf), l.Bytes(), ErrBufferTooLarge)
	}
	if err := s.checkLocks(f, OpWrite, l.WriteLocks); err != nil {
		return nil, err
	}

	rows := encodeField(l, buf)
	blank := true
	var reverts []int
	offset := 0
	for i, w := range rows {
		current, err := s.readRow(w.addr, MarginNormal)
		if err != nil {
			return nil, err
		}
		burned := current & w.mask
		if burned != 0 {
			blank = false
		}
		if err := s.geo.checkWrite(w); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		seg := l.Segments[i]
		if l.Encoding == EncodingRaw {
			for v := burned &^ w.want; v != 0; v &= v - 1 {
				reverts = append(reverts, offset+bits.TrailingZeros32(v)-int(seg.First))
			}
		}
		offset += int(seg.Width)
	}

	// a Hamming codeword cannot be extended without clearing parity
	if !blank && (l.MustBeBlank || l.Encoding == EncodingHamming) {
		return nil, fmt.Errorf("%s: %w", f, ErrRegionAlreadyProgrammed)
	}

	key := make([]byte, l.Bytes())
	copy(key[len(key)-len(buf):], buf)
	job := &fieldJob{field: f, layout: l, rows: rows, key: key}
	if len(reverts) > 0 {
		job.revert = &RevertError{Field: f, Bits: reverts}
	}
	return job, nil
}

// preparePolicy validates a desired control or secure state
func (s *Session) preparePolicy(f Field, want PolicySet) (*fieldJob, error) {
	p, err := s.geo.Policy(f)
	if err != nil {
		return nil, err
	}
	if unsupported := want.Without(p.Supported()); !unsupported.Empty() {
		return nil, fmt.Errorf("%s %s on %s: %w", f, unsupported, s.geo.Variant, ErrAddressOutOfRange)
	}
	if err := s.checkLocks(f, OpWrite, p.WriteLocks); err != nil {
		return nil, err
	}

	row, err := s.readPolicyRow(p)
	if err != nil {
		return nil, err
	}
	burned := p.Decode(row)
	if extra := burned.Without(want); !extra.Empty() {
		positions := make([]int, 0, len(extra.Bits()))
		for _, b := range extra.Bits() {
			positions = append(positions, int(p.Positions[b]))
		}
		return nil, &RevertError{Field: f, Bits: positions}
	}

	mask := p.Mask(want.Without(burned))
	for _, w := range policyWrites(p, mask) {
		if err := s.geo.checkWrite(w); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
	}
	return &fieldJob{field: f, policy: p, policyMask: mask}, nil
}
