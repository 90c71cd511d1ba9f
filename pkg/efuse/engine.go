// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"errors"
	"fmt"
	"math/bits"
)

// Stage is the position of a field job in the write/verify state machine
type Stage int

const (
	StageIdle Stage = iota
	StagePolicyChecked
	StageProgramming
	StageVerifying
	StageProgrammed
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StagePolicyChecked:
		return "policy-checked"
	case StageProgramming:
		return "programming"
	case StageVerifying:
		return "verifying"
	case StageProgrammed:
		return "programmed"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// rowWrite is the requested content of the bits a field owns in one row
type rowWrite struct {
	addr RowAddress
	mask uint32
	want uint32
}

// readRow senses one row behind the read interlock
func (s *Session) readRow(addr RowAddress, m Margin) (uint32, error) {
	if err := s.guard.Check(OpRead); err != nil {
		return 0, err
	}
	v, err := s.transport.ReadRow(addr, m)
	if err != nil {
		return 0, fmt.Errorf("read %s at %s: %w", addr, m, err)
	}
	s.stats.RowReads++
	return v, nil
}

// programBit issues one program pulse unless the cell is already burned.
// current is the row as last sensed at normal margin.
func (s *Session) programBit(f Field, addr BitAddress, current uint32, rep *Report) error {
	if err := s.geo.CheckAddress(addr); err != nil {
		return err
	}
	if err := s.guard.Check(OpWrite); err != nil {
		return err
	}
	if current&(1<<addr.Bit) != 0 {
		rep.Skipped++
		s.stats.BitsSkipped++
		return nil
	}
	if err := s.transport.WriteBit(addr); err != nil {
		return fmt.Errorf("write %s: %w", addr, err)
	}
	rep.Written++
	s.stats.BitsWritten++
	s.log.Debug("bit programmed", "field", f, "addr", addr)

	if s.cfg.Journal != nil {
		burn := Burn{IDCode: s.idcode, Variant: s.geo.Variant, Field: f, Addr: addr}
		if err := s.cfg.Journal.RecordBurn(burn); err != nil {
			// the pulse is committed either way
			s.log.Error("journal write failed", "addr", addr, "error", err)
		}
	}
	return nil
}

// verifyBits requires every bit of mask to read 1 at all three margins
func (s *Session) verifyBits(addr RowAddress, mask uint32) error {
	s.stats.MarginSweeps++
	for _, m := range verifyMargins {
		v, err := s.readRow(addr, m)
		if err != nil {
			return err
		}
		if missing := mask &^ v; missing != 0 {
			s.stats.VerifyFailures++
			bit := uint8(bits.TrailingZeros32(missing))
			return &VerifyError{Addr: addr.Bit(bit), Margin: m, Row: v}
		}
	}
	return nil
}

// programRow burns the requested bits of one row in ascending order, so
// Hamming data bits precede their parity, then optionally runs the margin
// sweep over them
func (s *Session) programRow(f Field, w rowWrite, verify bool, rep *Report) error {
	if err := s.geo.CheckRow(w.addr); err != nil {
		return err
	}
	current, err := s.readRow(w.addr, MarginNormal)
	if err != nil {
		return err
	}

	want := w.want & w.mask
	for v := want; v != 0; v &= v - 1 {
		bit := uint8(bits.TrailingZeros32(v))
		if err := s.programBit(f, w.addr.Bit(bit), current, rep); err != nil {
			return err
		}
	}

	if !verify || want == 0 {
		return nil
	}
	if err := s.verifyBits(w.addr, want); err != nil {
		return err
	}
	rep.Verified++
	return nil
}

// programPolicyRow burns mask into the primary row and its redundant copy.
// One failing copy is tolerated and flagged; the hardware ORs both on read.
func (s *Session) programPolicyRow(p *PolicyLayout, mask uint32, rep *Report) error {
	writes := policyWrites(p, mask)
	primary, mirror := writes[0], writes[1]

	errPrimary := s.programRow(p.Field, primary, true, rep)
	if errors.Is(errPrimary, ErrEnvironmentOutOfRange) {
		return errPrimary
	}
	errMirror := s.programRow(p.Field, mirror, true, rep)
	if errors.Is(errMirror, ErrEnvironmentOutOfRange) {
		return errMirror
	}

	switch {
	case errPrimary != nil && errMirror != nil:
		return fmt.Errorf("%s row: both copies failed: primary: %w; redundant: %v", p.Field, errPrimary, errMirror)
	case errPrimary != nil || errMirror != nil:
		failed, copyName := errPrimary, "primary"
		if errMirror != nil {
			failed, copyName = errMirror, "redundant"
		}
		s.stats.RedundantFailures++
		s.log.Warn("policy copy failed, other copy verified", "field", p.Field, "copy", copyName, "error", failed)
		rep.addAnomaly(AnomalyRedundantCopyFailed,
			fmt.Sprintf("%s %s copy failed: %v", p.Field, copyName, failed),
			map[string]interface{}{"field": p.Field.String(), "copy": copyName, "error": failed.Error()})
	}
	return nil
}

// policyWrites returns the primary and redundant row writes for mask
func policyWrites(p *PolicyLayout, mask uint32) [2]rowWrite {
	primary := rowWrite{addr: p.RowAddress(), mask: mask, want: mask}
	mirror := primary
	if p.Redundancy == RedundancyOffset {
		mirror.mask = mask << p.Offset
		mirror.want = mirror.mask
	} else {
		mirror.addr.Redundant = true
	}
	return [2]rowWrite{primary, mirror}
}

// readPolicyRow senses both copies of a policy row and ORs them
func (s *Session) readPolicyRow(p *PolicyLayout) (uint32, error) {
	primary, err := s.readRow(p.RowAddress(), MarginNormal)
	if err != nil {
		return 0, err
	}
	var redundant uint32
	if p.Redundancy == RedundancyPlane {
		addr := p.RowAddress()
		addr.Redundant = true
		if redundant, err = s.readRow(addr, MarginNormal); err != nil {
			return 0, err
		}
	}
	return p.Merge(primary, redundant), nil
}

// checkKeyCRC asks the hardware to compare the AES rows against expected at
// every margin
func (s *Session) checkKeyCRC(expected uint32) error {
	for _, m := range verifyMargins {
		if err := s.guard.Check(OpRead); err != nil {
			return err
		}
		ok, err := s.transport.CheckKeyCRC(expected, m)
		if err != nil {
			return fmt.Errorf("key CRC check at %s: %w", m, err)
		}
		s.stats.CRCChecks++
		if !ok {
			return &CRCError{Expected: expected, Margin: m}
		}
	}
	return nil
}

// encodeField splits a key buffer into row writes
func encodeField(l *FieldLayout, buf []byte) []rowWrite {
	rows := make([]rowWrite, 0, len(l.Segments))
	offset := 0
	for _, seg := range l.Segments {
		v := bitsOf(buf, offset, int(seg.Width))
		offset += int(seg.Width)
		if l.Encoding == EncodingHamming {
			rows = append(rows, rowWrite{addr: seg.RowAddress(), mask: hammingWordMask, want: HammingEncode(v)})
			continue
		}
		rows = append(rows, rowWrite{addr: seg.RowAddress(), mask: seg.Mask(), want: v << seg.First})
	}
	return rows
}

// Decode reassembles a key buffer from rows sensed in segment order. It
// returns the number of rows that needed a Hamming correction.
func (l *FieldLayout) Decode(rows []uint32) ([]byte, int) {
	buf := make([]byte, l.Bytes())
	corrected := 0
	offset := 0
	for i, seg := range l.Segments {
		var v uint32
		if l.Encoding == EncodingHamming {
			var syn uint8
			v, syn = HammingDecode(rows[i])
			if syn != 0 {
				corrected++
			}
		} else {
			v = (rows[i] & seg.Mask()) >> seg.First
		}
		putBits(buf, offset, int(seg.Width), v)
		offset += int(seg.Width)
	}
	return buf, corrected
}
