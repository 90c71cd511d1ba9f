// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import "fmt"

// ProgramAESKey burns a 256-bit AES key into a blank key region and verifies
// it through the hardware key CRC
func (s *Session) ProgramAESKey(key []byte) (*Report, error) {
	return s.Apply(Plan{AESKey: nonNil(key)})
}

// ReadAESKey reads the AES key where the variant allows direct readback
func (s *Session) ReadAESKey() ([]byte, error) {
	return s.readKeyField(FieldAESKey)
}

// CheckAESKeyCRC compares the burned AES key against expected at all margins
func (s *Session) CheckAESKeyCRC(expected uint32) error {
	if err := s.ensureInit(); err != nil {
		return err
	}
	if _, err := s.geo.Field(FieldAESKey); err != nil {
		return err
	}
	return s.checkKeyCRC(expected)
}

// CheckAESKey verifies the burned AES key against key without reading it
func (s *Session) CheckAESKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%s: %w", FieldAESKey, ErrNullInput)
	}
	if len(key) > AESKeyBits/8 {
		return fmt.Errorf("%s: %w", FieldAESKey, ErrBufferTooLarge)
	}
	return s.CheckAESKeyCRC(KeyCRC(key))
}

// ProgramUserKey burns the 32-bit user key. Bits already burned may be
// requested again. Burned bits missing from key are returned in a
// *RevertError after the new bits are burned.
func (s *Session) ProgramUserKey(key []byte) (*Report, error) {
	return s.Apply(Plan{UserKey: nonNil(key)})
}

// ReadUserKey reads the 32-bit user key
func (s *Session) ReadUserKey() ([]byte, error) {
	return s.readKeyField(FieldUserKey)
}

// ProgramUserKey128 burns the 128-bit user key
func (s *Session) ProgramUserKey128(key []byte) (*Report, error) {
	return s.Apply(Plan{UserKey128: nonNil(key)})
}

// ReadUserKey128 reads the 128-bit user key
func (s *Session) ReadUserKey128() ([]byte, error) {
	return s.readKeyField(FieldUserKey128)
}

// ProgramRSAHash burns the RSA public key hash with Hamming parity
func (s *Session) ProgramRSAHash(hash []byte) (*Report, error) {
	return s.Apply(Plan{RSAHash: nonNil(hash)})
}

// ReadRSAHash reads and error-corrects the RSA public key hash
func (s *Session) ReadRSAHash() ([]byte, error) {
	return s.readKeyField(FieldRSAHash)
}

// ProgramControlBits burns control bits so the row holds exactly want.
// want must include every bit already burned.
func (s *Session) ProgramControlBits(want PolicySet) (*Report, error) {
	return s.Apply(Plan{Control: &want})
}

// ReadControlBits returns the burned control bits, both copies merged
func (s *Session) ReadControlBits() (PolicySet, error) {
	return s.readPolicy(FieldControl)
}

// ProgramSecureBits burns secure bits so the row holds exactly want
func (s *Session) ProgramSecureBits(want PolicySet) (*Report, error) {
	return s.Apply(Plan{Secure: &want})
}

// ReadSecureBits returns the burned secure bits, both copies merged
func (s *Session) ReadSecureBits() (PolicySet, error) {
	return s.readPolicy(FieldSecure)
}

// Status is the decoded hardware status word
type Status struct {
	Word    uint32
	Control PolicySet
}

// ReadStatus reads the hardware status word
func (s *Session) ReadStatus() (Status, error) {
	if err := s.ensureInit(); err != nil {
		return Status{}, err
	}
	if err := s.guard.Check(OpRead); err != nil {
		return Status{}, err
	}
	word, err := s.transport.ReadStatusRow()
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	return Status{Word: word, Control: s.geo.Control.Decode(s.geo.Control.Merge(word, 0))}, nil
}

// ReadRow senses a raw row for diagnostics
func (s *Session) ReadRow(addr RowAddress, m Margin) (uint32, error) {
	if err := s.ensureInit(); err != nil {
		return 0, err
	}
	if !m.Valid() {
		return 0, fmt.Errorf("%s: %w", m, ErrAddressOutOfRange)
	}
	if err := s.geo.CheckRow(addr); err != nil {
		return 0, err
	}
	return s.readRow(addr, m)
}

func (s *Session) readKeyField(f Field) ([]byte, error) {
	if err := s.ensureInit(); err != nil {
		return nil, err
	}
	l, err := s.geo.Field(f)
	if err != nil {
		return nil, err
	}
	if !l.Readback {
		return nil, fmt.Errorf("%s is write-only on %s: %w", f, s.geo.Variant, ErrReadDisabledByPolicy)
	}
	if err := s.checkLocks(f, OpRead, l.ReadLocks); err != nil {
		return nil, err
	}

	rows := make([]uint32, len(l.Segments))
	for i, seg := range l.Segments {
		if rows[i], err = s.readRow(seg.RowAddress(), MarginNormal); err != nil {
			return nil, err
		}
	}
	buf, corrected := l.Decode(rows)
	if corrected > 0 {
		s.stats.ECCCorrections += uint64(corrected)
		s.log.Warn("corrected single-bit errors on read", "field", f, "rows", corrected)
	}
	return buf, nil
}

func (s *Session) readPolicy(f Field) (PolicySet, error) {
	if err := s.ensureInit(); err != nil {
		return 0, err
	}
	p, err := s.geo.Policy(f)
	if err != nil {
		return 0, err
	}
	if err := s.checkLocks(f, OpRead, p.ReadLocks); err != nil {
		return 0, err
	}
	row, err := s.readPolicyRow(p)
	if err != nil {
		return 0, err
	}
	return p.Decode(row), nil
}

// nonNil keeps an empty caller buffer distinguishable from "not requested"
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
