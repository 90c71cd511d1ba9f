// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"errors"
	"testing"
)

var allVariants = []Variant{VariantZynq, VariantUltraScale, VariantUltraScalePlus}

// ============================================================
// Geometry Tests
// ============================================================

func TestGeometry_FieldSizes(t *testing.T) {
	for _, v := range allVariants {
		geo, err := GeometryFor(v)
		if err != nil {
			t.Fatal(err)
		}
		for f, l := range geo.Fields {
			total := 0
			for _, seg := range l.Segments {
				total += int(seg.Width)
			}
			if total != l.Bits {
				t.Errorf("%s %s: segments hold %d bits, field is %d", v, f, total, l.Bits)
			}
		}
	}
}

func TestGeometry_NoOverlap(t *testing.T) {
	type cell struct{ page, row, bit uint8 }

	for _, v := range allVariants {
		geo, _ := GeometryFor(v)
		owner := map[cell]string{}
		claim := func(name string, page, row uint8, mask uint32) {
			for b := uint8(0); b < RowBits; b++ {
				if mask&(1<<b) == 0 {
					continue
				}
				c := cell{page, row, b}
				if prev, ok := owner[c]; ok {
					t.Errorf("%s: p%d/r%d/b%d claimed by %s and %s", v, page, row, b, prev, name)
				}
				owner[c] = name
			}
		}
		for f, l := range geo.Fields {
			for _, seg := range l.Segments {
				mask := seg.Mask()
				if l.Encoding == EncodingHamming {
					mask = hammingWordMask
				}
				claim(f.String(), seg.Page, seg.Row, mask)
			}
		}
		for _, p := range []*PolicyLayout{&geo.Control, &geo.Secure} {
			primary := p.Mask(p.Supported())
			claim(p.Field.String(), p.Page, p.Row, primary)
			if p.Redundancy == RedundancyOffset {
				claim(p.Field.String()+"-mirror", p.Page, p.Row, primary<<p.Offset)
			}
		}
	}
}

func TestGeometry_ZynqKeyPacking(t *testing.T) {
	geo, _ := GeometryFor(VariantZynq)
	aes, _ := geo.Field(FieldAESKey)
	user, _ := geo.Field(FieldUserKey)

	last := aes.Segments[len(aes.Segments)-1]
	if aes.Segments[0].Row != 20 || last.Row != 30 || last.Width != 16 {
		t.Errorf("AES spans r%d..r%d ending with %d bits", aes.Segments[0].Row, last.Row, last.Width)
	}
	if user.Segments[0].Row != 30 || user.Segments[0].First != 16 || user.Segments[0].Width != 8 {
		t.Errorf("user key starts at %+v", user.Segments[0])
	}
	if user.Segments[1].Row != 31 || user.Segments[1].Width != 24 {
		t.Errorf("user key continues at %+v", user.Segments[1])
	}
	if _, err := geo.Field(FieldUserKey128); !errors.Is(err, ErrUnsupportedField) {
		t.Errorf("user key 128 on Zynq: %v", err)
	}
}

func TestGeometry_CheckAddress(t *testing.T) {
	zynq, _ := GeometryFor(VariantZynq)
	us, _ := GeometryFor(VariantUltraScale)
	usp, _ := GeometryFor(VariantUltraScalePlus)

	tests := []struct {
		name string
		geo  *Geometry
		addr BitAddress
		ok   bool
	}{
		{"zynq control bit", zynq, BitAddress{Row: 0, Bit: 1}, true},
		{"zynq reserved bit 0", zynq, BitAddress{Row: 0, Bit: 0}, false},
		{"zynq reserved bit 7", zynq, BitAddress{Row: 0, Bit: 7}, false},
		{"zynq reserved mirror 21", zynq, BitAddress{Row: 0, Bit: 21}, false},
		{"zynq control mirror 24", zynq, BitAddress{Row: 0, Bit: 24}, true},
		{"zynq control gap 12", zynq, BitAddress{Row: 0, Bit: 12}, false},
		{"zynq control gap 14", zynq, BitAddress{Row: 0, Bit: 14}, false},
		{"zynq control above 24", zynq, BitAddress{Row: 0, Bit: 26}, false},
		{"zynq reserved row 5", zynq, BitAddress{Row: 5, Bit: 3}, false},
		{"zynq reserved row 19", zynq, BitAddress{Row: 19}, false},
		{"zynq data bit 23", zynq, BitAddress{Row: 20, Bit: 23}, true},
		{"zynq data bit 28", zynq, BitAddress{Row: 20, Bit: 28}, false},
		{"zynq secure mirror", zynq, BitAddress{Row: 32, Bit: 20}, true},
		{"zynq secure gap", zynq, BitAddress{Row: 32, Bit: 8}, false},
		{"zynq hamming parity", zynq, BitAddress{Row: 49, Bit: 30}, true},
		{"zynq hamming bit 31", zynq, BitAddress{Row: 49, Bit: 31}, false},
		{"zynq reserved row 63", zynq, BitAddress{Row: 63}, false},
		{"zynq row too large", zynq, BitAddress{Row: 64}, false},
		{"ultrascale bit 31", us, BitAddress{Row: 2, Bit: 31}, false},
		{"zynq page 1", zynq, BitAddress{Page: 1}, false},
		{"zynq redundant plane", zynq, BitAddress{Row: 1, Redundant: true}, false},
		{"usp page 1", usp, BitAddress{Page: 1, Row: 14, Bit: 30}, true},
		{"usp redundant plane", usp, BitAddress{Row: 0, Bit: 3, Redundant: true}, true},
		{"usp row 32", usp, BitAddress{Row: 32}, false},
		{"bit 32", usp, BitAddress{Bit: 32}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.geo.CheckAddress(tt.addr)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrAddressOutOfRange) {
				t.Errorf("expected ErrAddressOutOfRange, got %v", err)
			}
		})
	}
}

func TestGeometry_CheckRow(t *testing.T) {
	zynq, _ := GeometryFor(VariantZynq)
	// bit 0 of the control row is reserved, the row itself is not
	if err := zynq.CheckRow(RowAddress{Row: 0}); err != nil {
		t.Errorf("control row: %v", err)
	}
	if err := zynq.CheckRow(RowAddress{Row: 10}); !errors.Is(err, ErrAddressOutOfRange) {
		t.Errorf("reserved row 10: %v", err)
	}
}

func TestGeometry_LayoutsAreAddressable(t *testing.T) {
	for _, v := range allVariants {
		geo, _ := GeometryFor(v)
		check := func(name string, w rowWrite) {
			if err := geo.checkWrite(w); err != nil {
				t.Errorf("%s %s: %v", v, name, err)
			}
		}
		for f, l := range geo.Fields {
			for _, seg := range l.Segments {
				mask := seg.Mask()
				if l.Encoding == EncodingHamming {
					mask = hammingWordMask
				}
				check(f.String(), rowWrite{addr: seg.RowAddress(), mask: mask, want: mask})
			}
		}
		for _, p := range []*PolicyLayout{&geo.Control, &geo.Secure} {
			for _, w := range policyWrites(p, p.Mask(p.Supported())) {
				check(p.Field.String(), w)
			}
		}
	}
}

func TestPolicyLayout_MirrorAndMerge(t *testing.T) {
	zynq, _ := GeometryFor(VariantZynq)
	us, _ := GeometryFor(VariantUltraScale)

	m := zynq.Control.Mirror(BitAddress{Row: 0, Bit: 8})
	if m.Bit != 22 || m.Redundant {
		t.Errorf("zynq mirror of bit 8 = %s", m)
	}
	// only the mirror copy of force-aes-only survived
	if got := zynq.Control.Decode(zynq.Control.Merge(1<<22, 0)); !got.Has(CtrlForceAESOnly) {
		t.Errorf("merged zynq control = %s", got)
	}

	m = us.Control.Mirror(BitAddress{Row: 0, Bit: 5})
	if m.Bit != 5 || !m.Redundant {
		t.Errorf("ultrascale mirror of bit 5 = %s", m)
	}
	if got := us.Control.Decode(us.Control.Merge(0, 1<<5)); !got.Has(CtrlKeyWriteDisable) {
		t.Errorf("merged ultrascale control = %s", got)
	}
}

// ============================================================
// Variant Tests
// ============================================================

func TestVariantFromIDCode(t *testing.T) {
	tests := []struct {
		idcode uint32
		want   Variant
	}{
		{IDCodeZynq7020, VariantZynq},
		{IDCodeKU040, VariantUltraScale},
		{IDCodeKU5P, VariantUltraScalePlus},
		{0x14B31093, VariantUltraScalePlus}, // revision nibble ignored
		{IDCodeUnknownVendor, VariantUnknown},
		{0, VariantUnknown},
	}
	for _, tt := range tests {
		if got := VariantFromIDCode(tt.idcode); got != tt.want {
			t.Errorf("VariantFromIDCode(0x%08X) = %s, want %s", tt.idcode, got, tt.want)
		}
	}
}

func TestParseVariant(t *testing.T) {
	for _, v := range allVariants {
		got, err := ParseVariant(v.String())
		if err != nil || got != v {
			t.Errorf("ParseVariant(%q) = %s, %v", v.String(), got, err)
		}
	}
	if _, err := ParseVariant("spartan"); err == nil {
		t.Error("expected error for unknown variant")
	}
}

// ============================================================
// Policy Set Tests
// ============================================================

func TestPolicySet(t *testing.T) {
	s := NewPolicySet(CtrlKeyWriteDisable, SecJTAGDisable)
	if !s.Has(CtrlKeyWriteDisable) || !s.Has(SecJTAGDisable) || s.Has(CtrlAESReadDisable) {
		t.Errorf("membership wrong: %s", s)
	}
	if s.Control() != NewPolicySet(CtrlKeyWriteDisable) {
		t.Errorf("Control() = %s", s.Control())
	}
	if s.Secure() != NewPolicySet(SecJTAGDisable) {
		t.Errorf("Secure() = %s", s.Secure())
	}

	parsed, err := ParsePolicySet(s.String())
	if err != nil || parsed != s {
		t.Errorf("ParsePolicySet(%q) = %s, %v", s.String(), parsed, err)
	}
	if _, err := ParsePolicySet("key-write-disable,nonsense"); err == nil {
		t.Error("expected error for unknown bit")
	}
}
