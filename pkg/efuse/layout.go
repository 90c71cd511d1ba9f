// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"fmt"
	"math/bits"
)

// BitAddress locates one fuse cell
type BitAddress struct {
	Page      uint8
	Row       uint8
	Bit       uint8
	Redundant bool
}

func (a BitAddress) String() string {
	s := fmt.Sprintf("p%d/r%d/b%d", a.Page, a.Row, a.Bit)
	if a.Redundant {
		s += "(red)"
	}
	return s
}

// RowAddress returns the row containing a
func (a BitAddress) RowAddress() RowAddress {
	return RowAddress{Page: a.Page, Row: a.Row, Redundant: a.Redundant}
}

// RowAddress locates one fuse row
type RowAddress struct {
	Page      uint8
	Row       uint8
	Redundant bool
}

func (r RowAddress) String() string {
	s := fmt.Sprintf("p%d/r%d", r.Page, r.Row)
	if r.Redundant {
		s += "(red)"
	}
	return s
}

// Bit returns the address of bit b in r
func (r RowAddress) Bit(b uint8) BitAddress {
	return BitAddress{Page: r.Page, Row: r.Row, Bit: b, Redundant: r.Redundant}
}

// Segment is a run of field bits stored contiguously in one row
type Segment struct {
	Page  uint8
	Row   uint8
	First uint8 // first row bit
	Width uint8 // payload bits, excluding Hamming parity
}

// Mask returns the row bits the segment's payload occupies
func (s Segment) Mask() uint32 {
	return uint32(((uint64(1) << s.Width) - 1) << s.First)
}

// RowAddress returns the primary row holding s
func (s Segment) RowAddress() RowAddress {
	return RowAddress{Page: s.Page, Row: s.Row}
}

// Encoding is the on-fuse representation of a field row
type Encoding uint8

const (
	EncodingRaw Encoding = iota
	EncodingHamming
)

// FieldLayout maps a key field onto the array
type FieldLayout struct {
	Field       Field
	Bits        int
	Encoding    Encoding
	Segments    []Segment
	MustBeBlank bool // any burned bit before first write is an error
	Readback    bool // direct read of the cells is allowed by hardware
	ReadLocks   []PolicyBit
	WriteLocks  []PolicyBit
}

// Bytes returns the field size in bytes
func (l *FieldLayout) Bytes() int {
	return l.Bits / 8
}

// RedundancyMode selects where the redundant copy of a policy bit lives
type RedundancyMode uint8

const (
	// RedundancyPlane stores the copy in the transport's redundant plane
	RedundancyPlane RedundancyMode = iota
	// RedundancyOffset stores the copy in the same row at bit+Offset
	RedundancyOffset
)

// PolicyLayout maps control or secure bits onto a row
type PolicyLayout struct {
	Field      Field
	Page       uint8
	Row        uint8
	Positions  map[PolicyBit]uint8
	Redundancy RedundancyMode
	Offset     uint8
	ReadLocks  []PolicyBit
	WriteLocks []PolicyBit
}

// RowAddress returns the primary row
func (p *PolicyLayout) RowAddress() RowAddress {
	return RowAddress{Page: p.Page, Row: p.Row}
}

// Supported returns every bit the layout can store
func (p *PolicyLayout) Supported() PolicySet {
	var s PolicySet
	for b := range p.Positions {
		s = s.With(b)
	}
	return s
}

// Mask returns the primary row bits for set. Unsupported members are ignored.
func (p *PolicyLayout) Mask(set PolicySet) uint32 {
	var m uint32
	for _, b := range set.Bits() {
		if pos, ok := p.Positions[b]; ok {
			m |= 1 << pos
		}
	}
	return m
}

// Decode converts an OR-merged row into a set
func (p *PolicyLayout) Decode(row uint32) PolicySet {
	var s PolicySet
	for b, pos := range p.Positions {
		if row&(1<<pos) != 0 {
			s = s.With(b)
		}
	}
	return s
}

// Mirror returns the redundant copy of a primary policy bit
func (p *PolicyLayout) Mirror(a BitAddress) BitAddress {
	if p.Redundancy == RedundancyOffset {
		a.Bit += p.Offset
		return a
	}
	a.Redundant = true
	return a
}

// Merge folds the redundant copy of a row onto the primary positions
func (p *PolicyLayout) Merge(primary, redundant uint32) uint32 {
	if p.Redundancy == RedundancyOffset {
		return primary | primary>>p.Offset | redundant
	}
	return primary | redundant
}

// Range is an inclusive interval
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v is inside r
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// EnvLimits holds the safe ranges for one variant
type EnvLimits struct {
	ReadTemp    Range
	WriteTemp   Range
	ReadVCCAUX  Range
	WriteVCCAUX Range
	ReadVCCINT  Range
	WriteVCCINT Range
}

// For returns the ranges that apply to op
func (e EnvLimits) For(op Operation) (temp, vccaux, vccint Range) {
	if op == OpWrite {
		return e.WriteTemp, e.WriteVCCAUX, e.WriteVCCINT
	}
	return e.ReadTemp, e.ReadVCCAUX, e.ReadVCCINT
}

// Geometry describes the fuse array of one variant
type Geometry struct {
	Variant        Variant
	Name           string
	Pages          uint8
	Rows           uint8
	RowWidth       uint8 // raw payload bits per row
	RedundantPlane bool
	Regions        []Region // programmable rows; empty means every row
	Control        PolicyLayout
	Secure         PolicyLayout
	Fields         map[Field]*FieldLayout
	Env            EnvLimits
}

// Field returns the layout of a key field
func (g *Geometry) Field(f Field) (*FieldLayout, error) {
	l, ok := g.Fields[f]
	if !ok {
		return nil, fmt.Errorf("%s on %s: %w", f, g.Variant, ErrUnsupportedField)
	}
	return l, nil
}

// Policy returns the control or secure layout
func (g *Geometry) Policy(f Field) (*PolicyLayout, error) {
	switch f {
	case FieldControl:
		return &g.Control, nil
	case FieldSecure:
		return &g.Secure, nil
	}
	return nil, fmt.Errorf("%s is not a policy field: %w", f, ErrUnsupportedField)
}

// Region is a run of rows sharing one set of usable bits. Cells outside
// every region of a geometry are reserved.
type Region struct {
	Page     uint8
	FirstRow uint8
	LastRow  uint8
	Bits     uint32
}

func (r Region) contains(page, row uint8) bool {
	return page == r.Page && row >= r.FirstRow && row <= r.LastRow
}

// usableBits returns the programmable bits of a row, or false for a
// reserved row
func (g *Geometry) usableBits(page, row uint8) (uint32, bool) {
	if len(g.Regions) == 0 {
		return uint32(uint64(1)<<g.RowWidth - 1), true
	}
	for _, r := range g.Regions {
		if r.contains(page, row) {
			return r.Bits, true
		}
	}
	return 0, false
}

// CheckAddress validates a against the array bounds and reserved cells
func (g *Geometry) CheckAddress(a BitAddress) error {
	if reason := g.rowProblem(a.RowAddress()); reason != "" {
		return &AddressError{Addr: a, Reason: reason}
	}
	if a.Bit >= RowBits {
		return &AddressError{Addr: a, Reason: "bit exceeds 31"}
	}
	usable, _ := g.usableBits(a.Page, a.Row)
	if usable&(1<<a.Bit) == 0 {
		return &AddressError{Addr: a, Reason: "reserved cell"}
	}
	return nil
}

// CheckRow validates the page, row and plane of r. Individual bits are
// checked by CheckAddress.
func (g *Geometry) CheckRow(r RowAddress) error {
	if reason := g.rowProblem(r); reason != "" {
		return &AddressError{Addr: r.Bit(0), Reason: reason}
	}
	return nil
}

func (g *Geometry) rowProblem(r RowAddress) string {
	switch {
	case r.Page >= g.Pages:
		return fmt.Sprintf("page exceeds %d", g.Pages-1)
	case r.Row >= g.Rows:
		return fmt.Sprintf("row exceeds %d", g.Rows-1)
	case r.Redundant && !g.RedundantPlane:
		return "variant has no redundant plane"
	}
	if _, ok := g.usableBits(r.Page, r.Row); !ok {
		return "reserved row"
	}
	return ""
}

// checkWrite validates every bit a row write would pulse
func (g *Geometry) checkWrite(w rowWrite) error {
	if err := g.CheckRow(w.addr); err != nil {
		return err
	}
	for v := w.want & w.mask; v != 0; v &= v - 1 {
		if err := g.CheckAddress(w.addr.Bit(uint8(bits.TrailingZeros32(v)))); err != nil {
			return err
		}
	}
	return nil
}

// rowAllocator lays field bits out row by row
type rowAllocator struct {
	page  uint8
	row   uint8
	bit   uint8
	width uint8
}

func (a *rowAllocator) take(n int) []Segment {
	var segs []Segment
	for n > 0 {
		free := int(a.width - a.bit)
		w := free
		if n < w {
			w = n
		}
		segs = append(segs, Segment{Page: a.page, Row: a.row, First: a.bit, Width: uint8(w)})
		n -= w
		a.bit += uint8(w)
		if a.bit == a.width {
			a.row++
			a.bit = 0
		}
	}
	return segs
}

// hammingRows lays n bits out as one 26-bit block per row
func hammingRows(page, row uint8, n int) []Segment {
	a := &rowAllocator{page: page, row: row, width: HammingDataBits}
	return a.take(n)
}

// GeometryFor returns the descriptor of a variant
func GeometryFor(v Variant) (*Geometry, error) {
	switch v {
	case VariantZynq:
		return zynqGeometry(), nil
	case VariantUltraScale:
		return ultraScaleGeometry(), nil
	case VariantUltraScalePlus:
		return ultraScalePlusGeometry(), nil
	}
	return nil, fmt.Errorf("no geometry for variant %s", v)
}

// zynqControlBits are the primary control positions of the Zynq PL row
const zynqControlBits = 0x3E | 0x700

func zynqGeometry() *Geometry {
	data := &rowAllocator{page: 0, row: 20, width: 24}
	dataWriteLocks := []PolicyBit{CtrlKeyWriteDisable, CtrlAESReadDisable, CtrlUserKeyReadDisable}

	return &Geometry{
		Variant:  VariantZynq,
		Name:     "Zynq-7000 PL",
		Pages:    1,
		Rows:     64,
		RowWidth: 24,
		Regions: []Region{
			// control bits 1..5 and 8..10, copies at +14
			{FirstRow: 0, LastRow: 0, Bits: zynqControlBits | zynqControlBits<<14},
			{FirstRow: 20, LastRow: 31, Bits: 1<<24 - 1},
			{FirstRow: 32, LastRow: 32, Bits: 0x1F | 0x1F<<16},
			{FirstRow: 40, LastRow: 49, Bits: hammingWordMask},
		},
		Control: PolicyLayout{
			Field: FieldControl,
			Row:   0,
			Positions: map[PolicyBit]uint8{
				CtrlForcePowerCycle:     1,
				CtrlKeyWriteDisable:     2,
				CtrlAESReadDisable:      3,
				CtrlUserKeyReadDisable:  4,
				CtrlControlWriteDisable: 5,
				CtrlForceAESOnly:        8,
				CtrlJTAGChainDisable:    9,
				CtrlBBRAMKeyDisable:     10,
			},
			Redundancy: RedundancyOffset,
			Offset:     14,
			WriteLocks: []PolicyBit{CtrlControlWriteDisable},
		},
		Secure: PolicyLayout{
			Field: FieldSecure,
			Row:   32,
			Positions: map[PolicyBit]uint8{
				SecEncryptOnly:      0,
				SecRSAAuthEnable:    1,
				SecJTAGDisable:      2,
				SecDecryptOnlyEFuse: 3,
				SecBBRAMDisable:     4,
			},
			Redundancy: RedundancyOffset,
			Offset:     16,
			WriteLocks: []PolicyBit{CtrlControlWriteDisable},
		},
		Fields: map[Field]*FieldLayout{
			FieldAESKey: {
				Field:       FieldAESKey,
				Bits:        AESKeyBits,
				Segments:    data.take(AESKeyBits),
				MustBeBlank: true,
				Readback:    true,
				ReadLocks:   []PolicyBit{CtrlAESReadDisable},
				WriteLocks:  dataWriteLocks,
			},
			FieldUserKey: {
				Field:      FieldUserKey,
				Bits:       UserKeyBits,
				Segments:   data.take(UserKeyBits),
				Readback:   true,
				ReadLocks:  []PolicyBit{CtrlUserKeyReadDisable},
				WriteLocks: dataWriteLocks,
			},
			FieldRSAHash: {
				Field:       FieldRSAHash,
				Bits:        RSAHashBitsZynq,
				Encoding:    EncodingHamming,
				Segments:    hammingRows(0, 40, RSAHashBitsZynq),
				MustBeBlank: true,
				Readback:    true,
				WriteLocks:  []PolicyBit{CtrlKeyWriteDisable},
			},
		},
		Env: EnvLimits{
			ReadTemp:    Range{-40, 125},
			WriteTemp:   Range{0, 100},
			ReadVCCAUX:  Range{1.71, 1.98},
			WriteVCCAUX: Range{1.71, 1.89},
			ReadVCCINT:  Range{0.87, 1.10},
			WriteVCCINT: Range{0.95, 1.05},
		},
	}
}

// ultraScaleControl is shared by both UltraScale families
func ultraScaleControl() PolicyLayout {
	return PolicyLayout{
		Field: FieldControl,
		Row:   0,
		Positions: map[PolicyBit]uint8{
			CtrlAESReadDisable:      0,
			CtrlUserKeyReadDisable:  1,
			CtrlSecureReadDisable:   2,
			CtrlControlWriteDisable: 3,
			CtrlRSAReadDisable:      4,
			CtrlKeyWriteDisable:     5,
			CtrlUserKeyWriteDisable: 6,
			CtrlSecureWriteDisable:  7,
			CtrlRSAWriteDisable:     8,
			CtrlUser128ReadDisable:  9,
			CtrlUser128WriteDisable: 10,
		},
		Redundancy: RedundancyPlane,
		WriteLocks: []PolicyBit{CtrlControlWriteDisable},
	}
}

func ultraScaleGeometry() *Geometry {
	return &Geometry{
		Variant:        VariantUltraScale,
		Name:           "UltraScale",
		Pages:          1,
		Rows:           64,
		RowWidth:       31,
		RedundantPlane: true,
		Control:        ultraScaleControl(),
		Secure: PolicyLayout{
			Field: FieldSecure,
			Row:   1,
			Positions: map[PolicyBit]uint8{
				SecEncryptOnly:       0,
				SecRSAAuthEnable:     1,
				SecTestAccessDisable: 2,
				SecJTAGDisable:       3,
				SecDecryptOnlyEFuse:  4,
			},
			Redundancy: RedundancyPlane,
			ReadLocks:  []PolicyBit{CtrlSecureReadDisable},
			WriteLocks: []PolicyBit{CtrlSecureWriteDisable},
		},
		Fields: ultraScaleFields(0, 2, 11, 13, 0, 20, 31),
		Env: EnvLimits{
			ReadTemp:    Range{-55, 125},
			WriteTemp:   Range{-40, 125},
			ReadVCCAUX:  Range{1.62, 1.98},
			WriteVCCAUX: Range{1.746, 1.854},
			ReadVCCINT:  Range{0.80, 1.03},
			WriteVCCINT: Range{0.873, 0.927},
		},
	}
}

func ultraScalePlusGeometry() *Geometry {
	return &Geometry{
		Variant:        VariantUltraScalePlus,
		Name:           "UltraScale+",
		Pages:          2,
		Rows:           32,
		RowWidth:       32,
		RedundantPlane: true,
		Control:        ultraScaleControl(),
		Secure: PolicyLayout{
			Field: FieldSecure,
			Row:   1,
			Positions: map[PolicyBit]uint8{
				SecEncryptOnly:       0,
				SecRSAAuthEnable:     1,
				SecTestAccessDisable: 2,
				SecJTAGDisable:       3,
				SecDecryptOnlyEFuse:  4,
				SecPUFHelperLock:     5,
				SecBBRAMDisable:      6,
			},
			Redundancy: RedundancyPlane,
			ReadLocks:  []PolicyBit{CtrlSecureReadDisable},
			WriteLocks: []PolicyBit{CtrlSecureWriteDisable},
		},
		Fields: ultraScaleFields(0, 8, 16, 17, 1, 0, 32),
		Env: EnvLimits{
			ReadTemp:    Range{-55, 125},
			WriteTemp:   Range{-40, 125},
			ReadVCCAUX:  Range{1.62, 1.98},
			WriteVCCAUX: Range{1.746, 1.854},
			ReadVCCINT:  Range{0.68, 0.93},
			WriteVCCINT: Range{0.83, 0.876},
		},
	}
}

// ultraScaleFields lays out the key fields of the UltraScale families.
// Each field starts on a fresh row.
func ultraScaleFields(keyPage, aesRow, userRow, user128Row, rsaPage, rsaRow, width uint8) map[Field]*FieldLayout {
	alloc := func(row uint8, n int) []Segment {
		a := &rowAllocator{page: keyPage, row: row, width: width}
		return a.take(n)
	}
	return map[Field]*FieldLayout{
		FieldAESKey: {
			Field:       FieldAESKey,
			Bits:        AESKeyBits,
			Segments:    alloc(aesRow, AESKeyBits),
			MustBeBlank: true,
			ReadLocks:   []PolicyBit{CtrlAESReadDisable},
			WriteLocks:  []PolicyBit{CtrlKeyWriteDisable},
		},
		FieldUserKey: {
			Field:      FieldUserKey,
			Bits:       UserKeyBits,
			Segments:   alloc(userRow, UserKeyBits),
			Readback:   true,
			ReadLocks:  []PolicyBit{CtrlUserKeyReadDisable},
			WriteLocks: []PolicyBit{CtrlUserKeyWriteDisable},
		},
		FieldUserKey128: {
			Field:      FieldUserKey128,
			Bits:       UserKey128Bits,
			Segments:   alloc(user128Row, UserKey128Bits),
			Readback:   true,
			ReadLocks:  []PolicyBit{CtrlUser128ReadDisable},
			WriteLocks: []PolicyBit{CtrlUser128WriteDisable},
		},
		FieldRSAHash: {
			Field:       FieldRSAHash,
			Bits:        RSAHashBitsSHA384,
			Encoding:    EncodingHamming,
			Segments:    hammingRows(rsaPage, rsaRow, RSAHashBitsSHA384),
			MustBeBlank: true,
			Readback:    true,
			ReadLocks:   []PolicyBit{CtrlRSAReadDisable},
			WriteLocks:  []PolicyBit{CtrlRSAWriteDisable},
		},
	}
}
