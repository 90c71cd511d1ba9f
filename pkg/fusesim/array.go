// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package fusesim simulates an eFuse array, its scan transport and its
// analog monitor.
//
// Reads return the last written value. Cells can be weakened so they sense 0
// from a given margin upward, and writes can be made to fail, which is enough
// to drive every verification and redundancy path of the engine.
package fusesim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Thermoquad/fusectl/pkg/efuse"
)

// Nominal environment used by New
const (
	NominalTemperature = 25.0
	NominalVCCAUX      = 1.80
)

// ErrWriteFault is the default injected write failure
var ErrWriteFault = errors.New("simulated program pulse failure")

// Calls counts transport traffic
type Calls struct {
	Inits     int
	Writes    int
	Reads     int
	Status    int
	CRCChecks int
	Sensor    int
}

// Array is a simulated fuse array. It implements efuse.BitTransport and
// efuse.Sensor and is safe for concurrent use.
type Array struct {
	mu     sync.Mutex
	geo    *efuse.Geometry
	idcode uint32
	cells  [][][2]uint32 // [page][row][plane]

	weak       map[efuse.BitAddress]efuse.Margin
	failWrites map[efuse.BitAddress]error

	temperature float64
	vccaux      float64
	vccint      float64
	sensorErr   error

	calls Calls
}

// New creates a blank array with a default IDCODE and a nominal environment
func New(v efuse.Variant) (*Array, error) {
	geo, err := efuse.GeometryFor(v)
	if err != nil {
		return nil, err
	}
	a := &Array{
		geo:         geo,
		idcode:      DefaultIDCode(v),
		weak:        make(map[efuse.BitAddress]efuse.Margin),
		failWrites:  make(map[efuse.BitAddress]error),
		temperature: NominalTemperature,
		vccaux:      NominalVCCAUX,
		vccint:      nominalVCCINT(geo),
	}
	a.cells = make([][][2]uint32, geo.Pages)
	for p := range a.cells {
		a.cells[p] = make([][2]uint32, geo.Rows)
	}
	return a, nil
}

// DefaultIDCode returns a representative IDCODE for v
func DefaultIDCode(v efuse.Variant) uint32 {
	switch v {
	case efuse.VariantZynq:
		return efuse.IDCodeZynq7020
	case efuse.VariantUltraScale:
		return efuse.IDCodeKU040
	case efuse.VariantUltraScalePlus:
		return efuse.IDCodeKU5P
	}
	return efuse.IDCodeUnknownVendor
}

// nominalVCCINT is the centre of the write range
func nominalVCCINT(geo *efuse.Geometry) float64 {
	r := geo.Env.WriteVCCINT
	return (r.Min + r.Max) / 2
}

// Variant returns the simulated variant
func (a *Array) Variant() efuse.Variant {
	return a.geo.Variant
}

func (a *Array) plane(addr efuse.RowAddress) int {
	if addr.Redundant {
		return 1
	}
	return 0
}

func (a *Array) checkRow(addr efuse.RowAddress) error {
	if int(addr.Page) >= len(a.cells) || int(addr.Row) >= len(a.cells[addr.Page]) {
		return fmt.Errorf("row %s: %w", addr, efuse.ErrAddressOutOfRange)
	}
	return nil
}

// ServerInit implements efuse.BitTransport
func (a *Array) ServerInit() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls.Inits++
	return a.idcode, nil
}

// WriteBit implements efuse.BitTransport
func (a *Array) WriteBit(addr efuse.BitAddress) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls.Writes++
	if err := a.checkRow(addr.RowAddress()); err != nil {
		return err
	}
	if addr.Bit >= efuse.RowBits {
		return fmt.Errorf("bit %s: %w", addr, efuse.ErrAddressOutOfRange)
	}
	if err, ok := a.failWrites[addr]; ok {
		return err
	}
	a.cells[addr.Page][addr.Row][a.plane(addr.RowAddress())] |= 1 << addr.Bit
	return nil
}

// ReadRow implements efuse.BitTransport
func (a *Array) ReadRow(addr efuse.RowAddress, m efuse.Margin) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls.Reads++
	if err := a.checkRow(addr); err != nil {
		return 0, err
	}
	return a.sense(addr, m), nil
}

// sense applies weak cells to the stored value
func (a *Array) sense(addr efuse.RowAddress, m efuse.Margin) uint32 {
	v := a.cells[addr.Page][addr.Row][a.plane(addr)]
	for cell, from := range a.weak {
		if cell.RowAddress() == addr && m >= from {
			v &^= 1 << cell.Bit
		}
	}
	return v
}

// ReadStatusRow implements efuse.BitTransport. The status word mirrors the
// control row with both planes merged.
func (a *Array) ReadStatusRow() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls.Status++
	ctrl := a.geo.Control
	row := a.cells[ctrl.Page][ctrl.Row]
	return row[0] | row[1], nil
}

// CheckKeyCRC implements efuse.BitTransport by recomputing the key CRC from
// the AES rows as sensed at m
func (a *Array) CheckKeyCRC(expected uint32, m efuse.Margin) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls.CRCChecks++
	l, err := a.geo.Field(efuse.FieldAESKey)
	if err != nil {
		return false, err
	}
	rows := make([]uint32, len(l.Segments))
	for i, seg := range l.Segments {
		rows[i] = a.sense(seg.RowAddress(), m)
	}
	key, _ := l.Decode(rows)
	return efuse.KeyCRC(key) == expected, nil
}

// ReadTemperatureAndVoltage implements efuse.Sensor
func (a *Array) ReadTemperatureAndVoltage(rail efuse.Rail) (efuse.RawSample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls.Sensor++
	if a.sensorErr != nil {
		return efuse.RawSample{}, a.sensorErr
	}
	v := a.vccaux
	if rail == efuse.RailVCCINT {
		v = a.vccint
	}
	return efuse.RawSample{
		Temperature: efuse.RawFromTemperature(a.temperature),
		Voltage:     efuse.RawFromVoltage(v),
	}, nil
}

// Burn sets a cell directly, as if programmed earlier. Not counted as a call.
func (a *Array) Burn(addr efuse.BitAddress) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkRow(addr.RowAddress()); err != nil {
		return err
	}
	a.cells[addr.Page][addr.Row][a.plane(addr.RowAddress())] |= 1 << addr.Bit
	return nil
}

// BurnPolicy sets policy bits in both copies, as if programmed earlier
func (a *Array) BurnPolicy(bits efuse.PolicySet) error {
	for _, p := range []*efuse.PolicyLayout{&a.geo.Control, &a.geo.Secure} {
		for _, b := range bits.Bits() {
			pos, ok := p.Positions[b]
			if !ok {
				continue
			}
			addr := p.RowAddress().Bit(pos)
			if err := a.Burn(addr); err != nil {
				return err
			}
			if err := a.Burn(p.Mirror(addr)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Row returns the stored value of a row, ignoring weak cells
func (a *Array) Row(addr efuse.RowAddress) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checkRow(addr) != nil {
		return 0
	}
	return a.cells[addr.Page][addr.Row][a.plane(addr)]
}

// Weaken makes a programmed cell sense 0 at margin from and above
func (a *Array) Weaken(addr efuse.BitAddress, from efuse.Margin) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.weak[addr] = from
}

// FailWrite makes every program pulse to addr fail with err
// (ErrWriteFault when nil)
func (a *Array) FailWrite(addr efuse.BitAddress, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		err = ErrWriteFault
	}
	a.failWrites[addr] = err
}

// SetEnvironment sets the temperature in °C and the supply rails in volts
func (a *Array) SetEnvironment(temperature, vccaux, vccint float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.temperature = temperature
	a.vccaux = vccaux
	a.vccint = vccint
}

// SetTemperature changes only the temperature
func (a *Array) SetTemperature(celsius float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.temperature = celsius
}

// SetSensorError makes every sensor read fail with err; nil clears it
func (a *Array) SetSensorError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sensorErr = err
}

// SetIDCode overrides the IDCODE returned by ServerInit
func (a *Array) SetIDCode(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.idcode = id
}

// Calls returns the call counters
func (a *Array) Calls() Calls {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// ResetCalls zeroes the call counters
func (a *Array) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = Calls{}
}
