// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

// BitTransport addresses and senses individual fuse cells
type BitTransport interface {
	// ServerInit performs the one-time scan chain handshake and returns the
	// device IDCODE
	ServerInit() (uint32, error)

	// WriteBit issues one program pulse. A completed call is committed.
	WriteBit(addr BitAddress) error

	// ReadRow senses a row at the given margin
	ReadRow(addr RowAddress, margin Margin) (uint32, error)

	// ReadStatusRow returns the hardware status word
	ReadStatusRow() (uint32, error)

	// CheckKeyCRC asks the hardware to compare its CRC of the AES key rows
	// against expected, sensing at margin
	CheckKeyCRC(expected uint32, margin Margin) (bool, error)
}

// Rail selects the supply sampled alongside temperature
type Rail uint8

const (
	RailVCCAUX Rail = iota
	RailVCCINT
)

func (r Rail) String() string {
	if r == RailVCCINT {
		return "VCCINT"
	}
	return "VCCAUX"
}

// RawSample is one 12-bit XADC temperature and supply conversion
type RawSample struct {
	Temperature uint16
	Voltage     uint16
}

// Sensor reads the on-chip analog monitor
type Sensor interface {
	ReadTemperatureAndVoltage(rail Rail) (RawSample, error)
}

// Journal records every program pulse issued to the transport
type Journal interface {
	RecordBurn(b Burn) error
}

// Burn is one issued program pulse
type Burn struct {
	IDCode  uint32
	Variant Variant
	Field   Field
	Addr    BitAddress
}
