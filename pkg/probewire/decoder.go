// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probewire

import (
	"errors"
	"fmt"
	"time"
)

// Decode errors, matched with errors.Is
var (
	ErrCRCMismatch = errors.New("CRC mismatch")
	ErrFraming     = errors.New("framing error")
)

// Decoder reassembles packets from a byte stream
type Decoder struct {
	state     int
	buffer    []byte // unstuffed length, address and body
	escaped   bool
	length    uint8
	address   uint64
	addrBytes int
	crc       uint16
	rawBuffer []byte // wire bytes since the last start byte
}

// NewDecoder creates a decoder waiting for a start byte
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, 0, MaxPacketSize),
		rawBuffer: make([]byte, 0, MaxPacketSize*2),
	}
}

// Reset drops any partial frame
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.escaped = false
	d.length = 0
	d.address = 0
	d.addrBytes = 0
	d.crc = 0
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the wire bytes of the current or last frame
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte feeds one wire byte. It returns a packet when a frame completes
// and an error when a frame is discarded.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	// framing bytes never appear stuffed, so they act before escape handling
	switch b {
	case StartByte:
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateLength
		return nil, nil
	case EndByte:
		d.rawBuffer = append(d.rawBuffer, b)
		return d.finish()
	}

	if d.state == stateIdle {
		return nil, nil
	}
	d.rawBuffer = append(d.rawBuffer, b)

	if b == EscByte {
		d.escaped = true
		return nil, nil
	}
	if d.escaped {
		b ^= EscXor
		d.escaped = false
	}

	switch d.state {
	case stateLength:
		if b > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("%w: invalid length %d (max %d)", ErrFraming, b, MaxPayloadSize)
		}
		d.length = b
		d.buffer = append(d.buffer, b)
		d.state = stateAddress

	case stateAddress:
		d.address |= uint64(b) << (d.addrBytes * 8)
		d.buffer = append(d.buffer, b)
		d.addrBytes++
		if d.addrBytes == AddressSize {
			if d.length == 0 {
				d.state = stateCRC1
			} else {
				d.state = statePayload
			}
		}

	case statePayload:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) == 1+AddressSize+int(d.length) {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd

	default:
		state := d.state
		d.Reset()
		return nil, fmt.Errorf("%w: trailing byte 0x%02X in state %d", ErrFraming, b, state)
	}
	return nil, nil
}

// finish validates a frame on END
func (d *Decoder) finish() (*Packet, error) {
	if d.state != stateEnd {
		state := d.state
		d.state = stateIdle
		if state == stateIdle {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: unexpected END byte in state %d", ErrFraming, state)
	}
	d.state = stateIdle

	calculated := CalculateCRC(d.buffer)
	if calculated != d.crc {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, d.crc)
	}

	body := make([]byte, d.length)
	copy(body, d.buffer[1+AddressSize:])
	p := NewPacket(d.length, d.address, body, d.crc)
	p.timestamp = time.Now()
	return p, nil
}

// DecodePacket decodes the first complete frame in data
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrFraming)
	}
	d := NewDecoder()
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: incomplete frame", ErrFraming)
}
