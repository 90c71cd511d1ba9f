// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probewire

import "time"

// Packet is one decoded or outgoing probe message
type Packet struct {
	length    uint8
	address   uint64
	body      []byte // CBOR [type, map] as received
	crc       uint16
	timestamp time.Time

	// decoded lazily from body
	msgType  uint8
	payload  map[int]interface{}
	parsed   bool
	parseErr error
}

// NewPacket wraps a received frame body. The message is decoded on first use.
func NewPacket(length uint8, address uint64, body []byte, crc uint16) *Packet {
	return &Packet{
		length:    length,
		address:   address,
		body:      body,
		crc:       crc,
		timestamp: time.Now(),
	}
}

// NewPacketWithPayload builds an outgoing message. Encoding and CRC happen in
// EncodePacket.
func NewPacketWithPayload(address uint64, msgType uint8, payload map[int]interface{}) *Packet {
	return &Packet{
		address:   address,
		msgType:   msgType,
		payload:   payload,
		parsed:    true,
		timestamp: time.Now(),
	}
}

func (p *Packet) ensureParsed() {
	if p.parsed {
		return
	}
	p.parsed = true
	if len(p.body) == 0 {
		return
	}
	p.msgType, p.payload, p.parseErr = ParseCBORMessage(p.body)
}

// Length returns the CBOR body length from the frame header
func (p *Packet) Length() uint8 {
	return p.length
}

// Address returns the 64-bit target address
func (p *Packet) Address() uint64 {
	return p.address
}

// Type returns the message type
func (p *Packet) Type() uint8 {
	p.ensureParsed()
	return p.msgType
}

// Body returns the raw CBOR bytes
func (p *Packet) Body() []byte {
	return p.body
}

// Payload returns the decoded payload map (nil for empty payloads)
func (p *Packet) Payload() map[int]interface{} {
	p.ensureParsed()
	return p.payload
}

// ParseError returns any error from decoding the CBOR body
func (p *Packet) ParseError() error {
	p.ensureParsed()
	return p.parseErr
}

// CRC returns the received CRC
func (p *Packet) CRC() uint16 {
	return p.crc
}

// Timestamp returns when the packet was decoded or built
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// IsBroadcast reports whether the packet targets any probe
func (p *Packet) IsBroadcast() bool {
	return p.address == AddressBroadcast
}

// IsError reports whether the packet is one of the error messages
func (p *Packet) IsError() bool {
	t := p.Type()
	return t >= MsgErrorInvalidCmd && t <= 0xEF
}

// Sequence returns the request tag, if the message carries one
func (p *Packet) Sequence() (uint64, bool) {
	return GetMapUint(p.Payload(), KeySequence)
}

// withSequence tags an outgoing message
func (p *Packet) withSequence(seq uint64) *Packet {
	if p.payload == nil {
		p.payload = map[int]interface{}{}
	}
	p.payload[KeySequence] = seq
	return p
}
