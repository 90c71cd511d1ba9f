// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package probewire implements the request/response protocol between fusectl
// and a JTAG probe that drives a fuse array.
//
// Frames reuse the Fusain serial framing: a start byte, a byte-stuffed body
// of length, 64-bit target address, CBOR message and CRC-16-CCITT, and an
// end byte. Each message is a CBOR array [type, map] with small integer keys.
package probewire

// Framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Packet size limits
const (
	MaxPacketSize  = 128 // 14 overhead + 114 payload
	MaxPayloadSize = 114
	AddressSize    = 8
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Special target addresses
const (
	AddressBroadcast = 0x0000000000000000 // any probe on the link
	AddressStateless = 0xFFFFFFFFFFFFFFFF // bridges and monitors
)

// KeySequence is the payload key of the request tag. Probes copy it into
// the reply so a late answer to an earlier request is never mistaken for
// the current one.
const KeySequence = 15

// Requests (host → probe) 0x10-0x1F
const (
	MsgServerInit  = 0x10
	MsgWriteBit    = 0x11
	MsgReadRow     = 0x12
	MsgReadStatus  = 0x13
	MsgCheckKeyCRC = 0x14
	MsgReadSensor  = 0x15
	MsgPingRequest = 0x1F
)

// Responses (probe → host) 0x30-0x3F
const (
	MsgInitResponse = 0x30
	MsgWriteAck     = 0x31
	MsgRowData      = 0x32
	MsgStatusData   = 0x33
	MsgCRCResult    = 0x34
	MsgSensorData   = 0x35
	MsgPingResponse = 0x3F
)

// Errors (probe → host) 0xE0-0xEF
const (
	MsgErrorInvalidCmd = 0xE0
	MsgErrorTransport  = 0xE1
)

// InvalidCmdCode is carried by ERROR_INVALID_CMD
type InvalidCmdCode uint8

const (
	InvalidCmdUnknownType InvalidCmdCode = 0x01
	InvalidCmdBadPayload  InvalidCmdCode = 0x02
)

// TransportCode is carried by ERROR_TRANSPORT
type TransportCode uint8

const (
	TransportFault        TransportCode = 0x01
	TransportBadAddress   TransportCode = 0x02
	TransportSensorFault  TransportCode = 0x03
	TransportNotSupported TransportCode = 0x04
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateAddress
	statePayload
	stateCRC1
	stateCRC2
	stateEnd // CRC complete, waiting for END
)
