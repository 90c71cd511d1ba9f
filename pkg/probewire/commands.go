// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probewire

import "github.com/Thermoquad/fusectl/pkg/efuse"

// Request builders
// NewServerInit creates a SERVER_INIT request (0x10)
func NewServerInit(address uint64) *Packet {
	return NewPacketWithPayload(address, MsgServerInit, nil)
}

// NewWriteBit creates a WRITE_BIT request (0x11) for one program pulse
func NewWriteBit(address uint64, bit efuse.BitAddress) *Packet {
	return NewPacketWithPayload(address, MsgWriteBit, map[int]interface{}{
		0: uint64(bit.Page),
		1: uint64(bit.Row),
		2: uint64(bit.Bit),
		3: bit.Redundant,
	})
}

// NewReadRow creates a READ_ROW request (0x12)
func NewReadRow(address uint64, row efuse.RowAddress, m efuse.Margin) *Packet {
	return NewPacketWithPayload(address, MsgReadRow, map[int]interface{}{
		0: uint64(row.Page),
		1: uint64(row.Row),
		2: uint64(m),
		3: row.Redundant,
	})
}

// NewReadStatus creates a READ_STATUS request (0x13)
func NewReadStatus(address uint64) *Packet {
	return NewPacketWithPayload(address, MsgReadStatus, nil)
}

// NewCheckKeyCRC creates a CHECK_KEY_CRC request (0x14)
func NewCheckKeyCRC(address uint64, expected uint32, m efuse.Margin) *Packet {
	return NewPacketWithPayload(address, MsgCheckKeyCRC, map[int]interface{}{
		0: uint64(expected),
		1: uint64(m),
	})
}

// NewReadSensor creates a READ_SENSOR request (0x15)
func NewReadSensor(address uint64, rail efuse.Rail) *Packet {
	return NewPacketWithPayload(address, MsgReadSensor, map[int]interface{}{
		0: uint64(rail),
	})
}

// NewPingRequest creates a PING_REQUEST (0x1F). Probes answer with uptime.
func NewPingRequest(address uint64) *Packet {
	return NewPacketWithPayload(address, MsgPingRequest, nil)
}

// Response builders

// NewInitResponse creates an INIT_RESPONSE (0x30)
func NewInitResponse(address uint64, idcode uint32) *Packet {
	return NewPacketWithPayload(address, MsgInitResponse, map[int]interface{}{0: uint64(idcode)})
}

// NewWriteAck creates a WRITE_ACK (0x31)
func NewWriteAck(address uint64) *Packet {
	return NewPacketWithPayload(address, MsgWriteAck, nil)
}

// NewRowData creates a ROW_DATA response (0x32)
func NewRowData(address uint64, value uint32) *Packet {
	return NewPacketWithPayload(address, MsgRowData, map[int]interface{}{0: uint64(value)})
}

// NewStatusData creates a STATUS_DATA response (0x33)
func NewStatusData(address uint64, value uint32) *Packet {
	return NewPacketWithPayload(address, MsgStatusData, map[int]interface{}{0: uint64(value)})
}

// NewCRCResult creates a CRC_RESULT response (0x34)
func NewCRCResult(address uint64, match bool) *Packet {
	return NewPacketWithPayload(address, MsgCRCResult, map[int]interface{}{0: match})
}

// NewSensorData creates a SENSOR_DATA response (0x35) with raw XADC codes
func NewSensorData(address uint64, s efuse.RawSample) *Packet {
	return NewPacketWithPayload(address, MsgSensorData, map[int]interface{}{
		0: uint64(s.Temperature),
		1: uint64(s.Voltage),
	})
}

// NewPingResponse creates a PING_RESPONSE (0x3F)
func NewPingResponse(address uint64, uptimeMs uint64) *Packet {
	return NewPacketWithPayload(address, MsgPingResponse, map[int]interface{}{0: uptimeMs})
}

// NewInvalidCommand creates an ERROR_INVALID_CMD (0xE0)
func NewInvalidCommand(address uint64, code InvalidCmdCode) *Packet {
	return NewPacketWithPayload(address, MsgErrorInvalidCmd, map[int]interface{}{0: uint64(code)})
}

// NewTransportError creates an ERROR_TRANSPORT (0xE1). Long messages are
// cut to keep the frame under MaxPayloadSize.
func NewTransportError(address uint64, code TransportCode, message string) *Packet {
	if len(message) > 80 {
		message = message[:80]
	}
	return NewPacketWithPayload(address, MsgErrorTransport, map[int]interface{}{
		0: uint64(code),
		1: message,
	})
}
