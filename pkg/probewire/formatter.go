// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probewire

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/fusectl/pkg/efuse"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) addr=%016X len=%d\n",
		timestamp, FormatMessageType(p.Type()), p.Type(), p.address, p.length)
	if err := p.ParseError(); err != nil {
		return result + fmt.Sprintf("  (undecodable: %v)\n", err)
	}
	return result + FormatPayload(p.Type(), p.Payload())
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	// Requests (0x10-0x1F)
	case MsgServerInit:
		return "SERVER_INIT"
	case MsgWriteBit:
		return "WRITE_BIT"
	case MsgReadRow:
		return "READ_ROW"
	case MsgReadStatus:
		return "READ_STATUS"
	case MsgCheckKeyCRC:
		return "CHECK_KEY_CRC"
	case MsgReadSensor:
		return "READ_SENSOR"
	case MsgPingRequest:
		return "PING_REQUEST"

	// Responses (0x30-0x3F)
	case MsgInitResponse:
		return "INIT_RESPONSE"
	case MsgWriteAck:
		return "WRITE_ACK"
	case MsgRowData:
		return "ROW_DATA"
	case MsgStatusData:
		return "STATUS_DATA"
	case MsgCRCResult:
		return "CRC_RESULT"
	case MsgSensorData:
		return "SENSOR_DATA"
	case MsgPingResponse:
		return "PING_RESPONSE"

	// Errors (0xE0-0xEF)
	case MsgErrorInvalidCmd:
		return "ERROR_INVALID_CMD"
	case MsgErrorTransport:
		return "ERROR_TRANSPORT"

	default:
		return "UNKNOWN"
	}
}

// FormatPayload formats a payload map based on message type
func FormatPayload(msgType uint8, m map[int]interface{}) string {
	switch msgType {
	case MsgServerInit, MsgReadStatus, MsgPingRequest, MsgWriteAck:
		return "  (no payload)\n"

	case MsgWriteBit:
		return fmt.Sprintf("  Bit: %s\n", bitAddress(m))

	case MsgReadRow:
		row, margin := rowRequest(m)
		return fmt.Sprintf("  Row: %s, Margin: %s\n", row, margin)

	case MsgCheckKeyCRC:
		expected, _ := GetMapUint(m, 0)
		margin, _ := GetMapUint(m, 1)
		return fmt.Sprintf("  Expected: 0x%08X, Margin: %s\n", expected, efuse.Margin(margin))

	case MsgReadSensor:
		rail, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Rail: %s\n", efuse.Rail(rail))

	case MsgInitResponse:
		id, _ := GetMapUint(m, 0)
		v := efuse.VariantFromIDCode(uint32(id))
		return fmt.Sprintf("  IDCODE: 0x%08X (%s)\n", id, v)

	case MsgRowData, MsgStatusData:
		value, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Value: 0x%08X (%032b)\n", value, value)

	case MsgCRCResult:
		match, _ := GetMapBool(m, 0)
		if match {
			return "  Match: yes\n"
		}
		return "  Match: NO\n"

	case MsgSensorData:
		temp, _ := GetMapUint(m, 0)
		volt, _ := GetMapUint(m, 1)
		return fmt.Sprintf("  Temperature: %.2f°C (0x%03X), Voltage: %.3fV (0x%03X)\n",
			efuse.TemperatureFromRaw(uint16(temp)), temp, efuse.VoltageFromRaw(uint16(volt)), volt)

	case MsgPingResponse:
		uptime, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Uptime: %s\n", formatDuration(uptime))

	case MsgErrorInvalidCmd:
		code, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Code: %s (%d)\n", formatInvalidCmd(InvalidCmdCode(code)), code)

	case MsgErrorTransport:
		code, _ := GetMapUint(m, 0)
		msg, _ := GetMapString(m, 1)
		return fmt.Sprintf("  Code: %s (%d), Message: %s\n", formatTransportCode(TransportCode(code)), code, msg)

	default:
		return fmt.Sprintf("  Raw: %v\n", m)
	}
}

func formatInvalidCmd(c InvalidCmdCode) string {
	switch c {
	case InvalidCmdUnknownType:
		return "UNKNOWN_TYPE"
	case InvalidCmdBadPayload:
		return "BAD_PAYLOAD"
	default:
		return "UNKNOWN"
	}
}

func formatTransportCode(c TransportCode) string {
	switch c {
	case TransportFault:
		return "FAULT"
	case TransportBadAddress:
		return "BAD_ADDRESS"
	case TransportSensorFault:
		return "SENSOR_FAULT"
	case TransportNotSupported:
		return "NOT_SUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// formatDuration converts milliseconds to human-readable duration
func formatDuration(ms uint64) string {
	seconds := ms / 1000
	if seconds == 0 {
		return fmt.Sprintf("%d ms", ms)
	}

	units := []struct {
		name string
		size uint64
	}{
		{"day", 24 * 60 * 60},
		{"hour", 60 * 60},
		{"minute", 60},
		{"second", 1},
	}

	parts := []string{}
	for _, u := range units {
		n := seconds / u.size
		seconds %= u.size
		switch {
		case n == 1:
			parts = append(parts, "1 "+u.name)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
	}
}
