// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probewire

import (
	"fmt"

	"github.com/Thermoquad/fusectl/pkg/efuse"
)

// AnomalyType classifies a malformed message
type AnomalyType int

const (
	AnomalyUnknownType AnomalyType = iota
	AnomalyMissingField
	AnomalyInvalidValue
	AnomalyDecodeError
	AnomalyCRCError
)

// ValidationError is one problem found in a message
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// field is one required payload entry and its upper bound
type field struct {
	key  int
	name string
	max  uint64
	flag bool
}

var schema = map[uint8][]field{
	MsgServerInit:      nil,
	MsgReadStatus:      nil,
	MsgPingRequest:     nil,
	MsgWriteAck:        nil,
	MsgWriteBit:        {{key: 0, name: "page", max: 0xFF}, {key: 1, name: "row", max: 0xFF}, {key: 2, name: "bit", max: efuse.RowBits - 1}, {key: 3, name: "redundant", flag: true}},
	MsgReadRow:         {{key: 0, name: "page", max: 0xFF}, {key: 1, name: "row", max: 0xFF}, {key: 2, name: "margin", max: uint64(efuse.Margin2)}, {key: 3, name: "redundant", flag: true}},
	MsgCheckKeyCRC:     {{key: 0, name: "expected", max: 0xFFFFFFFF}, {key: 1, name: "margin", max: uint64(efuse.Margin2)}},
	MsgReadSensor:      {{key: 0, name: "rail", max: uint64(efuse.RailVCCINT)}},
	MsgInitResponse:    {{key: 0, name: "idcode", max: 0xFFFFFFFF}},
	MsgRowData:         {{key: 0, name: "value", max: 0xFFFFFFFF}},
	MsgStatusData:      {{key: 0, name: "value", max: 0xFFFFFFFF}},
	MsgCRCResult:       {{key: 0, name: "match", flag: true}},
	MsgSensorData:      {{key: 0, name: "temperature", max: 0x0FFF}, {key: 1, name: "voltage", max: 0x0FFF}},
	MsgPingResponse:    {{key: 0, name: "uptime", max: ^uint64(0)}},
	MsgErrorInvalidCmd: {{key: 0, name: "code", max: 0xFF}},
	MsgErrorTransport:  {{key: 0, name: "code", max: 0xFF}},
}

// ValidatePacket checks a message against its payload schema. An empty
// result means every required key is present and in range.
func ValidatePacket(p *Packet) []ValidationError {
	if err := p.ParseError(); err != nil {
		return []ValidationError{{
			Type:    AnomalyDecodeError,
			Message: fmt.Sprintf("undecodable body: %v", err),
			Details: map[string]interface{}{"length": p.Length()},
		}}
	}

	fields, known := schema[p.Type()]
	if !known {
		return []ValidationError{{
			Type:    AnomalyUnknownType,
			Message: fmt.Sprintf("unknown message type 0x%02X", p.Type()),
			Details: map[string]interface{}{"type": p.Type()},
		}}
	}

	errors := []ValidationError{}
	m := p.Payload()
	name := FormatMessageType(p.Type())
	for _, f := range fields {
		if f.flag {
			if _, ok := GetMapBool(m, f.key); !ok {
				errors = append(errors, missing(name, f))
			}
			continue
		}
		v, ok := GetMapUint(m, f.key)
		if !ok {
			errors = append(errors, missing(name, f))
			continue
		}
		if v > f.max {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("%s %s=%d (max %d)", name, f.name, v, f.max),
				Details: map[string]interface{}{f.name: v, "max": f.max},
			})
		}
	}
	return errors
}

func missing(msg string, f field) ValidationError {
	return ValidationError{
		Type:    AnomalyMissingField,
		Message: fmt.Sprintf("%s missing %s (key %d)", msg, f.name, f.key),
		Details: map[string]interface{}{"key": f.key},
	}
}

// bitAddress reads a validated WRITE_BIT payload
func bitAddress(m map[int]interface{}) efuse.BitAddress {
	page, _ := GetMapUint(m, 0)
	row, _ := GetMapUint(m, 1)
	bit, _ := GetMapUint(m, 2)
	red, _ := GetMapBool(m, 3)
	return efuse.BitAddress{Page: uint8(page), Row: uint8(row), Bit: uint8(bit), Redundant: red}
}

// rowRequest reads a validated READ_ROW payload
func rowRequest(m map[int]interface{}) (efuse.RowAddress, efuse.Margin) {
	page, _ := GetMapUint(m, 0)
	row, _ := GetMapUint(m, 1)
	margin, _ := GetMapUint(m, 2)
	red, _ := GetMapBool(m, 3)
	return efuse.RowAddress{Page: uint8(page), Row: uint8(row), Redundant: red}, efuse.Margin(margin)
}
