// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probewire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrPayloadTooLarge is returned when a message does not fit one frame
var ErrPayloadTooLarge = errors.New("CBOR payload too large")

// encMode sorts map keys so a message always encodes to the same bytes
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("probewire: cbor encoder: %v", err))
	}
	return em
}()

// Encode builds a complete wire frame: framing, stuffing and CRC included
func Encode(address uint64, msgType uint8, payload map[int]interface{}) ([]byte, error) {
	body, err := encodeCBORPayload(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(body), MaxPayloadSize)
	}

	// length + address + body is covered by the CRC and stuffed
	data := make([]byte, 1+AddressSize, 1+AddressSize+len(body)+2)
	data[0] = uint8(len(body))
	binary.LittleEndian.PutUint64(data[1:1+AddressSize], address)
	data = append(data, body...)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc))

	stuffed := stuffBytes(data)
	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)
	return frame, nil
}

// EncodePacket encodes p to wire format
func EncodePacket(p *Packet) ([]byte, error) {
	return Encode(p.Address(), p.Type(), p.Payload())
}

func encodeCBORPayload(msgType uint8, payload map[int]interface{}) ([]byte, error) {
	msg := []interface{}{uint64(msgType), nil}
	if len(payload) > 0 {
		msg[1] = payload
	}
	return encMode.Marshal(msg)
}

// stuffBytes escapes START, END and ESC inside a frame body
func stuffBytes(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			out = append(out, EscByte, b^EscXor)
			continue
		}
		out = append(out, b)
	}
	return out
}

// UnstuffBytes reverses stuffBytes
func UnstuffBytes(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	escaped := false
	for _, b := range data {
		switch {
		case escaped:
			out = append(out, b^EscXor)
			escaped = false
		case b == EscByte:
			escaped = true
		default:
			out = append(out, b)
		}
	}
	if escaped {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}
	return out, nil
}
