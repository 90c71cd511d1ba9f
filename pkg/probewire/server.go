// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probewire

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/fusectl/pkg/efuse"
)

// Backend is the fuse array a Server exposes
type Backend interface {
	efuse.BitTransport
	efuse.Sensor
}

// Server answers probe requests from a Backend. One Server may serve several
// links at once when the backend is safe for concurrent use.
type Server struct {
	backend Backend
	address uint64
	log     *slog.Logger
	start   time.Time

	mu    sync.Mutex
	stats *Statistics
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerAddress sets the probe address. Requests to other addresses are
// ignored; broadcast requests are always answered.
func WithServerAddress(address uint64) ServerOption {
	return func(s *Server) { s.address = address }
}

// WithServerLogger sets the server logger
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a server for backend
func NewServer(backend Backend, opts ...ServerOption) *Server {
	s := &Server{
		backend: backend,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		start:   time.Now(),
		stats:   NewStatistics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve answers requests on rw until it reaches EOF or fails
func (s *Server) Serve(rw io.ReadWriter) error {
	d := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := rw.Read(buf)
		for _, b := range buf[:n] {
			p, derr := d.DecodeByte(b)
			if derr != nil {
				s.record(nil, derr, nil)
				s.log.Debug("discarded frame", "error", derr)
				continue
			}
			if p == nil {
				continue
			}
			reply := s.Handle(p)
			if reply == nil {
				continue
			}
			frame, eerr := EncodePacket(reply)
			if eerr != nil {
				return eerr
			}
			if _, werr := rw.Write(frame); werr != nil {
				return fmt.Errorf("send %s: %w", FormatMessageType(reply.Type()), werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Handle returns the reply to one request, or nil when the request is not
// addressed to this probe. The request tag is echoed in the reply.
func (s *Server) Handle(p *Packet) *Packet {
	if p.Address() != s.address && !p.IsBroadcast() {
		return nil
	}
	reply := s.respond(p)
	if seq, ok := p.Sequence(); ok {
		reply.withSequence(seq)
	}
	return reply
}

func (s *Server) respond(p *Packet) *Packet {
	v := ValidatePacket(p)
	s.record(p, nil, v)
	if len(v) > 0 {
		s.log.Warn("rejected request", "type", FormatMessageType(p.Type()), "error", v[0].Message)
		if v[0].Type == AnomalyUnknownType {
			return NewInvalidCommand(s.address, InvalidCmdUnknownType)
		}
		return NewInvalidCommand(s.address, InvalidCmdBadPayload)
	}

	m := p.Payload()
	switch p.Type() {
	case MsgServerInit:
		id, err := s.backend.ServerInit()
		if err != nil {
			return s.fault(p, err)
		}
		return NewInitResponse(s.address, id)

	case MsgWriteBit:
		addr := bitAddress(m)
		if err := s.backend.WriteBit(addr); err != nil {
			return s.fault(p, err)
		}
		s.log.Info("bit programmed", "addr", addr)
		return NewWriteAck(s.address)

	case MsgReadRow:
		addr, margin := rowRequest(m)
		value, err := s.backend.ReadRow(addr, margin)
		if err != nil {
			return s.fault(p, err)
		}
		return NewRowData(s.address, value)

	case MsgReadStatus:
		value, err := s.backend.ReadStatusRow()
		if err != nil {
			return s.fault(p, err)
		}
		return NewStatusData(s.address, value)

	case MsgCheckKeyCRC:
		expected, _ := GetMapUint(m, 0)
		margin, _ := GetMapUint(m, 1)
		match, err := s.backend.CheckKeyCRC(uint32(expected), efuse.Margin(margin))
		if err != nil {
			return s.fault(p, err)
		}
		return NewCRCResult(s.address, match)

	case MsgReadSensor:
		rail, _ := GetMapUint(m, 0)
		sample, err := s.backend.ReadTemperatureAndVoltage(efuse.Rail(rail))
		if err != nil {
			return NewTransportError(s.address, TransportSensorFault, err.Error())
		}
		return NewSensorData(s.address, sample)

	case MsgPingRequest:
		return NewPingResponse(s.address, uint64(time.Since(s.start).Milliseconds()))
	}

	// a valid response type sent as a request
	return NewInvalidCommand(s.address, InvalidCmdUnknownType)
}

func (s *Server) fault(p *Packet, err error) *Packet {
	s.log.Warn("backend error", "type", FormatMessageType(p.Type()), "error", err)
	code := TransportFault
	if errors.Is(err, efuse.ErrAddressOutOfRange) {
		code = TransportBadAddress
	}
	return NewTransportError(s.address, code, err.Error())
}

func (s *Server) record(p *Packet, decodeErr error, v []ValidationError) {
	s.mu.Lock()
	s.stats.Update(p, decodeErr, v)
	s.mu.Unlock()
}

// Stats returns a snapshot of the server counters
func (s *Server) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stats
}
