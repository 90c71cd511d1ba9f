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

// DefaultTimeout bounds one request/response exchange
const DefaultTimeout = 2 * time.Second

// ErrLinkClosed is returned once the underlying stream has ended
var ErrLinkClosed = errors.New("probe link closed")

// RemoteError is an error message returned by the probe
type RemoteError struct {
	Request uint8
	Type    uint8
	Code    uint8
	Message string
}

func (e *RemoteError) Error() string {
	s := fmt.Sprintf("probe rejected %s: %s code %d", FormatMessageType(e.Request), FormatMessageType(e.Type), e.Code)
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// Unwrap maps probe address faults onto the engine's address error
func (e *RemoteError) Unwrap() error {
	if e.Type == MsgErrorTransport && TransportCode(e.Code) == TransportBadAddress {
		return efuse.ErrAddressOutOfRange
	}
	return nil
}

// Client drives a remote probe. It implements efuse.BitTransport and
// efuse.Sensor. Requests are serialized; one goroutine reads the link.
type Client struct {
	rw      io.ReadWriter
	target  uint64
	timeout time.Duration
	log     *slog.Logger

	reqMu   sync.Mutex
	seq     uint16
	packets chan *Packet
	done    chan struct{}
	readErr error

	statsMu sync.Mutex
	stats   *Statistics
}

var (
	_ efuse.BitTransport = (*Client)(nil)
	_ efuse.Sensor       = (*Client)(nil)
)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTarget addresses a specific probe on a shared link
func WithTarget(address uint64) ClientOption {
	return func(c *Client) { c.target = address }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClientLogger sets the link logger
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient starts reading rw and returns a ready client
func NewClient(rw io.ReadWriter, opts ...ClientOption) *Client {
	c := &Client{
		rw:      rw,
		target:  AddressBroadcast,
		timeout: DefaultTimeout,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		packets: make(chan *Packet, 16),
		done:    make(chan struct{}),
		stats:   NewStatistics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)

	d := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := c.rw.Read(buf)
		for _, b := range buf[:n] {
			p, derr := d.DecodeByte(b)
			if derr != nil {
				c.record(nil, derr, nil)
				c.log.Debug("discarded frame", "error", derr)
				continue
			}
			if p == nil {
				continue
			}
			v := ValidatePacket(p)
			c.record(p, nil, v)
			if len(v) > 0 {
				c.log.Warn("malformed reply", "type", FormatMessageType(p.Type()), "error", v[0].Message)
				continue
			}
			select {
			case c.packets <- p:
			default:
				c.log.Warn("reply queue full, dropping", "type", FormatMessageType(p.Type()))
			}
		}
		if err != nil {
			c.readErr = err
			return
		}
	}
}

func (c *Client) record(p *Packet, decodeErr error, v []ValidationError) {
	c.statsMu.Lock()
	c.stats.Update(p, decodeErr, v)
	c.statsMu.Unlock()
}

// roundTrip sends req and waits for a reply of type want carrying the same
// tag. Replies reach it only after ValidatePacket, so required keys are present.
func (c *Client) roundTrip(req *Packet, want uint8) (*Packet, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	name := FormatMessageType(req.Type())

	// late replies to a request that already timed out
	for drained := false; !drained; {
		select {
		case p := <-c.packets:
			c.log.Debug("discarding stale reply", "type", FormatMessageType(p.Type()))
		default:
			drained = true
		}
	}

	c.seq++
	tag := uint64(c.seq)
	frame, err := EncodePacket(req.withSequence(tag))
	if err != nil {
		return nil, err
	}
	if _, err := c.rw.Write(frame); err != nil {
		return nil, fmt.Errorf("send %s: %w", name, err)
	}
	c.log.Debug("request sent", "type", name, "seq", tag)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case p := <-c.packets:
			if seq, ok := p.Sequence(); !ok || seq != tag {
				c.log.Debug("discarding reply to another request", "type", FormatMessageType(p.Type()), "seq", seq, "want", tag)
				continue
			}
			switch {
			case p.Type() == want:
				return p, nil
			case p.IsError():
				code, _ := GetMapUint(p.Payload(), 0)
				msg, _ := GetMapString(p.Payload(), 1)
				return nil, &RemoteError{Request: req.Type(), Type: p.Type(), Code: uint8(code), Message: msg}
			default:
				c.log.Debug("ignoring unexpected reply", "want", FormatMessageType(want), "got", FormatMessageType(p.Type()))
			}
		case <-timer.C:
			c.statsMu.Lock()
			c.stats.Timeouts++
			c.statsMu.Unlock()
			return nil, fmt.Errorf("%s: no reply after %s: %w", name, c.timeout, efuse.ErrTransportTimeout)
		case <-c.done:
			return nil, fmt.Errorf("%s: %w: %v", name, ErrLinkClosed, c.readErr)
		}
	}
}

// ServerInit implements efuse.BitTransport
func (c *Client) ServerInit() (uint32, error) {
	p, err := c.roundTrip(NewServerInit(c.target), MsgInitResponse)
	if err != nil {
		return 0, err
	}
	id, _ := GetMapUint(p.Payload(), 0)
	return uint32(id), nil
}

// WriteBit implements efuse.BitTransport
func (c *Client) WriteBit(addr efuse.BitAddress) error {
	_, err := c.roundTrip(NewWriteBit(c.target, addr), MsgWriteAck)
	return err
}

// ReadRow implements efuse.BitTransport
func (c *Client) ReadRow(addr efuse.RowAddress, m efuse.Margin) (uint32, error) {
	p, err := c.roundTrip(NewReadRow(c.target, addr, m), MsgRowData)
	if err != nil {
		return 0, err
	}
	v, _ := GetMapUint(p.Payload(), 0)
	return uint32(v), nil
}

// ReadStatusRow implements efuse.BitTransport
func (c *Client) ReadStatusRow() (uint32, error) {
	p, err := c.roundTrip(NewReadStatus(c.target), MsgStatusData)
	if err != nil {
		return 0, err
	}
	v, _ := GetMapUint(p.Payload(), 0)
	return uint32(v), nil
}

// CheckKeyCRC implements efuse.BitTransport
func (c *Client) CheckKeyCRC(expected uint32, m efuse.Margin) (bool, error) {
	p, err := c.roundTrip(NewCheckKeyCRC(c.target, expected, m), MsgCRCResult)
	if err != nil {
		return false, err
	}
	match, _ := GetMapBool(p.Payload(), 0)
	return match, nil
}

// ReadTemperatureAndVoltage implements efuse.Sensor
func (c *Client) ReadTemperatureAndVoltage(rail efuse.Rail) (efuse.RawSample, error) {
	p, err := c.roundTrip(NewReadSensor(c.target, rail), MsgSensorData)
	if err != nil {
		return efuse.RawSample{}, err
	}
	temp, _ := GetMapUint(p.Payload(), 0)
	volt, _ := GetMapUint(p.Payload(), 1)
	return efuse.RawSample{Temperature: uint16(temp), Voltage: uint16(volt)}, nil
}

// Ping returns the probe uptime
func (c *Client) Ping() (time.Duration, error) {
	p, err := c.roundTrip(NewPingRequest(c.target), MsgPingResponse)
	if err != nil {
		return 0, err
	}
	ms, _ := GetMapUint(p.Payload(), 0)
	return time.Duration(ms) * time.Millisecond, nil
}

// Stats returns a snapshot of the link counters
func (c *Client) Stats() Statistics {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return *c.stats
}

// Close closes the underlying stream when it is an io.Closer
func (c *Client) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
