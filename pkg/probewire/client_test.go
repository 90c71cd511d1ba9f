// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probewire_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/Thermoquad/fusectl/pkg/efuse"
	"github.com/Thermoquad/fusectl/pkg/fusesim"
	"github.com/Thermoquad/fusectl/pkg/probewire"
)

// ============================================================
// Helpers
// ============================================================

const probeAddress = 0x00000000C0FFEE01

// startProbe serves sim on one end of a pipe and returns a client on the other
func startProbe(t *testing.T, sim *fusesim.Array, opts ...probewire.ClientOption) (*probewire.Client, *probewire.Server) {
	t.Helper()
	hostEnd, probeEnd := net.Pipe()

	srv := probewire.NewServer(sim, probewire.WithServerAddress(probeAddress))
	served := make(chan error, 1)
	go func() { served <- srv.Serve(probeEnd) }()

	opts = append([]probewire.ClientOption{probewire.WithTarget(probeAddress), probewire.WithTimeout(time.Second)}, opts...)
	c := probewire.NewClient(hostEnd, opts...)

	t.Cleanup(func() {
		c.Close()
		probeEnd.Close()
		<-served
	})
	return c, srv
}

// scriptedTarget answers every request frame with the packets reply returns
func scriptedTarget(t *testing.T, timeout time.Duration, reply func(req *probewire.Packet) []*probewire.Packet) *probewire.Client {
	t.Helper()
	hostEnd, probeEnd := net.Pipe()

	go func() {
		d := probewire.NewDecoder()
		buf := make([]byte, 256)
		for {
			n, err := probeEnd.Read(buf)
			for _, b := range buf[:n] {
				req, _ := d.DecodeByte(b)
				if req == nil {
					continue
				}
				for _, p := range reply(req) {
					frame, eerr := probewire.EncodePacket(p)
					if eerr != nil {
						return
					}
					if _, werr := probeEnd.Write(frame); werr != nil {
						return
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()

	c := probewire.NewClient(hostEnd, probewire.WithTimeout(timeout))
	t.Cleanup(func() {
		c.Close()
		probeEnd.Close()
	})
	return c
}

func rowData(seq, value uint64) *probewire.Packet {
	return probewire.NewPacketWithPayload(probeAddress, probewire.MsgRowData,
		map[int]interface{}{0: value, probewire.KeySequence: seq})
}

// ============================================================
// Client/Server Tests
// ============================================================

func TestClient_SessionOverWire(t *testing.T) {
	sim, _ := fusesim.New(efuse.VariantUltraScalePlus)
	c, srv := startProbe(t, sim)

	s, err := efuse.New(c, c)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Identity()
	if err != nil {
		t.Fatal(err)
	}
	if id.Variant != efuse.VariantUltraScalePlus {
		t.Errorf("variant = %s", id.Variant)
	}

	key := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if _, err := s.ProgramUserKey(key); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadUserKey()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, key) {
		t.Errorf("read back % X", got)
	}
	if sim.Row(efuse.RowAddress{Row: 16}) != 0xDEADBEEF {
		t.Errorf("array row 16 = 0x%08X", sim.Row(efuse.RowAddress{Row: 16}))
	}

	aes := bytes.Repeat([]byte{0x5A}, 32)
	if _, err := s.ProgramAESKey(aes); err != nil {
		t.Fatal(err)
	}
	if err := s.CheckAESKey(aes); err != nil {
		t.Error(err)
	}

	if st := srv.Stats(); st.ValidPackets == 0 || st.Errors() != 0 {
		t.Errorf("server stats: %+v", st)
	}
	if st := c.Stats(); st.CRCErrors != 0 || st.Timeouts != 0 {
		t.Errorf("client stats: %+v", st)
	}
}

func TestClient_Ping(t *testing.T) {
	sim, _ := fusesim.New(efuse.VariantZynq)
	c, _ := startProbe(t, sim)

	if _, err := c.Ping(); err != nil {
		t.Fatal(err)
	}
}

func TestClient_RemoteAddressError(t *testing.T) {
	sim, _ := fusesim.New(efuse.VariantZynq)
	c, _ := startProbe(t, sim)

	_, err := c.ReadRow(efuse.RowAddress{Row: 70}, efuse.MarginNormal)
	var remote *probewire.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Type != probewire.MsgErrorTransport || probewire.TransportCode(remote.Code) != probewire.TransportBadAddress {
		t.Errorf("remote error %+v", remote)
	}
	if !errors.Is(err, efuse.ErrAddressOutOfRange) {
		t.Error("bad address should match ErrAddressOutOfRange")
	}
}

func TestClient_InvalidRequest(t *testing.T) {
	sim, _ := fusesim.New(efuse.VariantUltraScale)
	c, _ := startProbe(t, sim)

	err := c.WriteBit(efuse.BitAddress{Row: 2, Bit: 40})
	var remote *probewire.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Type != probewire.MsgErrorInvalidCmd || probewire.InvalidCmdCode(remote.Code) != probewire.InvalidCmdBadPayload {
		t.Errorf("remote error %+v", remote)
	}
	if sim.Calls().Writes != 0 {
		t.Error("invalid request reached the array")
	}
}

func TestClient_WriteFaultPropagates(t *testing.T) {
	sim, _ := fusesim.New(efuse.VariantUltraScale)
	sim.FailWrite(efuse.BitAddress{Row: 11, Bit: 0}, nil)
	c, _ := startProbe(t, sim)

	s, _ := efuse.New(c, c)
	if _, err := s.ProgramUserKey([]byte{0x01}); err == nil {
		t.Fatal("expected write failure")
	}
}

func TestClient_Timeout(t *testing.T) {
	hostEnd, probeEnd := net.Pipe()
	// a probe that never answers
	go io.Copy(io.Discard, probeEnd)

	c := probewire.NewClient(hostEnd, probewire.WithTimeout(30*time.Millisecond))
	defer func() {
		c.Close()
		probeEnd.Close()
	}()

	start := time.Now()
	_, err := c.ServerInit()
	if !errors.Is(err, efuse.ErrTransportTimeout) {
		t.Fatalf("expected ErrTransportTimeout, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("returned before the timeout")
	}
	if c.Stats().Timeouts != 1 {
		t.Errorf("Timeouts = %d", c.Stats().Timeouts)
	}
}

func TestClient_MatchesReplySequence(t *testing.T) {
	var tags []uint64
	c := scriptedTarget(t, time.Second, func(req *probewire.Packet) []*probewire.Packet {
		seq, ok := req.Sequence()
		if !ok {
			return nil
		}
		tags = append(tags, seq)
		// a late answer to the previous request arrives first
		return []*probewire.Packet{rowData(seq-1, 0xBAD), rowData(seq, 0x600D+seq)}
	})

	for i := uint64(1); i <= 3; i++ {
		v, err := c.ReadRow(efuse.RowAddress{Row: uint8(i)}, efuse.MarginNormal)
		if err != nil {
			t.Fatal(err)
		}
		if uint64(v) != 0x600D+i {
			t.Errorf("request %d read 0x%X", i, v)
		}
	}
	if len(tags) != 3 || tags[0] == tags[1] || tags[1] == tags[2] {
		t.Errorf("request tags %v", tags)
	}
}

func TestClient_DropsIncompleteReplies(t *testing.T) {
	c := scriptedTarget(t, 50*time.Millisecond, func(req *probewire.Packet) []*probewire.Packet {
		seq, _ := req.Sequence()
		// ROW_DATA without its value
		return []*probewire.Packet{probewire.NewPacketWithPayload(probeAddress, probewire.MsgRowData,
			map[int]interface{}{probewire.KeySequence: seq})}
	})

	v, err := c.ReadRow(efuse.RowAddress{Row: 1}, efuse.MarginNormal)
	if !errors.Is(err, efuse.ErrTransportTimeout) {
		t.Fatalf("incomplete reply accepted as 0x%X, err %v", v, err)
	}
	if st := c.Stats(); st.BadPayloads != 1 {
		t.Errorf("BadPayloads = %d", st.BadPayloads)
	}
}

func TestServer_EchoesSequence(t *testing.T) {
	sim, _ := fusesim.New(efuse.VariantZynq)
	srv := probewire.NewServer(sim)

	req := probewire.NewPacketWithPayload(probewire.AddressBroadcast, probewire.MsgPingRequest,
		map[int]interface{}{probewire.KeySequence: uint64(41)})
	reply := srv.Handle(req)
	if seq, ok := reply.Sequence(); !ok || seq != 41 {
		t.Errorf("reply sequence = %d, %t", seq, ok)
	}

	// rejected requests are tagged too
	bad := probewire.NewPacketWithPayload(probewire.AddressBroadcast, probewire.MsgReadSensor,
		map[int]interface{}{probewire.KeySequence: uint64(42)})
	reply = srv.Handle(bad)
	if seq, _ := reply.Sequence(); reply.Type() != probewire.MsgErrorInvalidCmd || seq != 42 {
		t.Errorf("error reply %s seq %d", probewire.FormatMessageType(reply.Type()), seq)
	}
}

func TestServer_IgnoresOtherProbes(t *testing.T) {
	sim, _ := fusesim.New(efuse.VariantZynq)
	srv := probewire.NewServer(sim, probewire.WithServerAddress(probeAddress))

	if reply := srv.Handle(probewire.NewServerInit(0x1234)); reply != nil {
		t.Errorf("answered a request for another probe: %s", probewire.FormatMessageType(reply.Type()))
	}
	reply := srv.Handle(probewire.NewServerInit(probewire.AddressBroadcast))
	if reply == nil || reply.Type() != probewire.MsgInitResponse {
		t.Fatal("broadcast init not answered")
	}
	if id, _ := probewire.GetMapUint(reply.Payload(), 0); uint32(id) != efuse.IDCodeZynq7020 {
		t.Errorf("idcode = 0x%08X", id)
	}
}

func TestServer_RejectsResponseTypes(t *testing.T) {
	sim, _ := fusesim.New(efuse.VariantZynq)
	srv := probewire.NewServer(sim)

	reply := srv.Handle(probewire.NewWriteAck(probewire.AddressBroadcast))
	if reply == nil || reply.Type() != probewire.MsgErrorInvalidCmd {
		t.Fatalf("expected ERROR_INVALID_CMD, got %v", reply)
	}
}
