// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"math/bits"
	"reflect"
	"testing"

	"github.com/Thermoquad/fusectl/pkg/efuse"
	"github.com/Thermoquad/fusectl/pkg/fusesim"
)

// ============================================================
// Helpers
// ============================================================

func newSession(t *testing.T, v efuse.Variant, opts ...efuse.Option) (*efuse.Session, *fusesim.Array) {
	t.Helper()
	sim, err := fusesim.New(v)
	if err != nil {
		t.Fatalf("fusesim.New(%s): %v", v, err)
	}
	s, err := efuse.New(sim, sim, opts...)
	if err != nil {
		t.Fatalf("efuse.New: %v", err)
	}
	return s, sim
}

func aesKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(0xA0 + i)
	}
	return key
}

type memJournal struct {
	burns []efuse.Burn
	err   error
}

func (j *memJournal) RecordBurn(b efuse.Burn) error {
	j.burns = append(j.burns, b)
	return j.err
}

// ============================================================
// Session Setup Tests
// ============================================================

func TestNew_RequiresTransportAndSensor(t *testing.T) {
	sim, _ := fusesim.New(efuse.VariantZynq)
	if _, err := efuse.New(nil, sim); !errors.Is(err, efuse.ErrNullInput) {
		t.Errorf("nil transport: %v", err)
	}
	if _, err := efuse.New(sim, nil); !errors.Is(err, efuse.ErrNullInput) {
		t.Errorf("nil sensor: %v", err)
	}
}

func TestIdentity_DetectsVariant(t *testing.T) {
	for _, v := range []efuse.Variant{efuse.VariantZynq, efuse.VariantUltraScale, efuse.VariantUltraScalePlus} {
		s, _ := newSession(t, v)
		id, err := s.Identity()
		if err != nil {
			t.Fatalf("%s: %v", v, err)
		}
		if id.Variant != v || id.IDCode != fusesim.DefaultIDCode(v) {
			t.Errorf("identity = %+v, want %s", id, v)
		}
	}
}

func TestIdentity_VariantMismatch(t *testing.T) {
	s, _ := newSession(t, efuse.VariantZynq, efuse.WithVariant(efuse.VariantUltraScale))
	if _, err := s.Identity(); !errors.Is(err, efuse.ErrVariantMismatch) {
		t.Fatalf("expected ErrVariantMismatch, got %v", err)
	}

	s, sim := newSession(t, efuse.VariantZynq)
	sim.SetIDCode(efuse.IDCodeUnknownVendor)
	if _, err := s.Identity(); !errors.Is(err, efuse.ErrVariantMismatch) {
		t.Fatalf("unknown IDCODE without variant: %v", err)
	}

	// an explicit variant is trusted when the IDCODE is not recognised
	s, sim = newSession(t, efuse.VariantZynq, efuse.WithVariant(efuse.VariantZynq))
	sim.SetIDCode(efuse.IDCodeUnknownVendor)
	if id, err := s.Identity(); err != nil || id.Variant != efuse.VariantZynq {
		t.Fatalf("explicit variant: %+v, %v", id, err)
	}
}

func TestServerInit_RunsOnce(t *testing.T) {
	s, sim := newSession(t, efuse.VariantUltraScalePlus)
	if _, err := s.ProgramUserKey([]byte{0x01}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadUserKey(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadControlBits(); err != nil {
		t.Fatal(err)
	}
	if got := sim.Calls().Inits; got != 1 {
		t.Errorf("ServerInit called %d times", got)
	}
}

// ============================================================
// Monotonicity Tests
// ============================================================

func TestUserKey_Monotonic(t *testing.T) {
	s, sim := newSession(t, efuse.VariantZynq)
	first := []byte{0xFF, 0x00, 0xFF, 0x00}

	rep, err := s.ProgramUserKey(first)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Written != 16 {
		t.Errorf("first program wrote %d bits, want 16", rep.Written)
	}

	t.Run("equal request is a no-op", func(t *testing.T) {
		sim.ResetCalls()
		rep, err := s.ProgramUserKey(first)
		if err != nil {
			t.Fatal(err)
		}
		if rep.Written != 0 || sim.Calls().Writes != 0 {
			t.Errorf("wrote %d bits (%d pulses)", rep.Written, sim.Calls().Writes)
		}
	})

	t.Run("subset request reports the burned bits", func(t *testing.T) {
		sim.ResetCalls()
		_, err := s.ProgramUserKey([]byte{0x0F, 0x00, 0x0F, 0x00})
		var revert *efuse.RevertError
		if !errors.As(err, &revert) {
			t.Fatalf("expected RevertError, got %v", err)
		}
		if !errors.Is(err, efuse.ErrIrreversibleBitRevert) {
			t.Error("RevertError should match ErrIrreversibleBitRevert")
		}
		want := []int{12, 13, 14, 15, 28, 29, 30, 31}
		if !reflect.DeepEqual(revert.Bits, want) {
			t.Errorf("revert bits = %v, want %v", revert.Bits, want)
		}
		if sim.Calls().Writes != 0 {
			t.Errorf("subset request issued %d pulses", sim.Calls().Writes)
		}
	})

	t.Run("superset request burns only new bits", func(t *testing.T) {
		rep, err := s.ProgramUserKey([]byte{0xFF, 0xF0, 0xFF, 0xF0})
		if err != nil {
			t.Fatal(err)
		}
		if rep.Written != 8 || rep.Skipped != 16 {
			t.Errorf("written %d skipped %d, want 8 and 16", rep.Written, rep.Skipped)
		}
		got, err := s.ReadUserKey()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, []byte{0xFF, 0xF0, 0xFF, 0xF0}) {
			t.Errorf("read back % X", got)
		}
	})
}

func TestUserKey128_EndToEnd(t *testing.T) {
	s, sim := newSession(t, efuse.VariantUltraScalePlus)

	if _, err := s.ProgramUserKey128([]byte{0x0F}); err != nil {
		t.Fatal(err)
	}

	// the new high nibble is burned, the burned low nibble cannot be cleared
	sim.ResetCalls()
	rep, err := s.ProgramUserKey128([]byte{0xF0})
	var revert *efuse.RevertError
	if !errors.As(err, &revert) || !errors.Is(err, efuse.ErrIrreversibleBitRevert) {
		t.Fatalf("expected RevertError, got %v", err)
	}
	if !reflect.DeepEqual(revert.Bits, []int{0, 1, 2, 3}) {
		t.Errorf("revert bits = %v", revert.Bits)
	}
	if rep == nil || rep.Written != 4 || sim.Calls().Writes != 4 {
		t.Fatalf("report %v, %d pulses; want 4 bits written", rep, sim.Calls().Writes)
	}

	got, err := s.ReadUserKey128()
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, 16)
	want[15] = 0xFF
	if !bytes.Equal(got, want) {
		t.Errorf("read back % X", got)
	}

	rep, err = s.ProgramUserKey128([]byte{0xFF})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Written != 0 || rep.Skipped != 8 {
		t.Errorf("written %d skipped %d, want 0 and 8", rep.Written, rep.Skipped)
	}
}

// ============================================================
// AES Key Tests
// ============================================================

func TestAESKey_ProgramAndCheck(t *testing.T) {
	for _, v := range []efuse.Variant{efuse.VariantZynq, efuse.VariantUltraScale, efuse.VariantUltraScalePlus} {
		t.Run(v.String(), func(t *testing.T) {
			s, _ := newSession(t, v)
			key := aesKey()

			rep, err := s.ProgramAESKey(key)
			if err != nil {
				t.Fatal(err)
			}
			ones := 0
			for _, b := range key {
				ones += bits.OnesCount8(b)
			}
			if rep.Written != ones {
				t.Errorf("wrote %d bits, key has %d ones", rep.Written, ones)
			}

			if err := s.CheckAESKey(key); err != nil {
				t.Errorf("CheckAESKey: %v", err)
			}
			wrong := aesKey()
			wrong[0] ^= 0x80
			err = s.CheckAESKey(wrong)
			var crcErr *efuse.CRCError
			if !errors.As(err, &crcErr) || !errors.Is(err, efuse.ErrKeyCRCMismatch) {
				t.Errorf("wrong key: %v", err)
			}

			if _, err := s.ProgramAESKey(key); !errors.Is(err, efuse.ErrRegionAlreadyProgrammed) {
				t.Errorf("second program: %v", err)
			}
		})
	}
}

func TestAESKey_Readback(t *testing.T) {
	s, _ := newSession(t, efuse.VariantUltraScalePlus)
	if _, err := s.ProgramAESKey(aesKey()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadAESKey(); !errors.Is(err, efuse.ErrReadDisabledByPolicy) {
		t.Errorf("UltraScale+ AES read: %v", err)
	}

	s, _ = newSession(t, efuse.VariantZynq)
	if _, err := s.ProgramAESKey(aesKey()); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadAESKey()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, aesKey()) {
		t.Errorf("Zynq AES read back % X", got)
	}
}

func TestZynq_UserKeyAndAESShareRow(t *testing.T) {
	s, _ := newSession(t, efuse.VariantZynq)
	user := []byte{0xA5, 0x5A, 0xC3, 0x3C}

	if _, err := s.ProgramUserKey(user); err != nil {
		t.Fatal(err)
	}
	// the user key already occupies part of the last AES row
	if _, err := s.ProgramAESKey(aesKey()); err != nil {
		t.Fatalf("AES after user key: %v", err)
	}
	if err := s.CheckAESKey(aesKey()); err != nil {
		t.Error(err)
	}
	got, err := s.ReadUserKey()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, user) {
		t.Errorf("user key read back % X", got)
	}
}

// ============================================================
// RSA Hash Tests
// ============================================================

func TestRSAHash_CorrectsSingleBitOnRead(t *testing.T) {
	s, sim := newSession(t, efuse.VariantZynq)
	hash := make([]byte, 32)
	for i := range hash {
		hash[i] = byte(i * 7)
	}
	if _, err := s.ProgramRSAHash(hash); err != nil {
		t.Fatal(err)
	}

	// burn a stray cell in the first codeword
	row := efuse.RowAddress{Row: 40}
	stored := sim.Row(row)
	stray := uint8(bits.TrailingZeros32(^stored & 0x7FFFFFFF))
	if err := sim.Burn(row.Bit(stray)); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadRSAHash()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, hash) {
		t.Errorf("corrected hash % X", got)
	}
	if n := s.Stats().ECCCorrections; n != 1 {
		t.Errorf("ECCCorrections = %d, want 1", n)
	}

	if _, err := s.ProgramRSAHash(hash); !errors.Is(err, efuse.ErrRegionAlreadyProgrammed) {
		t.Errorf("second program: %v", err)
	}
}

func TestPublicKeyHash(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	tests := []struct {
		variant efuse.Variant
		size    int
	}{
		{efuse.VariantZynq, 32},
		{efuse.VariantUltraScale, 48},
		{efuse.VariantUltraScalePlus, 48},
	}
	for _, tt := range tests {
		sum, err := efuse.PublicKeyHash(tt.variant, pemData)
		if err != nil {
			t.Fatalf("%s: %v", tt.variant, err)
		}
		if len(sum) != tt.size {
			t.Errorf("%s: hash is %d bytes, want %d", tt.variant, len(sum), tt.size)
		}
	}

	if _, err := efuse.PublicKeyHash(efuse.VariantZynq, []byte("not pem")); !errors.Is(err, efuse.ErrNullInput) {
		t.Errorf("garbage input: %v", err)
	}
}

// ============================================================
// Policy Gating Tests
// ============================================================

func TestPolicy_WriteLock(t *testing.T) {
	s, sim := newSession(t, efuse.VariantUltraScalePlus)
	if err := sim.BurnPolicy(efuse.NewPolicySet(efuse.CtrlKeyWriteDisable)); err != nil {
		t.Fatal(err)
	}
	sim.ResetCalls()

	_, err := s.ProgramAESKey(aesKey())
	var policyErr *efuse.PolicyError
	if !errors.As(err, &policyErr) || !errors.Is(err, efuse.ErrWriteDisabledByPolicy) {
		t.Fatalf("expected write lock, got %v", err)
	}
	if policyErr.Bit != efuse.CtrlKeyWriteDisable {
		t.Errorf("blocked by %s", policyErr.Bit)
	}
	if sim.Calls().Writes != 0 {
		t.Errorf("locked field issued %d pulses", sim.Calls().Writes)
	}
}

func TestPolicy_ReadLock(t *testing.T) {
	s, sim := newSession(t, efuse.VariantUltraScale)
	if _, err := s.ProgramUserKey([]byte{0x12, 0x34}); err != nil {
		t.Fatal(err)
	}
	if err := sim.BurnPolicy(efuse.NewPolicySet(efuse.CtrlUserKeyReadDisable)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadUserKey(); !errors.Is(err, efuse.ErrReadDisabledByPolicy) {
		t.Fatalf("expected read lock, got %v", err)
	}
}

func TestPolicy_DesiredStateRevert(t *testing.T) {
	s, sim := newSession(t, efuse.VariantUltraScale)
	if err := sim.BurnPolicy(efuse.NewPolicySet(efuse.CtrlAESReadDisable)); err != nil {
		t.Fatal(err)
	}

	_, err := s.ProgramControlBits(efuse.NewPolicySet(efuse.CtrlKeyWriteDisable))
	if !errors.Is(err, efuse.ErrIrreversibleBitRevert) {
		t.Fatalf("dropping a burned bit: %v", err)
	}

	want := efuse.NewPolicySet(efuse.CtrlAESReadDisable, efuse.CtrlKeyWriteDisable)
	rep, err := s.ProgramControlBits(want)
	if err != nil {
		t.Fatal(err)
	}
	// primary and redundant plane
	if rep.Written != 2 {
		t.Errorf("wrote %d bits, want 2", rep.Written)
	}
	got, err := s.ReadControlBits()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("control = %s, want %s", got, want)
	}
}

func TestPolicy_ProgramAndReadBack(t *testing.T) {
	tests := []struct {
		variant efuse.Variant
		control efuse.PolicySet
		secure  efuse.PolicySet
	}{
		{efuse.VariantZynq,
			efuse.NewPolicySet(efuse.CtrlForcePowerCycle, efuse.CtrlForceAESOnly, efuse.CtrlBBRAMKeyDisable),
			efuse.NewPolicySet(efuse.SecEncryptOnly, efuse.SecBBRAMDisable)},
		{efuse.VariantUltraScale,
			efuse.NewPolicySet(efuse.CtrlAESReadDisable, efuse.CtrlSecureWriteDisable),
			efuse.NewPolicySet(efuse.SecJTAGDisable)},
		{efuse.VariantUltraScalePlus,
			efuse.NewPolicySet(efuse.CtrlRSAWriteDisable, efuse.CtrlUser128WriteDisable),
			efuse.NewPolicySet(efuse.SecRSAAuthEnable, efuse.SecPUFHelperLock)},
	}
	for _, tt := range tests {
		t.Run(tt.variant.String(), func(t *testing.T) {
			s, sim := newSession(t, tt.variant)

			rep, err := s.ProgramSecureBits(tt.secure)
			if err != nil {
				t.Fatalf("secure: %v", err)
			}
			if rep.Written != 2*len(tt.secure.Bits()) {
				t.Errorf("secure wrote %d bits", rep.Written)
			}

			rep, err = s.ProgramControlBits(tt.control)
			if err != nil {
				t.Fatalf("control: %v", err)
			}
			// every bit lands in both copies
			if rep.Written != 2*len(tt.control.Bits()) || rep.Degraded() {
				t.Errorf("control report: %s", rep)
			}
			if sim.Calls().Writes != 2*len(tt.control.Bits())+2*len(tt.secure.Bits()) {
				t.Errorf("issued %d pulses", sim.Calls().Writes)
			}

			got, err := s.ReadControlBits()
			if err != nil || got != tt.control {
				t.Errorf("ReadControlBits = %s, %v; want %s", got, err, tt.control)
			}
			sec, err := s.ReadSecureBits()
			if err != nil || sec != tt.secure {
				t.Errorf("ReadSecureBits = %s, %v; want %s", sec, err, tt.secure)
			}
			st, err := s.ReadStatus()
			if err != nil || st.Control != tt.control {
				t.Errorf("ReadStatus control = %s, %v", st.Control, err)
			}
		})
	}
}

func TestPlan_ZynqKeyAndControl(t *testing.T) {
	s, sim := newSession(t, efuse.VariantZynq)
	lock := efuse.NewPolicySet(efuse.CtrlJTAGChainDisable)

	rep, err := s.Apply(efuse.Plan{UserKey: []byte{0x00, 0x00, 0x00, 0x03}, Control: &lock})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Written != 4 || sim.Calls().Writes != 4 {
		t.Errorf("written %d, %d pulses; want 4", rep.Written, sim.Calls().Writes)
	}
	if got, _ := s.ReadControlBits(); got != lock {
		t.Errorf("control = %s", got)
	}
}

func TestPolicy_UnsupportedBit(t *testing.T) {
	s, sim := newSession(t, efuse.VariantZynq)
	_, err := s.ProgramSecureBits(efuse.NewPolicySet(efuse.SecPUFHelperLock))
	if !errors.Is(err, efuse.ErrAddressOutOfRange) {
		t.Fatalf("expected ErrAddressOutOfRange, got %v", err)
	}
	if sim.Calls().Writes != 0 {
		t.Error("unsupported bit issued pulses")
	}
}

func TestReadStatus(t *testing.T) {
	s, sim := newSession(t, efuse.VariantZynq)
	if err := sim.BurnPolicy(efuse.NewPolicySet(efuse.CtrlForceAESOnly)); err != nil {
		t.Fatal(err)
	}
	st, err := s.ReadStatus()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Control.Has(efuse.CtrlForceAESOnly) {
		t.Errorf("status control = %s (word 0x%08X)", st.Control, st.Word)
	}
}

// ============================================================
// Environment Tests
// ============================================================

func TestEnvironment_BlocksWritesOnly(t *testing.T) {
	s, sim := newSession(t, efuse.VariantZynq)
	sim.SetTemperature(110)

	_, err := s.ProgramUserKey([]byte{0x01})
	var envErr *efuse.EnvironmentError
	if !errors.As(err, &envErr) || !errors.Is(err, efuse.ErrEnvironmentOutOfRange) {
		t.Fatalf("expected environment error, got %v", err)
	}
	if envErr.Quantity != efuse.QuantityTemperature || envErr.Op != efuse.OpWrite {
		t.Errorf("rejected %s %s", envErr.Op, envErr.Quantity)
	}
	if sim.Calls().Writes != 0 {
		t.Errorf("hot array received %d pulses", sim.Calls().Writes)
	}
	if _, err := s.ReadUserKey(); err != nil {
		t.Errorf("read at 110°C: %v", err)
	}
	if s.Stats().EnvRejections == 0 {
		t.Error("rejection not counted")
	}
}

func TestEnvironment_SensorFailure(t *testing.T) {
	s, sim := newSession(t, efuse.VariantUltraScale)
	boom := errors.New("sysmon offline")
	sim.SetSensorError(boom)
	if _, err := s.ReadControlBits(); !errors.Is(err, boom) {
		t.Fatalf("expected sensor error, got %v", err)
	}
}

// ============================================================
// Redundancy And Verify Tests
// ============================================================

func TestRedundancy_OneCopyFails(t *testing.T) {
	t.Run("zynq offset copy write fault", func(t *testing.T) {
		s, sim := newSession(t, efuse.VariantZynq)
		sim.FailWrite(efuse.BitAddress{Row: 0, Bit: 22}, nil)

		rep, err := s.ProgramControlBits(efuse.NewPolicySet(efuse.CtrlForceAESOnly))
		if err != nil {
			t.Fatal(err)
		}
		if !rep.Degraded() || rep.Anomalies[0].Type != efuse.AnomalyRedundantCopyFailed {
			t.Errorf("report not degraded: %s", rep)
		}
		got, _ := s.ReadControlBits()
		if !got.Has(efuse.CtrlForceAESOnly) {
			t.Errorf("control = %s", got)
		}
	})

	t.Run("ultrascale+ primary copy weak", func(t *testing.T) {
		s, sim := newSession(t, efuse.VariantUltraScalePlus)
		sim.Weaken(efuse.BitAddress{Row: 0, Bit: 0}, efuse.Margin2)

		rep, err := s.ProgramControlBits(efuse.NewPolicySet(efuse.CtrlAESReadDisable))
		if err != nil {
			t.Fatal(err)
		}
		if !rep.Degraded() {
			t.Errorf("report not degraded: %s", rep)
		}
		if s.Stats().RedundantFailures != 1 {
			t.Errorf("RedundantFailures = %d", s.Stats().RedundantFailures)
		}
	})
}

func TestRedundancy_BothCopiesFail(t *testing.T) {
	s, sim := newSession(t, efuse.VariantZynq)
	sim.FailWrite(efuse.BitAddress{Row: 0, Bit: 8}, nil)
	sim.FailWrite(efuse.BitAddress{Row: 0, Bit: 22}, nil)

	_, err := s.ProgramControlBits(efuse.NewPolicySet(efuse.CtrlForceAESOnly))
	if !errors.Is(err, fusesim.ErrWriteFault) {
		t.Fatalf("expected write fault, got %v", err)
	}
}

func TestVerify_WeakDataBit(t *testing.T) {
	s, sim := newSession(t, efuse.VariantUltraScalePlus)
	sim.Weaken(efuse.BitAddress{Row: 16, Bit: 3}, efuse.Margin1)

	_, err := s.ProgramUserKey([]byte{0x08})
	var verr *efuse.VerifyError
	if !errors.As(err, &verr) || !errors.Is(err, efuse.ErrVerificationFailed) {
		t.Fatalf("expected VerifyError, got %v", err)
	}
	if verr.Margin != efuse.Margin1 || verr.Addr.Bit != 3 {
		t.Errorf("failed at %s %s", verr.Addr, verr.Margin)
	}
}

// ============================================================
// Input Validation Tests
// ============================================================

func TestInputErrors(t *testing.T) {
	zynq, _ := newSession(t, efuse.VariantZynq)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"buffer too large", func() error { _, err := zynq.ProgramUserKey(make([]byte, 5)); return err }, efuse.ErrBufferTooLarge},
		{"empty key", func() error { _, err := zynq.ProgramUserKey(nil); return err }, efuse.ErrNullInput},
		{"empty AES check", func() error { return zynq.CheckAESKey(nil) }, efuse.ErrNullInput},
		{"user key 128 on zynq", func() error { _, err := zynq.ProgramUserKey128([]byte{1}); return err }, efuse.ErrUnsupportedField},
		{"empty plan", func() error { _, err := zynq.Apply(efuse.Plan{}); return err }, efuse.ErrNullInput},
		{"row out of range", func() error {
			_, err := zynq.ReadRow(efuse.RowAddress{Row: 70}, efuse.MarginNormal)
			return err
		}, efuse.ErrAddressOutOfRange},
		{"reserved row", func() error {
			_, err := zynq.ReadRow(efuse.RowAddress{Row: 5}, efuse.MarginNormal)
			return err
		}, efuse.ErrAddressOutOfRange},
		{"unsupported zynq control bit", func() error {
			_, err := zynq.ProgramControlBits(efuse.NewPolicySet(efuse.CtrlRSAWriteDisable))
			return err
		}, efuse.ErrAddressOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadRow_ZynqControlRow(t *testing.T) {
	s, sim := newSession(t, efuse.VariantZynq)
	if err := sim.BurnPolicy(efuse.NewPolicySet(efuse.CtrlKeyWriteDisable)); err != nil {
		t.Fatal(err)
	}
	v, err := s.ReadRow(efuse.RowAddress{Row: 0}, efuse.MarginNormal)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1<<2|1<<16 {
		t.Errorf("row 0 = 0x%08X", v)
	}
}

// ============================================================
// Plan Tests
// ============================================================

func TestPlan_KeyBeforeLock(t *testing.T) {
	var stages []efuse.Stage
	s, _ := newSession(t, efuse.VariantUltraScalePlus, efuse.WithProgressCallback(func(p efuse.Progress) {
		stages = append(stages, p.Stage)
	}))

	lock := efuse.NewPolicySet(efuse.CtrlKeyWriteDisable)
	rep, err := s.Apply(efuse.Plan{AESKey: aesKey(), Control: &lock})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rep.Fields, []efuse.Field{efuse.FieldAESKey, efuse.FieldControl}) {
		t.Errorf("fields = %v", rep.Fields)
	}
	if stages[len(stages)-1] != efuse.StageProgrammed {
		t.Errorf("last stage %s", stages[len(stages)-1])
	}

	if _, err := s.ProgramAESKey(aesKey()); !errors.Is(err, efuse.ErrWriteDisabledByPolicy) {
		t.Errorf("AES after lock: %v", err)
	}
}

func TestPlan_ValidatesBeforeWriting(t *testing.T) {
	s, sim := newSession(t, efuse.VariantUltraScale)
	if _, err := s.ProgramUserKey([]byte{0xFF}); err != nil {
		t.Fatal(err)
	}
	sim.ResetCalls()

	// the AES key is fine but the user key would revert; a plan with more
	// than one field is refused whole
	_, err := s.Apply(efuse.Plan{AESKey: aesKey(), UserKey: []byte{0x0F}})
	if !errors.Is(err, efuse.ErrIrreversibleBitRevert) {
		t.Fatalf("expected revert, got %v", err)
	}
	if sim.Calls().Writes != 0 {
		t.Errorf("rejected plan issued %d pulses", sim.Calls().Writes)
	}
}

// ============================================================
// Journal Tests
// ============================================================

func TestJournal_RecordsEveryPulse(t *testing.T) {
	j := &memJournal{}
	s, _ := newSession(t, efuse.VariantZynq, efuse.WithJournal(j))

	rep, err := s.ProgramUserKey([]byte{0x80, 0x00, 0x00, 0x03})
	if err != nil {
		t.Fatal(err)
	}
	if len(j.burns) != rep.Written || rep.Written != 3 {
		t.Fatalf("journal has %d burns, report %d", len(j.burns), rep.Written)
	}
	for _, b := range j.burns {
		if b.Field != efuse.FieldUserKey || b.Variant != efuse.VariantZynq || b.IDCode != efuse.IDCodeZynq7020 {
			t.Errorf("burn %+v", b)
		}
	}
}

func TestJournal_FailureIsNotFatal(t *testing.T) {
	j := &memJournal{err: errors.New("disk full")}
	s, _ := newSession(t, efuse.VariantZynq, efuse.WithJournal(j))

	if _, err := s.ProgramUserKey([]byte{0x01}); err != nil {
		t.Fatalf("journal error leaked: %v", err)
	}
}
