// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
)

// fixedSensor returns the same conversion for every rail unless overridden
type fixedSensor struct {
	temp   float64
	vccaux float64
	vccint float64
	err    error
}

func (f *fixedSensor) ReadTemperatureAndVoltage(rail Rail) (RawSample, error) {
	if f.err != nil {
		return RawSample{}, f.err
	}
	v := f.vccaux
	if rail == RailVCCINT {
		v = f.vccint
	}
	return RawSample{Temperature: RawFromTemperature(f.temp), Voltage: RawFromVoltage(v)}, nil
}

func testGuard(t *testing.T, v Variant, s Sensor) *Guard {
	t.Helper()
	geo, err := GeometryFor(v)
	if err != nil {
		t.Fatal(err)
	}
	return newGuard(s, geo.Env, slog.New(slog.NewTextHandler(io.Discard, nil)), NewStatistics())
}

// ============================================================
// Conversion Tests
// ============================================================

func TestXADCConversions(t *testing.T) {
	for _, c := range []float64{-40, 0, 25, 100, 125} {
		got := TemperatureFromRaw(RawFromTemperature(c))
		if math.Abs(got-c) > 0.13 {
			t.Errorf("temperature %.1f round-trips to %.3f", c, got)
		}
	}
	for _, v := range []float64{0.85, 1.0, 1.8} {
		got := VoltageFromRaw(RawFromVoltage(v))
		if math.Abs(got-v) > 0.001 {
			t.Errorf("voltage %.3f round-trips to %.4f", v, got)
		}
	}
	if RawFromVoltage(10) != 0x0FFF || RawFromTemperature(-400) != 0 {
		t.Error("conversions not clamped to 12 bits")
	}
}

// ============================================================
// Guard Tests
// ============================================================

func TestGuard_Check(t *testing.T) {
	tests := []struct {
		name     string
		sensor   fixedSensor
		op       Operation
		quantity Quantity
		ok       bool
	}{
		{"nominal write", fixedSensor{temp: 25, vccaux: 1.8, vccint: 1.0}, OpWrite, 0, true},
		{"hot read", fixedSensor{temp: 110, vccaux: 1.8, vccint: 1.0}, OpRead, 0, true},
		{"hot write", fixedSensor{temp: 110, vccaux: 1.8, vccint: 1.0}, OpWrite, QuantityTemperature, false},
		{"cold write", fixedSensor{temp: -10, vccaux: 1.8, vccint: 1.0}, OpWrite, QuantityTemperature, false},
		{"high VCCAUX write", fixedSensor{temp: 25, vccaux: 1.95, vccint: 1.0}, OpWrite, QuantityVCCAUX, false},
		{"high VCCAUX read", fixedSensor{temp: 25, vccaux: 1.95, vccint: 1.0}, OpRead, 0, true},
		{"low VCCINT read", fixedSensor{temp: 25, vccaux: 1.8, vccint: 0.8}, OpRead, QuantityVCCINT, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGuard(t, VariantZynq, &tt.sensor)
			err := g.Check(tt.op)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var envErr *EnvironmentError
			if !errors.As(err, &envErr) {
				t.Fatalf("expected EnvironmentError, got %v", err)
			}
			if envErr.Quantity != tt.quantity || envErr.Op != tt.op {
				t.Errorf("got %s %s, want %s %s", envErr.Op, envErr.Quantity, tt.op, tt.quantity)
			}
			if !errors.Is(err, ErrEnvironmentOutOfRange) {
				t.Error("EnvironmentError should match ErrEnvironmentOutOfRange")
			}
		})
	}
}

func TestGuard_SensorFailure(t *testing.T) {
	boom := errors.New("xadc busy")
	g := testGuard(t, VariantUltraScale, &fixedSensor{err: boom})
	if err := g.Check(OpRead); !errors.Is(err, boom) {
		t.Fatalf("expected sensor error, got %v", err)
	}
}
