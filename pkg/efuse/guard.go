// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"fmt"
	"log/slog"
)

// XADC transfer functions for 12-bit codes
const (
	adcFullScale    = 4096.0
	adcTempScale    = 503.975
	adcTempOffset   = 273.15
	adcVoltageScale = 3.0
	adcMaxCode      = 0x0FFF
)

// TemperatureFromRaw converts a 12-bit XADC temperature code to °C
func TemperatureFromRaw(raw uint16) float64 {
	return float64(raw&adcMaxCode)*adcTempScale/adcFullScale - adcTempOffset
}

// VoltageFromRaw converts a 12-bit XADC supply code to volts
func VoltageFromRaw(raw uint16) float64 {
	return float64(raw&adcMaxCode) * adcVoltageScale / adcFullScale
}

// RawFromTemperature is the inverse of TemperatureFromRaw, clamped to 12 bits
func RawFromTemperature(celsius float64) uint16 {
	return clampCode((celsius + adcTempOffset) * adcFullScale / adcTempScale)
}

// RawFromVoltage is the inverse of VoltageFromRaw, clamped to 12 bits
func RawFromVoltage(volts float64) uint16 {
	return clampCode(volts * adcFullScale / adcVoltageScale)
}

func clampCode(v float64) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= adcMaxCode:
		return adcMaxCode
	}
	return uint16(v + 0.5)
}

// Sample is the environment seen by the guard
type Sample struct {
	Temperature float64
	VCCAUX      float64
	VCCINT      float64
}

// Guard interlocks every physical access on temperature and supply rails
type Guard struct {
	sensor Sensor
	limits EnvLimits
	log    *slog.Logger
	stats  *Statistics
}

func newGuard(sensor Sensor, limits EnvLimits, log *slog.Logger, stats *Statistics) *Guard {
	return &Guard{sensor: sensor, limits: limits, log: log, stats: stats}
}

// Sample reads temperature with VCCAUX, then VCCINT
func (g *Guard) Sample() (Sample, error) {
	aux, err := g.sensor.ReadTemperatureAndVoltage(RailVCCAUX)
	if err != nil {
		return Sample{}, fmt.Errorf("sensor VCCAUX: %w", err)
	}
	vint, err := g.sensor.ReadTemperatureAndVoltage(RailVCCINT)
	if err != nil {
		return Sample{}, fmt.Errorf("sensor VCCINT: %w", err)
	}
	return Sample{
		Temperature: TemperatureFromRaw(aux.Temperature),
		VCCAUX:      VoltageFromRaw(aux.Voltage),
		VCCINT:      VoltageFromRaw(vint.Voltage),
	}, nil
}

// Check fails with *EnvironmentError when a quantity is outside the op range
func (g *Guard) Check(op Operation) error {
	s, err := g.Sample()
	if err != nil {
		return err
	}
	g.stats.EnvChecks++

	temp, aux, vint := g.limits.For(op)
	checks := []struct {
		q     Quantity
		value float64
		limit Range
	}{
		{QuantityTemperature, s.Temperature, temp},
		{QuantityVCCAUX, s.VCCAUX, aux},
		{QuantityVCCINT, s.VCCINT, vint},
	}
	for _, c := range checks {
		if !c.limit.Contains(c.value) {
			g.stats.EnvRejections++
			g.log.Warn("environment out of range",
				"op", op, "quantity", c.q, "value", c.value, "min", c.limit.Min, "max", c.limit.Max)
			return &EnvironmentError{Quantity: c.q, Op: op, Value: c.value, Limit: c.limit}
		}
	}
	return nil
}
