// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"fmt"
	"log/slog"
)

// Session owns one fuse array for the lifetime of a process. It is not safe
// for concurrent use and two sessions must never drive the same chip.
type Session struct {
	cfg       Config
	transport BitTransport
	sensor    Sensor
	log       *slog.Logger
	stats     *Statistics

	// set by the one-time init
	initDone bool
	idcode   uint32
	geo      *Geometry
	guard    *Guard
}

// Identity describes the chip behind a session
type Identity struct {
	IDCode  uint32
	Variant Variant
	Name    string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s (IDCODE 0x%08X)", id.Name, id.IDCode)
}

// New creates a session. The transport handshake is deferred to the first
// operation.
func New(transport BitTransport, sensor Sensor, opts ...Option) (*Session, error) {
	if transport == nil || sensor == nil {
		return nil, fmt.Errorf("transport and sensor are required: %w", ErrNullInput)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{
		cfg:       cfg,
		transport: transport,
		sensor:    sensor,
		log:       cfg.Logger,
		stats:     NewStatistics(),
	}, nil
}

// ensureInit runs the scan chain handshake once and selects the geometry
func (s *Session) ensureInit() error {
	if s.initDone {
		return nil
	}

	id, err := s.transport.ServerInit()
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	detected := VariantFromIDCode(id)
	v := s.cfg.Variant
	switch {
	case v == VariantUnknown && detected == VariantUnknown:
		return fmt.Errorf("IDCODE 0x%08X matches no supported family: %w", id, ErrVariantMismatch)
	case v == VariantUnknown:
		v = detected
	case detected != VariantUnknown && detected != v:
		return fmt.Errorf("configured %s but IDCODE 0x%08X is %s: %w", v, id, detected, ErrVariantMismatch)
	}

	geo, err := GeometryFor(v)
	if err != nil {
		return err
	}

	s.idcode = id
	s.geo = geo
	s.guard = newGuard(s.sensor, geo.Env, s.log, s.stats)
	s.initDone = true
	s.log.Info("fuse session ready", "variant", v, "idcode", fmt.Sprintf("0x%08X", id))
	return nil
}

// Identity returns the IDCODE and variant
func (s *Session) Identity() (Identity, error) {
	if err := s.ensureInit(); err != nil {
		return Identity{}, err
	}
	return Identity{IDCode: s.idcode, Variant: s.geo.Variant, Name: s.geo.Name}, nil
}

// Geometry returns the active fuse geometry
func (s *Session) Geometry() (*Geometry, error) {
	if err := s.ensureInit(); err != nil {
		return nil, err
	}
	return s.geo, nil
}

// Sample returns the current environment
func (s *Session) Sample() (Sample, error) {
	if err := s.ensureInit(); err != nil {
		return Sample{}, err
	}
	return s.guard.Sample()
}

// CheckEnvironment runs the guard for op without touching the array
func (s *Session) CheckEnvironment(op Operation) error {
	if err := s.ensureInit(); err != nil {
		return err
	}
	return s.guard.Check(op)
}

// Stats returns the session counters
func (s *Session) Stats() *Statistics {
	return s.stats
}

func (s *Session) progress(f Field, stage Stage, row, rows int) {
	if s.cfg.ProgressCallback != nil {
		s.cfg.ProgressCallback(Progress{Field: f, Stage: stage, Row: row, Rows: rows})
	}
}
