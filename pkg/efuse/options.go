// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package efuse

import (
	"io"
	"log/slog"
)

// Progress reports how far a field program has advanced
type Progress struct {
	Field Field
	Stage Stage
	Row   int // rows completed
	Rows  int // rows in the field
}

// ProgressCallback is called after each row is programmed
type ProgressCallback func(Progress)

// Config holds the session configuration
type Config struct {
	// Variant forces the geometry; VariantUnknown detects it from the IDCODE
	Variant Variant

	// Logger receives engine logs (optional)
	Logger *slog.Logger

	// Journal records every program pulse (optional)
	Journal Journal

	// ProgressCallback is called per programmed row (optional)
	ProgressCallback ProgressCallback
}

func defaultConfig() Config {
	return Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures a Session
type Option func(*Config)

// WithVariant forces the chip variant instead of detecting it.
// ServerInit still runs and a conflicting IDCODE is an error.
func WithVariant(v Variant) Option {
	return func(c *Config) {
		c.Variant = v
	}
}

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithJournal records each issued program pulse
func WithJournal(j Journal) Option {
	return func(c *Config) {
		c.Journal = j
	}
}

// WithProgressCallback sets a per-row progress callback
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = cb
	}
}
