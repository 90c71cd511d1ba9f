// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fusectl/pkg/probewire"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Probe flags
	probeTarget  uint64
	probeTimeout time.Duration

	// Simulator flags
	simImage   string
	simVariant string

	// Session flags
	variantName string
	journalPath string
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:   "fusectl",
	Short: "OTP eFuse programmer",
	Long: `fusectl - program and inspect the one-time-programmable eFuse array of
Zynq-7000, UltraScale and UltraScale+ devices.

Every bit is burned individually, verified at three read margins, and
refused when the die temperature or supply rails are outside the write
window. Burns are irreversible.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Simulator: --sim array.cbor [--sim-variant ultrascale+]

For WebSocket authentication, the password is read from the FUSECTL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Probe flags
	rootCmd.PersistentFlags().Uint64Var(&probeTarget, "target", probewire.AddressBroadcast, "Probe address")
	rootCmd.PersistentFlags().DurationVar(&probeTimeout, "timeout", probewire.DefaultTimeout, "Per-request probe timeout")

	// Simulator flags
	rootCmd.PersistentFlags().StringVar(&simImage, "sim", "", "Use a simulated array stored in this image file")
	rootCmd.PersistentFlags().StringVar(&simVariant, "sim-variant", "ultrascale+", "Variant of a new simulated array")

	// Session flags
	rootCmd.PersistentFlags().StringVar(&variantName, "variant", "", "Expected variant (zynq, ultrascale, ultrascale+); detected when empty")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "Record every burned bit in this SQLite journal")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
