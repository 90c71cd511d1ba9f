// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fusectl/pkg/probewire"
)

var rawLogStatsInterval time.Duration

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Decode probe traffic in human-readable format",
	Long: `Continuously decode and display probe wire packets as they arrive, with
validation anomalies flagged inline. Useful on a tap or a bridge's monitor
endpoint.

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rawLogCmd.Flags().DurationVar(&rawLogStatsInterval, "stats", 0, "Print link statistics at this interval (0 disables)")
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	link, info, err := OpenLink()
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("fusectl - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := probewire.NewDecoder()
	stats := probewire.NewStatistics()
	lastStats := time.Now()
	buf := make([]byte, 256)

	for {
		n, err := link.Read(buf)
		for _, b := range buf[:n] {
			packet, derr := decoder.DecodeByte(b)
			if derr != nil {
				stats.Update(nil, derr, nil)
				fmt.Printf("[ERROR] %v\n", derr)
				continue
			}
			if packet == nil {
				continue
			}
			anomalies := probewire.ValidatePacket(packet)
			stats.Update(packet, nil, anomalies)
			fmt.Print(probewire.FormatPacket(packet))
			for _, a := range anomalies {
				fmt.Printf("  [ANOMALY] %s\n", a.Error())
			}
		}

		if rawLogStatsInterval > 0 && time.Since(lastStats) >= rawLogStatsInterval {
			lastStats = time.Now()
			fmt.Print(stats.String())
		}

		if err != nil {
			// a closed link does not come back; report and stop
			if errors.Is(err, io.EOF) || errors.Is(err, ErrLinkClosed) {
				logger.Info("link closed")
				fmt.Print(stats.String())
				return nil
			}
			logger.Warn("read error", "error", err)
		}
	}
}
