// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fusectl/pkg/probewire"
)

var (
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the probe link with PING_REQUEST",
	Long: `Send PING_REQUEST packets to the probe selected by --target and wait for
PING_RESPONSE. Verifies the link, authentication through a bridge and the
probe firmware without touching the fuse array.

Fails when any ping is lost.`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 100*time.Millisecond, "Delay between pings")
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	link, info, err := OpenLink()
	if err != nil {
		return err
	}
	client := probewire.NewClient(link,
		probewire.WithTarget(probeTarget),
		probewire.WithTimeout(probeTimeout),
		probewire.WithClientLogger(logger),
	)
	defer client.Close()

	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Target: 0x%016X, timeout %s\n\n", probeTarget, probeTimeout)

	lost := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)
		start := time.Now()
		uptime, err := client.Ping()
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			lost++
		} else {
			fmt.Printf("PONG uptime=%s rtt=%v\n", uptime, time.Since(start).Round(time.Millisecond))
		}
		if i < pingCount {
			time.Sleep(pingInterval)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, pingCount-lost, float64(lost)/float64(pingCount)*100)
	if lost > 0 {
		return fmt.Errorf("%d of %d pings lost", lost, pingCount)
	}
	return nil
}
