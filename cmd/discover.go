// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fusectl/pkg/probewire"
)

var discoverWindow time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List probes answering a broadcast ping",
	Long: `Send a broadcast PING_REQUEST and collect every PING_RESPONSE that arrives
within the window. Each probe answers with its own address, which can then be
passed as --target.`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVarP(&discoverWindow, "window", "w", 2*time.Second, "How long to collect answers")
	rootCmd.AddCommand(discoverCmd)
}

type discoveredProbe struct {
	address uint64
	uptime  time.Duration
	rtt     time.Duration
}

func runDiscover(cmd *cobra.Command, args []string) error {
	link, info, err := OpenLink()
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Window: %s\n\n", discoverWindow)

	wire, err := probewire.EncodePacket(probewire.NewPingRequest(probewire.AddressBroadcast))
	if err != nil {
		return err
	}
	start := time.Now()
	if _, err := link.Write(wire); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	found := map[uint64]discoveredProbe{}
	responses := make(chan discoveredProbe, 16)
	readErr := make(chan error, 1)

	go func() {
		decoder := probewire.NewDecoder()
		buf := make([]byte, 256)
		for {
			n, err := link.Read(buf)
			for _, b := range buf[:n] {
				p, derr := decoder.DecodeByte(b)
				if derr != nil || p == nil || p.Type() != probewire.MsgPingResponse {
					continue
				}
				ms, _ := probewire.GetMapUint(p.Payload(), 0)
				responses <- discoveredProbe{
					address: p.Address(),
					uptime:  time.Duration(ms) * time.Millisecond,
					rtt:     time.Since(start),
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	deadline := time.After(discoverWindow)
collect:
	for {
		select {
		case p := <-responses:
			if _, seen := found[p.address]; !seen {
				found[p.address] = p
				fmt.Printf("Probe 0x%016X  uptime=%s  rtt=%v\n", p.address, p.uptime, p.rtt.Round(time.Millisecond))
			}
		case err := <-readErr:
			logger.Debug("link read stopped", "error", err)
			break collect
		case <-deadline:
			break collect
		}
	}

	probes := make([]discoveredProbe, 0, len(found))
	for _, p := range found {
		probes = append(probes, p)
	}
	sort.Slice(probes, func(i, j int) bool { return probes[i].address < probes[j].address })

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Probes found: %d\n", len(probes))
	if len(probes) == 0 {
		return fmt.Errorf("no probes answered within %s", discoverWindow)
	}
	return nil
}
