// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fusectl/pkg/efuse"
)

var keyFields = []efuse.Field{efuse.FieldAESKey, efuse.FieldUserKey, efuse.FieldUserKey128, efuse.FieldRSAHash}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the device IDCODE and fuse geometry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTarget(func(t *target) error {
			id, err := t.session.Identity()
			if err != nil {
				return err
			}
			geo, err := t.session.Geometry()
			if err != nil {
				return err
			}

			fmt.Printf("Connection: %s\n", t.info)
			fmt.Printf("Device:     %s\n", id)
			fmt.Printf("Variant:    %s\n", id.Variant)
			fmt.Printf("Array:      %d page(s) x %d rows, %d-bit rows", geo.Pages, geo.Rows, geo.RowWidth)
			if geo.RedundantPlane {
				fmt.Print(", redundant plane")
			}
			fmt.Println()

			fmt.Println("\nFields:")
			for _, f := range keyFields {
				l, err := geo.Field(f)
				if err != nil {
					continue
				}
				first, last := l.Segments[0], l.Segments[len(l.Segments)-1]
				enc := "raw"
				if l.Encoding == efuse.EncodingHamming {
					enc = "hamming(31,26)"
				}
				fmt.Printf("  %-13s %3d bits  p%d r%d..r%d  %s\n", f, l.Bits, first.Page, first.Row, last.Row, enc)
			}
			fmt.Printf("  %-13s p%d r%d  %s\n", efuse.FieldControl, geo.Control.Page, geo.Control.Row, geo.Control.Supported())
			fmt.Printf("  %-13s p%d r%d  %s\n", efuse.FieldSecure, geo.Secure.Page, geo.Secure.Row, geo.Secure.Supported())
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show environment, status word and policy bits",
	Long: `Read the analog monitor, the hardware status word and the burned control
and secure bits. Reads are refused outside the read window.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withTarget(func(t *target) error {
		id, err := t.session.Identity()
		if err != nil {
			return err
		}
		fmt.Printf("Device: %s\n\n", id)

		sample, err := t.session.Sample()
		if err != nil {
			return err
		}
		geo, _ := t.session.Geometry()
		printEnvironment(sample, geo.Env)
		fmt.Println()

		status, err := t.session.ReadStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Status word:  0x%08X\n", status.Word)
		fmt.Printf("Control bits: %s\n", status.Control)

		if secure, err := t.session.ReadSecureBits(); err != nil {
			fmt.Printf("Secure bits:  (%v)\n", err)
		} else {
			fmt.Printf("Secure bits:  %s\n", secure)
		}

		if debug {
			fmt.Println()
			fmt.Print(t.session.Stats())
		}
		return nil
	})
}

func printEnvironment(s efuse.Sample, env efuse.EnvLimits) {
	rt, ra, ri := env.For(efuse.OpRead)
	wt, wa, wi := env.For(efuse.OpWrite)
	row := func(name, unit string, v float64, read, write efuse.Range) {
		fmt.Printf("  %-12s %7.3f %-2s  read %s  write %s\n", name, v, unit, window(v, read), window(v, write))
	}
	fmt.Println("Environment:")
	row("Temperature", "C", s.Temperature, rt, wt)
	row("VCCAUX", "V", s.VCCAUX, ra, wa)
	row("VCCINT", "V", s.VCCINT, ri, wi)
}

func window(v float64, r efuse.Range) string {
	if r.Contains(v) {
		return "ok "
	}
	return "OUT"
}
