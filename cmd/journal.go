// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fusectl/pkg/efuse"
	"github.com/Thermoquad/fusectl/pkg/journal"
)

var (
	journalDevice  string
	journalField   string
	journalLimit   int
	journalSummary bool
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List burns recorded with --journal",
	Long: `List every program pulse recorded in the SQLite journal given by --journal,
oldest first, or a per-device per-field summary with --summary.`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().StringVar(&journalDevice, "device", "", "Only this IDCODE (hex)")
	journalCmd.Flags().StringVar(&journalField, "field", "", "Only this field (aes, user, user128, rsa, control, secure)")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 0, "Show at most this many entries")
	journalCmd.Flags().BoolVar(&journalSummary, "summary", false, "Count pulses per device and field")
	rootCmd.AddCommand(journalCmd)
}

func parseField(name string) (efuse.Field, error) {
	for f := efuse.FieldAESKey; f <= efuse.FieldSecure; f++ {
		if name == f.String() || name == fieldCommand(f) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", name)
}

func runJournal(cmd *cobra.Command, args []string) error {
	if journalPath == "" {
		return fmt.Errorf("--journal must name the journal file")
	}
	store, err := journal.Open(journalPath)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()

	if journalSummary {
		sums, err := store.Summarize(ctx)
		if err != nil {
			return err
		}
		if len(sums) == 0 {
			fmt.Println("(journal is empty)")
			return nil
		}
		fmt.Printf("%-10s  %-12s  %-13s  %7s  %s\n", "IDCODE", "VARIANT", "FIELD", "PULSES", "LAST")
		for _, s := range sums {
			fmt.Printf("0x%08X  %-12s  %-13s  %7d  %s\n",
				s.IDCode, s.Variant, s.Field, s.Pulses, s.Last.Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	filter := journal.Filter{Limit: journalLimit}
	if journalDevice != "" {
		id, err := strconv.ParseUint(journalDevice, 0, 32)
		if err != nil {
			id, err = strconv.ParseUint(journalDevice, 16, 32)
		}
		if err != nil {
			return fmt.Errorf("invalid IDCODE %q: %w", journalDevice, err)
		}
		filter.IDCode = uint32(id)
	}
	if journalField != "" {
		f, err := parseField(journalField)
		if err != nil {
			return err
		}
		filter.Field = &f
	}

	entries, err := store.Burns(ctx, filter)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%6d  %s  0x%08X  %-12s  %-13s  %s\n",
			e.ID, e.At.Format("2006-01-02 15:04:05.000"), e.IDCode, e.Variant, e.Field, e.Addr)
	}
	fmt.Printf("%d pulse(s)\n", len(entries))
	return nil
}
