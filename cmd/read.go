// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fusectl/pkg/efuse"
)

var (
	rowPage      uint8
	rowIndex     uint8
	rowMargin    uint8
	rowRedundant bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read programmed fields",
}

// readKeyCmd builds a subcommand printing one key field as hex
func readKeyCmd(use, short string, read func(*efuse.Session) ([]byte, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(func(t *target) error {
				b, err := read(t.session)
				if err != nil {
					return err
				}
				fmt.Println(hex.EncodeToString(b))
				return nil
			})
		},
	}
}

func readPolicyCmd(use, short string, read func(*efuse.Session) (efuse.PolicySet, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(func(t *target) error {
				set, err := read(t.session)
				if err != nil {
					return err
				}
				fmt.Println(set)
				return nil
			})
		},
	}
}

var readRowCmd = &cobra.Command{
	Use:   "row",
	Short: "Sense one raw row",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTarget(func(t *target) error {
			addr := efuse.RowAddress{Page: rowPage, Row: rowIndex, Redundant: rowRedundant}
			m := efuse.Margin(rowMargin)
			v, err := t.session.ReadRow(addr, m)
			if err != nil {
				return err
			}
			fmt.Printf("%s @ %s: 0x%08X  %032b\n", addr, m, v, v)
			return nil
		})
	},
}

func init() {
	readCmd.AddCommand(
		readKeyCmd("aes", "Read the AES key (Zynq only)", (*efuse.Session).ReadAESKey),
		readKeyCmd("user", "Read the 32-bit user key", (*efuse.Session).ReadUserKey),
		readKeyCmd("user128", "Read the 128-bit user key (UltraScale+ only)", (*efuse.Session).ReadUserKey128),
		readKeyCmd("rsa", "Read the RSA public key hash", (*efuse.Session).ReadRSAHash),
		readPolicyCmd("control", "Read the burned control bits", (*efuse.Session).ReadControlBits),
		readPolicyCmd("secure", "Read the burned secure bits", (*efuse.Session).ReadSecureBits),
		readRowCmd,
	)

	readRowCmd.Flags().Uint8Var(&rowPage, "page", 0, "Page index")
	readRowCmd.Flags().Uint8Var(&rowIndex, "row", 0, "Row index")
	readRowCmd.Flags().Uint8Var(&rowMargin, "margin", 0, "Read margin (0 normal, 1, 2)")
	readRowCmd.Flags().BoolVar(&rowRedundant, "redundant", false, "Read the redundant plane")

	rootCmd.AddCommand(readCmd)
}
