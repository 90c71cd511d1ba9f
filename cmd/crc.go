// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fusectl/pkg/efuse"
)

var crcCmd = &cobra.Command{
	Use:   "crc <aes-key-hex>",
	Short: "Compute the hardware CRC of an AES key",
	Long: `Compute the CRC the key-check hardware expects for a 256-bit AES key.
Shorter keys are zero extended. No device is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseHex(args[0])
		if err != nil {
			return err
		}
		if len(key) > efuse.AESKeyBits/8 {
			return fmt.Errorf("key is %d bytes: %w", len(key), efuse.ErrBufferTooLarge)
		}
		fmt.Printf("0x%08X\n", efuse.KeyCRC(key))
		return nil
	},
}

var checkCRCKey string

var checkCRCCmd = &cobra.Command{
	Use:   "check-crc [crc-hex]",
	Short: "Verify the burned AES key against a CRC",
	Long: `Run the hardware key check at every read margin. Pass either the expected
CRC or --key with the AES key itself; the key never leaves this host.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var expected uint32
		switch {
		case checkCRCKey != "" && len(args) == 0:
			key, err := parseHex(checkCRCKey)
			if err != nil {
				return err
			}
			if len(key) > efuse.AESKeyBits/8 {
				return fmt.Errorf("key is %d bytes: %w", len(key), efuse.ErrBufferTooLarge)
			}
			expected = efuse.KeyCRC(key)
		case checkCRCKey == "" && len(args) == 1:
			v, err := parseCRC(args[0])
			if err != nil {
				return err
			}
			expected = v
		default:
			return fmt.Errorf("pass exactly one of a CRC argument or --key")
		}

		return withTarget(func(t *target) error {
			err := t.session.CheckAESKeyCRC(expected)
			var crcErr *efuse.CRCError
			if errors.As(err, &crcErr) {
				fmt.Printf("MISMATCH: %v\n", crcErr)
				return err
			}
			if err != nil {
				return err
			}
			fmt.Printf("OK: AES key matches 0x%08X at all margins\n", expected)
			return nil
		})
	},
}

func init() {
	checkCRCCmd.Flags().StringVar(&checkCRCKey, "key", "", "AES key in hex (or @file) instead of a CRC")
	rootCmd.AddCommand(crcCmd)
	rootCmd.AddCommand(checkCRCCmd)
}
