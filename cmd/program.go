// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/fusectl/pkg/efuse"
)

var (
	assumeYes   bool
	mergePolicy bool
	pemFile     string

	// plan flags
	planAES     string
	planUser    string
	planUser128 string
	planRSA     string
	planControl string
	planSecure  string
)

var programCmd = &cobra.Command{
	Use:   "program",
	Short: "Burn fuses (irreversible)",
	Long: `Burn key fields and policy bits. Every request is validated against the
burned state before the first pulse: requests that would clear a burned bit,
target a locked field or a non-blank key region are refused entirely.

Policy bit lists are the desired burned state of the row. Use --merge to add
to what is already burned instead.

Interactive terminals get a confirmation screen; pass --yes to skip it.`,
}

// buildPlan resolves a plan once the device is known
type buildPlan func(t *target) (efuse.Plan, error)

func keyArg(field efuse.Field, set func(*efuse.Plan, []byte)) *cobra.Command {
	return &cobra.Command{
		Use:   fieldCommand(field) + " <hex>",
		Short: "Program the " + field.String(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := parseHex(args[0])
			if err != nil {
				return err
			}
			return runPlan(func(*target) (efuse.Plan, error) {
				var p efuse.Plan
				set(&p, b)
				return p, nil
			})
		},
	}
}

func fieldCommand(f efuse.Field) string {
	switch f {
	case efuse.FieldAESKey:
		return "aes"
	case efuse.FieldUserKey:
		return "user"
	case efuse.FieldUserKey128:
		return "user128"
	case efuse.FieldRSAHash:
		return "rsa"
	default:
		return f.String()
	}
}

var programRSACmd = &cobra.Command{
	Use:   "rsa [hash-hex]",
	Short: "Program the RSA public key hash",
	Long: `Program the RSA public key hash, given directly or derived from --pem.
The hash is SHA-256 on Zynq and SHA3-384 on the UltraScale families.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (len(args) == 1) == (pemFile != "") {
			return fmt.Errorf("pass exactly one of a hash argument or --pem")
		}
		return runPlan(func(t *target) (efuse.Plan, error) {
			hash, err := rsaHash(t, firstArg(args))
			return efuse.Plan{RSAHash: hash}, err
		})
	},
}

func policyCmd(field efuse.Field) *cobra.Command {
	return &cobra.Command{
		Use:   field.String() + " <bit>[,<bit>...]",
		Short: "Burn " + field.String() + " bits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := efuse.ParsePolicySet(args[0])
			if err != nil {
				return err
			}
			return runPlan(func(t *target) (efuse.Plan, error) {
				var p efuse.Plan
				err := setPolicy(t, &p, field, set)
				return p, err
			})
		},
	}
}

var programPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Program several fields in one validated pass",
	Long: `Validate every requested field, then burn keys, then control bits, then
secure bits. A key and the lock that protects it can be given together.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(func(t *target) (efuse.Plan, error) {
			var p efuse.Plan
			var err error
			for _, kf := range []struct {
				val string
				dst *[]byte
			}{
				{planAES, &p.AESKey},
				{planUser, &p.UserKey},
				{planUser128, &p.UserKey128},
			} {
				if kf.val == "" {
					continue
				}
				if *kf.dst, err = parseHex(kf.val); err != nil {
					return p, err
				}
			}
			if planRSA != "" || pemFile != "" {
				if p.RSAHash, err = rsaHash(t, planRSA); err != nil {
					return p, err
				}
			}
			for _, pf := range []struct {
				val   string
				field efuse.Field
			}{
				{planControl, efuse.FieldControl},
				{planSecure, efuse.FieldSecure},
			} {
				if pf.val == "" {
					continue
				}
				set, err := efuse.ParsePolicySet(pf.val)
				if err != nil {
					return p, err
				}
				if err := setPolicy(t, &p, pf.field, set); err != nil {
					return p, err
				}
			}
			if p.Empty() {
				return p, fmt.Errorf("nothing to program")
			}
			return p, nil
		})
	},
}

func init() {
	programCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Burn without confirmation")
	programCmd.PersistentFlags().BoolVar(&mergePolicy, "merge", false, "Add policy bits to the burned set instead of replacing the desired state")

	programRSACmd.Flags().StringVar(&pemFile, "pem", "", "Derive the hash from this RSA public key")

	programPlanCmd.Flags().StringVar(&planAES, "aes", "", "AES key (hex or @file)")
	programPlanCmd.Flags().StringVar(&planUser, "user", "", "32-bit user key (hex)")
	programPlanCmd.Flags().StringVar(&planUser128, "user128", "", "128-bit user key (hex)")
	programPlanCmd.Flags().StringVar(&planRSA, "rsa", "", "RSA public key hash (hex)")
	programPlanCmd.Flags().StringVar(&pemFile, "pem", "", "Derive the RSA hash from this public key")
	programPlanCmd.Flags().StringVar(&planControl, "control", "", "Control bits")
	programPlanCmd.Flags().StringVar(&planSecure, "secure", "", "Secure bits")

	programCmd.AddCommand(
		keyArg(efuse.FieldAESKey, func(p *efuse.Plan, b []byte) { p.AESKey = b }),
		keyArg(efuse.FieldUserKey, func(p *efuse.Plan, b []byte) { p.UserKey = b }),
		keyArg(efuse.FieldUserKey128, func(p *efuse.Plan, b []byte) { p.UserKey128 = b }),
		programRSACmd,
		policyCmd(efuse.FieldControl),
		policyCmd(efuse.FieldSecure),
		programPlanCmd,
	)
	rootCmd.AddCommand(programCmd)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func rsaHash(t *target, hashHex string) ([]byte, error) {
	if pemFile == "" {
		return parseHex(hashHex)
	}
	if hashHex != "" {
		return nil, fmt.Errorf("pass either an RSA hash or --pem, not both")
	}
	id, err := t.session.Identity()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(pemFile)
	if err != nil {
		return nil, err
	}
	return efuse.PublicKeyHash(id.Variant, data)
}

// setPolicy stores a policy request, folding in the burned set with --merge
func setPolicy(t *target, p *efuse.Plan, field efuse.Field, set efuse.PolicySet) error {
	read := t.session.ReadControlBits
	dst := &p.Control
	if field == efuse.FieldSecure {
		read = t.session.ReadSecureBits
		dst = &p.Secure
	}
	if mergePolicy {
		burned, err := read()
		if err != nil {
			return fmt.Errorf("--merge needs the burned %s: %w", field, err)
		}
		set = set.Union(burned)
	}
	*dst = &set
	return nil
}

// describePlan lists the requested fields without echoing secret keys
func describePlan(p efuse.Plan) []planItem {
	var items []planItem
	for _, f := range p.Fields() {
		var detail string
		switch f {
		case efuse.FieldAESKey:
			detail = fmt.Sprintf("%d bytes, CRC 0x%08X", len(p.AESKey), efuse.KeyCRC(p.AESKey))
		case efuse.FieldUserKey:
			detail = hex.EncodeToString(p.UserKey)
		case efuse.FieldUserKey128:
			detail = hex.EncodeToString(p.UserKey128)
		case efuse.FieldRSAHash:
			detail = hex.EncodeToString(p.RSAHash)
		case efuse.FieldControl:
			detail = p.Control.String()
		case efuse.FieldSecure:
			detail = p.Secure.String()
		}
		items = append(items, planItem{field: f, detail: detail})
	}
	return items
}

var errAborted = errors.New("aborted, nothing burned")

// runPlan resolves, confirms and applies a plan
func runPlan(build buildPlan) error {
	var prog *tea.Program
	onProgress := func(pr efuse.Progress) {
		if prog != nil {
			prog.Send(burnProgressMsg(pr))
		} else if pr.Stage == efuse.StageProgrammed || pr.Stage == efuse.StageFailed {
			fmt.Printf("  %-13s %s\n", pr.Field, pr.Stage)
		}
	}

	return withTarget(func(t *target) error {
		id, err := t.session.Identity()
		if err != nil {
			return err
		}
		plan, err := build(t)
		if err != nil {
			return err
		}
		if err := t.session.CheckEnvironment(efuse.OpWrite); err != nil {
			return fmt.Errorf("not burning: %w", err)
		}

		items := describePlan(plan)
		interactive := term.IsTerminal(int(os.Stdin.Fd()))

		if !assumeYes && !interactive {
			return fmt.Errorf("refusing to burn without --yes when stdin is not a terminal")
		}

		if assumeYes {
			fmt.Printf("Burning on %s\n", id)
			for _, it := range items {
				fmt.Printf("  %-13s %s\n", it.field, it.detail)
			}
			rep, err := t.session.Apply(plan)
			if rep != nil {
				fmt.Print(rep)
			}
			return err
		}

		m := newBurnModel(id, t.info, items, func() (*efuse.Report, error) {
			return t.session.Apply(plan)
		})
		prog = tea.NewProgram(m, tea.WithAltScreen())
		final, err := prog.Run()
		prog = nil
		if err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}

		result := final.(burnModel)
		if result.cancelled {
			return errAborted
		}
		if result.report != nil {
			fmt.Print(result.report)
		}
		return result.err
	}, efuse.WithProgressCallback(onProgress))
}
