package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/capolicy/internal/crl"
)

var revokeCmd = &cobra.Command{
	Use:   "revoke <serial>",
	Short: "Revoke a certificate",
	Long: `Add a serial number to the CA's revocation list.

The serial is decimal, hexadecimal with a 0x prefix, or colon-separated hex.
Revoking an already revoked serial fails unless --override is given, which
replaces the reason and time of the existing record.

Reasons: unspecified, keyCompromise, cACompromise, affiliationChanged,
superseded, cessationOfOperation, certificateHold, privilegeWithdrawn,
aACompromise (or the RFC 5280 code).

Examples:
  capolicy revoke --ca test_ca 0x4D2 --reason keyCompromise
  capolicy revoke --ca test_ca 1234 --reason superseded --override`,
	Args: cobra.ExactArgs(1),
	RunE: runRevoke,
}

var unrevokeCmd = &cobra.Command{
	Use:   "unrevoke <serial>",
	Short: "Remove a certificate from the revocation list",
	Long: `Remove a serial number from the CA's revocation list, for example to
release a certificate hold.

Examples:
  capolicy unrevoke --ca test_ca 0x4D2`,
	Args: cobra.ExactArgs(1),
	RunE: runUnrevoke,
}

var (
	revokeCA       string
	revokeReason   string
	revokeAt       string
	revokeOverride bool
	unrevokeCA     string
)

func init() {
	revokeCmd.Flags().StringVar(&revokeCA, "ca", "", "CA name (default: the only CA)")
	revokeCmd.Flags().StringVarP(&revokeReason, "reason", "r", "unspecified", "Revocation reason")
	revokeCmd.Flags().StringVar(&revokeAt, "at", "", "Revocation time, RFC3339 (default: now)")
	revokeCmd.Flags().BoolVar(&revokeOverride, "override", false, "Replace an existing revocation record")

	unrevokeCmd.Flags().StringVar(&unrevokeCA, "ca", "", "CA name (default: the only CA)")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runRevoke(cmd *cobra.Command, args []string) error {
	serial, err := crl.ParseSerial(args[0])
	if err != nil {
		return err
	}
	reason, err := crl.ParseReason(revokeReason)
	if err != nil {
		return err
	}
	var at time.Time
	if revokeAt != "" {
		if at, err = time.Parse(time.RFC3339, revokeAt); err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}

	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	c, err := env.ca(revokeCA)
	if err != nil {
		return err
	}
	if err := env.service.Revoke(commandContext(cmd), c.Name(), serial, reason, at, revokeOverride); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Certificate revoked\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  CA:     %s\n", c.Name())
	fmt.Fprintf(cmd.OutOrStdout(), "  Serial: 0x%X\n", serial)
	fmt.Fprintf(cmd.OutOrStdout(), "  Reason: %s\n", reason)
	return nil
}

func runUnrevoke(cmd *cobra.Command, args []string) error {
	serial, err := crl.ParseSerial(args[0])
	if err != nil {
		return err
	}

	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	c, err := env.ca(unrevokeCA)
	if err != nil {
		return err
	}
	if err := env.service.Unrevoke(commandContext(cmd), c.Name(), serial); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Certificate 0x%X removed from the %s revocation list\n", serial, c.Name())
	return nil
}
