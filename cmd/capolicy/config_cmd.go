package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration file operations",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a configuration file",
	Long: `Load the configuration file, open every CA identity and CRL store, and
build every profile. Nothing is written.

Examples:
  capolicy config check --config capolicy.yaml`,
	RunE: runConfigCheck,
}

func init() {
	configCmd.AddCommand(configCheckCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	f, err := loadConfig()
	if err != nil {
		return err
	}
	timeout, err := f.Timeout()
	if err != nil {
		return err
	}
	loaded, err := f.Build(nil)
	if err != nil {
		return err
	}
	defer func() { _ = loaded.Close() }()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration: %s\n", configPath)
	if timeout > 0 {
		fmt.Fprintf(out, "  Persistence timeout: %s\n", timeout)
	}
	if p := f.AuditPath(); p != "" {
		fmt.Fprintf(out, "  Audit log: %s\n", p)
	}
	for _, c := range loaded.CAs {
		fmt.Fprintf(out, "\nCA %s\n", c.Name())
		fmt.Fprintf(out, "  Subject:       %s\n", c.Identity().Certificate.Subject)
		if _, delegated := c.OCSPIdentity(); delegated {
			fmt.Fprintf(out, "  OCSP signer:   delegated\n")
		}
		if c.CDPLocation() != "" {
			fmt.Fprintf(out, "  CDP:           %s\n", c.CDPLocation())
		}
		if c.OCSPLocation() != "" {
			fmt.Fprintf(out, "  OCSP:          %s\n", c.OCSPLocation())
		}
		fmt.Fprintf(out, "  OCSP validity: %s (skew %s)\n", c.OCSPValidity(), c.OCSPStartSkew())
		fmt.Fprintf(out, "  CRL validity:  %s\n", c.CRLValidity())
		fmt.Fprintf(out, "  Profiles:      %s\n", strings.Join(c.ProfileNames(), ", "))
	}
	fmt.Fprintf(out, "\nOK: %d CA(s)\n", len(loaded.CAs))
	return nil
}
