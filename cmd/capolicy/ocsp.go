package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/capolicy/internal/crl"
)

var ocspCmd = &cobra.Command{
	Use:   "ocsp",
	Short: "OCSP operations",
}

var ocspStatusCmd = &cobra.Command{
	Use:   "status <serial>",
	Short: "Sign an OCSP response for a serial",
	Long: `Sign an OCSP response for one serial number with the CA's OCSP identity.

Examples:
  capolicy ocsp status --ca test_ca 0x4D2 --out 4d2.ocsp`,
	Args: cobra.ExactArgs(1),
	RunE: runOCSPStatus,
}

var (
	ocspCA  string
	ocspOut string
)

func init() {
	ocspStatusCmd.Flags().StringVar(&ocspCA, "ca", "", "CA name (default: the only CA)")
	ocspStatusCmd.Flags().StringVarP(&ocspOut, "out", "o", "", "Write the DER response to this file")
	ocspCmd.AddCommand(ocspStatusCmd)
}

func runOCSPStatus(cmd *cobra.Command, args []string) error {
	serial, err := crl.ParseSerial(args[0])
	if err != nil {
		return err
	}

	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	c, err := env.ca(ocspCA)
	if err != nil {
		return err
	}
	res, err := env.service.OCSP(commandContext(cmd), c.Name(), serial)
	if err != nil {
		return err
	}
	if ocspOut != "" {
		if err := os.WriteFile(ocspOut, res.DER, 0644); err != nil {
			return fmt.Errorf("failed to write OCSP response: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Serial:      0x%X\n", serial)
	fmt.Fprintf(out, "Status:      %s\n", res.Status)
	fmt.Fprintf(out, "This update: %s\n", res.ThisUpdate.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Next update: %s\n", res.NextUpdate.UTC().Format(time.RFC3339))
	return nil
}
