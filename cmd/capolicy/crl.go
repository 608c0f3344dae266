package main

import (
	"encoding/pem"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// crlCmd is the parent command for CRL operations.
var crlCmd = &cobra.Command{
	Use:   "crl",
	Short: "Certificate Revocation List operations",
	Long: `Generate CRLs and inspect the revocation state of a CA.

Commands:
  gen     Generate a new CRL (advances the CRL number)
  show    Show the current CRL number and revocation list

Examples:
  capolicy crl gen --ca test_ca --out test_ca.crl
  capolicy crl show --ca test_ca`,
}

var crlGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a Certificate Revocation List",
	Long: `Generate a CRL signed by the CA.

Every call takes the next CRL number from the durable store, so numbers
never repeat even if the CRL is discarded.`,
	RunE: runCRLGen,
}

var crlShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the CRL number and revocation list",
	RunE:  runCRLShow,
}

var (
	crlCA  string
	crlOut string
	crlDER bool
)

func init() {
	crlGenCmd.Flags().StringVar(&crlCA, "ca", "", "CA name (default: the only CA)")
	crlGenCmd.Flags().StringVarP(&crlOut, "out", "o", "", "Output file (default: stdout)")
	crlGenCmd.Flags().BoolVar(&crlDER, "der", false, "Write DER instead of PEM")
	crlShowCmd.Flags().StringVar(&crlCA, "ca", "", "CA name (default: the only CA)")

	crlCmd.AddCommand(crlGenCmd)
	crlCmd.AddCommand(crlShowCmd)
}

func runCRLGen(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	c, err := env.ca(crlCA)
	if err != nil {
		return err
	}
	res, err := env.service.GenerateCRL(commandContext(cmd), c.Name())
	if err != nil {
		return err
	}

	data := res.DER
	if !crlDER {
		data = pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: res.DER})
	}
	if crlOut == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(crlOut, data, 0644); err != nil {
		return fmt.Errorf("failed to write CRL: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "CRL generated\n")
	fmt.Fprintf(out, "  CA:          %s\n", c.Name())
	fmt.Fprintf(out, "  Number:      %d\n", res.Number)
	fmt.Fprintf(out, "  Revoked:     %d\n", res.Revoked)
	fmt.Fprintf(out, "  Next update: %s\n", res.NextUpdate.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "  Written:     %s\n", crlOut)
	return nil
}

func runCRLShow(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	c, err := env.ca(crlCA)
	if err != nil {
		return err
	}
	snap, err := c.CRLSnapshot(commandContext(cmd))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "CA:         %s\n", c.Name())
	fmt.Fprintf(out, "CRL number: %d\n", snap.Number)
	if len(snap.Revocations) == 0 {
		fmt.Fprintf(out, "No revoked certificates\n")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tREVOKED AT\tREASON")
	for _, rev := range snap.Revocations {
		fmt.Fprintf(w, "0x%X\t%s\t%s\n", rev.Serial, rev.RevokedAt.UTC().Format(time.RFC3339), rev.Reason)
	}
	return w.Flush()
}
