package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/capolicy/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log management",
	Long: `Commands for verifying and reading the audit log.

The audit log is a tamper-evident record of profile changes, issuance
decisions, revocations, CRLs and OCSP responses. Each event is chained to
the previous one with a SHA-256 hash.

The log file defaults to the audit_log of the configuration file.

Examples:
  # Verify audit log integrity
  capolicy audit verify --log audit.jsonl

  # Show the last 10 events
  capolicy audit tail --config capolicy.yaml -n 10`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log integrity",
	Long: `Verify the hash chain of an audit log file.

The first event has hash_prev="sha256:genesis"; every later event chains to
the hash of its predecessor. Modified, deleted or inserted events break the
chain and are reported with their line number.`,
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit events",
	RunE:  runAuditTail,
}

var (
	auditLogFile  string
	auditTailNum  int
	auditShowJSON bool
)

func init() {
	auditVerifyCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (default: from --config)")

	auditTailCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (default: from --config)")
	auditTailCmd.Flags().IntVarP(&auditTailNum, "num", "n", 10, "Number of events to show")
	auditTailCmd.Flags().BoolVar(&auditShowJSON, "json", false, "Output as JSON")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
}

func auditPath() (string, error) {
	if auditLogFile != "" {
		return auditLogFile, nil
	}
	if configPath == "" {
		return "", fmt.Errorf("--log or --config is required")
	}
	f, err := loadConfig()
	if err != nil {
		return "", err
	}
	if f.AuditPath() == "" {
		return "", fmt.Errorf("%s does not configure audit_log", configPath)
	}
	return f.AuditPath(), nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying audit log: %s\n\n", path)

	count, err := audit.VerifyChain(path)
	if err != nil {
		fmt.Fprintf(out, "VERIFICATION FAILED\n")
		fmt.Fprintf(out, "  Valid events: %d\n", count)
		fmt.Fprintf(out, "  Error: %s\n", err)
		return fmt.Errorf("audit log verification failed: %w", err)
	}

	fmt.Fprintf(out, "VERIFICATION PASSED\n")
	fmt.Fprintf(out, "  Total events: %d\n", count)
	fmt.Fprintf(out, "  Hash chain: VALID\n")
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(lines) == 0 {
		fmt.Fprintln(out, "Audit log is empty")
		return nil
	}
	if auditTailNum > 0 && len(lines) > auditTailNum {
		lines = lines[len(lines)-auditTailNum:]
	}

	if auditShowJSON {
		fmt.Fprintln(out, "[")
		for i, line := range lines {
			if i > 0 {
				fmt.Fprintln(out, ",")
			}
			fmt.Fprint(out, line)
		}
		fmt.Fprintln(out, "\n]")
		return nil
	}

	for _, line := range lines {
		var event audit.Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			fmt.Fprintf(out, "  [ERROR] %s\n", err)
			continue
		}
		printEvent(out, &event)
	}
	return nil
}

func printEvent(out io.Writer, e *audit.Event) {
	resultIcon := "✓"
	if e.Result == audit.ResultFailure {
		resultIcon = "✗"
	}

	fmt.Fprintf(out, "[%s] %s %s\n", e.Timestamp, resultIcon, e.EventType)
	fmt.Fprintf(out, "    Actor:  %s@%s\n", e.Actor.ID, e.Actor.Host)

	if e.Object.Type != "" {
		fmt.Fprintf(out, "    Object: %s", e.Object.Type)
		if e.Object.Name != "" {
			fmt.Fprintf(out, " name=%s", e.Object.Name)
		}
		if e.Object.Serial != "" {
			fmt.Fprintf(out, " serial=%s", e.Object.Serial)
		}
		if e.Object.Subject != "" {
			fmt.Fprintf(out, " subject=%s", e.Object.Subject)
		}
		fmt.Fprintln(out)
	}

	c := e.Context
	if c.CA != "" || c.Profile != "" || c.Reason != "" || c.Status != "" {
		fmt.Fprint(out, "    Context:")
		if c.CA != "" {
			fmt.Fprintf(out, " ca=%s", c.CA)
		}
		if c.Profile != "" {
			fmt.Fprintf(out, " profile=%s", c.Profile)
		}
		if c.Reason != "" {
			fmt.Fprintf(out, " reason=%s", c.Reason)
		}
		if c.Status != "" {
			fmt.Fprintf(out, " status=%s", c.Status)
		}
		if len(c.Ignored) > 0 {
			fmt.Fprintf(out, " ignored=%s", strings.Join(c.Ignored, ","))
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out)
}
