package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/remiblancher/capolicy/internal/profile"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Issuance profile operations",
	Long: `Inspect the profiles configured on a CA and the builtin profile set.

Examples:
  # List the profiles of a CA
  capolicy profile list --ca test_ca

  # Show one profile as YAML
  capolicy profile show --ca test_ca server

  # Write the builtin profiles to a directory
  capolicy profile install --dir ./profiles

  # Check profile files
  capolicy profile lint ./profiles/*.yaml`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles of a CA",
	RunE:  runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a profile as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

var profileBuiltinCmd = &cobra.Command{
	Use:   "builtin",
	Short: "List builtin profiles",
	RunE:  runProfileBuiltin,
}

var profileInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Write the builtin profiles to a directory",
	RunE:  runProfileInstall,
}

var profileLintCmd = &cobra.Command{
	Use:   "lint <file>...",
	Short: "Validate profile files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProfileLint,
}

var (
	profileCA        string
	profileDir       string
	profileOverwrite bool
)

func init() {
	profileListCmd.Flags().StringVar(&profileCA, "ca", "", "CA name (default: the only CA)")
	profileShowCmd.Flags().StringVar(&profileCA, "ca", "", "CA name (default: the only CA)")
	profileInstallCmd.Flags().StringVar(&profileDir, "dir", "./profiles", "Target directory")
	profileInstallCmd.Flags().BoolVar(&profileOverwrite, "force", false, "Overwrite existing files")

	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileBuiltinCmd)
	profileCmd.AddCommand(profileInstallCmd)
	profileCmd.AddCommand(profileLintCmd)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	c, err := env.ca(profileCA)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBASIC CONSTRAINTS\tSUBJECT POLICY\tDESCRIPTION")
	for _, name := range c.ProfileNames() {
		p, err := c.Profile(name)
		if err != nil {
			return err
		}
		policy := "-"
		if sp := p.SubjectItemPolicy(); sp != nil {
			policy = sp.Mode().String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, p.BasicConstraints(), policy, p.Description())
	}
	return w.Flush()
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	c, err := env.ca(profileCA)
	if err != nil {
		return err
	}
	p, err := c.Profile(args[0])
	if err != nil {
		return err
	}
	return writeProfile(cmd, p)
}

func writeProfile(cmd *cobra.Command, p *profile.Profile) error {
	data, err := yaml.Marshal(profile.SpecFromProfile(p))
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runProfileBuiltin(cmd *cobra.Command, args []string) error {
	profiles, err := profile.BuiltinProfiles()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, name := range profile.SortedNames(profiles) {
		fmt.Fprintf(w, "%s\t%s\n", name, profiles[name].Description())
	}
	return w.Flush()
}

func runProfileInstall(cmd *cobra.Command, args []string) error {
	if err := profile.InstallBuiltinProfiles(profileDir, profileOverwrite); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Builtin profiles installed to %s\n", profileDir)
	return nil
}

func runProfileLint(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		if _, err := profile.LoadFromFile(path); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK   %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d profile(s) invalid", failed, len(args))
	}
	return nil
}
