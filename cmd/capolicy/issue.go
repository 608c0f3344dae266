package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/profile"
	"github.com/remiblancher/capolicy/internal/subject"
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a certificate under a profile",
	Long: `Issue a certificate from a CSR or a public key.

The subject is checked against the profile's subject item policy. Extensions
the profile declares always win over requested ones; overridden values are
reported. With --dry-run the resolved certificate content is printed and
nothing is signed.

Examples:
  # From a CSR
  capolicy issue --ca test_ca --profile server --csr server.csr --out server.crt

  # From a public key, with an explicit subject
  capolicy issue --ca test_ca --profile server_with_subject_item_policy \
    --pubkey server.pub --subject "/C=US/ST=Illinois/CN=example.com" --dns example.com

  # Show what would be issued
  capolicy issue --ca test_ca --profile subroot --pubkey sub.pub --subject /CN=Sub --dry-run`,
	RunE: runIssue,
}

var (
	issueCA         string
	issueProfile    string
	issueCSR        string
	issuePubKey     string
	issueSubject    string
	issueDNS        []string
	issueIPs        []string
	issueEmails     []string
	issueURIs       []string
	issueKeyUsage   []string
	issueExtKeyUse  []string
	issuePolicies   []string
	issueValidity   string
	issueBasicConst string
	issueOut        string
	issueDryRun     bool
)

func init() {
	flags := issueCmd.Flags()
	flags.StringVar(&issueCA, "ca", "", "CA name (default: the only CA)")
	flags.StringVarP(&issueProfile, "profile", "P", "", "Profile name (required)")
	flags.StringVar(&issueCSR, "csr", "", "CSR file (PEM or DER)")
	flags.StringVar(&issuePubKey, "pubkey", "", "Public key file (PEM PUBLIC KEY)")
	flags.StringVar(&issueSubject, "subject", "", `Subject, "/CN=a/O=b" or "CN=a,O=b" (overrides the CSR subject)`)
	flags.StringSliceVar(&issueDNS, "dns", nil, "DNS subject alternative names")
	flags.StringSliceVar(&issueIPs, "ip", nil, "IP subject alternative names")
	flags.StringSliceVar(&issueEmails, "email", nil, "Email subject alternative names")
	flags.StringSliceVar(&issueURIs, "uri", nil, "URI subject alternative names")
	flags.StringVar(&issueBasicConst, "basic-constraints", "", "Requested basic constraints (always set by the profile)")
	flags.StringSliceVar(&issueKeyUsage, "key-usage", nil, "Requested key usages")
	flags.StringSliceVar(&issueExtKeyUse, "eku", nil, "Requested extended key usages")
	flags.StringArrayVar(&issuePolicies, "policy", nil,
		`Requested certificate policy, e.g. "policyIdentifier=1.2.3,CPS.1=http://example.com/cps" (repeatable)`)
	flags.StringVar(&issueValidity, "validity", "", `Requested validity, e.g. "90d" (default: profile)`)
	flags.StringVarP(&issueOut, "out", "o", "", "Output certificate file (default: stdout)")
	flags.BoolVar(&issueDryRun, "dry-run", false, "Resolve the request without signing")

	_ = issueCmd.MarkFlagRequired("profile")
	issueCmd.MarkFlagsMutuallyExclusive("csr", "pubkey")
	issueCmd.MarkFlagsOneRequired("csr", "pubkey")
}

func runIssue(cmd *cobra.Command, args []string) error {
	req, err := buildIssueRequest()
	if err != nil {
		return err
	}

	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	c, err := env.ca(issueCA)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	if issueDryRun {
		spec, err := env.service.Resolve(ctx, c.Name(), issueProfile, req)
		if err != nil {
			return err
		}
		return writeResolved(cmd, spec)
	}

	res, err := env.service.Issue(ctx, c.Name(), issueProfile, req)
	if err != nil {
		return err
	}
	for _, f := range res.Spec.Ignored {
		fmt.Fprintf(cmd.ErrOrStderr(), "Ignored %s: %s\n", f.Field, f.Reason)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: res.Certificate.Raw})
	if issueOut == "" {
		_, err = cmd.OutOrStdout().Write(certPEM)
		return err
	}
	if err := os.WriteFile(issueOut, certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Certificate issued\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  Serial:   0x%X\n", res.Certificate.SerialNumber)
	fmt.Fprintf(cmd.OutOrStdout(), "  Subject:  %s\n", res.Spec.Subject)
	fmt.Fprintf(cmd.OutOrStdout(), "  Expires:  %s\n", res.Certificate.NotAfter.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(cmd.OutOrStdout(), "  Written:  %s\n", issueOut)
	return nil
}

func buildIssueRequest() (ca.Request, error) {
	var req ca.Request
	switch {
	case issueCSR != "":
		csr, err := loadCSR(issueCSR)
		if err != nil {
			return req, err
		}
		if req, err = ca.RequestFromCSR(csr); err != nil {
			return req, err
		}
	case issuePubKey != "":
		pub, err := loadPublicKey(issuePubKey)
		if err != nil {
			return req, err
		}
		req.PublicKey = pub
	}

	if issueSubject != "" {
		s, err := subject.Parse(issueSubject)
		if err != nil {
			return req, fmt.Errorf("invalid --subject: %w", err)
		}
		req.Subject = s
	}
	if len(issueDNS) > 0 {
		req.SANs.DNSNames = issueDNS
	}
	if len(issueEmails) > 0 {
		req.SANs.EmailAddresses = issueEmails
	}
	if len(issueURIs) > 0 {
		req.SANs.URIs = issueURIs
	}
	if len(issueIPs) > 0 {
		req.SANs.IPAddresses = nil
		for _, s := range issueIPs {
			ip := net.ParseIP(s)
			if ip == nil {
				return req, fmt.Errorf("invalid --ip %q", s)
			}
			req.SANs.IPAddresses = append(req.SANs.IPAddresses, ip)
		}
	}

	req.BasicConstraints = issueBasicConst
	req.KeyUsage = issueKeyUsage
	req.ExtendedKeyUsage = issueExtKeyUse
	for _, p := range issuePolicies {
		d, err := profile.ParsePolicyDescriptor(strings.Split(p, ","))
		if err != nil {
			return req, fmt.Errorf("invalid --policy %q: %w", p, err)
		}
		req.CertificatePolicies = append(req.CertificatePolicies, d)
	}

	if issueValidity != "" {
		d, err := profile.ParseDuration(issueValidity)
		if err != nil {
			return req, fmt.Errorf("invalid --validity: %w", err)
		}
		req.Validity = d
	}
	return req, nil
}

// loadCSR reads a certificate request in PEM or DER form.
func loadCSR(path string) (*x509.CertificateRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSR: %w", err)
	}
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST" {
			return nil, fmt.Errorf("%s: unexpected PEM block %q", path, block.Type)
		}
		data = block.Bytes
	}
	csr, err := x509.ParseCertificateRequest(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSR: %w", err)
	}
	return csr, nil
}

func loadPublicKey(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%s: expected a PEM PUBLIC KEY block", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

// resolvedView is the printable form of a resolved request.
type resolvedView struct {
	CA                    string                     `yaml:"ca"`
	Profile               string                     `yaml:"profile"`
	Subject               string                     `yaml:"subject"`
	BasicConstraints      string                     `yaml:"basic_constraints,omitempty"`
	KeyUsage              []string                   `yaml:"key_usage"`
	ExtendedKeyUsage      []string                   `yaml:"extended_key_usage"`
	CertificatePolicies   []profile.PolicyDescriptor `yaml:"certificate_policies"`
	CRLDistributionPoints []string                   `yaml:"crl_distribution_points,omitempty"`
	OCSPServers           []string                   `yaml:"ocsp_servers,omitempty"`
	Validity              string                     `yaml:"validity"`
	Ignored               []ca.IgnoredField          `yaml:"ignored,omitempty"`
}

func writeResolved(cmd *cobra.Command, spec *ca.ResolvedCertSpec) error {
	data, err := yaml.Marshal(resolvedView{
		CA:                    spec.CAName,
		Profile:               spec.ProfileName,
		Subject:               spec.Subject.String(),
		BasicConstraints:      spec.BasicConstraintsRaw,
		KeyUsage:              spec.KeyUsage,
		ExtendedKeyUsage:      spec.ExtendedKeyUsage,
		CertificatePolicies:   spec.CertificatePolicies,
		CRLDistributionPoints: spec.CRLDistributionPoints,
		OCSPServers:           spec.OCSPServers,
		Validity:              spec.Validity.String(),
		Ignored:               spec.Ignored,
	})
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
