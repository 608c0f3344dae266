package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/capolicy/internal/api/server"
)

// Serve command flags
var (
	servePort     int
	serveOCSPPort int
	serveHost     string
	serveTLSCert  string
	serveTLSKey   string
	serveMaxConns int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API and OCSP responder",
	Long: `Start the REST API and the RFC 6960 OCSP responder.

Routes:
  /api/v1/cas/...   REST API (profiles, issuance, revocation, CRL, OCSP)
  /ocsp             RFC 6960 responder (POST, or GET /ocsp/<base64>)
  /health, /ready   Health checks

With --ocsp-port the responder moves to its own listener.

Environment variables:
  CAPOLICY_PORT       Port for all services
  CAPOLICY_OCSP_PORT  Port for the OCSP responder
  CAPOLICY_TLS_CERT   TLS certificate file
  CAPOLICY_TLS_KEY    TLS private key file

Examples:
  # Serve everything on one port
  capolicy serve --config capolicy.yaml --port 8443

  # Serve OCSP on its own port
  capolicy serve --config capolicy.yaml --port 8443 --ocsp-port 8080

  # With TLS
  capolicy serve --config capolicy.yaml --tls-cert server.crt --tls-key server.key`,
	RunE: runServe,
}

func init() {
	defaults := server.DefaultConfig()
	serveCmd.Flags().IntVar(&servePort, "port", 0, fmt.Sprintf("Port for all services (default: %d)", defaults.Port))
	serveCmd.Flags().IntVar(&serveOCSPPort, "ocsp-port", 0, "Port for the OCSP responder")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: all interfaces)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS private key file")
	serveCmd.Flags().IntVar(&serveMaxConns, "max-connections", defaults.MaxConnections, "Concurrent connections per listener (0: unlimited)")
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeEnvVars()

	cfg := server.DefaultConfig()
	if servePort != 0 {
		cfg.Port = servePort
	}
	cfg.OCSPPort = serveOCSPPort
	cfg.Host = serveHost
	cfg.TLSCert = serveTLSCert
	cfg.TLSKey = serveTLSKey
	cfg.MaxConnections = serveMaxConns
	if err := cfg.Validate(); err != nil {
		return err
	}

	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	srv := server.New(cfg, env.service, version, nil)
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx)
}

func applyServeEnvVars() {
	if servePort == 0 {
		if v := os.Getenv("CAPOLICY_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				servePort = p
			}
		}
	}
	if serveOCSPPort == 0 {
		if v := os.Getenv("CAPOLICY_OCSP_PORT"); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				serveOCSPPort = p
			}
		}
	}
	if serveTLSCert == "" {
		serveTLSCert = os.Getenv("CAPOLICY_TLS_CERT")
	}
	if serveTLSKey == "" {
		serveTLSKey = os.Getenv("CAPOLICY_TLS_KEY")
	}
}
