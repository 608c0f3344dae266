// Package server provides HTTP server configuration and lifecycle management.
package server

import (
	"fmt"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Port is the default HTTP port for all services.
	Port int

	// OCSPPort serves the RFC 6960 responder on its own port when non-zero.
	OCSPPort int

	// Host is the address to bind to (default: "").
	Host string

	// TLS configuration (optional)
	TLSCert string
	TLSKey  string

	// MaxConnections caps concurrent connections per listener. Zero means
	// unlimited.
	MaxConnections int

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            8443,
		MaxConnections:  256,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Address returns the full listen address for the default port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OCSPAddress returns the listen address for the OCSP responder.
func (c *Config) OCSPAddress() string {
	port := c.OCSPPort
	if port == 0 {
		port = c.Port
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// UseSeparatePorts returns true if OCSP runs on its own port.
func (c *Config) UseSeparatePorts() bool {
	return c.OCSPPort != 0 && c.OCSPPort != c.Port
}

// Validate checks ports and TLS settings.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 || c.OCSPPort < 0 || c.OCSPPort > 65535 {
		return fmt.Errorf("port out of range")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls cert and key must be set together")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative")
	}
	return nil
}
