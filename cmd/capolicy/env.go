package main

import (
	"fmt"
	"log/slog"

	"github.com/remiblancher/capolicy/internal/audit"
	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/config"
	"github.com/remiblancher/capolicy/internal/service"
	"github.com/remiblancher/capolicy/internal/x509backend"
)

// environment is a loaded configuration with its CAs, audit log and
// service. Close releases the CRL stores and the audit file.
type environment struct {
	file    *config.File
	loaded  *config.Loaded
	audit   *audit.Logger
	service *service.Service
}

func loadConfig() (*config.File, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required (or set CAPOLICY_CONFIG)")
	}
	return config.Load(configPath)
}

func openEnvironment() (*environment, error) {
	f, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	loaded, err := f.Build(logger)
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.OpenFile(f.AuditPath())
	if err != nil {
		_ = loaded.Close()
		return nil, fmt.Errorf("failed to initialize audit log: %w", err)
	}
	svc, err := service.New(loaded.CAs, service.Options{
		Backend: x509backend.New(x509backend.Options{Logger: logger}),
		Audit:   auditLog,
		Logger:  logger,
	})
	if err != nil {
		_ = auditLog.Close()
		_ = loaded.Close()
		return nil, err
	}
	return &environment{file: f, loaded: loaded, audit: auditLog, service: svc}, nil
}

func (e *environment) ca(name string) (*ca.Config, error) {
	if name == "" {
		names := e.service.CANames()
		if len(names) == 1 {
			return e.service.CA(names[0])
		}
		return nil, fmt.Errorf("--ca is required when more than one CA is configured")
	}
	return e.service.CA(name)
}

func (e *environment) Close() error {
	auditErr := e.audit.Close()
	if err := e.loaded.Close(); err != nil {
		return err
	}
	return auditErr
}
