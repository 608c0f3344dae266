// Package service runs CA operations end to end: policy resolution in
// internal/ca, signing in a ca.Backend and an audit record for every
// decision. An audit write failure fails the operation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/remiblancher/capolicy/internal/audit"
	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/profile"
)

// ErrCANotFound indicates no CA is configured under the requested name.
var ErrCANotFound = errors.New("certificate authority not found")

// Options configures a Service.
type Options struct {
	Backend ca.Backend
	Audit   *audit.Logger
	Logger  *slog.Logger
	Now     func() time.Time
}

// Service holds the configured CAs.
type Service struct {
	cas     map[string]*ca.Config
	backend ca.Backend
	audit   *audit.Logger
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a Service over cas. CA names must be unique.
func New(cas []*ca.Config, opts Options) (*Service, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("service needs a signing backend")
	}
	s := &Service{
		cas:     make(map[string]*ca.Config, len(cas)),
		backend: opts.Backend,
		audit:   opts.Audit,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, c := range cas {
		if c == nil {
			return nil, fmt.Errorf("nil CA configuration")
		}
		if _, dup := s.cas[c.Name()]; dup {
			return nil, fmt.Errorf("duplicate CA name %q", c.Name())
		}
		s.cas[c.Name()] = c
	}
	return s, nil
}

// CA returns the configuration of the named CA.
func (s *Service) CA(name string) (*ca.Config, error) {
	c, ok := s.cas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCANotFound, name)
	}
	return c, nil
}

// CANames returns the configured CA names in order.
func (s *Service) CANames() []string {
	names := make([]string, 0, len(s.cas))
	for n := range s.cas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Audit returns the audit logger, which may be nil.
func (s *Service) Audit() *audit.Logger { return s.audit }

// SetProfile registers p on the named CA and audits the change.
func (s *Service) SetProfile(ctx context.Context, caName, profileName string, p *profile.Profile) (bool, error) {
	c, err := s.CA(caName)
	if err != nil {
		return false, err
	}
	replaced, err := c.ReplaceProfile(profileName, p)
	if err != nil {
		return false, err
	}
	if err := s.audit.ProfileSet(ctx, caName, profileName, replaced); err != nil {
		return replaced, err
	}
	return replaced, nil
}
