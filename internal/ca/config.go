// Package ca binds a CA signing identity to its named issuance profiles,
// CRL/OCSP parameters and CRL tracker.
//
// A Config is the single object issuance requests are evaluated against.
// Profile lookups and Issue take no locks and may run in parallel with
// profile registration; CRL operations serialise in the tracker.
package ca

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remiblancher/capolicy/internal/crl"
	"github.com/remiblancher/capolicy/internal/profile"
)

const (
	// DefaultOCSPStartSkewSeconds backdates OCSP responses by one hour.
	DefaultOCSPStartSkewSeconds = 3600

	// DefaultOCSPValidityHours is one week.
	DefaultOCSPValidityHours = 168

	// DefaultCRLValidityHours is one week.
	DefaultCRLValidityHours = 168

	// DefaultCertValidity applies when neither request nor profile names one.
	DefaultCertValidity = 365 * 24 * time.Hour
)

// Options is the configuration surface of a Config.
type Options struct {
	// Name identifies the CA in logs, audit records and the API.
	Name string

	// Identity is the CA certificate and its signing key.
	Identity Identity

	// OCSPIdentity is an optional delegated OCSP responder. Nil means the CA
	// signs its own responses.
	OCSPIdentity *Identity

	// CDPLocation is the CRL distribution point URI stamped into issued
	// certificates. An "URI:" prefix is accepted. Empty means none.
	CDPLocation string

	// OCSPLocation is the OCSP responder URI stamped into issued
	// certificates. An "URI:" prefix is accepted. Empty means none.
	OCSPLocation string

	// OCSPStartSkewSeconds backdates OCSP thisUpdate. Must not be negative.
	OCSPStartSkewSeconds int

	// OCSPValidityHours is the OCSP response lifetime. Must be positive.
	OCSPValidityHours int

	// CRLValidityHours is the CRL lifetime. Zero means
	// DefaultCRLValidityHours.
	CRLValidityHours int

	// Tracker holds CRL numbering and revocations. Nil means an in-memory
	// tracker, which does not survive restarts.
	Tracker *crl.Tracker

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Config is a CA policy and issuance configuration.
type Config struct {
	name         string
	identity     Identity
	ocspIdentity *Identity
	cdp          string
	ocsp         string
	ocspSkew     time.Duration
	ocspValidity time.Duration
	crlValidity  time.Duration
	tracker      *crl.Tracker
	logger       *slog.Logger

	// profiles is replaced wholesale on every registration; readers load
	// the current map and never see it change.
	profiles atomic.Pointer[map[string]*profile.Profile]
	writeMu  sync.Mutex
}

// New validates opts and builds a Config with no profiles.
func New(opts Options) (*Config, error) {
	invalid := func(format string, args ...any) error {
		return newError("new", opts.Name, fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...)))
	}

	if err := opts.Identity.Validate(); err != nil {
		return nil, invalid("ca identity: %v", err)
	}
	if opts.OCSPIdentity != nil {
		if err := opts.OCSPIdentity.Validate(); err != nil {
			return nil, invalid("ocsp identity: %v", err)
		}
	}
	if opts.OCSPValidityHours <= 0 {
		return nil, invalid("ocsp validity hours must be positive, got %d", opts.OCSPValidityHours)
	}
	if opts.OCSPStartSkewSeconds < 0 {
		return nil, invalid("ocsp start skew seconds must not be negative, got %d", opts.OCSPStartSkewSeconds)
	}
	if opts.CRLValidityHours < 0 {
		return nil, invalid("crl validity hours must not be negative, got %d", opts.CRLValidityHours)
	}
	cdp, err := NormalizeURI(opts.CDPLocation)
	if err != nil {
		return nil, invalid("cdp location: %v", err)
	}
	ocsp, err := NormalizeURI(opts.OCSPLocation)
	if err != nil {
		return nil, invalid("ocsp location: %v", err)
	}

	c := &Config{
		name:         opts.Name,
		identity:     opts.Identity,
		ocspIdentity: opts.OCSPIdentity,
		cdp:          cdp,
		ocsp:         ocsp,
		ocspSkew:     time.Duration(opts.OCSPStartSkewSeconds) * time.Second,
		ocspValidity: time.Duration(opts.OCSPValidityHours) * time.Hour,
		crlValidity:  time.Duration(opts.CRLValidityHours) * time.Hour,
		tracker:      opts.Tracker,
		logger:       opts.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("ca", c.name)
	if c.crlValidity == 0 {
		c.crlValidity = DefaultCRLValidityHours * time.Hour
	}
	if c.tracker == nil {
		c.logger.Warn("no durable CRL store configured, using in-memory tracker")
		c.tracker = crl.NewTracker(crl.NewMemoryStore(), crl.Options{Logger: c.logger})
	}

	empty := map[string]*profile.Profile{}
	c.profiles.Store(&empty)
	return c, nil
}

// NormalizeURI strips an optional "URI:" prefix and checks the remainder is
// an absolute URI. Empty input yields "".
func NormalizeURI(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 4 && strings.EqualFold(s[:4], "URI:") {
		s = strings.TrimSpace(s[4:])
	}
	if s == "" {
		return "", nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%q is not an absolute URI", s)
	}
	return s, nil
}

// Name returns the CA name.
func (c *Config) Name() string { return c.name }

// Identity returns the CA signing identity.
func (c *Config) Identity() Identity { return c.identity }

// OCSPIdentity returns the identity that signs OCSP responses and whether
// it is a delegated responder.
func (c *Config) OCSPIdentity() (Identity, bool) {
	if c.ocspIdentity != nil {
		return *c.ocspIdentity, true
	}
	return c.identity, false
}

// CDPLocation returns the CRL distribution point URI, or "".
func (c *Config) CDPLocation() string { return c.cdp }

// OCSPLocation returns the OCSP responder URI, or "".
func (c *Config) OCSPLocation() string { return c.ocsp }

// OCSPStartSkew returns how far OCSP thisUpdate is backdated.
func (c *Config) OCSPStartSkew() time.Duration { return c.ocspSkew }

// OCSPValidity returns the OCSP response lifetime.
func (c *Config) OCSPValidity() time.Duration { return c.ocspValidity }

// CRLValidity returns the CRL lifetime.
func (c *Config) CRLValidity() time.Duration { return c.crlValidity }

// Tracker returns the CRL tracker.
func (c *Config) Tracker() *crl.Tracker { return c.tracker }

// =============================================================================
// Profile registry
// =============================================================================

// SetProfile registers p under name, replacing any profile already
// registered there. It fails only on an empty name or a nil profile.
func (c *Config) SetProfile(name string, p *profile.Profile) error {
	_, err := c.ReplaceProfile(name, p)
	return err
}

// ReplaceProfile is SetProfile that also reports whether a profile was
// replaced. Replacements are logged.
func (c *Config) ReplaceProfile(name string, p *profile.Profile) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, newError("set_profile", name, fmt.Errorf("%w: empty profile name", ErrInvalidConfiguration))
	}
	if p == nil {
		return false, newError("set_profile", name, fmt.Errorf("%w: nil profile", ErrInvalidConfiguration))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cur := *c.profiles.Load()
	_, replaced := cur[name]
	next := make(map[string]*profile.Profile, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[name] = p
	c.profiles.Store(&next)

	if replaced {
		c.logger.Warn("profile replaced", "profile", name)
	} else {
		c.logger.Debug("profile registered", "profile", name)
	}
	return replaced, nil
}

// Profile returns the profile registered under name.
func (c *Config) Profile(name string) (*profile.Profile, error) {
	p, ok := (*c.profiles.Load())[name]
	if !ok {
		return nil, newError("get_profile", name, ErrProfileNotFound)
	}
	return p, nil
}

// ProfileNames returns the registered profile names in order.
func (c *Config) ProfileNames() []string {
	return profile.SortedNames(*c.profiles.Load())
}
