package ca

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/remiblancher/capolicy/internal/profile"
)

// =============================================================================
// Construction
// =============================================================================

func TestU_New_Valid(t *testing.T) {
	c := newTestConfig(t)

	assert.Equal(t, "test_ca", c.Name())
	assert.Equal(t, "http://crl.domain.com/test_ca.crl", c.CDPLocation())
	assert.Equal(t, "http://ocsp.domain.com", c.OCSPLocation())
	assert.Equal(t, "1h0m0s", c.OCSPStartSkew().String())
	assert.Equal(t, "48h0m0s", c.OCSPValidity().String())
	assert.Equal(t, "168h0m0s", c.CRLValidity().String())
	assert.NotNil(t, c.Tracker())
	assert.Empty(t, c.ProfileNames())

	responder, delegated := c.OCSPIdentity()
	assert.False(t, delegated)
	assert.Equal(t, c.Identity().Certificate, responder.Certificate)
}

func TestU_New_OCSPValidityZeroRejected(t *testing.T) {
	opts := testOptions(t)
	opts.OCSPValidityHours = 0

	_, err := New(opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	var caErr *CAError
	require.True(t, errors.As(err, &caErr))
	assert.Equal(t, "new", caErr.Op)
}

func TestU_New_InvalidOptions(t *testing.T) {
	other := newTestIdentity(t, "Other")
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"negative skew", func(o *Options) { o.OCSPStartSkewSeconds = -1 }},
		{"negative ocsp validity", func(o *Options) { o.OCSPValidityHours = -5 }},
		{"negative crl validity", func(o *Options) { o.CRLValidityHours = -1 }},
		{"relative cdp", func(o *Options) { o.CDPLocation = "URI:crl.domain.com/x.crl" }},
		{"bad ocsp uri", func(o *Options) { o.OCSPLocation = "http://[::1" }},
		{"missing certificate", func(o *Options) { o.Identity.Certificate = nil }},
		{"missing signer", func(o *Options) { o.Identity.Signer = nil }},
		{"key mismatch", func(o *Options) { o.Identity.Signer = other.Signer }},
		{"bad ocsp identity", func(o *Options) {
			o.OCSPIdentity = &Identity{Certificate: other.Certificate, Signer: o.Identity.Signer}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t)
			tt.modify(&opts)
			_, err := New(opts)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestU_New_DelegatedOCSP(t *testing.T) {
	opts := testOptions(t)
	responder := newTestIdentity(t, "Test CA OCSP")
	opts.OCSPIdentity = &responder

	c, err := New(opts)
	require.NoError(t, err)
	got, delegated := c.OCSPIdentity()
	assert.True(t, delegated)
	assert.Equal(t, responder.Certificate, got.Certificate)
}

func TestU_NormalizeURI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"URI:http://crl.domain.com/test_ca.crl", "http://crl.domain.com/test_ca.crl"},
		{"uri: http://ocsp.domain.com", "http://ocsp.domain.com"},
		{"ldap://ldap.example.com/cn=CA", "ldap://ldap.example.com/cn=CA"},
	}
	for _, tt := range tests {
		got, err := NormalizeURI(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

// =============================================================================
// Profile registry
// =============================================================================

func TestU_SetProfile_GetProfileIdempotent(t *testing.T) {
	c := newTestConfig(t)
	p := serverProfile(t)
	require.NoError(t, c.SetProfile("server", p))

	first, err := c.Profile("server")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.Profile("server")
		require.NoError(t, err)
		assert.Same(t, first, again)
	}
}

func TestU_SetProfile_SubrootBasicConstraintsExact(t *testing.T) {
	c := newTestConfig(t)
	p, err := profile.New(profile.Options{BasicConstraints: "CA:TRUE,pathlen:0"})
	require.NoError(t, err)
	require.NoError(t, c.SetProfile("subroot", p))

	got, err := c.Profile("subroot")
	require.NoError(t, err)
	assert.Equal(t, "CA:TRUE,pathlen:0", got.BasicConstraints())
}

func TestU_SetProfile_Errors(t *testing.T) {
	c := newTestConfig(t)

	err := c.SetProfile("", serverProfile(t))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	err = c.SetProfile("  ", serverProfile(t))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	err = c.SetProfile("server", nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestU_ReplaceProfile_LastWriteWins(t *testing.T) {
	c := newTestConfig(t)
	a := serverProfile(t)
	b, err := profile.New(profile.Options{BasicConstraints: "CA:FALSE"})
	require.NoError(t, err)

	replaced, err := c.ReplaceProfile("server", a)
	require.NoError(t, err)
	assert.False(t, replaced)

	replaced, err = c.ReplaceProfile("server", b)
	require.NoError(t, err)
	assert.True(t, replaced)

	got, err := c.Profile("server")
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Equal(t, []string{"server"}, c.ProfileNames())
}

func TestU_Profile_NotFound(t *testing.T) {
	c := newTestConfig(t)

	_, err := c.Profile("missing")
	require.ErrorIs(t, err, ErrProfileNotFound)
	assert.True(t, IsPolicyError(err))
	assert.False(t, IsPersistenceError(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestU_Registry_ConcurrentReadersAndWriters(t *testing.T) {
	c := newTestConfig(t)
	p := serverProfile(t)
	require.NoError(t, c.SetProfile("server", p))
	req := Request{Subject: mustSubject(t, "CN", "example.com")}

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 100; j++ {
				if err := c.SetProfile("server", p); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			for j := 0; j < 100; j++ {
				if _, err := c.Issue("server", req); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
