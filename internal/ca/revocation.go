package ca

import (
	"context"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	"github.com/remiblancher/capolicy/internal/crl"
)

// NextCRLNumber advances and returns the CRL number.
func (c *Config) NextCRLNumber(ctx context.Context) (uint64, error) {
	n, err := c.tracker.NextNumber(ctx)
	if err != nil {
		return 0, newError("next_crl_number", "", err)
	}
	return n, nil
}

// RevokeCertificate records a revocation. See crl.Tracker.Revoke.
func (c *Config) RevokeCertificate(ctx context.Context, serial *big.Int, reason crl.Reason, at time.Time, override bool) error {
	if err := c.tracker.Revoke(ctx, serial, reason, at, override); err != nil {
		return newError("revoke", serialName(serial), err)
	}
	c.logger.Info("certificate revoked", "serial", serialName(serial), "reason", reason.String(), "override", override)
	return nil
}

// UnrevokeCertificate removes a revocation.
func (c *Config) UnrevokeCertificate(ctx context.Context, serial *big.Int) error {
	if err := c.tracker.Unrevoke(ctx, serial); err != nil {
		return newError("unrevoke", serialName(serial), err)
	}
	c.logger.Info("certificate unrevoked", "serial", serialName(serial))
	return nil
}

// RevocationStatus returns the revocation record for serial, if any.
func (c *Config) RevocationStatus(ctx context.Context, serial *big.Int) (crl.Revocation, bool, error) {
	rec, found, err := c.tracker.Lookup(ctx, serial)
	if err != nil {
		return crl.Revocation{}, false, newError("status", serialName(serial), err)
	}
	return rec, found, nil
}

// CRLSnapshot returns the current CRL state without advancing the number.
func (c *Config) CRLSnapshot(ctx context.Context) (crl.Snapshot, error) {
	snap, err := c.tracker.Snapshot(ctx)
	if err != nil {
		return crl.Snapshot{}, newError("crl_snapshot", "", err)
	}
	return snap, nil
}

func serialName(serial *big.Int) string {
	if serial == nil {
		return ""
	}
	return fmt.Sprintf("0x%X", serial)
}

// =============================================================================
// Backend inputs
// =============================================================================

// CRLSpec is everything the backend needs to encode and sign a CRL.
type CRLSpec struct {
	CAName      string
	Issuer      Identity
	Number      uint64
	Revocations []crl.Revocation
	ThisUpdate  time.Time
	NextUpdate  time.Time
}

// PrepareCRL takes a fresh CRL number and the revocation list in one
// tracker operation. The number is consumed even if the caller never
// encodes the CRL.
func (c *Config) PrepareCRL(ctx context.Context, now time.Time) (*CRLSpec, error) {
	snap, err := c.tracker.NextSnapshot(ctx)
	if err != nil {
		return nil, newError("prepare_crl", "", err)
	}
	return &CRLSpec{
		CAName:      c.name,
		Issuer:      c.identity,
		Number:      snap.Number,
		Revocations: snap.Revocations,
		ThisUpdate:  now,
		NextUpdate:  now.Add(c.crlValidity),
	}, nil
}

// OCSPStatus is the certificate status reported in an OCSP response.
type OCSPStatus int

const (
	OCSPGood OCSPStatus = iota
	OCSPRevoked
)

func (s OCSPStatus) String() string {
	if s == OCSPRevoked {
		return "revoked"
	}
	return "good"
}

// OCSPResponseSpec is everything the backend needs to sign an OCSP response.
type OCSPResponseSpec struct {
	CAName     string
	Issuer     *x509.Certificate
	Responder  Identity
	Delegated  bool
	Serial     *big.Int
	Status     OCSPStatus
	Revocation crl.Revocation
	ThisUpdate time.Time
	NextUpdate time.Time
}

// PrepareOCSP looks up serial and computes the response window:
// thisUpdate is backdated by the start skew and nextUpdate is now plus the
// OCSP validity.
func (c *Config) PrepareOCSP(ctx context.Context, serial *big.Int, now time.Time) (*OCSPResponseSpec, error) {
	if serial == nil {
		return nil, newError("ocsp", "", fmt.Errorf("%w: missing serial", ErrInvalidRequest))
	}
	rec, revoked, err := c.RevocationStatus(ctx, serial)
	if err != nil {
		return nil, err
	}
	responder, delegated := c.OCSPIdentity()
	spec := &OCSPResponseSpec{
		CAName:     c.name,
		Issuer:     c.identity.Certificate,
		Responder:  responder,
		Delegated:  delegated,
		Serial:     new(big.Int).Set(serial),
		Status:     OCSPGood,
		ThisUpdate: now.Add(-c.ocspSkew),
		NextUpdate: now.Add(c.ocspValidity),
	}
	if revoked {
		spec.Status = OCSPRevoked
		spec.Revocation = rec
	}
	return spec, nil
}

// Backend is the crypto/encoding collaborator that turns resolved specs into
// bytes.
type Backend interface {
	SignCertificate(ctx context.Context, spec *ResolvedCertSpec) (*x509.Certificate, error)
	EncodeCRL(ctx context.Context, spec *CRLSpec) ([]byte, error)
	SignOCSPResponse(ctx context.Context, spec *OCSPResponseSpec) ([]byte, error)
}
