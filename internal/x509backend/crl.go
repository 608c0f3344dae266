package x509backend

import (
	"context"
	"crypto/x509"
	"fmt"
	"math/big"

	"github.com/remiblancher/capolicy/internal/ca"
)

// EncodeCRL signs a CRL over the spec's revocation list, in list order.
func (b *Backend) EncodeCRL(ctx context.Context, spec *ca.CRLSpec) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, fmt.Errorf("nil CRL spec")
	}
	if err := spec.Issuer.Validate(); err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}

	entries := make([]x509.RevocationListEntry, 0, len(spec.Revocations))
	for _, r := range spec.Revocations {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   new(big.Int).Set(r.Serial),
			RevocationTime: r.RevokedAt,
			ReasonCode:     int(r.Reason),
		})
	}

	template := &x509.RevocationList{
		RevokedCertificateEntries: entries,
		Number:                    new(big.Int).SetUint64(spec.Number),
		ThisUpdate:                spec.ThisUpdate,
		NextUpdate:                spec.NextUpdate,
	}

	crlDER, err := x509.CreateRevocationList(b.rand, template, spec.Issuer.Certificate, spec.Issuer.Signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create CRL: %w", err)
	}

	b.logger.Debug("crl encoded", "ca", spec.CAName, "number", spec.Number, "revoked", len(entries))
	return crlDER, nil
}
