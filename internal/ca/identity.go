package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// Identity is a signing identity: a certificate and a reference to its
// private key. The key may live outside the process; only crypto.Signer is
// required.
type Identity struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
}

// Validate checks that both halves are present and belong together.
func (id Identity) Validate() error {
	if id.Certificate == nil {
		return fmt.Errorf("certificate is required")
	}
	if id.Signer == nil {
		return fmt.Errorf("signer is required")
	}
	pub, ok := id.Signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("unsupported signer public key type %T", id.Signer.Public())
	}
	if !pub.Equal(id.Certificate.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}

// LoadIdentity reads a PEM certificate and a PEM private key.
// Legacy encrypted PEM keys are decrypted with passphrase.
func LoadIdentity(certPath, keyPath string, passphrase []byte) (Identity, error) {
	cert, err := LoadCertificate(certPath)
	if err != nil {
		return Identity{}, err
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to read key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return Identity{}, fmt.Errorf("no PEM block in %s", keyPath)
	}
	signer, err := parsePEMBlockToSigner(block, passphrase)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w", keyPath, err)
	}

	id := Identity{Certificate: cert, Signer: signer}
	if err := id.Validate(); err != nil {
		return Identity{}, fmt.Errorf("%s: %w", keyPath, err)
	}
	return id, nil
}

// LoadCertificate reads the first PEM certificate in path. DER input is
// accepted too.
func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%s: unexpected PEM block %q", path, block.Type)
		}
		der = block.Bytes
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse certificate: %w", path, err)
	}
	return cert, nil
}

func parsePEMBlockToSigner(block *pem.Block, passphrase []byte) (crypto.Signer, error) {
	keyBytes := block.Bytes

	// Decrypt if encrypted
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("private key is encrypted but no passphrase provided")
		}
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}

	var priv crypto.PrivateKey
	var err error

	switch block.Type {
	case "PRIVATE KEY":
		priv, err = x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 key: %w", err)
		}
	case "EC PRIVATE KEY":
		priv, err = x509.ParseECPrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC key: %w", err)
		}
	case "RSA PRIVATE KEY":
		priv, err = x509.ParsePKCS1PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA key: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported key PEM type %q", block.Type)
	}

	switch k := priv.(type) {
	case *ecdsa.PrivateKey:
		return k, nil
	case *rsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", priv)
	}
}
