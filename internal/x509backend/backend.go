// Package x509backend signs resolved certificate specs, CRLs and OCSP
// responses with crypto/x509 and golang.org/x/crypto/ocsp.
package x509backend

import (
	"crypto/rand"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/remiblancher/capolicy/internal/ca"
)

// Options configures a Backend.
type Options struct {
	// Rand is the entropy source for serials and signatures.
	Rand io.Reader

	// Now returns the current time.
	Now func() time.Time

	// Backdate shifts certificate notBefore into the past to tolerate clock
	// skew on relying parties.
	Backdate time.Duration

	Logger *slog.Logger
}

// Backend implements ca.Backend.
type Backend struct {
	rand     io.Reader
	now      func() time.Time
	backdate time.Duration
	logger   *slog.Logger
}

var _ ca.Backend = (*Backend)(nil)

// New returns a Backend.
func New(opts Options) *Backend {
	b := &Backend{
		rand:     opts.Rand,
		now:      opts.Now,
		backdate: opts.Backdate,
		logger:   opts.Logger,
	}
	if b.rand == nil {
		b.rand = rand.Reader
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// serialLimit bounds serial numbers to 20 octets (RFC 5280 4.1.2.2).
var serialLimit = new(big.Int).Lsh(big.NewInt(1), 159)

func (b *Backend) newSerial() (*big.Int, error) {
	for {
		n, err := rand.Int(b.rand, serialLimit)
		if err != nil {
			return nil, err
		}
		if n.Sign() > 0 {
			return n, nil
		}
	}
}
