package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/crl"
)

// Loaded is the set of CAs built from a File plus the resources they hold
// open.
type Loaded struct {
	CAs     []*ca.Config
	closers []io.Closer
}

// Close releases open CRL databases.
func (l *Loaded) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		errs = append(errs, l.closers[i].Close())
	}
	l.closers = nil
	return errors.Join(errs...)
}

// Build loads identities, opens CRL stores and registers profiles for every
// CA in the file, in name order.
func (f *File) Build(logger *slog.Logger) (*Loaded, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout, err := f.Timeout()
	if err != nil {
		return nil, err
	}

	l := &Loaded{}
	dbs := map[string]*bbolt.DB{}
	for _, name := range sortedKeys(f.CertificateAuthorities) {
		c, err := f.buildCA(name, f.CertificateAuthorities[name], timeout, logger, dbs, l)
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("certificate_authorities.%s: %w", name, err)
		}
		l.CAs = append(l.CAs, c)
	}
	return l, nil
}

func (f *File) buildCA(name string, spec *CASpec, timeout time.Duration, logger *slog.Logger, dbs map[string]*bbolt.DB, l *Loaded) (*ca.Config, error) {
	identity, err := f.loadIdentity(spec.CACert)
	if err != nil {
		return nil, fmt.Errorf("ca_cert: %w", err)
	}

	opts := ca.Options{
		Name:                 name,
		Identity:             identity,
		CDPLocation:          spec.CDPLocation,
		OCSPLocation:         spec.OCSPLocation,
		OCSPStartSkewSeconds: intOr(spec.OCSPStartSkewSeconds, ca.DefaultOCSPStartSkewSeconds),
		OCSPValidityHours:    intOr(spec.OCSPValidityHours, ca.DefaultOCSPValidityHours),
		CRLValidityHours:     intOr(spec.CRLValidityHours, ca.DefaultCRLValidityHours),
		Logger:               logger,
	}
	if spec.OCSPCert != nil {
		ocspID, err := f.loadIdentity(*spec.OCSPCert)
		if err != nil {
			return nil, fmt.Errorf("ocsp_cert: %w", err)
		}
		opts.OCSPIdentity = &ocspID
	}

	store, err := f.openStore(name, spec.CRL, dbs, l)
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts.Tracker = crl.NewTracker(store, crl.Options{Timeout: timeout, Logger: logger.With("ca", name)})
	}

	c, err := ca.New(opts)
	if err != nil {
		return nil, err
	}

	for _, pname := range sortedKeys(spec.Profiles) {
		ps := spec.Profiles[pname]
		if ps == nil {
			return nil, fmt.Errorf("profiles.%s: empty profile", pname)
		}
		p, err := ps.Build()
		if err != nil {
			return nil, fmt.Errorf("profiles.%s: %w", pname, err)
		}
		if err := c.SetProfile(pname, p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (f *File) loadIdentity(spec IdentitySpec) (ca.Identity, error) {
	var passphrase []byte
	if spec.PassphraseEnv != "" {
		v, ok := os.LookupEnv(spec.PassphraseEnv)
		if !ok {
			return ca.Identity{}, fmt.Errorf("passphrase variable %s is not set", spec.PassphraseEnv)
		}
		passphrase = []byte(v)
	}
	return ca.LoadIdentity(f.resolve(spec.Cert), f.resolve(spec.Key), passphrase)
}

// openStore returns nil when no store is configured; ca.New then supplies
// an in-memory tracker and warns. Bolt databases are shared between CAs naming the same
// file, each CA in its own bucket.
func (f *File) openStore(name string, spec CRLStoreSpec, dbs map[string]*bbolt.DB, l *Loaded) (crl.Store, error) {
	switch {
	case spec.NumberFile != "":
		return crl.NewFileStore(f.resolve(spec.NumberFile), f.resolve(spec.ListFile)), nil

	case spec.Bolt != "":
		path := f.resolve(spec.Bolt)
		db, ok := dbs[path]
		if !ok {
			var err error
			db, err = bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
			if err != nil {
				return nil, fmt.Errorf("crl: opening bbolt db: %w", err)
			}
			dbs[path] = db
			l.closers = append(l.closers, db)
		}
		bucket := spec.Bucket
		if bucket == "" {
			bucket = name
		}
		return crl.NewBoltStore(db, bucket), nil

	case spec.Memory:
		return crl.NewMemoryStore(), nil

	default:
		return nil, nil
	}
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
