package crl

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	boltBucket    = []byte("crl")
	boltNumberKey = []byte("number")
	boltListKey   = []byte("revocations")
)

// BoltStore keeps the counter and the list in a BBolt database, one
// committed transaction per write.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore returns a store over an open database. Several CAs may share
// one database by using different bucket names; an empty name uses "crl".
func NewBoltStore(db *bbolt.DB, bucket string) *BoltStore {
	b := boltBucket
	if bucket != "" {
		b = []byte(bucket)
	}
	return &BoltStore{db: db, bucket: b}
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path, bucket string, options *bbolt.Options) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewBoltStore(db, bucket), nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) put(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

func (s *BoltStore) ReadNumber(ctx context.Context) (uint64, error) {
	v, err := s.get(ctx, boltNumberKey)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("%w: crl number has %d bytes", ErrPersistenceCorruption, len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func (s *BoltStore) WriteNumber(ctx context.Context, n uint64) error {
	return s.put(ctx, boltNumberKey, binary.BigEndian.AppendUint64(nil, n))
}

func (s *BoltStore) ReadRevocations(ctx context.Context) ([]Revocation, error) {
	v, err := s.get(ctx, boltListKey)
	if err != nil {
		return nil, err
	}
	return decodeList(v)
}

func (s *BoltStore) WriteRevocations(ctx context.Context, list []Revocation) error {
	return s.put(ctx, boltListKey, encodeList(list))
}
