package crl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is the durable backing of a Tracker.
//
// Each write must be durable before it returns, and all-or-nothing: a
// failed write leaves the previous value readable. Reads of data that
// cannot be decoded return an error wrapping ErrPersistenceCorruption.
// A store that was never written reads as number 0 and an empty list.
type Store interface {
	ReadNumber(ctx context.Context) (uint64, error)
	WriteNumber(ctx context.Context, n uint64) error
	ReadRevocations(ctx context.Context) ([]Revocation, error)
	WriteRevocations(ctx context.Context, list []Revocation) error
}

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore keeps the counter and list as in-memory byte buffers, in the
// same text format FileStore writes. It is meant for tests and for CAs that
// do not need restart durability.
type MemoryStore struct {
	mu     sync.Mutex
	number []byte
	list   []byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreFrom returns a MemoryStore seeded with raw buffer contents.
func NewMemoryStoreFrom(number, list []byte) *MemoryStore {
	return &MemoryStore{
		number: append([]byte(nil), number...),
		list:   append([]byte(nil), list...),
	}
}

// Bytes returns copies of the raw buffers.
func (s *MemoryStore) Bytes() (number, list []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.number...), append([]byte(nil), s.list...)
}

func (s *MemoryStore) ReadNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeNumber(s.number)
}

func (s *MemoryStore) WriteNumber(ctx context.Context, n uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.number = encodeNumber(n)
	return nil
}

func (s *MemoryStore) ReadRevocations(ctx context.Context) ([]Revocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeList(s.list)
}

func (s *MemoryStore) WriteRevocations(ctx context.Context, list []Revocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = encodeList(list)
	return nil
}

// =============================================================================
// FileStore
// =============================================================================

// FileStore keeps the counter and the list in two text files.
//
// Files are replaced by writing a temporary sibling, syncing it and renaming
// it over the target, so a crash leaves either the old or the new content.
type FileStore struct {
	numberPath string
	listPath   string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a FileStore over the given paths. The files need not
// exist yet; their parent directories must.
func NewFileStore(numberPath, listPath string) *FileStore {
	return &FileStore{numberPath: numberPath, listPath: listPath}
}

// NumberPath returns the counter file path.
func (s *FileStore) NumberPath() string { return s.numberPath }

// ListPath returns the revocation list file path.
func (s *FileStore) ListPath() string { return s.listPath }

func (s *FileStore) ReadNumber(ctx context.Context) (uint64, error) {
	data, err := readOptional(ctx, s.numberPath)
	if err != nil {
		return 0, err
	}
	return decodeNumber(data)
}

func (s *FileStore) WriteNumber(ctx context.Context, n uint64) error {
	return writeFileAtomic(ctx, s.numberPath, encodeNumber(n))
}

func (s *FileStore) ReadRevocations(ctx context.Context) ([]Revocation, error) {
	data, err := readOptional(ctx, s.listPath)
	if err != nil {
		return nil, err
	}
	return decodeList(data)
}

func (s *FileStore) WriteRevocations(ctx context.Context, list []Revocation) error {
	return writeFileAtomic(ctx, s.listPath, encodeList(list))
}

func readOptional(ctx context.Context, path string) ([]byte, error) {
	// Check for cancellation before I/O
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func writeFileAtomic(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}

	// Last point where the old content is still authoritative.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	committed = true

	// Persist the rename itself.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
