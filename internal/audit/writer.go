package audit

import (
	"bytes"
	"sync"
)

// Writer persists audit events.
//
// Implementations must:
//   - Return an error if the write fails (audit fails = operation fails)
//   - Flush before returning from Write
//   - Set the hash chain (HashPrev, Hash)
type Writer interface {
	Write(event *Event) error
	Close() error

	// LastHash returns GenesisHash if nothing has been written.
	LastHash() string
}

// NopWriter discards all events. Used when audit logging is disabled.
type NopWriter struct{}

var _ Writer = NopWriter{}

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error       { return nil }
func (NopWriter) LastHash() string   { return GenesisHash }

// MultiWriter writes to multiple audit writers.
// If any writer fails, the write fails.
type MultiWriter struct {
	writers []Writer
}

var _ Writer = (*MultiWriter)(nil)

// NewMultiWriter creates a writer that writes to all provided writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(event *Event) error {
	for _, w := range m.writers {
		if err := w.Write(event); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) Close() error {
	var lastErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *MultiWriter) LastHash() string {
	if len(m.writers) > 0 {
		return m.writers[0].LastHash()
	}
	return GenesisHash
}

// MemoryWriter keeps a hash-chained log in memory. The serve command uses
// it when no audit file is configured.
type MemoryWriter struct {
	mu       sync.Mutex
	events   []Event
	buf      bytes.Buffer
	lastHash string
}

var _ Writer = (*MemoryWriter)(nil)

// NewMemoryWriter returns an empty in-memory log.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{lastHash: GenesisHash}
}

func (m *MemoryWriter) Write(event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	line, hash, err := chain(event, m.lastHash)
	if err != nil {
		return err
	}
	m.buf.Write(line)
	m.events = append(m.events, *event)
	m.lastHash = hash
	return nil
}

func (m *MemoryWriter) Close() error { return nil }

func (m *MemoryWriter) LastHash() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHash
}

// Events returns a copy of the written events in order.
func (m *MemoryWriter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Bytes returns the JSONL encoding of the log.
func (m *MemoryWriter) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.buf.Bytes())
}
