// Package crl tracks CRL numbering and the revocation list of one CA.
//
// A Tracker owns a durable Store. CRL numbers never decrease and never
// repeat for the lifetime of the store. Tracker operations are mutually
// exclusive; every successful call has reached the store before it returns.
package crl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultTimeout bounds each tracker operation when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Options configures a Tracker.
type Options struct {
	// Timeout bounds lock acquisition plus store I/O. Zero means
	// DefaultTimeout. A caller context with an earlier deadline wins.
	Timeout time.Duration

	// Logger receives warnings about timeouts and corruption.
	Logger *slog.Logger

	// Now returns the current time; used when Revoke gets a zero time.
	Now func() time.Time
}

// Tracker is a durable, monotonically increasing CRL counter plus the
// current revocation list.
//
// Once the store reports corruption the tracker is halted: every later
// call returns the latched error until the process restarts with a
// repaired store.
type Tracker struct {
	store   Store
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	halted error
}

// NewTracker returns a Tracker over store.
func NewTracker(store Store, opts Options) *Tracker {
	t := &Tracker{
		store:   store,
		sem:     semaphore.NewWeighted(1),
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// Store returns the backing store.
func (t *Tracker) Store() Store { return t.store }

// Err returns the latched corruption error, or nil if the tracker is
// healthy.
func (t *Tracker) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.halted
}

// Halted reports whether the tracker refuses further operations.
func (t *Tracker) Halted() bool { return t.Err() != nil }

func (t *Tracker) halt(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.halted == nil {
		t.halted = err
		t.logger.Error("crl tracker halted", "op", op, "error", err)
	}
}

// run executes fn under the tracker lock, bounded by the timeout.
//
// If the deadline passes while fn is still running, run returns
// ErrPersistenceTimeout at once; fn keeps the lock until it finishes, so a
// late write is never interleaved with another operation.
func (t *Tracker) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := t.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.sem.Acquire(ctx, 1); err != nil {
		t.logger.Warn("crl tracker lock timeout", "op", op, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrPersistenceTimeout, op, err)
	}

	// Re-check after waiting: the previous holder may have halted us.
	if err := t.Err(); err != nil {
		t.sem.Release(1)
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer t.sem.Release(1)
		err := fn(ctx)
		if errors.Is(err, ErrPersistenceCorruption) {
			t.halt(op, err)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return fmt.Errorf("%w: %s: %w", ErrPersistenceTimeout, op, err)
		}
		return err
	case <-ctx.Done():
		t.logger.Warn("crl store did not answer in time", "op", op, "timeout", t.timeout)
		return fmt.Errorf("%w: %s: %w", ErrPersistenceTimeout, op, ctx.Err())
	}
}

// NextNumber reads the durable counter, increments it, persists the new
// value and returns it. The first number issued by a fresh store is 1.
func (t *Tracker) NextNumber(ctx context.Context) (uint64, error) {
	var next uint64
	err := t.run(ctx, "next_number", func(ctx context.Context) error {
		n, err := t.advance(ctx)
		next = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// NextSnapshot advances the counter and returns the new number together
// with the revocation list as of that number. Both are taken under one
// lock, so a higher number never carries an older list.
func (t *Tracker) NextSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := t.run(ctx, "next_snapshot", func(ctx context.Context) error {
		list, err := t.store.ReadRevocations(ctx)
		if err != nil {
			return err
		}
		n, err := t.advance(ctx)
		if err != nil {
			return err
		}
		snap = Snapshot{Number: n, Revocations: cloneRevocations(list)}
		return nil
	})
	return snap, err
}

// advance must be called under the tracker lock.
func (t *Tracker) advance(ctx context.Context) (uint64, error) {
	cur, err := t.store.ReadNumber(ctx)
	if err != nil {
		return 0, err
	}
	if cur == math.MaxUint64 {
		return 0, fmt.Errorf("%w: crl number exhausted", ErrPersistenceCorruption)
	}
	if err := t.store.WriteNumber(ctx, cur+1); err != nil {
		return 0, fmt.Errorf("failed to persist crl number: %w", err)
	}
	return cur + 1, nil
}

// Revoke adds serial to the revocation list. If the serial is already
// listed, Revoke fails with ErrAlreadyRevoked unless override is set, in
// which case the existing record's reason and time are replaced in place.
// A zero at means now. Times are kept at second precision.
//
// A call that fails with ErrPersistenceTimeout may still complete in the
// background; retry with override set, or check Lookup first.
func (t *Tracker) Revoke(ctx context.Context, serial *big.Int, reason Reason, at time.Time, override bool) error {
	if serial == nil || serial.Sign() < 0 {
		return fmt.Errorf("invalid serial number")
	}
	if !reason.Valid() {
		return fmt.Errorf("invalid revocation reason %s", reason)
	}
	if at.IsZero() {
		at = t.now()
	}
	rec := Revocation{
		Serial:    new(big.Int).Set(serial),
		RevokedAt: at.Truncate(time.Second).UTC(),
		Reason:    reason,
	}

	return t.run(ctx, "revoke", func(ctx context.Context) error {
		list, err := t.store.ReadRevocations(ctx)
		if err != nil {
			return err
		}
		if i := indexOf(list, serial); i >= 0 {
			if !override {
				return fmt.Errorf("serial %s: %w", serial, ErrAlreadyRevoked)
			}
			list[i] = rec
		} else {
			list = append(list, rec)
		}
		if err := t.store.WriteRevocations(ctx, list); err != nil {
			return fmt.Errorf("failed to persist revocation list: %w", err)
		}
		return nil
	})
}

// Unrevoke removes serial from the revocation list, for example to release
// a certificate hold.
func (t *Tracker) Unrevoke(ctx context.Context, serial *big.Int) error {
	if serial == nil {
		return fmt.Errorf("invalid serial number")
	}
	return t.run(ctx, "unrevoke", func(ctx context.Context) error {
		list, err := t.store.ReadRevocations(ctx)
		if err != nil {
			return err
		}
		i := indexOf(list, serial)
		if i < 0 {
			return fmt.Errorf("serial %s: %w", serial, ErrNotRevoked)
		}
		list = append(list[:i], list[i+1:]...)
		if err := t.store.WriteRevocations(ctx, list); err != nil {
			return fmt.Errorf("failed to persist revocation list: %w", err)
		}
		return nil
	})
}

// Lookup returns the revocation record for serial, if any.
func (t *Tracker) Lookup(ctx context.Context, serial *big.Int) (Revocation, bool, error) {
	var (
		rec   Revocation
		found bool
	)
	err := t.run(ctx, "lookup", func(ctx context.Context) error {
		list, err := t.store.ReadRevocations(ctx)
		if err != nil {
			return err
		}
		if i := indexOf(list, serial); i >= 0 {
			rec, found = list[i].clone(), true
		}
		return nil
	})
	return rec, found, err
}

// IsRevoked reports whether serial is on the revocation list.
func (t *Tracker) IsRevoked(ctx context.Context, serial *big.Int) (bool, error) {
	_, found, err := t.Lookup(ctx, serial)
	return found, err
}

// Snapshot returns the current number and the revocation list in
// revocation order. It does not advance the counter.
func (t *Tracker) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := t.run(ctx, "snapshot", func(ctx context.Context) error {
		n, err := t.store.ReadNumber(ctx)
		if err != nil {
			return err
		}
		list, err := t.store.ReadRevocations(ctx)
		if err != nil {
			return err
		}
		snap = Snapshot{Number: n, Revocations: cloneRevocations(list)}
		return nil
	})
	return snap, err
}
