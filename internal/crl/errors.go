package crl

import "errors"

// Sentinel errors for tracker operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrAlreadyRevoked indicates the serial is already on the list and the
	// caller did not ask to override the record.
	ErrAlreadyRevoked = errors.New("certificate already revoked")

	// ErrNotRevoked indicates an unrevoke of a serial that is not on the list.
	ErrNotRevoked = errors.New("certificate not revoked")

	// ErrPersistenceTimeout indicates the durable store did not answer within
	// the allowed time. The operation may still complete later.
	ErrPersistenceTimeout = errors.New("persistence timeout")

	// ErrPersistenceCorruption indicates the durable counter or list is
	// unreadable or inconsistent. It is fatal for the tracker.
	ErrPersistenceCorruption = errors.New("persistence corruption")
)
