package store

import "errors"

var (
	// ErrConflict means the write collides with existing rows: an overlapping
	// appointment or block, or an external id owned by another provider.
	ErrConflict = errors.New("store: conflicting row")
	// ErrNotFound is returned for unknown ids and for rows outside the
	// caller's provider.
	ErrNotFound = errors.New("store: not found")
	// ErrIdempotencyConflict means an idempotency key was reused with a
	// different booking request.
	ErrIdempotencyConflict = errors.New("store: idempotency key reused with different request")
)
