package cache

import "github.com/cockroachdb/errors"

var (
	// ErrNoAdapter is returned by New when no datastore adapter is supplied.
	ErrNoAdapter = errors.New("cache: no valid datastore adapter provided")

	// ErrEntityNotFound is the not-found signal a fetch handler returns when a
	// single requested key does not exist. Partial reads translate it to an
	// empty slot instead of failing.
	ErrEntityNotFound = errors.New("cache: entity not found")

	// ErrNoTransactionalStore is returned by the index maintaining operations
	// when no transactional store is mounted.
	ErrNoTransactionalStore = errors.New("cache: no transactional store mounted")

	// ErrKeyValueMismatch is returned when a write receives a different number
	// of keys and values.
	ErrKeyValueMismatch = errors.New("cache: keys and values length mismatch")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("cache: invalid configuration")

	// ErrWriteFailed marks errors from priming the stores after a successful
	// fetch. The value returned alongside such an error is valid.
	ErrWriteFailed = errors.New("cache: write failed")
)

// IsNotFound reports whether err carries the entity not-found signal.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsNoTransactionalStore reports whether err was caused by a missing
// transactional store. Invalidation callers that do not know which stores
// are mounted can use it to ignore the condition.
func IsNoTransactionalStore(err error) bool {
	return errors.Is(err, ErrNoTransactionalStore)
}

// IsWriteFailed reports whether err only reports a failed cache write, the
// read it came with having succeeded.
func IsWriteFailed(err error) bool {
	return errors.Is(err, ErrWriteFailed)
}
