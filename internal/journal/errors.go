package journal

import "errors"

// Journal errors for the append-only stores.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key
	// already exists. The journal is append-only; records never update.
	ErrDuplicateKey = errors.New("duplicate key: journal is append-only")

	// ErrInvalidInput is returned when record validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
