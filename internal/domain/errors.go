package domain

import "errors"

// Sentinel errors crossing component boundaries. Estimator and resolver
// failures carry one of these so the façade can map them to result flags.
var (
	// ErrInvalidRequest marks a request rejected before any RPC was spent.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownProtocol means the registry has no descriptor for the id.
	ErrUnknownProtocol = errors.New("unknown protocol")

	// ErrDataUnavailable means required accounts could not be located at all.
	// Distinct from a legitimate zero: zero resolved vaults is this error,
	// never a zero-valued measurement.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrPriceUnavailable means no qualifying pool prices the mint.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrInsufficientSample means a sampled estimate had fewer valid
	// observations than the configured minimum.
	ErrInsufficientSample = errors.New("insufficient sample")

	// ErrDegraded means the circuit breaker is refusing oracle work.
	ErrDegraded = errors.New("oracle degraded")
)
