package engine

import "errors"

// Sentinel errors for transaction rejection. A rejected transaction has
// no state effect; callers match with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverflow            = errors.New("arithmetic overflow")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	// ErrStateInconsistency is only produced during recovery, where it
	// is self-healed rather than propagated.
	ErrStateInconsistency = errors.New("state inconsistency")
)
