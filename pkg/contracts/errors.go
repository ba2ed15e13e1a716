package contracts

import "errors"

// Error taxonomy. Every failed operation is all-or-nothing: the sentinel
// classifies why the whole call was rejected with no state change.
var (
	// ErrNotOperational rejects state-changing calls while the operational
	// gate is down.
	ErrNotOperational = errors.New("contract is not operational")

	// ErrUnauthorized rejects callers absent from the allowlist.
	ErrUnauthorized = errors.New("caller is not authorized")

	// ErrNotOwner rejects owner-only administrative calls.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrDuplicate rejects an action already recorded (airline, flight,
	// policy, or vote).
	ErrDuplicate = errors.New("action already recorded")

	// ErrInsufficientFunds rejects payments below the required amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOutOfRange rejects amounts outside the permitted bounds.
	ErrOutOfRange = errors.New("amount out of range")

	// ErrNotFound rejects lookups of unregistered flights, oracles, or
	// unmatched indexes.
	ErrNotFound = errors.New("not found")

	// ErrNotFunded rejects sponsorship by an unfunded airline.
	ErrNotFunded = errors.New("airline is not funded")

	// ErrFlightResolved rejects purchases on a flight that already reached a
	// terminal status.
	ErrFlightResolved = errors.New("flight already resolved")

	// ErrRateLimited rejects guarded calls before the watermark has passed.
	ErrRateLimited = errors.New("rate limit in effect")

	// ErrReentrantCall rejects nested invocation of a guarded operation.
	ErrReentrantCall = errors.New("reentrant call rejected")
)
