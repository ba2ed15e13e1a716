// Package store implements the Ledger State Store: the single owner of all
// durable records. Every state-mutating method takes the calling component's
// account and rejects callers absent from the injected allowlist; read
// methods are open. Each method executes atomically to completion or leaves
// no trace.
package store

import (
	"context"

	"github.com/volant-labs/surety/pkg/contracts"
)

// CreditEntry reports one policy credited during a sweep.
type CreditEntry struct {
	Passenger contracts.Account `json:"passenger"`
	Amount    contracts.Amount  `json:"amount"`
}

// Store owns airlines, flights, policies, balances, oracles, response
// groups, proposal tallies, the custody balance, and the operational flag.
type Store interface {
	// Operational reports the operational gate.
	Operational(ctx context.Context) (bool, error)
	// SetOperational flips the operational gate.
	SetOperational(ctx context.Context, caller contracts.Account, mode bool) error

	// CreateAirline records a new airline (registered, unfunded). A second
	// creation for the same account returns ErrDuplicate.
	CreateAirline(ctx context.Context, caller, account contracts.Account, name string) error
	// SetAirlineFunded marks the airline funded and forwards the payment
	// into custody.
	SetAirlineFunded(ctx context.Context, caller, account contracts.Account, payment contracts.Amount) error
	// Airline returns an airline record, ErrNotFound when unknown.
	Airline(ctx context.Context, account contracts.Account) (contracts.Airline, error)
	// AirlineCount returns the number of registered airlines.
	AirlineCount(ctx context.Context) (int, error)
	// Airlines lists all registered airlines.
	Airlines(ctx context.Context) ([]contracts.Airline, error)

	// RecordVote adds proposer to the candidate's distinct-proposer tally and
	// returns the resulting count; a duplicate vote returns ErrDuplicate with
	// the tally unchanged.
	RecordVote(ctx context.Context, caller contracts.Account, candidate, proposer contracts.Account) (int, error)
	// ClearVotes discards the candidate's tally.
	ClearVotes(ctx context.Context, caller contracts.Account, candidate contracts.Account) error

	// CreateFlight records a flight under its key; reuse of the key returns
	// ErrDuplicate.
	CreateFlight(ctx context.Context, caller contracts.Account, flight contracts.Flight) error
	// Flight returns a flight record, ErrNotFound when unknown.
	Flight(ctx context.Context, key contracts.FlightKey) (contracts.Flight, error)
	// SetFlightStatus writes the terminal status if the flight is still
	// unknown. It reports whether the write applied; a later writer gets
	// (false, nil) — the benign no-op of the protocol.
	SetFlightStatus(ctx context.Context, caller contracts.Account, key contracts.FlightKey, status contracts.StatusCode) (bool, error)

	// CreatePolicy records an insurance policy and forwards the premium into
	// custody. A second policy for the same (passenger, flight) returns
	// ErrDuplicate.
	CreatePolicy(ctx context.Context, caller contracts.Account, key contracts.FlightKey, policy contracts.Policy) error
	// Policies lists the policies on a flight.
	Policies(ctx context.Context, key contracts.FlightKey) ([]contracts.Policy, error)
	// HasPolicy reports whether passenger already holds a policy on the flight.
	HasPolicy(ctx context.Context, key contracts.FlightKey, passenger contracts.Account) (bool, error)
	// CreditInsurees sweeps every uncredited policy on the flight: each
	// passenger's pending balance grows by floor(premium*multiplier/100) and
	// the policy is marked credited. Already-credited policies are skipped,
	// so a second sweep is a no-op.
	CreditInsurees(ctx context.Context, caller contracts.Account, key contracts.FlightKey) ([]CreditEntry, error)

	// PendingBalance returns a passenger's accumulated credit.
	PendingBalance(ctx context.Context, passenger contracts.Account) (contracts.Amount, error)
	// DebitPending zeroes the passenger's balance and deducts it from
	// custody, returning the debited amount. A zero balance returns
	// ErrInsufficientFunds.
	DebitPending(ctx context.Context, caller contracts.Account, passenger contracts.Account) (contracts.Amount, error)
	// Custody returns the custody balance.
	Custody(ctx context.Context) (contracts.Amount, error)

	// CreateOracle records an oracle registration and forwards the fee into
	// custody. Re-registration returns ErrDuplicate.
	CreateOracle(ctx context.Context, caller contracts.Account, oracle contracts.Oracle, fee contracts.Amount) error
	// Oracle returns an oracle record, ErrNotFound when unknown.
	Oracle(ctx context.Context, account contracts.Account) (contracts.Oracle, error)

	// OpenResponseGroup creates a fresh open group under the request key,
	// overwriting any stale group with the same key.
	OpenResponseGroup(ctx context.Context, caller contracts.Account, key contracts.RequestKey, requester contracts.Account) error
	// ResponseGroup returns the group, ErrNotFound when no request opened it.
	ResponseGroup(ctx context.Context, key contracts.RequestKey) (*contracts.ResponseGroup, error)
	// AppendResponse records an oracle's report into the status bucket and
	// returns the bucket's new size.
	AppendResponse(ctx context.Context, caller contracts.Account, key contracts.RequestKey, status contracts.StatusCode, oracle contracts.Account) (int, error)
}
