package store

import (
	"context"
	"sync"
	"time"

	"github.com/volant-labs/surety/pkg/authz"
	"github.com/volant-labs/surety/pkg/contracts"
)

// MemStore is the mutex-guarded in-memory reference implementation. One lock
// covers every mutation, so each operation commits atomically against a
// totally ordered sequence of calls.
type MemStore struct {
	mu sync.RWMutex

	allowlist *authz.Allowlist

	operational bool
	custody     contracts.Amount

	airlines     map[contracts.Account]*contracts.Airline
	airlineOrder []contracts.Account
	votes        map[contracts.Account]map[contracts.Account]struct{}
	flights      map[contracts.FlightKey]*contracts.Flight
	policies     map[contracts.FlightKey][]*contracts.Policy
	balances     map[contracts.Account]contracts.Amount
	oracles      map[contracts.Account]*contracts.Oracle
	groups       map[contracts.RequestKey]*contracts.ResponseGroup
}

// NewMemStore creates an operational, empty store gated by the allowlist.
func NewMemStore(allowlist *authz.Allowlist) *MemStore {
	return &MemStore{
		allowlist:   allowlist,
		operational: true,
		airlines:    make(map[contracts.Account]*contracts.Airline),
		votes:       make(map[contracts.Account]map[contracts.Account]struct{}),
		flights:     make(map[contracts.FlightKey]*contracts.Flight),
		policies:    make(map[contracts.FlightKey][]*contracts.Policy),
		balances:    make(map[contracts.Account]contracts.Amount),
		oracles:     make(map[contracts.Account]*contracts.Oracle),
		groups:      make(map[contracts.RequestKey]*contracts.ResponseGroup),
	}
}

// Allowlist exposes the capability table for owner administration.
func (s *MemStore) Allowlist() *authz.Allowlist {
	return s.allowlist
}

// Operational implements Store.
func (s *MemStore) Operational(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operational, nil
}

// SetOperational implements Store.
func (s *MemStore) SetOperational(ctx context.Context, caller contracts.Account, mode bool) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operational = mode
	return nil
}

// CreateAirline implements Store.
func (s *MemStore) CreateAirline(ctx context.Context, caller, account contracts.Account, name string) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.airlines[account]; exists {
		return contracts.ErrDuplicate
	}
	s.airlines[account] = &contracts.Airline{
		Account:    account,
		Name:       name,
		Registered: true,
		CreatedAt:  time.Now().UTC(),
	}
	s.airlineOrder = append(s.airlineOrder, account)
	return nil
}

// SetAirlineFunded implements Store.
func (s *MemStore) SetAirlineFunded(ctx context.Context, caller, account contracts.Account, payment contracts.Amount) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.airlines[account]
	if !exists {
		return contracts.ErrNotFound
	}
	a.Funded = true
	s.custody += payment
	return nil
}

// Airline implements Store.
func (s *MemStore) Airline(ctx context.Context, account contracts.Account) (contracts.Airline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, exists := s.airlines[account]
	if !exists {
		return contracts.Airline{}, contracts.ErrNotFound
	}
	return *a, nil
}

// AirlineCount implements Store.
func (s *MemStore) AirlineCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.airlines), nil
}

// Airlines implements Store.
func (s *MemStore) Airlines(ctx context.Context) ([]contracts.Airline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Airline, 0, len(s.airlineOrder))
	for _, acct := range s.airlineOrder {
		out = append(out, *s.airlines[acct])
	}
	return out, nil
}

// RecordVote implements Store.
func (s *MemStore) RecordVote(ctx context.Context, caller contracts.Account, candidate, proposer contracts.Account) (int, error) {
	if err := s.allowlist.Require(caller); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.votes[candidate]
	if !ok {
		set = make(map[contracts.Account]struct{})
		s.votes[candidate] = set
	}
	if _, voted := set[proposer]; voted {
		return len(set), contracts.ErrDuplicate
	}
	set[proposer] = struct{}{}
	return len(set), nil
}

// ClearVotes implements Store.
func (s *MemStore) ClearVotes(ctx context.Context, caller contracts.Account, candidate contracts.Account) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.votes, candidate)
	return nil
}

// CreateFlight implements Store.
func (s *MemStore) CreateFlight(ctx context.Context, caller contracts.Account, flight contracts.Flight) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flights[flight.Key]; exists {
		return contracts.ErrDuplicate
	}
	flight.Registered = true
	flight.Status = contracts.StatusUnknown
	s.flights[flight.Key] = &flight
	return nil
}

// Flight implements Store.
func (s *MemStore) Flight(ctx context.Context, key contracts.FlightKey) (contracts.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, exists := s.flights[key]
	if !exists {
		return contracts.Flight{}, contracts.ErrNotFound
	}
	return *f, nil
}

// SetFlightStatus implements Store. First writer wins; later writers no-op.
func (s *MemStore) SetFlightStatus(ctx context.Context, caller contracts.Account, key contracts.FlightKey, status contracts.StatusCode) (bool, error) {
	if err := s.allowlist.Require(caller); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, exists := s.flights[key]
	if !exists {
		return false, contracts.ErrNotFound
	}
	if f.Status.Terminal() {
		return false, nil
	}
	f.Status = status
	return true, nil
}

// CreatePolicy implements Store.
func (s *MemStore) CreatePolicy(ctx context.Context, caller contracts.Account, key contracts.FlightKey, policy contracts.Policy) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flights[key]; !exists {
		return contracts.ErrNotFound
	}
	for _, p := range s.policies[key] {
		if p.Passenger == policy.Passenger {
			return contracts.ErrDuplicate
		}
	}
	s.policies[key] = append(s.policies[key], &policy)
	s.custody += policy.Premium
	return nil
}

// Policies implements Store.
func (s *MemStore) Policies(ctx context.Context, key contracts.FlightKey) ([]contracts.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Policy, 0, len(s.policies[key]))
	for _, p := range s.policies[key] {
		out = append(out, *p)
	}
	return out, nil
}

// HasPolicy implements Store.
func (s *MemStore) HasPolicy(ctx context.Context, key contracts.FlightKey, passenger contracts.Account) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.policies[key] {
		if p.Passenger == passenger {
			return true, nil
		}
	}
	return false, nil
}

// CreditInsurees implements Store. The sweep runs under one lock so crediting
// is atomic per flight; credited policies are skipped, making the sweep
// idempotent.
func (s *MemStore) CreditInsurees(ctx context.Context, caller contracts.Account, key contracts.FlightKey) ([]CreditEntry, error) {
	if err := s.allowlist.Require(caller); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []CreditEntry
	for _, p := range s.policies[key] {
		if p.Credited {
			continue
		}
		amount := p.Premium * contracts.Amount(p.Multiplier) / 100
		p.Credited = true
		s.balances[p.Passenger] += amount
		entries = append(entries, CreditEntry{Passenger: p.Passenger, Amount: amount})
	}
	return entries, nil
}

// PendingBalance implements Store.
func (s *MemStore) PendingBalance(ctx context.Context, passenger contracts.Account) (contracts.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[passenger], nil
}

// DebitPending implements Store. The balance is zeroed in the same critical
// section that reads it, so no second debit can observe a stale balance.
func (s *MemStore) DebitPending(ctx context.Context, caller contracts.Account, passenger contracts.Account) (contracts.Amount, error) {
	if err := s.allowlist.Require(caller); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.balances[passenger]
	if balance <= 0 {
		return 0, contracts.ErrInsufficientFunds
	}
	s.balances[passenger] = 0
	s.custody -= balance
	return balance, nil
}

// Custody implements Store.
func (s *MemStore) Custody(ctx context.Context) (contracts.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.custody, nil
}

// CreateOracle implements Store.
func (s *MemStore) CreateOracle(ctx context.Context, caller contracts.Account, oracle contracts.Oracle, fee contracts.Amount) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.oracles[oracle.Account]; exists {
		return contracts.ErrDuplicate
	}
	oracle.Registered = true
	s.oracles[oracle.Account] = &oracle
	s.custody += fee
	return nil
}

// Oracle implements Store.
func (s *MemStore) Oracle(ctx context.Context, account contracts.Account) (contracts.Oracle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, exists := s.oracles[account]
	if !exists {
		return contracts.Oracle{}, contracts.ErrNotFound
	}
	return *o, nil
}

// OpenResponseGroup implements Store. A stale group under the same key is
// simply overwritten.
func (s *MemStore) OpenResponseGroup(ctx context.Context, caller contracts.Account, key contracts.RequestKey, requester contracts.Account) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups[key] = &contracts.ResponseGroup{
		Requester: requester,
		Open:      true,
		Responses: make(map[contracts.StatusCode][]contracts.Account),
	}
	return nil
}

// ResponseGroup implements Store.
func (s *MemStore) ResponseGroup(ctx context.Context, key contracts.RequestKey) (*contracts.ResponseGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, exists := s.groups[key]
	if !exists {
		return nil, contracts.ErrNotFound
	}
	out := &contracts.ResponseGroup{
		Requester: g.Requester,
		Open:      g.Open,
		Responses: make(map[contracts.StatusCode][]contracts.Account, len(g.Responses)),
	}
	for status, oracles := range g.Responses {
		out.Responses[status] = append([]contracts.Account(nil), oracles...)
	}
	return out, nil
}

// AppendResponse implements Store.
func (s *MemStore) AppendResponse(ctx context.Context, caller contracts.Account, key contracts.RequestKey, status contracts.StatusCode, oracle contracts.Account) (int, error) {
	if err := s.allowlist.Require(caller); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, exists := s.groups[key]
	if !exists {
		return 0, contracts.ErrNotFound
	}
	g.Responses[status] = append(g.Responses[status], oracle)
	return len(g.Responses[status]), nil
}
