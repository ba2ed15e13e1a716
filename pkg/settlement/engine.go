// Package settlement implements the governance and settlement logic of the
// core: registration consensus, funding and underwriting rules, the oracle
// request/response protocol, quorum-triggered resolution, and the guarded
// withdrawal path. It holds only the Store interface and delegates every
// durable mutation to it; the dependency runs one way.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/volant-labs/surety/pkg/audit"
	"github.com/volant-labs/surety/pkg/authz"
	"github.com/volant-labs/surety/pkg/contracts"
	"github.com/volant-labs/surety/pkg/events"
	"github.com/volant-labs/surety/pkg/governance"
	"github.com/volant-labs/surety/pkg/ledger"
	"github.com/volant-labs/surety/pkg/oracle"
	"github.com/volant-labs/surety/pkg/payout"
	"github.com/volant-labs/surety/pkg/policy"
	"github.com/volant-labs/surety/pkg/store"
)

// OperationalVotes is the distinct-caller tally required to flip the
// operational gate.
const OperationalVotes = 1

// operationalSubject keys the operational-toggle tally.
const operationalSubject = "operational"

// Transferrer issues the external value transfer that completes a
// withdrawal. The engine debits bookkeeping before calling it.
type Transferrer interface {
	Transfer(ctx context.Context, to contracts.Account, amount contracts.Amount) error
}

// bookEntry is the default transferrer: funds are considered delivered the
// moment custody bookkeeping releases them.
type bookEntry struct{}

func (bookEntry) Transfer(context.Context, contracts.Account, contracts.Amount) error {
	return nil
}

// Config assembles an Engine. Store, Allowlist, and Owner are required;
// every other field has a working default.
type Config struct {
	// Owner may administer the allowlist and the operational gate.
	Owner contracts.Account
	// Component is the identity the engine presents to the store's
	// allowlist.
	Component contracts.Account
	// Store owns all durable records.
	Store store.Store
	// Allowlist is the capability table shared with the store.
	Allowlist *authz.Allowlist

	Log       ledger.Log
	Bus       events.Bus
	Audit     audit.Logger
	Logger    *slog.Logger
	Evaluator *policy.Evaluator
	Limiter   *payout.RateLimiter
	Indexes   *oracle.IndexSource
	Transfer  Transferrer
}

// Engine is the orchestrator behind every external entry point.
type Engine struct {
	owner     contracts.Account
	component contracts.Account
	store     store.Store
	allowlist *authz.Allowlist

	log       ledger.Log
	bus       events.Bus
	audit     audit.Logger
	logger    *slog.Logger
	evaluator *policy.Evaluator
	limiter   *payout.RateLimiter
	guard     payout.Guard
	indexes   *oracle.IndexSource
	transfer  Transferrer

	opsTally *governance.Tally
}

// New wires an engine from the config, filling defaults for absent
// collaborators.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("settlement: config requires a store")
	}
	if cfg.Allowlist == nil {
		return nil, fmt.Errorf("settlement: config requires an allowlist")
	}
	if cfg.Owner == "" {
		return nil, fmt.Errorf("settlement: config requires an owner")
	}
	if cfg.Component == "" {
		cfg.Component = "component:settlement"
	}
	if cfg.Log == nil {
		cfg.Log = ledger.NewMemLog()
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewMemBus()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NewLogger()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Evaluator == nil {
		eval, err := policy.NewEvaluator("")
		if err != nil {
			return nil, err
		}
		cfg.Evaluator = eval
	}
	if cfg.Limiter == nil {
		cfg.Limiter = payout.NewRateLimiter(payout.NewMemWatermarks(), 0)
	}
	if cfg.Indexes == nil {
		cfg.Indexes = oracle.NewIndexSource(oracle.LogSeed{Log: cfg.Log})
	}
	if cfg.Transfer == nil {
		cfg.Transfer = bookEntry{}
	}

	return &Engine{
		owner:     cfg.Owner,
		component: cfg.Component,
		store:     cfg.Store,
		allowlist: cfg.Allowlist,
		log:       cfg.Log,
		bus:       cfg.Bus,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
		evaluator: cfg.Evaluator,
		limiter:   cfg.Limiter,
		indexes:   cfg.Indexes,
		transfer:  cfg.Transfer,
		opsTally:  governance.NewTally(),
	}, nil
}

// --- Governance & operational gate ---

// IsOperational reports the operational gate.
func (e *Engine) IsOperational(ctx context.Context) (bool, error) {
	return e.store.Operational(ctx)
}

// SetOperatingStatus flips the operational gate. Owner only; the flip also
// requires a distinct-caller tally of OperationalVotes, cleared after each
// flip. Callable while the gate is down, or the gate could never come back.
func (e *Engine) SetOperatingStatus(ctx context.Context, caller contracts.Account, mode bool) error {
	if caller != e.owner {
		return contracts.ErrNotOwner
	}
	current, err := e.store.Operational(ctx)
	if err != nil {
		return err
	}
	if current == mode {
		return contracts.ErrDuplicate
	}

	count, err := e.opsTally.Vote(operationalSubject, caller)
	if err != nil {
		return err
	}
	if count < OperationalVotes {
		return nil
	}
	e.opsTally.Clear(operationalSubject)

	if err := e.store.SetOperational(ctx, e.component, mode); err != nil {
		return err
	}
	e.commit(ctx, caller, "set_operating_status", "gate", map[string]interface{}{"mode": mode})
	e.logger.Info("operational gate flipped", "mode", mode)
	return nil
}

// AuthorizeCaller grants an account the right to invoke state-mutating store
// operations. Owner only.
func (e *Engine) AuthorizeCaller(ctx context.Context, caller, account contracts.Account) error {
	if err := e.allowlist.Grant(caller, account); err != nil {
		return err
	}
	e.commit(ctx, caller, "authorize_caller", string(account), nil)
	return nil
}

// DeauthorizeCaller revokes an account's store access. Owner only.
func (e *Engine) DeauthorizeCaller(ctx context.Context, caller, account contracts.Account) error {
	if err := e.allowlist.Revoke(caller, account); err != nil {
		return err
	}
	e.commit(ctx, caller, "deauthorize_caller", string(account), nil)
	return nil
}

// --- Airline registration & funding ---

// RegisterFirstAirline seeds the governance set during deployment. Owner
// only; rejected once any airline exists.
func (e *Engine) RegisterFirstAirline(ctx context.Context, caller, account contracts.Account, name string) error {
	if caller != e.owner {
		return contracts.ErrNotOwner
	}
	if err := e.requireOperational(ctx); err != nil {
		return err
	}
	n, err := e.store.AirlineCount(ctx)
	if err != nil {
		return err
	}
	if n != 0 {
		return contracts.ErrDuplicate
	}
	if err := e.store.CreateAirline(ctx, e.component, account, name); err != nil {
		return err
	}
	e.commit(ctx, caller, "register_first_airline", string(account), map[string]interface{}{"name": name})
	e.publish(ctx, events.AirlineRegistered, map[string]interface{}{"account": account, "name": name})
	return nil
}

// RegisterAirline proposes candidate for registration. While fewer than
// FastPathAirlines are registered, any funded airline approves unilaterally;
// from there on registration commits when distinct funded proposers reach
// Threshold(registered). It reports whether the candidate is now registered
// and the current tally.
func (e *Engine) RegisterAirline(ctx context.Context, caller, candidate contracts.Account, name string) (registered bool, votes int, err error) {
	if err := e.requireOperational(ctx); err != nil {
		return false, 0, err
	}
	if err := e.requireFundedAirline(ctx, caller); err != nil {
		return false, 0, err
	}
	if _, err := e.store.Airline(ctx, candidate); err == nil {
		return false, 0, contracts.ErrDuplicate
	} else if !errors.Is(err, contracts.ErrNotFound) {
		return false, 0, err
	}

	count, err := e.store.AirlineCount(ctx)
	if err != nil {
		return false, 0, err
	}
	threshold := governance.Threshold(count)

	if count >= contracts.FastPathAirlines {
		votes, err = e.store.RecordVote(ctx, e.component, candidate, caller)
		if err != nil {
			return false, votes, err
		}
		if votes < threshold {
			e.commit(ctx, caller, "propose_airline", string(candidate), map[string]interface{}{"votes": votes, "threshold": threshold})
			return false, votes, nil
		}
		if err := e.store.ClearVotes(ctx, e.component, candidate); err != nil {
			return false, votes, err
		}
	} else {
		votes = 1
	}

	if err := e.store.CreateAirline(ctx, e.component, candidate, name); err != nil {
		return false, votes, err
	}
	e.commit(ctx, caller, "register_airline", string(candidate), map[string]interface{}{"name": name, "votes": votes})
	e.publish(ctx, events.AirlineRegistered, map[string]interface{}{"account": candidate, "name": name})
	e.logger.Info("airline registered", "account", candidate, "votes", votes)
	return true, votes, nil
}

// FundAirline marks the calling airline funded. The attached payment must
// equal FundingAmount exactly; the payment moves into custody.
func (e *Engine) FundAirline(ctx context.Context, caller contracts.Account, payment contracts.Amount) error {
	if err := e.requireOperational(ctx); err != nil {
		return err
	}
	a, err := e.store.Airline(ctx, caller)
	if err != nil {
		return err
	}
	if a.Funded {
		return contracts.ErrDuplicate
	}
	if payment < contracts.FundingAmount {
		return contracts.ErrInsufficientFunds
	}
	if payment > contracts.FundingAmount {
		return contracts.ErrOutOfRange
	}
	if err := e.store.SetAirlineFunded(ctx, e.component, caller, payment); err != nil {
		return err
	}
	e.commit(ctx, caller, "fund_airline", string(caller), map[string]interface{}{"payment": payment})
	e.publish(ctx, events.AirlineFunded, map[string]interface{}{"account": caller})
	return nil
}

// IsAirlineRegistered reports whether account is a registered airline.
func (e *Engine) IsAirlineRegistered(ctx context.Context, account contracts.Account) (bool, error) {
	_, err := e.store.Airline(ctx, account)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, contracts.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// IsAirlineFunded reports whether account is a funded airline.
func (e *Engine) IsAirlineFunded(ctx context.Context, account contracts.Account) (bool, error) {
	a, err := e.store.Airline(ctx, account)
	if errors.Is(err, contracts.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.Funded, nil
}

// Airlines lists the registered airlines in registration order.
func (e *Engine) Airlines(ctx context.Context) ([]contracts.Airline, error) {
	return e.store.Airlines(ctx)
}

// --- Flight underwriting ---

// RegisterFlight records a flight for sale of insurance. Caller must be a
// funded airline; the flight key must be unused.
func (e *Engine) RegisterFlight(ctx context.Context, caller contracts.Account, number, origin, destination string, timestamp int64) (contracts.FlightKey, error) {
	if err := e.requireOperational(ctx); err != nil {
		return "", err
	}
	if err := e.requireFundedAirline(ctx, caller); err != nil {
		return "", err
	}

	key := contracts.NewFlightKey(caller, number, timestamp)
	flight := contracts.Flight{
		Key:         key,
		Airline:     caller,
		Number:      number,
		Origin:      origin,
		Destination: destination,
		Timestamp:   timestamp,
	}
	if err := e.store.CreateFlight(ctx, e.component, flight); err != nil {
		return "", err
	}
	e.commit(ctx, caller, "register_flight", string(key), map[string]interface{}{"number": number, "timestamp": timestamp})
	e.publish(ctx, events.FlightRegistered, map[string]interface{}{
		"key": key, "airline": caller, "number": number, "timestamp": timestamp,
	})
	return key, nil
}

// Flight returns the flight record for (airline, number, timestamp).
func (e *Engine) Flight(ctx context.Context, airline contracts.Account, number string, timestamp int64) (contracts.Flight, error) {
	return e.store.Flight(ctx, contracts.NewFlightKey(airline, number, timestamp))
}

// FlightStatus returns the flight's status code.
func (e *Engine) FlightStatus(ctx context.Context, airline contracts.Account, number string, timestamp int64) (contracts.StatusCode, error) {
	f, err := e.Flight(ctx, airline, number, timestamp)
	if err != nil {
		return contracts.StatusUnknown, err
	}
	return f.Status, nil
}

// --- Insurance purchase ---

// BuyInsurance sells passenger a policy on the flight. The premium must lie
// in (0, MaxPremium]; the flight must be registered and unresolved; one
// policy per (passenger, flight).
func (e *Engine) BuyInsurance(ctx context.Context, passenger, airline contracts.Account, number string, timestamp int64, premium contracts.Amount) error {
	if err := e.requireOperational(ctx); err != nil {
		return err
	}
	if premium <= 0 || premium > contracts.MaxPremium {
		return contracts.ErrOutOfRange
	}

	key := contracts.NewFlightKey(airline, number, timestamp)
	f, err := e.store.Flight(ctx, key)
	if err != nil {
		return err
	}
	if f.Status.Terminal() {
		return contracts.ErrFlightResolved
	}

	p := contracts.Policy{
		Passenger:  passenger,
		Premium:    premium,
		Multiplier: contracts.PayoutMultiplier,
	}
	if err := e.store.CreatePolicy(ctx, e.component, key, p); err != nil {
		return err
	}
	e.commit(ctx, passenger, "buy_insurance", string(key), map[string]interface{}{"premium": premium})
	e.publish(ctx, events.InsurancePurchased, map[string]interface{}{
		"key": key, "passenger": passenger, "premium": premium,
	})
	return nil
}

// IsInsured reports whether passenger holds a policy on the flight.
func (e *Engine) IsInsured(ctx context.Context, passenger, airline contracts.Account, number string, timestamp int64) (bool, error) {
	return e.store.HasPolicy(ctx, contracts.NewFlightKey(airline, number, timestamp), passenger)
}

// --- Oracle protocol ---

// RegisterOracle admits caller to the oracle fleet, assigning three
// pairwise-distinct indexes. The fee must be at least OracleFee.
func (e *Engine) RegisterOracle(ctx context.Context, caller contracts.Account, fee contracts.Amount) ([contracts.OracleIndexCount]uint8, error) {
	var none [contracts.OracleIndexCount]uint8
	if err := e.requireOperational(ctx); err != nil {
		return none, err
	}
	if fee < contracts.OracleFee {
		return none, contracts.ErrInsufficientFunds
	}

	indexes, err := e.indexes.Assign(ctx, caller)
	if err != nil {
		return none, err
	}
	o := contracts.Oracle{Account: caller, Indexes: indexes}
	if err := e.store.CreateOracle(ctx, e.component, o, fee); err != nil {
		return none, err
	}
	e.commit(ctx, caller, "register_oracle", string(caller), map[string]interface{}{"fee": fee})
	return indexes, nil
}

// MyIndexes returns the caller's assigned indexes.
func (e *Engine) MyIndexes(ctx context.Context, caller contracts.Account) ([contracts.OracleIndexCount]uint8, error) {
	o, err := e.store.Oracle(ctx, caller)
	if err != nil {
		return [contracts.OracleIndexCount]uint8{}, err
	}
	return o.Indexes, nil
}

// FetchFlightStatus opens an oracle request for the flight, scoped to a
// freshly drawn index. A stale group under the same request key is
// overwritten. The returned index tells the fleet who may answer.
func (e *Engine) FetchFlightStatus(ctx context.Context, requester, airline contracts.Account, number string, timestamp int64) (uint8, error) {
	if err := e.requireOperational(ctx); err != nil {
		return 0, err
	}

	index, err := e.indexes.ScopingIndex(ctx, requester)
	if err != nil {
		return 0, err
	}
	key := contracts.NewRequestKey(index, airline, number, timestamp)
	if err := e.store.OpenResponseGroup(ctx, e.component, key, requester); err != nil {
		return 0, err
	}
	e.commit(ctx, requester, "fetch_flight_status", string(key), map[string]interface{}{"index": index})
	e.publish(ctx, events.OracleRequest, map[string]interface{}{
		"index": index, "airline": airline, "number": number, "timestamp": timestamp, "key": key,
	})
	return index, nil
}

// SubmitOracleResponse records an oracle's report. The claimed index must be
// one of the oracle's own three and an open request must exist for
// (index, airline, number, timestamp). When a status bucket reaches
// OracleQuorum the flight resolves; later responses are recorded but change
// nothing.
func (e *Engine) SubmitOracleResponse(ctx context.Context, caller contracts.Account, index uint8, airline contracts.Account, number string, timestamp int64, status contracts.StatusCode) error {
	if err := e.requireOperational(ctx); err != nil {
		return err
	}
	o, err := e.store.Oracle(ctx, caller)
	if err != nil {
		return err
	}
	if !o.HasIndex(index) {
		return contracts.ErrNotFound
	}

	key := contracts.NewRequestKey(index, airline, number, timestamp)
	bucket, err := e.store.AppendResponse(ctx, e.component, key, status, caller)
	if err != nil {
		return err
	}
	e.commit(ctx, caller, "submit_oracle_response", string(key), map[string]interface{}{"status": status, "bucket": bucket})
	e.publish(ctx, events.OracleReport, map[string]interface{}{
		"key": key, "oracle": caller, "status": status,
	})

	if bucket == contracts.OracleQuorum {
		return e.resolve(ctx, airline, number, timestamp, status)
	}
	return nil
}

// resolve applies a quorum-agreed status to the flight. Several request
// keys can target one flight, so idempotency hangs on the flight-level
// first-writer-wins status write: a losing resolver is a benign no-op.
func (e *Engine) resolve(ctx context.Context, airline contracts.Account, number string, timestamp int64, status contracts.StatusCode) error {
	key := contracts.NewFlightKey(airline, number, timestamp)

	applied, err := e.store.SetFlightStatus(ctx, e.component, key, status)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	e.commit(ctx, e.component, "resolve_flight", string(key), map[string]interface{}{"status": status})
	e.publish(ctx, events.FlightStatusUpdate, map[string]interface{}{"key": key, "status": status})
	e.logger.Info("flight resolved", "key", key, "status", status)

	payable, err := e.evaluator.Payable(status, airline, number)
	if err != nil {
		return err
	}
	if !payable {
		return nil
	}

	entries, err := e.store.CreditInsurees(ctx, e.component, key)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		e.publish(ctx, events.InsureeCredited, map[string]interface{}{
			"key": key, "passenger": entry.Passenger, "amount": entry.Amount,
		})
	}
	if len(entries) > 0 {
		e.commit(ctx, e.component, "credit_insurees", string(key), map[string]interface{}{"credited": len(entries)})
	}
	return nil
}

// --- Payout ledger ---

// PendingBalance returns passenger's accumulated, not-yet-withdrawn credit.
func (e *Engine) PendingBalance(ctx context.Context, passenger contracts.Account) (contracts.Amount, error) {
	return e.store.PendingBalance(ctx, passenger)
}

// Withdraw pays out the caller's full pending balance. The balance is
// zeroed before the external transfer runs, nested invocation is rejected
// by the guard, and the watermark limiter spaces successive calls.
func (e *Engine) Withdraw(ctx context.Context, caller contracts.Account) (contracts.Amount, error) {
	if err := e.requireOperational(ctx); err != nil {
		return 0, err
	}
	if err := e.limiter.Allow(ctx, caller); err != nil {
		return 0, err
	}

	var amount contracts.Amount
	err := e.guard.Do(func() error {
		debited, err := e.store.DebitPending(ctx, e.component, caller)
		if err != nil {
			return err
		}
		amount = debited
		// Bookkeeping is final before any external interaction. A failed
		// transfer surfaces to the caller with the debit intact; the audit
		// trail is the reconciliation source.
		return e.transfer.Transfer(ctx, caller, debited)
	})
	if err != nil {
		return 0, err
	}

	e.commit(ctx, caller, "withdraw", string(caller), map[string]interface{}{"amount": amount})
	e.publish(ctx, events.BalanceWithdrawn, map[string]interface{}{"passenger": caller, "amount": amount})
	return amount, nil
}

// --- helpers ---

func (e *Engine) requireOperational(ctx context.Context) error {
	op, err := e.store.Operational(ctx)
	if err != nil {
		return err
	}
	if !op {
		return contracts.ErrNotOperational
	}
	return nil
}

// requireFundedAirline gates sponsorship operations: the caller must be a
// registered airline that has paid the funding threshold.
func (e *Engine) requireFundedAirline(ctx context.Context, caller contracts.Account) error {
	a, err := e.store.Airline(ctx, caller)
	if errors.Is(err, contracts.ErrNotFound) {
		return contracts.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !a.Funded {
		return contracts.ErrNotFunded
	}
	return nil
}

// commit appends the operation to the hash-chained log and the audit trail.
// Neither failure undoes the already-applied mutation; both are logged and
// surfaced to the operator, not the caller.
func (e *Engine) commit(ctx context.Context, actor contracts.Account, operation, resource string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["actor"] = actor
	payload["resource"] = resource

	if _, err := e.log.Commit(ctx, operation, payload); err != nil {
		e.logger.Error("commit log append failed", "operation", operation, "error", err)
	}
	if err := e.audit.Record(ctx, actor, audit.EventMutation, operation, resource, payload); err != nil {
		e.logger.Error("audit record failed", "operation", operation, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, typ events.Type, payload map[string]interface{}) {
	if err := e.bus.Publish(ctx, typ, payload); err != nil {
		e.logger.Error("notification publish failed", "type", typ, "error", err)
	}
}
