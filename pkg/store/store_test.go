package store_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volant-labs/surety/pkg/authz"
	"github.com/volant-labs/surety/pkg/contracts"
	"github.com/volant-labs/surety/pkg/store"

	_ "modernc.org/sqlite"
)

const (
	owner  = contracts.Account("owner")
	engine = contracts.Account("engine")
	mallet = contracts.Account("mallet")
)

// factory builds a fresh, empty store whose allowlist grants engine.
type factory func(t *testing.T) store.Store

func memFactory(t *testing.T) store.Store {
	t.Helper()
	al := authz.New(owner)
	require.NoError(t, al.Grant(owner, engine))
	return store.NewMemStore(al)
}

func sqlFactory(t *testing.T) store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	al := authz.New(owner)
	require.NoError(t, al.Grant(owner, engine))
	s := store.NewSQLStore(db, al)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func forEachStore(t *testing.T, run func(t *testing.T, newStore factory)) {
	t.Run("mem", func(t *testing.T) { run(t, memFactory) })
	t.Run("sqlite", func(t *testing.T) { run(t, sqlFactory) })
}

func TestOperationalGate(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore factory) {
		s := newStore(t)
		ctx := context.Background()

		op, err := s.Operational(ctx)
		require.NoError(t, err)
		assert.True(t, op, "stores start operational")

		require.NoError(t, s.SetOperational(ctx, engine, false))
		op, err = s.Operational(ctx)
		require.NoError(t, err)
		assert.False(t, op)

		err = s.SetOperational(ctx, mallet, true)
		assert.ErrorIs(t, err, contracts.ErrUnauthorized)
	})
}

func TestAirlineLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore factory) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateAirline(ctx, engine, "airline:alpha", "Alpha Air"))
		err := s.CreateAirline(ctx, engine, "airline:alpha", "Alpha Again")
		assert.ErrorIs(t, err, contracts.ErrDuplicate)

		a, err := s.Airline(ctx, "airline:alpha")
		require.NoError(t, err)
		assert.True(t, a.Registered)
		assert.False(t, a.Funded)

		require.NoError(t, s.SetAirlineFunded(ctx, engine, "airline:alpha", contracts.FundingAmount))
		a, err = s.Airline(ctx, "airline:alpha")
		require.NoError(t, err)
		assert.True(t, a.Funded)

		custody, err := s.Custody(ctx)
		require.NoError(t, err)
		assert.Equal(t, contracts.FundingAmount, custody)

		n, err := s.AirlineCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.Airline(ctx, "airline:ghost")
		assert.ErrorIs(t, err, contracts.ErrNotFound)
		err = s.SetAirlineFunded(ctx, engine, "airline:ghost", contracts.FundingAmount)
		assert.ErrorIs(t, err, contracts.ErrNotFound)
	})
}

func TestVoteTally_DistinctProposers(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore factory) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.RecordVote(ctx, engine, "airline:cand", "airline:p1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.RecordVote(ctx, engine, "airline:cand", "airline:p1")
		assert.ErrorIs(t, err, contracts.ErrDuplicate)
		assert.Equal(t, 1, n, "duplicate vote leaves tally unchanged")

		n, err = s.RecordVote(ctx, engine, "airline:cand", "airline:p2")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		require.NoError(t, s.ClearVotes(ctx, engine, "airline:cand"))
		n, err = s.RecordVote(ctx, engine, "airline:cand", "airline:p1")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "cleared tally accepts the proposer again")
	})
}

func TestFlightStatus_FirstWriterWins(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore factory) {
		s := newStore(t)
		ctx := context.Background()

		key := contracts.NewFlightKey("airline:alpha", "AA100", 1735689600)
		require.NoError(t, s.CreateFlight(ctx, engine, contracts.Flight{
			Key: key, Airline: "airline:alpha", Number: "AA100", Timestamp: 1735689600,
		}))
		err := s.CreateFlight(ctx, engine, contracts.Flight{Key: key, Airline: "airline:alpha", Number: "AA100", Timestamp: 1735689600})
		assert.ErrorIs(t, err, contracts.ErrDuplicate)

		applied, err := s.SetFlightStatus(ctx, engine, key, contracts.StatusLateAirline)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = s.SetFlightStatus(ctx, engine, key, contracts.StatusOnTime)
		require.NoError(t, err)
		assert.False(t, applied, "second resolution is a benign no-op")

		f, err := s.Flight(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, contracts.StatusLateAirline, f.Status)

		_, err = s.SetFlightStatus(ctx, engine, "no-such-key", contracts.StatusOnTime)
		assert.ErrorIs(t, err, contracts.ErrNotFound)
	})
}

func TestCreditInsurees_IdempotentSweep(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore factory) {
		s := newStore(t)
		ctx := context.Background()

		key := contracts.NewFlightKey("airline:alpha", "AA100", 1735689600)
		require.NoError(t, s.CreateFlight(ctx, engine, contracts.Flight{
			Key: key, Airline: "airline:alpha", Number: "AA100", Timestamp: 1735689600,
		}))
		require.NoError(t, s.CreatePolicy(ctx, engine, key, contracts.Policy{
			Passenger: "pax:1", Premium: 1, Multiplier: contracts.PayoutMultiplier,
		}))
		err := s.CreatePolicy(ctx, engine, key, contracts.Policy{
			Passenger: "pax:1", Premium: 1, Multiplier: contracts.PayoutMultiplier,
		})
		assert.ErrorIs(t, err, contracts.ErrDuplicate)

		has, err := s.HasPolicy(ctx, key, "pax:1")
		require.NoError(t, err)
		assert.True(t, has)

		entries, err := s.CreditInsurees(ctx, engine, key)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, contracts.Amount(1), entries[0].Amount, "floor(1*150/100)")

		bal, err := s.PendingBalance(ctx, "pax:1")
		require.NoError(t, err)
		assert.Equal(t, contracts.Amount(1), bal)

		entries, err = s.CreditInsurees(ctx, engine, key)
		require.NoError(t, err)
		assert.Empty(t, entries, "second sweep credits nothing")

		bal, err = s.PendingBalance(ctx, "pax:1")
		require.NoError(t, err)
		assert.Equal(t, contracts.Amount(1), bal)
	})
}

func TestDebitPending_ZeroesBalance(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore factory) {
		s := newStore(t)
		ctx := context.Background()

		key := contracts.NewFlightKey("airline:alpha", "AA100", 1735689600)
		require.NoError(t, s.CreateFlight(ctx, engine, contracts.Flight{
			Key: key, Airline: "airline:alpha", Number: "AA100", Timestamp: 1735689600,
		}))
		require.NoError(t, s.CreatePolicy(ctx, engine, key, contracts.Policy{
			Passenger: "pax:1", Premium: 1, Multiplier: contracts.PayoutMultiplier,
		}))
		_, err := s.CreditInsurees(ctx, engine, key)
		require.NoError(t, err)

		got, err := s.DebitPending(ctx, engine, "pax:1")
		require.NoError(t, err)
		assert.Equal(t, contracts.Amount(1), got)

		bal, err := s.PendingBalance(ctx, "pax:1")
		require.NoError(t, err)
		assert.Zero(t, bal)

		_, err = s.DebitPending(ctx, engine, "pax:1")
		assert.ErrorIs(t, err, contracts.ErrInsufficientFunds)
	})
}

func TestOracleAndResponseGroups(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore factory) {
		s := newStore(t)
		ctx := context.Background()

		oracle := contracts.Oracle{Account: "oracle:1", Indexes: [3]uint8{1, 4, 7}}
		require.NoError(t, s.CreateOracle(ctx, engine, oracle, contracts.OracleFee))
		err := s.CreateOracle(ctx, engine, oracle, contracts.OracleFee)
		assert.ErrorIs(t, err, contracts.ErrDuplicate)

		got, err := s.Oracle(ctx, "oracle:1")
		require.NoError(t, err)
		assert.True(t, got.Registered)
		assert.Equal(t, oracle.Indexes, got.Indexes)

		reqKey := contracts.NewRequestKey(4, "airline:alpha", "AA100", 1735689600)
		_, err = s.ResponseGroup(ctx, reqKey)
		assert.ErrorIs(t, err, contracts.ErrNotFound)
		_, err = s.AppendResponse(ctx, engine, reqKey, contracts.StatusLateAirline, "oracle:1")
		assert.ErrorIs(t, err, contracts.ErrNotFound)

		require.NoError(t, s.OpenResponseGroup(ctx, engine, reqKey, "pax:req"))
		n, err := s.AppendResponse(ctx, engine, reqKey, contracts.StatusLateAirline, "oracle:1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.AppendResponse(ctx, engine, reqKey, contracts.StatusLateAirline, "oracle:2")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = s.AppendResponse(ctx, engine, reqKey, contracts.StatusOnTime, "oracle:3")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "buckets count per status")

		g, err := s.ResponseGroup(ctx, reqKey)
		require.NoError(t, err)
		assert.True(t, g.Open)
		assert.Equal(t, contracts.Account("pax:req"), g.Requester)
		assert.Equal(t, 2, g.Count(contracts.StatusLateAirline))

		// Reopening the same key drops the stale responses.
		require.NoError(t, s.OpenResponseGroup(ctx, engine, reqKey, "pax:other"))
		g, err = s.ResponseGroup(ctx, reqKey)
		require.NoError(t, err)
		assert.Zero(t, g.Count(contracts.StatusLateAirline))
		assert.Equal(t, contracts.Account("pax:other"), g.Requester)
	})
}

func TestMutatorsRejectUnknownCallers(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore factory) {
		s := newStore(t)
		ctx := context.Background()

		assert.ErrorIs(t, s.CreateAirline(ctx, mallet, "airline:x", "X"), contracts.ErrUnauthorized)
		_, err := s.RecordVote(ctx, mallet, "airline:x", "airline:y")
		assert.ErrorIs(t, err, contracts.ErrUnauthorized)
		assert.ErrorIs(t, s.CreateFlight(ctx, mallet, contracts.Flight{Key: "k"}), contracts.ErrUnauthorized)
		_, err = s.DebitPending(ctx, mallet, "pax:1")
		assert.ErrorIs(t, err, contracts.ErrUnauthorized)
	})
}
