package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/volant-labs/surety/pkg/authz"
	"github.com/volant-labs/surety/pkg/contracts"
)

// SQLStore implements Store on database/sql. It is written against SQLite
// (modernc.org/sqlite) with portable SQL; every multi-step mutation runs in
// a transaction, so operations commit fully or not at all.
type SQLStore struct {
	db        *sql.DB
	allowlist *authz.Allowlist
}

// NewSQLStore wraps an open database handle gated by the allowlist. Call
// Init before first use.
func NewSQLStore(db *sql.DB, allowlist *authz.Allowlist) *SQLStore {
	return &SQLStore{db: db, allowlist: allowlist}
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	operational INTEGER NOT NULL,
	custody INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS airlines (
	account TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	funded INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS votes (
	candidate TEXT NOT NULL,
	proposer TEXT NOT NULL,
	PRIMARY KEY (candidate, proposer)
);
CREATE TABLE IF NOT EXISTS flights (
	key TEXT PRIMARY KEY,
	airline TEXT NOT NULL,
	number TEXT NOT NULL,
	origin TEXT,
	destination TEXT,
	ts INTEGER NOT NULL,
	status INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS policies (
	flight_key TEXT NOT NULL,
	passenger TEXT NOT NULL,
	premium INTEGER NOT NULL,
	multiplier INTEGER NOT NULL,
	credited INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (flight_key, passenger)
);
CREATE TABLE IF NOT EXISTS balances (
	passenger TEXT PRIMARY KEY,
	amount INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS oracles (
	account TEXT PRIMARY KEY,
	idx0 INTEGER NOT NULL,
	idx1 INTEGER NOT NULL,
	idx2 INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS response_groups (
	key TEXT PRIMARY KEY,
	requester TEXT NOT NULL,
	open INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS oracle_responses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_key TEXT NOT NULL,
	status INTEGER NOT NULL,
	oracle TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_bucket ON oracle_responses (group_key, status);
`

// Init creates the schema and the singleton meta row.
func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, storeSchema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (id, operational, custody) VALUES (1, 1, 0)
		 ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("store: init meta: %w", err)
	}
	return nil
}

// Allowlist exposes the capability table for owner administration.
func (s *SQLStore) Allowlist() *authz.Allowlist {
	return s.allowlist
}

// Operational implements Store.
func (s *SQLStore) Operational(ctx context.Context) (bool, error) {
	var op int
	err := s.db.QueryRowContext(ctx, `SELECT operational FROM meta WHERE id = 1`).Scan(&op)
	if err != nil {
		return false, err
	}
	return op != 0, nil
}

// SetOperational implements Store.
func (s *SQLStore) SetOperational(ctx context.Context, caller contracts.Account, mode bool) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE meta SET operational = ? WHERE id = 1`, boolInt(mode))
	return err
}

// CreateAirline implements Store.
func (s *SQLStore) CreateAirline(ctx context.Context, caller, account contracts.Account, name string) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if exists, err := rowExists(ctx, tx, `SELECT 1 FROM airlines WHERE account = ?`, account); err != nil {
			return err
		} else if exists {
			return contracts.ErrDuplicate
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO airlines (account, name, funded, created_at) VALUES (?, ?, 0, ?)`,
			account, name, time.Now().UTC().UnixNano())
		return err
	})
}

// SetAirlineFunded implements Store.
func (s *SQLStore) SetAirlineFunded(ctx context.Context, caller, account contracts.Account, payment contracts.Amount) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE airlines SET funded = 1 WHERE account = ?`, account)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return contracts.ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `UPDATE meta SET custody = custody + ? WHERE id = 1`, payment)
		return err
	})
}

// Airline implements Store.
func (s *SQLStore) Airline(ctx context.Context, account contracts.Account) (contracts.Airline, error) {
	var a contracts.Airline
	var funded int
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT account, name, funded, created_at FROM airlines WHERE account = ?`, account,
	).Scan(&a.Account, &a.Name, &funded, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Airline{}, contracts.ErrNotFound
	}
	if err != nil {
		return contracts.Airline{}, err
	}
	a.Registered = true
	a.Funded = funded != 0
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	return a, nil
}

// AirlineCount implements Store.
func (s *SQLStore) AirlineCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM airlines`).Scan(&n)
	return n, err
}

// Airlines implements Store.
func (s *SQLStore) Airlines(ctx context.Context) ([]contracts.Airline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account, name, funded, created_at FROM airlines ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Airline
	for rows.Next() {
		var a contracts.Airline
		var funded int
		var createdAt int64
		if err := rows.Scan(&a.Account, &a.Name, &funded, &createdAt); err != nil {
			return nil, err
		}
		a.Registered = true
		a.Funded = funded != 0
		a.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordVote implements Store.
func (s *SQLStore) RecordVote(ctx context.Context, caller contracts.Account, candidate, proposer contracts.Account) (int, error) {
	if err := s.allowlist.Require(caller); err != nil {
		return 0, err
	}
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := rowExists(ctx, tx,
			`SELECT 1 FROM votes WHERE candidate = ? AND proposer = ?`, candidate, proposer)
		if err != nil {
			return err
		}
		if exists {
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM votes WHERE candidate = ?`, candidate).Scan(&count); err != nil {
				return err
			}
			return contracts.ErrDuplicate
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO votes (candidate, proposer) VALUES (?, ?)`, candidate, proposer); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM votes WHERE candidate = ?`, candidate).Scan(&count)
	})
	return count, err
}

// ClearVotes implements Store.
func (s *SQLStore) ClearVotes(ctx context.Context, caller contracts.Account, candidate contracts.Account) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM votes WHERE candidate = ?`, candidate)
	return err
}

// CreateFlight implements Store.
func (s *SQLStore) CreateFlight(ctx context.Context, caller contracts.Account, flight contracts.Flight) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if exists, err := rowExists(ctx, tx, `SELECT 1 FROM flights WHERE key = ?`, flight.Key); err != nil {
			return err
		} else if exists {
			return contracts.ErrDuplicate
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO flights (key, airline, number, origin, destination, ts, status)
			 VALUES (?, ?, ?, ?, ?, ?, 0)`,
			flight.Key, flight.Airline, flight.Number, flight.Origin, flight.Destination, flight.Timestamp)
		return err
	})
}

// Flight implements Store.
func (s *SQLStore) Flight(ctx context.Context, key contracts.FlightKey) (contracts.Flight, error) {
	var f contracts.Flight
	var status int
	err := s.db.QueryRowContext(ctx,
		`SELECT key, airline, number, origin, destination, ts, status FROM flights WHERE key = ?`, key,
	).Scan(&f.Key, &f.Airline, &f.Number, &f.Origin, &f.Destination, &f.Timestamp, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Flight{}, contracts.ErrNotFound
	}
	if err != nil {
		return contracts.Flight{}, err
	}
	f.Registered = true
	f.Status = contracts.StatusCode(status)
	return f, nil
}

// SetFlightStatus implements Store. The status guard lives in the UPDATE's
// WHERE clause, so the first writer wins even across processes.
func (s *SQLStore) SetFlightStatus(ctx context.Context, caller contracts.Account, key contracts.FlightKey, status contracts.StatusCode) (bool, error) {
	if err := s.allowlist.Require(caller); err != nil {
		return false, err
	}
	var applied bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if exists, err := rowExists(ctx, tx, `SELECT 1 FROM flights WHERE key = ?`, key); err != nil {
			return err
		} else if !exists {
			return contracts.ErrNotFound
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE flights SET status = ? WHERE key = ? AND status = 0`, status, key)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = n > 0
		return nil
	})
	return applied, err
}

// CreatePolicy implements Store.
func (s *SQLStore) CreatePolicy(ctx context.Context, caller contracts.Account, key contracts.FlightKey, policy contracts.Policy) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if exists, err := rowExists(ctx, tx, `SELECT 1 FROM flights WHERE key = ?`, key); err != nil {
			return err
		} else if !exists {
			return contracts.ErrNotFound
		}
		exists, err := rowExists(ctx, tx,
			`SELECT 1 FROM policies WHERE flight_key = ? AND passenger = ?`, key, policy.Passenger)
		if err != nil {
			return err
		}
		if exists {
			return contracts.ErrDuplicate
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO policies (flight_key, passenger, premium, multiplier, credited)
			 VALUES (?, ?, ?, ?, 0)`,
			key, policy.Passenger, policy.Premium, policy.Multiplier); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE meta SET custody = custody + ? WHERE id = 1`, policy.Premium)
		return err
	})
}

// Policies implements Store.
func (s *SQLStore) Policies(ctx context.Context, key contracts.FlightKey) ([]contracts.Policy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT passenger, premium, multiplier, credited FROM policies WHERE flight_key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Policy
	for rows.Next() {
		var p contracts.Policy
		var credited int
		if err := rows.Scan(&p.Passenger, &p.Premium, &p.Multiplier, &credited); err != nil {
			return nil, err
		}
		p.Credited = credited != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasPolicy implements Store.
func (s *SQLStore) HasPolicy(ctx context.Context, key contracts.FlightKey, passenger contracts.Account) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM policies WHERE flight_key = ? AND passenger = ?`, key, passenger).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// CreditInsurees implements Store.
func (s *SQLStore) CreditInsurees(ctx context.Context, caller contracts.Account, key contracts.FlightKey) ([]CreditEntry, error) {
	if err := s.allowlist.Require(caller); err != nil {
		return nil, err
	}
	var entries []CreditEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT passenger, premium, multiplier FROM policies
			 WHERE flight_key = ? AND credited = 0`, key)
		if err != nil {
			return err
		}
		type pending struct {
			passenger contracts.Account
			amount    contracts.Amount
		}
		var sweep []pending
		for rows.Next() {
			var passenger contracts.Account
			var premium contracts.Amount
			var multiplier int
			if err := rows.Scan(&passenger, &premium, &multiplier); err != nil {
				_ = rows.Close()
				return err
			}
			sweep = append(sweep, pending{passenger, premium * contracts.Amount(multiplier) / 100})
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, p := range sweep {
			if _, err := tx.ExecContext(ctx,
				`UPDATE policies SET credited = 1 WHERE flight_key = ? AND passenger = ?`,
				key, p.passenger); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO balances (passenger, amount) VALUES (?, ?)
				 ON CONFLICT (passenger) DO UPDATE SET amount = amount + excluded.amount`,
				p.passenger, p.amount); err != nil {
				return err
			}
			entries = append(entries, CreditEntry{Passenger: p.passenger, Amount: p.amount})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PendingBalance implements Store.
func (s *SQLStore) PendingBalance(ctx context.Context, passenger contracts.Account) (contracts.Amount, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE passenger = ?`, passenger).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return contracts.Amount(amount), err
}

// DebitPending implements Store.
func (s *SQLStore) DebitPending(ctx context.Context, caller contracts.Account, passenger contracts.Account) (contracts.Amount, error) {
	if err := s.allowlist.Require(caller); err != nil {
		return 0, err
	}
	var debited contracts.Amount
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var amount int64
		err := tx.QueryRowContext(ctx,
			`SELECT amount FROM balances WHERE passenger = ?`, passenger).Scan(&amount)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && amount <= 0) {
			return contracts.ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE balances SET amount = 0 WHERE passenger = ?`, passenger); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE meta SET custody = custody - ? WHERE id = 1`, amount); err != nil {
			return err
		}
		debited = contracts.Amount(amount)
		return nil
	})
	return debited, err
}

// Custody implements Store.
func (s *SQLStore) Custody(ctx context.Context) (contracts.Amount, error) {
	var custody int64
	err := s.db.QueryRowContext(ctx, `SELECT custody FROM meta WHERE id = 1`).Scan(&custody)
	return contracts.Amount(custody), err
}

// CreateOracle implements Store.
func (s *SQLStore) CreateOracle(ctx context.Context, caller contracts.Account, oracle contracts.Oracle, fee contracts.Amount) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if exists, err := rowExists(ctx, tx, `SELECT 1 FROM oracles WHERE account = ?`, oracle.Account); err != nil {
			return err
		} else if exists {
			return contracts.ErrDuplicate
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO oracles (account, idx0, idx1, idx2) VALUES (?, ?, ?, ?)`,
			oracle.Account, oracle.Indexes[0], oracle.Indexes[1], oracle.Indexes[2]); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE meta SET custody = custody + ? WHERE id = 1`, fee)
		return err
	})
}

// Oracle implements Store.
func (s *SQLStore) Oracle(ctx context.Context, account contracts.Account) (contracts.Oracle, error) {
	var o contracts.Oracle
	err := s.db.QueryRowContext(ctx,
		`SELECT account, idx0, idx1, idx2 FROM oracles WHERE account = ?`, account,
	).Scan(&o.Account, &o.Indexes[0], &o.Indexes[1], &o.Indexes[2])
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Oracle{}, contracts.ErrNotFound
	}
	if err != nil {
		return contracts.Oracle{}, err
	}
	o.Registered = true
	return o, nil
}

// OpenResponseGroup implements Store. Reopening drops the stale group's
// responses.
func (s *SQLStore) OpenResponseGroup(ctx context.Context, caller contracts.Account, key contracts.RequestKey, requester contracts.Account) error {
	if err := s.allowlist.Require(caller); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM oracle_responses WHERE group_key = ?`, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO response_groups (key, requester, open) VALUES (?, ?, 1)
			 ON CONFLICT (key) DO UPDATE SET requester = excluded.requester, open = 1`,
			key, requester)
		return err
	})
}

// ResponseGroup implements Store.
func (s *SQLStore) ResponseGroup(ctx context.Context, key contracts.RequestKey) (*contracts.ResponseGroup, error) {
	var g contracts.ResponseGroup
	var open int
	err := s.db.QueryRowContext(ctx,
		`SELECT requester, open FROM response_groups WHERE key = ?`, key).Scan(&g.Requester, &open)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Open = open != 0
	g.Responses = make(map[contracts.StatusCode][]contracts.Account)

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, oracle FROM oracle_responses WHERE group_key = ? ORDER BY id`, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status int
		var oracle contracts.Account
		if err := rows.Scan(&status, &oracle); err != nil {
			return nil, err
		}
		code := contracts.StatusCode(status)
		g.Responses[code] = append(g.Responses[code], oracle)
	}
	return &g, rows.Err()
}

// AppendResponse implements Store.
func (s *SQLStore) AppendResponse(ctx context.Context, caller contracts.Account, key contracts.RequestKey, status contracts.StatusCode, oracle contracts.Account) (int, error) {
	if err := s.allowlist.Require(caller); err != nil {
		return 0, err
	}
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if exists, err := rowExists(ctx, tx, `SELECT 1 FROM response_groups WHERE key = ?`, key); err != nil {
			return err
		} else if !exists {
			return contracts.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO oracle_responses (group_key, status, oracle) VALUES (?, ?, ?)`,
			key, status, oracle); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM oracle_responses WHERE group_key = ? AND status = ?`,
			key, status).Scan(&count)
	})
	return count, err
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rowExists(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
