package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/volant-labs/surety/pkg/contracts"
)

// PostgresCustody tracks custody balances in PostgreSQL. Row-level locking
// via SELECT FOR UPDATE makes concurrent deposits and withdrawals safe
// across node replicas.
type PostgresCustody struct {
	db *sql.DB
}

// NewPostgresCustody creates a PostgreSQL-backed custody tracker.
func NewPostgresCustody(db *sql.DB) *PostgresCustody {
	return &PostgresCustody{db: db}
}

const custodySchema = `
CREATE TABLE IF NOT EXISTS custody_accounts (
	id TEXT PRIMARY KEY,
	balance BIGINT NOT NULL DEFAULT 0
);
`

// Init creates the schema if missing.
func (c *PostgresCustody) Init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, custodySchema)
	return err
}

// Deposit adds amount to the custody account, creating it when absent.
func (c *PostgresCustody) Deposit(ctx context.Context, id string, amount contracts.Amount) error {
	if amount <= 0 {
		return contracts.ErrOutOfRange
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO custody_accounts (id, balance) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET balance = custody_accounts.balance + EXCLUDED.balance`,
		id, amount,
	)
	if err != nil {
		return fmt.Errorf("payout: custody deposit: %w", err)
	}
	return nil
}

// Withdraw atomically deducts amount; the row lock prevents a double spend
// when two replicas disburse concurrently.
func (c *PostgresCustody) Withdraw(ctx context.Context, id string, amount contracts.Amount) error {
	if amount <= 0 {
		return contracts.ErrOutOfRange
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("payout: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM custody_accounts WHERE id = $1 FOR UPDATE`, id,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.ErrNotFound
		}
		return fmt.Errorf("payout: custody lock: %w", err)
	}

	if balance < int64(amount) {
		return contracts.ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE custody_accounts SET balance = balance - $1 WHERE id = $2`,
		amount, id,
	)
	if err != nil {
		return fmt.Errorf("payout: custody update: %w", err)
	}
	return tx.Commit()
}

// Balance returns the current custody balance, zero for unknown accounts.
func (c *PostgresCustody) Balance(ctx context.Context, id string) (contracts.Amount, error) {
	var balance int64
	err := c.db.QueryRowContext(ctx,
		`SELECT balance FROM custody_accounts WHERE id = $1`, id,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return contracts.Amount(balance), nil
}
