package payout_test

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volant-labs/surety/pkg/contracts"
	"github.com/volant-labs/surety/pkg/payout"
)

func TestPostgresCustody_WithdrawLocksRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT balance FROM custody_accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("custody").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(10))
	mock.ExpectExec(`UPDATE custody_accounts SET balance = balance - \$1 WHERE id = \$2`).
		WithArgs(contracts.Amount(4), "custody").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tracker := payout.NewPostgresCustody(db)
	err = tracker.Withdraw(context.Background(), "custody", 4)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCustody_WithdrawInsufficient(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT balance FROM custody_accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs("custody").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(3))
	mock.ExpectRollback()

	tracker := payout.NewPostgresCustody(db)
	err = tracker.Withdraw(context.Background(), "custody", 4)
	assert.ErrorIs(t, err, contracts.ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCustody_DepositUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`INSERT INTO custody_accounts`).
		WithArgs("custody", contracts.Amount(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tracker := payout.NewPostgresCustody(db)
	require.NoError(t, tracker.Deposit(context.Background(), "custody", 10))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCustody_RejectsNonPositiveAmounts(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	tracker := payout.NewPostgresCustody(db)
	assert.ErrorIs(t, tracker.Deposit(context.Background(), "custody", 0), contracts.ErrOutOfRange)
	assert.ErrorIs(t, tracker.Withdraw(context.Background(), "custody", -1), contracts.ErrOutOfRange)
}
