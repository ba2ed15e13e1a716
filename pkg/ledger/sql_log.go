package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/volant-labs/surety/pkg/canonicalize"
)

// SQLLog implements Log on database/sql. It is written against SQLite
// (modernc.org/sqlite) but uses only portable SQL.
type SQLLog struct {
	db *sql.DB
}

// NewSQLLog wraps an open database handle. Call Init before first use.
func NewSQLLog(db *sql.DB) *SQLLog {
	return &SQLLog{db: db}
}

const logSchema = `
CREATE TABLE IF NOT EXISTS commit_log (
	position INTEGER PRIMARY KEY,
	operation TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	committed_at INTEGER NOT NULL
);
`

// Init creates the schema if missing.
func (l *SQLLog) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, logSchema)
	return err
}

// Commit implements Log. The read of the current head and the insert run in
// one transaction so positions stay dense and the chain unbroken.
func (l *SQLLog) Commit(ctx context.Context, operation string, payload interface{}) (*Record, error) {
	payloadHash, err := canonicalize.CanonicalHash(payload)
	if err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position uint64
	previous := "genesis"
	row := tx.QueryRowContext(ctx,
		`SELECT position, commit_hash FROM commit_log ORDER BY position DESC LIMIT 1`)
	var headPos uint64
	var headHash string
	switch err := row.Scan(&headPos, &headHash); {
	case err == nil:
		position = headPos + 1
		previous = headHash
	case errors.Is(err, sql.ErrNoRows):
		position = 0
	default:
		return nil, fmt.Errorf("ledger: head lookup: %w", err)
	}

	rec := &Record{
		Position:     position,
		Operation:    operation,
		PayloadHash:  payloadHash,
		PreviousHash: previous,
		CommittedAt:  time.Now().UTC(),
	}
	rec.CommitHash = commitHash(rec)

	// committed_at is stored as unix nanoseconds so the commit hash can be
	// recomputed bit-exactly on read-back.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO commit_log (position, operation, payload_hash, commit_hash, previous_hash, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Position, rec.Operation, rec.PayloadHash, rec.CommitHash, rec.PreviousHash, rec.CommittedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit tx: %w", err)
	}
	return rec, nil
}

// Get implements Log.
func (l *SQLLog) Get(ctx context.Context, position uint64) (*Record, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT position, operation, payload_hash, commit_hash, previous_hash, committed_at
		 FROM commit_log WHERE position = ?`, position)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// Range implements Log.
func (l *SQLLog) Range(ctx context.Context, start, end uint64) ([]*Record, error) {
	if start >= end {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT position, operation, payload_hash, commit_hash, previous_hash, committed_at
		 FROM commit_log WHERE position >= ? AND position < ? ORDER BY position`, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Head implements Log.
func (l *SQLLog) Head(ctx context.Context) (*Record, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT position, operation, payload_hash, commit_hash, previous_hash, committed_at
		 FROM commit_log ORDER BY position DESC LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

// Verify implements Log.
func (l *SQLLog) Verify(ctx context.Context, start, end uint64) (bool, error) {
	records, err := l.Range(ctx, 0, end)
	if err != nil {
		return false, err
	}
	if start >= uint64(len(records)) {
		return true, nil
	}
	return verifyChain(records, start)
}

// Len implements Log.
func (l *SQLLog) Len() uint64 {
	var n uint64
	_ = l.db.QueryRow(`SELECT COUNT(*) FROM commit_log`).Scan(&n)
	return n
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var committedAt int64
	err := row.Scan(&rec.Position, &rec.Operation, &rec.PayloadHash,
		&rec.CommitHash, &rec.PreviousHash, &committedAt)
	if err != nil {
		return nil, err
	}
	rec.CommittedAt = time.Unix(0, committedAt).UTC()
	return &rec, nil
}
