// Package ledger provides the tamper-evident, totally ordered log of
// committed operations. Every state-mutating entry point appends one record;
// the global commit order is the ordering authority for "first writer wins"
// races. The head hash also serves as the external entropy seed for oracle
// index assignment.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/volant-labs/surety/pkg/canonicalize"
)

// ErrRecordNotFound is returned when a position is beyond the log head.
var ErrRecordNotFound = errors.New("ledger: record not found")

// Record is a committed operation with a unique position in total order.
type Record struct {
	// Position is the globally unique position in total order.
	Position uint64 `json:"position"`
	// Operation names the entry point that committed this record.
	Operation string `json:"operation"`
	// PayloadHash is the canonical (RFC 8785) hash of the operation payload.
	PayloadHash string `json:"payload_hash"`
	// CommitHash chains this record to its predecessor.
	CommitHash string `json:"commit_hash"`
	// PreviousHash is the predecessor's commit hash ("genesis" at position 0).
	PreviousHash string `json:"previous_hash"`
	// CommittedAt is the commit timestamp (UTC).
	CommittedAt time.Time `json:"committed_at"`
}

// Log is the committed-operation log.
type Log interface {
	// Commit appends an operation, assigning it the next total-order position.
	Commit(ctx context.Context, operation string, payload interface{}) (*Record, error)

	// Get retrieves the record at a position.
	Get(ctx context.Context, position uint64) (*Record, error)

	// Range returns records in [start, end).
	Range(ctx context.Context, start, end uint64) ([]*Record, error)

	// Head returns the latest committed record, or ErrRecordNotFound when empty.
	Head(ctx context.Context) (*Record, error)

	// Verify checks hash-chain integrity over [start, end).
	Verify(ctx context.Context, start, end uint64) (bool, error)

	// Len returns the number of committed records.
	Len() uint64
}

// MemLog is the in-memory reference implementation.
type MemLog struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemLog creates an empty in-memory log.
func NewMemLog() *MemLog {
	return &MemLog{records: make([]*Record, 0)}
}

// Commit implements Log.
func (l *MemLog) Commit(ctx context.Context, operation string, payload interface{}) (*Record, error) {
	payloadHash, err := canonicalize.CanonicalHash(payload)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	position := uint64(len(l.records))
	previous := "genesis"
	if position > 0 {
		previous = l.records[position-1].CommitHash
	}
	now := time.Now().UTC()

	rec := &Record{
		Position:     position,
		Operation:    operation,
		PayloadHash:  payloadHash,
		PreviousHash: previous,
		CommittedAt:  now,
	}
	rec.CommitHash = commitHash(rec)

	l.records = append(l.records, rec)
	return rec, nil
}

// Get implements Log.
func (l *MemLog) Get(ctx context.Context, position uint64) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if position >= uint64(len(l.records)) {
		return nil, ErrRecordNotFound
	}
	return l.records[position], nil
}

// Range implements Log.
func (l *MemLog) Range(ctx context.Context, start, end uint64) ([]*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	max := uint64(len(l.records))
	if start >= max || start >= end {
		return nil, nil
	}
	if end > max {
		end = max
	}
	out := make([]*Record, end-start)
	copy(out, l.records[start:end])
	return out, nil
}

// Head implements Log.
func (l *MemLog) Head(ctx context.Context) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.records) == 0 {
		return nil, ErrRecordNotFound
	}
	return l.records[len(l.records)-1], nil
}

// Verify implements Log.
func (l *MemLog) Verify(ctx context.Context, start, end uint64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	max := uint64(len(l.records))
	if start >= max {
		return true, nil
	}
	if end > max {
		end = max
	}
	return verifyChain(l.records[:end], start)
}

// Len implements Log.
func (l *MemLog) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.records))
}

// verifyChain checks linkage and recomputes commit hashes from start to the
// end of records.
func verifyChain(records []*Record, start uint64) (bool, error) {
	for i := start; i < uint64(len(records)); i++ {
		rec := records[i]

		expectedPrev := "genesis"
		if i > 0 {
			expectedPrev = records[i-1].CommitHash
		}
		if rec.PreviousHash != expectedPrev {
			return false, errors.New("ledger: chain broken, previous hash mismatch")
		}
		if rec.CommitHash != commitHash(rec) {
			return false, errors.New("ledger: chain broken, commit hash mismatch")
		}
	}
	return true, nil
}

// commitHash computes the deterministic commit hash over the record's
// position, predecessor, payload hash, operation, and timestamp.
func commitHash(rec *Record) string {
	h := sha256.New()

	var pos [8]byte
	binary.BigEndian.PutUint64(pos[:], rec.Position)
	h.Write(pos[:])
	h.Write([]byte(rec.PreviousHash))
	h.Write([]byte(rec.Operation))
	h.Write([]byte(rec.PayloadHash))
	h.Write([]byte(rec.CommittedAt.Format(time.RFC3339Nano)))

	return hex.EncodeToString(h.Sum(nil))
}
