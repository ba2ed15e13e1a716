// Package oracle implements index assignment for the oracle consensus
// protocol: every registered oracle holds three pairwise-distinct indexes in
// [0, IndexRange), and a request is scoped to one index derived the same way.
//
// The entropy source is WEAK on purpose: indexes mix an external seed (the
// commit log's head hash, the analog of a recent block hash), a per-process
// nonce, and the account identity. A motivated party observing the log can
// predict assignments (seed-grinding). Acceptable for the low-stakes
// simulation context this protocol was designed for; any reuse elsewhere
// must substitute a cryptographically secure source.
package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/volant-labs/surety/pkg/contracts"
	"github.com/volant-labs/surety/pkg/ledger"
	"golang.org/x/crypto/sha3"
)

// SeedSource supplies the external entropy seed for a draw.
type SeedSource interface {
	Seed(ctx context.Context) ([]byte, error)
}

// LogSeed derives seeds from the commit log's head hash. An empty log seeds
// from the genesis marker.
type LogSeed struct {
	Log ledger.Log
}

// Seed implements SeedSource.
func (s LogSeed) Seed(ctx context.Context) ([]byte, error) {
	head, err := s.Log.Head(ctx)
	if errors.Is(err, ledger.ErrRecordNotFound) {
		return []byte("genesis"), nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(head.CommitHash), nil
}

// StaticSeed returns a fixed seed; used in tests to pin assignments.
type StaticSeed []byte

// Seed implements SeedSource.
func (s StaticSeed) Seed(context.Context) ([]byte, error) {
	return []byte(s), nil
}

// IndexSource assigns oracle indexes. The nonce increments on every draw so
// repeated registrations by one account diverge.
type IndexSource struct {
	mu    sync.Mutex
	seeds SeedSource
	nonce uint64
}

// NewIndexSource creates an assigner over the given seed source.
func NewIndexSource(seeds SeedSource) *IndexSource {
	return &IndexSource{seeds: seeds}
}

// Assign draws three pairwise-distinct indexes in [0, IndexRange) for account.
func (s *IndexSource) Assign(ctx context.Context, account contracts.Account) ([contracts.OracleIndexCount]uint8, error) {
	var indexes [contracts.OracleIndexCount]uint8

	seed, err := s.seeds.Seed(ctx)
	if err != nil {
		return indexes, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < contracts.OracleIndexCount; i++ {
		idx := s.draw(seed, account)
		for taken(indexes[:i], idx) {
			idx = s.draw(seed, account)
		}
		indexes[i] = idx
	}
	return indexes, nil
}

// ScopingIndex draws the single index that scopes a status request.
func (s *IndexSource) ScopingIndex(ctx context.Context, requester contracts.Account) (uint8, error) {
	seed, err := s.seeds.Seed(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draw(seed, requester), nil
}

// draw mixes seed, the incrementing nonce, and the account identity into one
// index. Callers hold s.mu.
func (s *IndexSource) draw(seed []byte, account contracts.Account) uint8 {
	s.nonce++

	h := sha3.NewLegacyKeccak256()
	h.Write(seed)
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], s.nonce)
	h.Write(nonce[:])
	h.Write([]byte(account))
	sum := h.Sum(nil)

	return uint8(binary.BigEndian.Uint64(sum[:8]) % contracts.IndexRange)
}

func taken(assigned []uint8, idx uint8) bool {
	for _, a := range assigned {
		if a == idx {
			return true
		}
	}
	return false
}
