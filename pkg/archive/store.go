// Package archive snapshots segments of the committed-operation log into
// content-addressed object storage. Archives let auditors verify historical
// chain integrity without access to the live node.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Store defines the contract for content-addressed storage of archive blobs.
type Store interface {
	// Store persists data and returns its content hash (SHA-256).
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists checks if a blob exists by its content hash.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes a blob by its content hash.
	Delete(ctx context.Context, hash string) error
}

// contentHash computes the prefixed content address of data.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// rawHash strips and validates the "sha256:" prefix.
func rawHash(hash string) (string, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	raw := hash[7:]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid hash hex: %w", err)
	}
	return raw, nil
}

// MemStore is the in-memory reference store, used in tests and single-node
// development.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

// Store implements Store. Storing the same bytes twice is idempotent.
func (s *MemStore) Store(ctx context.Context, data []byte) (string, error) {
	hash := contentHash(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[hash]; !ok {
		s.blobs[hash] = append([]byte(nil), data...)
	}
	return hash, nil
}

// Get implements Store.
func (s *MemStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if _, err := rawHash(hash); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("archive blob not found: %s", hash)
	}
	return append([]byte(nil), data...), nil
}

// Exists implements Store.
func (s *MemStore) Exists(ctx context.Context, hash string) (bool, error) {
	if _, err := rawHash(hash); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[hash]
	return ok, nil
}

// Delete implements Store. Deleting an absent blob is a no-op.
func (s *MemStore) Delete(ctx context.Context, hash string) error {
	if _, err := rawHash(hash); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, hash)
	return nil
}
