package payout

import (
	"context"
	"sync"
	"time"

	"github.com/volant-labs/surety/pkg/contracts"
)

// WatermarkStore persists per-caller watermarks. A call is admitted only
// when the stored watermark has passed; admission forward-dates the
// watermark by the window, so spacing is enforced without holding a lock
// across the guarded operation.
type WatermarkStore interface {
	// Acquire admits key if its watermark has passed, advancing the
	// watermark to now+window on success.
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}

// RateLimiter enforces minimum spacing between successive guarded calls.
type RateLimiter struct {
	store  WatermarkStore
	window time.Duration
}

// NewRateLimiter creates a limiter with the given spacing window. A zero
// window admits everything.
func NewRateLimiter(store WatermarkStore, window time.Duration) *RateLimiter {
	return &RateLimiter{store: store, window: window}
}

// Allow returns ErrRateLimited when the caller's watermark has not passed.
func (l *RateLimiter) Allow(ctx context.Context, caller contracts.Account) error {
	if l.window <= 0 {
		return nil
	}
	ok, err := l.store.Acquire(ctx, string(caller), l.window)
	if err != nil {
		return err
	}
	if !ok {
		return contracts.ErrRateLimited
	}
	return nil
}

// MemWatermarks is the in-memory watermark store.
type MemWatermarks struct {
	mu  sync.Mutex
	wm  map[string]time.Time
	now func() time.Time
}

// NewMemWatermarks creates an empty store.
func NewMemWatermarks() *MemWatermarks {
	return &MemWatermarks{wm: make(map[string]time.Time), now: time.Now}
}

// SetClock overrides the time source; used in tests.
func (s *MemWatermarks) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Acquire implements WatermarkStore.
func (s *MemWatermarks) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, ok := s.wm[key]; ok && now.Before(until) {
		return false, nil
	}
	s.wm[key] = now.Add(window)
	return true, nil
}
