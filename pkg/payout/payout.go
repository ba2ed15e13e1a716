// Package payout implements the credit/withdrawal ledger arithmetic and the
// safety guards on the withdrawal path: a reentrancy guard and a
// watermark-based rate limiter.
package payout

import (
	"sync/atomic"

	"github.com/volant-labs/surety/pkg/contracts"
)

// Credit computes the amount owed for a policy: floor(premium * multiplier /
// 100). Integer division truncates; a 1-unit premium at 150% credits 1 unit.
func Credit(premium contracts.Amount, multiplier int) contracts.Amount {
	return premium * contracts.Amount(multiplier) / 100
}

// Guard rejects nested invocation of a protected operation. It complements,
// not replaces, checks-effects-interactions ordering on the withdrawal path.
type Guard struct {
	entered int32
}

// Do runs fn unless the guard is already held on this or another goroutine,
// in which case it returns ErrReentrantCall without running fn.
func (g *Guard) Do(fn func() error) error {
	if !atomic.CompareAndSwapInt32(&g.entered, 0, 1) {
		return contracts.ErrReentrantCall
	}
	defer atomic.StoreInt32(&g.entered, 0)
	return fn()
}
