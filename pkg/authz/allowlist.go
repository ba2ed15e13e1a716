// Package authz implements the caller allowlist that gates every
// state-mutating operation on the ledger state store. The allowlist is an
// explicit capability table injected into the store at construction; only
// the owner may grant or revoke entries.
package authz

import (
	"sync"

	"github.com/volant-labs/surety/pkg/contracts"
)

// Allowlist is the capability table. The zero value is unusable; construct
// with New.
type Allowlist struct {
	mu      sync.RWMutex
	owner   contracts.Account
	callers map[contracts.Account]struct{}
}

// New creates an allowlist administered by owner. The owner itself is not
// implicitly authorized to mutate state.
func New(owner contracts.Account) *Allowlist {
	return &Allowlist{
		owner:   owner,
		callers: make(map[contracts.Account]struct{}),
	}
}

// Owner returns the administering account.
func (a *Allowlist) Owner() contracts.Account {
	return a.owner
}

// Grant authorizes caller to invoke state-mutating entry points. Granting an
// already-authorized caller is idempotent.
func (a *Allowlist) Grant(by, caller contracts.Account) error {
	if by != a.owner {
		return contracts.ErrNotOwner
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callers[caller] = struct{}{}
	return nil
}

// Revoke removes caller from the allowlist. Revoking an unknown caller is a
// no-op.
func (a *Allowlist) Revoke(by, caller contracts.Account) error {
	if by != a.owner {
		return contracts.ErrNotOwner
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.callers, caller)
	return nil
}

// Check reports whether caller may invoke state-mutating entry points.
func (a *Allowlist) Check(caller contracts.Account) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.callers[caller]
	return ok
}

// Require returns ErrUnauthorized unless caller is on the allowlist.
func (a *Allowlist) Require(caller contracts.Account) error {
	if !a.Check(caller) {
		return contracts.ErrUnauthorized
	}
	return nil
}
