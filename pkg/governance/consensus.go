// Package governance implements the multi-party consensus primitives of the
// settlement core: distinct-proposer vote tallies and the registration
// approval threshold.
package governance

import (
	"sync"

	"github.com/volant-labs/surety/pkg/contracts"
)

// Threshold returns the number of distinct funded-airline approvals required
// to register a candidate, given the current registered-airline count.
//
// Below FastPathAirlines any single funded airline approves unilaterally.
// From there on the threshold is floor(registered/ConsensusDivisor). The
// floor division under-counts a strict 50% requirement for odd counts; this
// is preserved intentionally for compatibility.
func Threshold(registered int) int {
	if registered < contracts.FastPathAirlines {
		return 1
	}
	return registered / contracts.ConsensusDivisor
}

// Tally tracks the distinct proposers who voted for each pending subject
// (candidate airline address, or an administrative action key). Cleared on
// success so a later proposal for the same subject starts fresh.
type Tally struct {
	mu    sync.Mutex
	votes map[string]map[contracts.Account]struct{}
}

// NewTally creates an empty tally.
func NewTally() *Tally {
	return &Tally{votes: make(map[string]map[contracts.Account]struct{})}
}

// Vote records proposer's approval of subject and returns the resulting
// distinct-proposer count. A duplicate vote by the same proposer returns
// ErrDuplicate and leaves the tally unchanged.
func (t *Tally) Vote(subject string, proposer contracts.Account) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.votes[subject]
	if !ok {
		set = make(map[contracts.Account]struct{})
		t.votes[subject] = set
	}
	if _, voted := set[proposer]; voted {
		return len(set), contracts.ErrDuplicate
	}
	set[proposer] = struct{}{}
	return len(set), nil
}

// Count returns the current distinct-proposer count for subject.
func (t *Tally) Count(subject string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.votes[subject])
}

// Clear discards all votes for subject.
func (t *Tally) Clear(subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.votes, subject)
}
