package governance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volant-labs/surety/pkg/contracts"
	"github.com/volant-labs/surety/pkg/governance"
)

func TestThreshold(t *testing.T) {
	cases := []struct {
		registered int
		want       int
	}{
		{1, 1}, // fast path
		{2, 1},
		{3, 1},
		{4, 2}, // floor(4/2)
		{5, 2}, // floor(5/2), under-counts strict 50% by design
		{6, 3},
		{7, 3},
		{10, 5},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, governance.Threshold(c.registered),
			"registered=%d", c.registered)
	}
}

func TestTally_DistinctProposers(t *testing.T) {
	tally := governance.NewTally()

	n, err := tally.Vote("candidate:e", "airline:a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Duplicate vote rejected without altering the tally.
	n, err = tally.Vote("candidate:e", "airline:a")
	assert.ErrorIs(t, err, contracts.ErrDuplicate)
	assert.Equal(t, 1, n)

	n, err = tally.Vote("candidate:e", "airline:b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, tally.Count("candidate:e"))
}

func TestTally_ClearedOnSuccess(t *testing.T) {
	tally := governance.NewTally()
	_, err := tally.Vote("candidate:e", "airline:a")
	require.NoError(t, err)

	tally.Clear("candidate:e")
	assert.Equal(t, 0, tally.Count("candidate:e"))

	// A fresh proposal starts from zero, the earlier proposer may vote again.
	n, err := tally.Vote("candidate:e", "airline:a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
