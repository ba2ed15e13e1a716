package oracle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volant-labs/surety/pkg/contracts"
	"github.com/volant-labs/surety/pkg/ledger"
	"github.com/volant-labs/surety/pkg/oracle"
)

func TestAssign_DistinctIndexesInRange(t *testing.T) {
	src := oracle.NewIndexSource(oracle.StaticSeed("seed"))
	ctx := context.Background()

	// Many oracles: every assignment must be three pairwise-distinct indexes
	// in [0, 10).
	for i := 0; i < 50; i++ {
		account := contracts.Account(string(rune('a' + i%26)))
		idx, err := src.Assign(ctx, account)
		require.NoError(t, err)

		assert.NotEqual(t, idx[0], idx[1])
		assert.NotEqual(t, idx[0], idx[2])
		assert.NotEqual(t, idx[1], idx[2])
		for _, v := range idx {
			assert.Less(t, v, uint8(contracts.IndexRange))
		}
	}
}

func TestAssign_NonceDivergesRepeatDraws(t *testing.T) {
	src := oracle.NewIndexSource(oracle.StaticSeed("seed"))
	ctx := context.Background()

	// Same account, same seed: the advancing nonce must still move the draws
	// apart across a handful of registrations.
	seen := make(map[[3]uint8]bool)
	for i := 0; i < 8; i++ {
		idx, err := src.Assign(ctx, "oracle:x")
		require.NoError(t, err)
		seen[idx] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestScopingIndex_InRange(t *testing.T) {
	src := oracle.NewIndexSource(oracle.StaticSeed("seed"))
	idx, err := src.ScopingIndex(context.Background(), "requester")
	require.NoError(t, err)
	assert.Less(t, idx, uint8(contracts.IndexRange))
}

func TestLogSeed_EmptyLogFallsBackToGenesis(t *testing.T) {
	seed := oracle.LogSeed{Log: ledger.NewMemLog()}
	b, err := seed.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("genesis"), b)
}

func TestLogSeed_TracksHead(t *testing.T) {
	ctx := context.Background()
	log := ledger.NewMemLog()
	rec, err := log.Commit(ctx, "op", map[string]interface{}{"k": "v"})
	require.NoError(t, err)

	seed := oracle.LogSeed{Log: log}
	b, err := seed.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte(rec.CommitHash), b)
}
