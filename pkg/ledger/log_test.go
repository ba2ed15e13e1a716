package ledger_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volant-labs/surety/pkg/ledger"

	_ "modernc.org/sqlite"
)

func TestMemLog_ChainAndVerify(t *testing.T) {
	ctx := context.Background()
	log := ledger.NewMemLog()

	r0, err := log.Commit(ctx, "airline.register", map[string]interface{}{"airline": "a"})
	require.NoError(t, err)
	r1, err := log.Commit(ctx, "airline.fund", map[string]interface{}{"airline": "a", "amount": 10})
	require.NoError(t, err)

	assert.Equal(t, uint64(0), r0.Position)
	assert.Equal(t, uint64(1), r1.Position)
	assert.Equal(t, "genesis", r0.PreviousHash)
	assert.Equal(t, r0.CommitHash, r1.PreviousHash)

	ok, err := log.Verify(ctx, 0, log.Len())
	require.NoError(t, err)
	assert.True(t, ok)

	head, err := log.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, r1.CommitHash, head.CommitHash)
}

func TestMemLog_EmptyHead(t *testing.T) {
	log := ledger.NewMemLog()
	_, err := log.Head(context.Background())
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func TestMemLog_Range(t *testing.T) {
	ctx := context.Background()
	log := ledger.NewMemLog()
	for i := 0; i < 5; i++ {
		_, err := log.Commit(ctx, "op", map[string]interface{}{"i": i})
		require.NoError(t, err)
	}

	recs, err := log.Range(ctx, 1, 4)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(1), recs[0].Position)
	assert.Equal(t, uint64(3), recs[2].Position)

	recs, err = log.Range(ctx, 10, 20)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLLog_ChainAndVerify(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	log := ledger.NewSQLLog(db)
	require.NoError(t, log.Init(ctx))

	r0, err := log.Commit(ctx, "flight.register", map[string]interface{}{"flight": "AA1"})
	require.NoError(t, err)
	r1, err := log.Commit(ctx, "flight.status", map[string]interface{}{"flight": "AA1", "status": 20})
	require.NoError(t, err)

	assert.Equal(t, "genesis", r0.PreviousHash)
	assert.Equal(t, r0.CommitHash, r1.PreviousHash)
	assert.Equal(t, uint64(2), log.Len())

	got, err := log.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, r1.CommitHash, got.CommitHash)

	ok, err := log.Verify(ctx, 0, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = log.Get(ctx, 99)
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}
