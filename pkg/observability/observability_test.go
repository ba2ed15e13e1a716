package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volant-labs/surety/pkg/observability"
)

func TestDisabledProvider_IsInert(t *testing.T) {
	ctx := context.Background()
	p, err := observability.New(ctx, &observability.Config{Enabled: false})
	require.NoError(t, err)

	// Record methods must be safe no-ops without initialized meters.
	p.RecordRequest(ctx)
	p.RecordError(ctx, errors.New("boom"))
	p.RecordDuration(ctx, 0)

	opCtx, done := p.TrackOperation(ctx, "withdraw")
	assert.NotNil(t, opCtx)
	done(nil)
	done2 := func() {
		_, end := p.TrackOperation(ctx, "withdraw")
		end(errors.New("rejected"))
	}
	assert.NotPanics(t, done2)

	assert.NoError(t, p.Shutdown(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := observability.DefaultConfig()
	assert.Equal(t, "suretyd", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}
