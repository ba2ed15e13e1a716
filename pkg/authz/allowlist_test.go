package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volant-labs/surety/pkg/authz"
	"github.com/volant-labs/surety/pkg/contracts"
)

func TestAllowlist_GrantRevoke(t *testing.T) {
	al := authz.New("owner")

	assert.False(t, al.Check("app"), "unauthorized by default")
	assert.ErrorIs(t, al.Require("app"), contracts.ErrUnauthorized)

	require.NoError(t, al.Grant("owner", "app"))
	assert.True(t, al.Check("app"))
	assert.NoError(t, al.Require("app"))

	// Idempotent re-grant.
	require.NoError(t, al.Grant("owner", "app"))
	assert.True(t, al.Check("app"))

	require.NoError(t, al.Revoke("owner", "app"))
	assert.False(t, al.Check("app"))
}

func TestAllowlist_OwnerOnlyAdministration(t *testing.T) {
	al := authz.New("owner")

	assert.ErrorIs(t, al.Grant("mallory", "mallory"), contracts.ErrNotOwner)
	assert.False(t, al.Check("mallory"))

	require.NoError(t, al.Grant("owner", "app"))
	assert.ErrorIs(t, al.Revoke("mallory", "app"), contracts.ErrNotOwner)
	assert.True(t, al.Check("app"), "revoke by non-owner must not stick")
}
