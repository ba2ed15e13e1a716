package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volant-labs/surety/pkg/contracts"
	"github.com/volant-labs/surety/pkg/policy"
)

func TestDefaultRule_OnlyLateAirlinePays(t *testing.T) {
	eval, err := policy.NewEvaluator("")
	require.NoError(t, err)

	cases := []struct {
		status contracts.StatusCode
		want   bool
	}{
		{contracts.StatusUnknown, false},
		{contracts.StatusOnTime, false},
		{contracts.StatusLateAirline, true},
		{contracts.StatusLateWeather, false},
		{contracts.StatusLateTechnical, false},
		{contracts.StatusLateOther, false},
	}
	for _, c := range cases {
		payable, err := eval.Payable(c.status, "airline:a", "AA1")
		require.NoError(t, err)
		assert.Equal(t, c.want, payable, "status %d", c.status)
	}
}

func TestCustomRule(t *testing.T) {
	eval, err := policy.NewEvaluator("status == 20 || status == 40")
	require.NoError(t, err)

	payable, err := eval.Payable(contracts.StatusLateTechnical, "airline:a", "AA1")
	require.NoError(t, err)
	assert.True(t, payable)

	payable, err = eval.Payable(contracts.StatusLateWeather, "airline:a", "AA1")
	require.NoError(t, err)
	assert.False(t, payable)
}

func TestMalformedRule_FailsAtConstruction(t *testing.T) {
	_, err := policy.NewEvaluator("status ==")
	assert.Error(t, err)
}

func TestNonBooleanRule_FailsAtConstruction(t *testing.T) {
	// Compiles, but does not produce a bool.
	eval, err := policy.NewEvaluator("status + 1")
	if err != nil {
		// Acceptable: rejected at compile time by type checking.
		return
	}
	_, err = eval.Payable(contracts.StatusOnTime, "airline:a", "AA1")
	assert.Error(t, err)
}
