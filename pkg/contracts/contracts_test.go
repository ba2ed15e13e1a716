package contracts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/volant-labs/surety/pkg/contracts"
)

func TestFlightKey_Deterministic(t *testing.T) {
	k1 := contracts.NewFlightKey("airline:aa", "AA123", 1700000000)
	k2 := contracts.NewFlightKey("airline:aa", "AA123", 1700000000)
	assert.Equal(t, k1, k2, "same inputs must derive the same key")
	assert.Len(t, string(k1), 64, "keccak-256 hex digest")
}

func TestFlightKey_DistinguishesInputs(t *testing.T) {
	base := contracts.NewFlightKey("airline:aa", "AA123", 1700000000)

	assert.NotEqual(t, base, contracts.NewFlightKey("airline:bb", "AA123", 1700000000))
	assert.NotEqual(t, base, contracts.NewFlightKey("airline:aa", "AA124", 1700000000))
	assert.NotEqual(t, base, contracts.NewFlightKey("airline:aa", "AA123", 1700000001))
}

func TestRequestKey_ScopedByIndex(t *testing.T) {
	k1 := contracts.NewRequestKey(3, "airline:aa", "AA123", 1700000000)
	k2 := contracts.NewRequestKey(7, "airline:aa", "AA123", 1700000000)
	assert.NotEqual(t, k1, k2, "different scoping indexes open different groups")
}

func TestStatusCode_Terminal(t *testing.T) {
	assert.False(t, contracts.StatusUnknown.Terminal())
	for _, s := range []contracts.StatusCode{
		contracts.StatusOnTime,
		contracts.StatusLateAirline,
		contracts.StatusLateWeather,
		contracts.StatusLateTechnical,
		contracts.StatusLateOther,
	} {
		assert.True(t, s.Terminal(), "status %d", s)
	}
}

func TestOracle_HasIndex(t *testing.T) {
	o := contracts.Oracle{Indexes: [3]uint8{1, 4, 9}}
	assert.True(t, o.HasIndex(4))
	assert.False(t, o.HasIndex(5))
}
