// Package contracts defines the shared domain types, constants, and error
// taxonomy of the settlement core. Both the ledger state store and the
// governance/settlement logic depend on this package and nothing else in
// the repository depends on them in reverse.
package contracts

import "time"

// Account is an opaque participant identifier. The core manages no
// credentials for it.
type Account string

// Amount is an abstract currency amount in whole units.
type Amount int64

// StatusCode is the resolved status of a flight.
type StatusCode uint8

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

// Terminal reports whether the code is a final status. A flight transitions
// from StatusUnknown to a terminal code exactly once.
func (s StatusCode) Terminal() bool {
	return s != StatusUnknown
}

// Fixed protocol constants. These must match exactly for interoperability
// with existing clients and the oracle fleet.
const (
	// FundingAmount is the exact payment required to fund an airline.
	FundingAmount Amount = 10
	// MaxPremium caps a single insurance purchase.
	MaxPremium Amount = 1
	// PayoutMultiplier is the payout percentage applied to a premium.
	PayoutMultiplier = 150
	// OracleFee is the minimum payment required to register an oracle.
	OracleFee Amount = 1
	// OracleQuorum is the number of matching responses that resolves a request.
	OracleQuorum = 3
	// ConsensusDivisor divides the registered-airline count to obtain the
	// approval threshold (floor division, preserved intentionally).
	ConsensusDivisor = 2
	// FastPathAirlines is the registered-airline count below which a single
	// funded airline approves a candidate unilaterally.
	FastPathAirlines = 4
	// IndexRange bounds oracle indexes to [0, IndexRange).
	IndexRange = 10
	// OracleIndexCount is the number of distinct indexes assigned per oracle.
	OracleIndexCount = 3
)

// Airline is a governance participant. Created once, mutated only by
// funding, never deleted.
type Airline struct {
	Account    Account   `json:"account"`
	Name       string    `json:"name"`
	Registered bool      `json:"registered"`
	Funded     bool      `json:"funded"`
	CreatedAt  time.Time `json:"created_at"`
}

// Flight is keyed by FlightKey(airline, number, timestamp).
type Flight struct {
	Key         FlightKey  `json:"key"`
	Airline     Account    `json:"airline"`
	Number      string     `json:"number"`
	Origin      string     `json:"origin,omitempty"`
	Destination string     `json:"destination,omitempty"`
	Timestamp   int64      `json:"timestamp"`
	Registered  bool       `json:"registered"`
	Status      StatusCode `json:"status"`
}

// Policy is a single passenger's insurance on a flight. Credited flips at
// most once.
type Policy struct {
	Passenger  Account `json:"passenger"`
	Premium    Amount  `json:"premium"`
	Multiplier int     `json:"multiplier"`
	Credited   bool    `json:"credited"`
}

// Oracle is an independent fact reporter. Indexes are fixed at registration
// and pairwise distinct within [0, IndexRange).
type Oracle struct {
	Account    Account                 `json:"account"`
	Indexes    [OracleIndexCount]uint8 `json:"indexes"`
	Registered bool                    `json:"registered"`
}

// HasIndex reports whether idx is one of the oracle's assigned indexes.
func (o Oracle) HasIndex(idx uint8) bool {
	for _, i := range o.Indexes {
		if i == idx {
			return true
		}
	}
	return false
}

// ResponseGroup accumulates oracle responses for one request key. It stays
// readable after resolution but produces no further side effects.
type ResponseGroup struct {
	Requester Account                  `json:"requester"`
	Open      bool                     `json:"open"`
	Responses map[StatusCode][]Account `json:"responses"`
}

// Count returns the number of responses recorded for a status bucket.
func (g *ResponseGroup) Count(status StatusCode) int {
	if g == nil || g.Responses == nil {
		return 0
	}
	return len(g.Responses[status])
}
