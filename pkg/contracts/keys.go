package contracts

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// FlightKey is the deterministic lookup key for a flight: the Keccak-256
// digest of (airline, flight number, timestamp). Keccak (not standard
// SHA3-256) keeps the keys bit-compatible with the original ledger.
type FlightKey string

// RequestKey scopes an oracle request: the Keccak-256 digest of
// (index, airline, flight number, timestamp). Several request keys, one per
// scoping index, can target the same flight.
type RequestKey string

// NewFlightKey derives the key for a flight.
func NewFlightKey(airline Account, number string, timestamp int64) FlightKey {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(airline))
	h.Write([]byte(number))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	h.Write(ts[:])
	return FlightKey(hex.EncodeToString(h.Sum(nil)))
}

// NewRequestKey derives the response-group key for an oracle request.
func NewRequestKey(index uint8, airline Account, number string, timestamp int64) RequestKey {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte{index})
	h.Write([]byte(airline))
	h.Write([]byte(number))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	h.Write(ts[:])
	return RequestKey(hex.EncodeToString(h.Sum(nil)))
}
