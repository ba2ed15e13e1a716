// Package events defines the notification surface of the settlement core.
// Collaborators (the oracle fleet, dashboards) subscribe to notifications
// rather than polling state.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a notification. The set is fixed by the protocol contract.
type Type string

const (
	AirlineRegistered  Type = "airline.registered"
	AirlineFunded      Type = "airline.funded"
	FlightRegistered   Type = "flight.registered"
	InsurancePurchased Type = "insurance.purchased"
	FlightStatusUpdate Type = "flight.status_updated"
	InsureeCredited    Type = "insuree.credited"
	BalanceWithdrawn   Type = "balance.withdrawn"
	OracleRequest      Type = "oracle.request"
	OracleReport       Type = "oracle.report"
)

// Notification is the envelope published for every emitted event.
type Notification struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	EmittedAt time.Time              `json:"emitted_at"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Handler consumes notifications. Handlers must not block; slow consumers
// should hand off to their own queues.
type Handler func(Notification)

// Bus publishes notifications to subscribers.
type Bus interface {
	// Publish emits a notification of the given type.
	Publish(ctx context.Context, typ Type, payload map[string]interface{}) error

	// Subscribe registers a handler for a type. An empty type subscribes to
	// all notifications.
	Subscribe(typ Type, h Handler)
}

// MemBus is the in-process reference bus. Delivery is synchronous and in
// subscription order.
type MemBus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewMemBus creates an empty bus.
func NewMemBus() *MemBus {
	return &MemBus{handlers: make(map[Type][]Handler)}
}

// Publish implements Bus.
func (b *MemBus) Publish(ctx context.Context, typ Type, payload map[string]interface{}) error {
	n := Notification{
		ID:        uuid.New().String(),
		Type:      typ,
		EmittedAt: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	handlers := append([]Handler{}, b.handlers[typ]...)
	handlers = append(handlers, b.handlers[Type("")]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(n)
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemBus) Subscribe(typ Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[typ] = append(b.handlers[typ], h)
}
