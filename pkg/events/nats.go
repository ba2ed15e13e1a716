package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSPublisher mirrors every notification published on a local bus to a
// NATS subject tree, so the out-of-process oracle fleet and dashboards can
// subscribe without access to the core process.
type NATSPublisher struct {
	conn    *nats.Conn
	prefix  string
	ownConn bool
}

// NewNATSPublisher connects to a NATS server. prefix is prepended to the
// notification type to form the subject (e.g. "surety.oracle.request").
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("suretyd"))
	if err != nil {
		return nil, fmt.Errorf("events: nats connect: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix, ownConn: true}, nil
}

// NewNATSPublisherConn wraps an existing connection (used in tests).
func NewNATSPublisherConn(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Attach subscribes the publisher to all notifications on bus.
func (p *NATSPublisher) Attach(bus Bus) {
	bus.Subscribe("", func(n Notification) {
		_ = p.publish(n)
	})
}

func (p *NATSPublisher) publish(n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("events: marshal notification: %w", err)
	}
	subject := p.prefix + "." + string(n.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: nats publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes an owned connection.
func (p *NATSPublisher) Close() error {
	if !p.ownConn {
		return nil
	}
	return p.conn.Drain()
}
