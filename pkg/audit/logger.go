// Package audit records a structured JSON trail of every state-mutating
// entry point. The trail is operational evidence and complements, not
// replaces, the hash-chained commit log; for withdrawals it is the
// reconciliation source when an external transfer fails after the debit.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/volant-labs/surety/pkg/contracts"
)

// EventType classifies an audit record.
type EventType string

const (
	EventMutation EventType = "MUTATION"
	EventSystem   EventType = "SYSTEM"
	EventDenied   EventType = "DENIED"
)

// Event is one audit record. Actor is the external account the entry point
// was invoked as, or "system" for internally triggered mutations.
type Event struct {
	ID        string                 `json:"id"`
	Actor     contracts.Account      `json:"actor"`
	Type      EventType              `json:"type"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(ctx context.Context, actor contracts.Account, eventType EventType, action, resource string, metadata map[string]interface{}) error
}

type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLogger returns a Logger emitting one JSON line per event on stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter directs the trail at w; tests pass io.Discard or a
// buffer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &lineWriter{out: w}
}

// Record implements Logger. Events are serialized under a single lock so
// concurrent entry points never interleave lines.
func (l *lineWriter) Record(ctx context.Context, actor contracts.Account, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	if actor == "" {
		actor = "system"
	}
	line, err := json.Marshal(Event{
		ID:        uuid.New().String(),
		Actor:     actor,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("audit: encode event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// The AUDIT: prefix keeps the trail grep-able in mixed process output.
	if _, err := fmt.Fprintf(l.out, "AUDIT: %s\n", line); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	return nil
}
