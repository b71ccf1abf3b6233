// Package eventbus mirrors coordinator lifecycle events to a sink so that
// external observers can follow a session without touching the blackboard.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is one coordinator lifecycle notification.
type Event struct {
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Turn      int            `json:"turn"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

// Sink receives events. Publish must be safe to call from the coordinator
// loop; implementations should not block on slow consumers.
type Sink interface {
	Publish(ev Event) error
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Publish(Event) error { return nil }
func (NopSink) Close() error        { return nil }

// MemorySink keeps events in order, for tests and for the CLI trace.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Publish(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemorySink) Close() error { return nil }

// NATSSink publishes events to a NATS subject per session and event type.
type NATSSink struct {
	conn *nats.Conn
}

// DialNATS connects to the given NATS URL.
func DialNATS(url string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("agentloop"),
		nats.MaxReconnects(3),
		nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to event bus: %w", err)
	}
	return &NATSSink{conn: conn}, nil
}

func (s *NATSSink) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	subject := fmt.Sprintf("agentloop.session.%s.%s", ev.SessionID, ev.Type)
	return s.conn.Publish(subject, data)
}

// Close flushes pending publishes before disconnecting.
func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}
