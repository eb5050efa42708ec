// Package notify delivers operator-facing alerts (escalations, takeovers,
// timeouts) to chat platforms. Delivery is best-effort: a notification
// failure is logged and never fails the state transition that raised it.
package notify

import "log"

// Event is one operator alert.
type Event struct {
	Kind   string // "escalation", "takeover", "timeout"
	Title  string
	Detail string
}

// Sender delivers a single event to one platform.
type Sender interface {
	Send(event Event) error
	Name() string
}

// Fanout sends each event to every configured sender.
type Fanout struct {
	senders []Sender
}

// NewFanout creates a Fanout over the given senders. Nil senders are
// skipped so callers can pass optionally-configured channels directly.
func NewFanout(senders ...Sender) *Fanout {
	f := &Fanout{}
	for _, s := range senders {
		if s != nil {
			f.senders = append(f.senders, s)
		}
	}
	return f
}

// Notify delivers the event to all senders, logging per-sender failures.
func (f *Fanout) Notify(kind, title, detail string) {
	event := Event{Kind: kind, Title: title, Detail: detail}
	for _, s := range f.senders {
		if err := s.Send(event); err != nil {
			log.Printf("notify: %s: %v", s.Name(), err)
		}
	}
}

// MockSender records events for tests.
type MockSender struct {
	Events []Event
	Err    error
}

// Send records the event.
func (m *MockSender) Send(event Event) error {
	m.Events = append(m.Events, event)
	return m.Err
}

// Name returns "mock".
func (m *MockSender) Name() string { return "mock" }
