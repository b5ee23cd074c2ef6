package client

import (
	"sync"

	"github.com/aeolun/wired/pkg/protocol"
)

// Observer receives session events. Message callbacks run synchronously on
// the read goroutine in wire order; a slow observer delays the next frame.
type Observer interface {
	OnConnected(s *Session)
	OnConnectFailed(s *Session, err error)
	// OnDisconnected is called exactly once per connected session. err is
	// nil after a local Disconnect.
	OnDisconnected(s *Session, err error)
	OnMessage(s *Session, m *protocol.Message)
	OnError(s *Session, m *protocol.Message)
	OnSent(s *Session, m *protocol.Message)
	OnSpecError(s *Session, err error)
}

// NopObserver implements Observer with no-ops. Embed it to handle only some
// events.
type NopObserver struct{}

func (NopObserver) OnConnected(*Session)                  {}
func (NopObserver) OnConnectFailed(*Session, error)       {}
func (NopObserver) OnDisconnected(*Session, error)        {}
func (NopObserver) OnMessage(*Session, *protocol.Message) {}
func (NopObserver) OnError(*Session, *protocol.Message)   {}
func (NopObserver) OnSent(*Session, *protocol.Message)    {}
func (NopObserver) OnSpecError(*Session, error)           {}

// EventType identifies an Event.
type EventType int

const (
	EventConnected EventType = iota + 1
	EventConnectFailed
	EventDisconnected
	EventMessage
	EventError
	EventSent
	EventSpecError
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventSent:
		return "sent"
	case EventSpecError:
		return "spec_error"
	}
	return "unknown"
}

// Event is one observed session event.
type Event struct {
	Type    EventType
	Message *protocol.Message
	Err     error
}

// ChannelObserver forwards every event to a buffered Go channel. The
// consumer must keep draining Events or the session blocks.
type ChannelObserver struct {
	events chan Event
}

// NewChannelObserver creates an observer with the given buffer size.
func NewChannelObserver(buffer int) *ChannelObserver {
	return &ChannelObserver{events: make(chan Event, buffer)}
}

// Events returns the event stream.
func (o *ChannelObserver) Events() <-chan Event { return o.events }

func (o *ChannelObserver) OnConnected(*Session) {
	o.events <- Event{Type: EventConnected}
}

func (o *ChannelObserver) OnConnectFailed(_ *Session, err error) {
	o.events <- Event{Type: EventConnectFailed, Err: err}
}

func (o *ChannelObserver) OnDisconnected(_ *Session, err error) {
	o.events <- Event{Type: EventDisconnected, Err: err}
}

func (o *ChannelObserver) OnMessage(_ *Session, m *protocol.Message) {
	o.events <- Event{Type: EventMessage, Message: m}
}

func (o *ChannelObserver) OnError(_ *Session, m *protocol.Message) {
	o.events <- Event{Type: EventError, Message: m}
}

func (o *ChannelObserver) OnSent(_ *Session, m *protocol.Message) {
	o.events <- Event{Type: EventSent, Message: m}
}

func (o *ChannelObserver) OnSpecError(_ *Session, err error) {
	o.events <- Event{Type: EventSpecError, Err: err}
}

// observers is the session's subscriber registry.
type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (r *observers) add(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.list {
		if existing == o {
			return
		}
	}
	r.list = append(r.list, o)
}

func (r *observers) remove(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.list {
		if existing == o {
			r.list = append(r.list[:i:i], r.list[i+1:]...)
			return
		}
	}
}

// snapshot returns the observers in registration order. Callers iterate the
// copy, so observers may unsubscribe during dispatch.
func (r *observers) snapshot() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Observer(nil), r.list...)
}

func (r *observers) each(fn func(Observer)) {
	for _, o := range r.snapshot() {
		fn(o)
	}
}
