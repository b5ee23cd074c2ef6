package client

import (
	"fmt"
	"sync"

	"github.com/aeolun/wired/pkg/protocol"
	"github.com/aeolun/wired/pkg/wire"
)

// MockChannel is a test implementation of ChannelInterface. Reads are fed
// with SimulateIncoming or by a Responder reacting to each written message.
type MockChannel struct {
	mu sync.RWMutex

	incoming chan mockRead
	closed   chan struct{}

	closeOnce sync.Once
	released  bool
	writeErr  error

	// Responder, if set, is called for every successful write; the returned
	// messages are queued for reading in order.
	Responder func(m *protocol.Message) []*protocol.Message

	// Sent messages for verification
	SentMessages []*protocol.Message
}

type mockRead struct {
	msg *protocol.Message
	err error
}

// NewMockChannel creates a new mock channel
func NewMockChannel() *MockChannel {
	return &MockChannel{
		incoming: make(chan mockRead, 100),
		closed:   make(chan struct{}),
	}
}

// WriteMessage records m and queues any responder replies.
func (m *MockChannel) WriteMessage(msg *protocol.Message) error {
	select {
	case <-m.closed:
		return &wire.IoError{Op: "write", Err: wire.ErrClosed}
	default:
	}

	m.mu.Lock()
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	m.SentMessages = append(m.SentMessages, msg)
	responder := m.Responder
	m.mu.Unlock()

	if responder != nil {
		for _, reply := range responder(msg) {
			m.SimulateIncoming(reply)
		}
	}
	return nil
}

// ReadMessage blocks until a simulated message or error arrives, or the
// channel is closed.
func (m *MockChannel) ReadMessage() (*protocol.Message, error) {
	select {
	case r := <-m.incoming:
		return r.msg, r.err
	case <-m.closed:
		return nil, &wire.IoError{Op: "read", Err: wire.ErrClosed}
	}
}

// Close unblocks pending reads.
func (m *MockChannel) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// Release closes the channel and records the release.
func (m *MockChannel) Release() {
	m.Close()
	m.mu.Lock()
	m.released = true
	m.mu.Unlock()
}

// BytesSent returns 0 for mock
func (m *MockChannel) BytesSent() uint64 { return 0 }

// BytesReceived returns 0 for mock
func (m *MockChannel) BytesReceived() uint64 { return 0 }

// Test helpers

// SetResponder replaces the responder.
func (m *MockChannel) SetResponder(fn func(*protocol.Message) []*protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responder = fn
}

// SetWriteError sets an error to return from WriteMessage()
func (m *MockChannel) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SimulateIncoming queues a message for ReadMessage.
func (m *MockChannel) SimulateIncoming(msg *protocol.Message) {
	m.incoming <- mockRead{msg: msg}
}

// SimulateError queues a read error for ReadMessage.
func (m *MockChannel) SimulateError(err error) {
	m.incoming <- mockRead{err: err}
}

// IsReleased reports whether Release was called.
func (m *MockChannel) IsReleased() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.released
}

// GetSentMessageCount returns the number of messages sent
func (m *MockChannel) GetSentMessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.SentMessages)
}

// GetSentNames returns the names of sent messages in order.
func (m *MockChannel) GetSentNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.SentMessages))
	for i, msg := range m.SentMessages {
		names[i] = msg.Name()
	}
	return names
}

// GetLastSentMessage returns the last message sent, or error if none
func (m *MockChannel) GetLastSentMessage() (*protocol.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.SentMessages) == 0 {
		return nil, fmt.Errorf("no messages sent")
	}
	return m.SentMessages[len(m.SentMessages)-1], nil
}

// ClearSentMessages clears the sent messages list
func (m *MockChannel) ClearSentMessages() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = nil
}

var _ ChannelInterface = (*MockChannel)(nil)
