package client

import (
	"context"
	"time"

	"github.com/aeolun/wired/pkg/protocol"
	"github.com/aeolun/wired/pkg/spec"
	"github.com/aeolun/wired/pkg/wire"
)

// ChannelInterface is the part of *wire.Channel a Session uses. It allows
// the session to be tested against MockChannel.
type ChannelInterface interface {
	WriteMessage(m *protocol.Message) error
	ReadMessage() (*protocol.Message, error)

	// Close unblocks a pending read; Release also wipes key material.
	Close() error
	Release()

	// Traffic statistics
	BytesSent() uint64
	BytesReceived() uint64
}

// DialFunc opens a negotiated channel to target.
type DialFunc func(ctx context.Context, target *URL, catalog *spec.Catalog, opts wire.Options) (ChannelInterface, error)

// DefaultDial dials TCP for wired:// targets and a websocket for
// wired+ws:// and wired+wss:// targets.
func DefaultDial(ctx context.Context, target *URL, catalog *spec.Catalog, opts wire.Options) (ChannelInterface, error) {
	if target.IsWebSocket() {
		ch, err := wire.DialWebSocket(ctx, target.WebSocketURL(wire.WebSocketPath), catalog, opts)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	ch, err := wire.Dial(ctx, target.Address(), catalog, opts)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// StateInterface defines client state persistence.
// This allows for mocking in tests while *State implements all these methods.
type StateInterface interface {
	// Configuration
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	// Nickname management
	GetLastNickname() string
	SetLastNickname(nickname string) error

	// Server key pinning
	GetServerKey(address string) (fingerprint string, err error)
	SaveServerKey(address, fingerprint string) error
	DeleteServerKey(address string) error

	// Connection history
	GetLastConnected(address string) (time.Time, error)
	SaveSuccessfulConnection(address string) error

	// State directory
	GetStateDir() string

	Close() error
}
