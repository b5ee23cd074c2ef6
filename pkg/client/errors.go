package client

import (
	"errors"
	"fmt"

	"github.com/aeolun/wired/pkg/protocol"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrServerKeyChanged = errors.New("server key changed")
	ErrServerError      = errors.New("server error")
	ErrInvalidURL       = errors.New("invalid url")
)

// SessionErrorKind classifies a SessionError.
type SessionErrorKind int

const (
	KindNotConnected SessionErrorKind = iota + 1
	KindAlreadyConnected
)

func (k SessionErrorKind) String() string {
	switch k {
	case KindNotConnected:
		return "not connected"
	case KindAlreadyConnected:
		return "already connected"
	}
	return fmt.Sprintf("session error(%d)", int(k))
}

// SessionError is returned synchronously for calls made in the wrong
// session state. The connection, if any, is unaffected.
type SessionError struct {
	Kind  SessionErrorKind
	State SessionState
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session: %s (state %s)", e.Kind, e.State)
}

func (e *SessionError) Unwrap() error {
	if e.Kind == KindAlreadyConnected {
		return ErrAlreadyConnected
	}
	return ErrNotConnected
}

// ServerError is a wired.error reply.
type ServerError struct {
	Code    uint32
	Name    string
	Message string
}

// ServerErrorFromMessage reads a wired.error message, resolving the code to
// its catalog name.
func ServerErrorFromMessage(m *protocol.Message) *ServerError {
	e := &ServerError{}
	e.Code, _ = m.Enum("wired.error")
	e.Name, _ = m.EnumName("wired.error")
	e.Message, _ = m.String("wired.error.string")
	if e.Name == "" {
		if es, ok := m.Catalog().ErrorByCode(e.Code); ok {
			e.Name = es.Name
		}
	}
	return e
}

func (e *ServerError) Error() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("code %d", e.Code)
	}
	if e.Message != "" {
		return fmt.Sprintf("server error: %s: %s", name, e.Message)
	}
	return "server error: " + name
}

func (e *ServerError) Unwrap() error { return ErrServerError }
