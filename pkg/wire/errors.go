package wire

import (
	"errors"
	"fmt"
)

var (
	ErrVersionMismatch      = errors.New("p7 version mismatch")
	ErrCipherRejected       = errors.New("cipher rejected")
	ErrUnexpectedMessage    = errors.New("unexpected message")
	ErrKeepaliveTimeout     = errors.New("keepalive timeout")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrIncompatible         = errors.New("incompatible protocol")
	ErrClosed               = errors.New("channel closed")
)

// ProtocolKind classifies a ProtocolError.
type ProtocolKind int

const (
	KindVersionMismatch ProtocolKind = iota + 1
	KindCipherRejected
	KindUnexpected
	KindKeepaliveTimeout
	KindAuthenticationFailed
	KindIncompatible
)

var protocolSentinels = map[ProtocolKind]error{
	KindVersionMismatch:      ErrVersionMismatch,
	KindCipherRejected:       ErrCipherRejected,
	KindUnexpected:           ErrUnexpectedMessage,
	KindKeepaliveTimeout:     ErrKeepaliveTimeout,
	KindAuthenticationFailed: ErrAuthenticationFailed,
	KindIncompatible:         ErrIncompatible,
}

func (k ProtocolKind) String() string {
	if err, ok := protocolSentinels[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("protocol error(%d)", int(k))
}

// ProtocolError is a violation of the handshake or session protocol. It is
// always fatal to the channel.
type ProtocolError struct {
	Kind   ProtocolKind
	Detail string
	// Err is an optional underlying cause, such as a rejected server key.
	Err error
}

// NewProtocolError builds a ProtocolError with a formatted detail.
func NewProtocolError(kind ProtocolKind, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *ProtocolError) Error() string {
	msg := "wire: " + e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := protocolSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IoError is a socket read or write failure.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("wire: %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Op: op, Err: err}
}

func unexpected(got, want string) *ProtocolError {
	return NewProtocolError(KindUnexpected, "expected %s, got %s", want, got)
}
