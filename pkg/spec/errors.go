package spec

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed      = errors.New("malformed specification")
	ErrUnknownMessage = errors.New("unknown message")
	ErrUnknownField   = errors.New("unknown field")
)

// ErrorKind classifies an Error.
type ErrorKind int

const (
	KindMalformed ErrorKind = iota
	KindUnknownMessage
	KindUnknownField
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindUnknownMessage:
		return "unknown message"
	case KindUnknownField:
		return "unknown field"
	default:
		return "unknown"
	}
}

// Error reports a specification problem: a document that cannot be loaded, or
// a message or field that the catalog does not define. It unwraps to the
// matching Err* sentinel.
type Error struct {
	Kind   ErrorKind
	Name   string
	ID     uint32
	Detail string
}

func (e *Error) Error() string {
	switch {
	case e.Name != "" && e.Detail != "":
		return fmt.Sprintf("spec: %s %q: %s", e.Kind, e.Name, e.Detail)
	case e.Name != "":
		return fmt.Sprintf("spec: %s %q", e.Kind, e.Name)
	case e.Kind == KindMalformed:
		return fmt.Sprintf("spec: malformed: %s", e.Detail)
	default:
		return fmt.Sprintf("spec: %s (id %d)", e.Kind, e.ID)
	}
}

func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindUnknownMessage:
		return ErrUnknownMessage
	case KindUnknownField:
		return ErrUnknownField
	default:
		return ErrMalformed
	}
}

func malformed(format string, args ...any) *Error {
	return &Error{Kind: KindMalformed, Detail: fmt.Sprintf(format, args...)}
}

// UnknownMessage returns the error for a message name the catalog lacks.
func UnknownMessage(name string) *Error {
	return &Error{Kind: KindUnknownMessage, Name: name}
}

// UnknownMessageID returns the error for a message wire ID the catalog lacks.
func UnknownMessageID(id uint32) *Error {
	return &Error{Kind: KindUnknownMessage, ID: id}
}

// UnknownField returns the error for a field name the catalog lacks.
func UnknownField(name string) *Error {
	return &Error{Kind: KindUnknownField, Name: name}
}

// UndeclaredField returns the error for a catalog field that message does not
// list as a parameter.
func UndeclaredField(message, field string) *Error {
	return &Error{Kind: KindUnknownField, Name: field, Detail: "not a parameter of " + message}
}
